package database

import (
	"time"

	"github.com/thereayou/banya/internal/models"
)

// AppendAudit добавляет запись в журнал административных действий
func (d *Database) AppendAudit(entryType, actor, message string) error {
	entry := models.AuditEntry{
		Type:      entryType,
		Actor:     actor,
		Message:   message,
		CreatedAt: time.Now(),
	}
	return d.db.Create(&entry).Error
}

// ListAudit возвращает последние limit записей журнала, новые первыми
func (d *Database) ListAudit(limit int) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	if err := d.db.Order("created_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// TrimAudit удаляет записи старше maxAge
func (d *Database) TrimAudit(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	return d.db.Delete(&models.AuditEntry{}, "created_at < ?", cutoff).Error
}
