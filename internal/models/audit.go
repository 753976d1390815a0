package models

import "time"

// AuditEntry — одна запись журнала административных действий
type AuditEntry struct {
	ID        uint   `gorm:"primaryKey"`
	Type      string `gorm:"not null;index"`
	Actor     string `gorm:"not null"`
	Message   string
	CreatedAt time.Time `gorm:"index"`
}
