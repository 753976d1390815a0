package database

import (
	"github.com/thereayou/banya/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect открывает файл базы, мигрирует схему реестров и возвращает
// готовую обёртку
func Connect(path string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&models.Authority{}, &models.AuditEntry{}); err != nil {
		return nil, err
	}

	return NewDatabase(db), nil
}
