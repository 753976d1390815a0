package database

import "gorm.io/gorm"

// Database — реестры полномочий и журнала действий поверх одного подключения
type Database struct {
	db *gorm.DB
}

// NewDatabase оборачивает готовое подключение
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}
