package models

import "time"

// Authority — зарегистрированный ключ бейджа и его роль
type Authority struct {
	Identity  string `gorm:"primaryKey"`
	Role      string `gorm:"not null;check:role IN ('admin','moderator')"`
	Note      string
	CreatedAt time.Time
}
