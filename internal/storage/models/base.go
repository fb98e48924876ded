// internal/storage/models/base.go
package models

import "time"

// BaseModel заменяет gorm.Model: строковый ключ и версия для условных обновлений
type BaseModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(160)"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
	Version   int64     `gorm:"not null;default:1"`
}
