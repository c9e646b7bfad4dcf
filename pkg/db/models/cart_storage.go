package models

import "time"

// CartStorage holds one serialized anonymous cart keyed by storage key.
type CartStorage struct {
	Key       string    `gorm:"column:key;primaryKey;size:191"`
	Payload   string    `gorm:"column:payload;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name used by every dialect.
func (CartStorage) TableName() string {
	return "cart_storage"
}
