package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-cart/pkg/db/models"
)

type dbProvider interface {
	DB() *gorm.DB
}

// SQLBackend stores payloads in the cart_storage table.
type SQLBackend struct {
	db *gorm.DB
}

func NewSQLBackend(provider dbProvider) (*SQLBackend, error) {
	if provider == nil || provider.DB() == nil {
		return nil, fmt.Errorf("database client required")
	}
	return &SQLBackend{db: provider.DB()}, nil
}

func (b *SQLBackend) Read(ctx context.Context, key string) ([]byte, error) {
	var record models.CartStorage
	err := b.db.WithContext(ctx).Where(&models.CartStorage{Key: key}).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(record.Payload), nil
}

func (b *SQLBackend) Write(ctx context.Context, key string, payload []byte) error {
	record := models.CartStorage{Key: key, Payload: string(payload)}
	return b.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&record).Error
}

func (b *SQLBackend) Delete(ctx context.Context, key string) error {
	return b.db.WithContext(ctx).Where(&models.CartStorage{Key: key}).Delete(&models.CartStorage{}).Error
}
