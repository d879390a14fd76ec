package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/feichai0017/legal-rag/internal/models"
)

type AdminConfigRepository struct {
	db *gorm.DB
}

func NewAdminConfigRepository(db *gorm.DB) *AdminConfigRepository {
	return &AdminConfigRepository{db: db}
}

// Get returns the first config row, or nil if the table is empty.
func (r *AdminConfigRepository) Get(ctx context.Context) (*models.AdminConfig, error) {
	var cfg models.AdminConfig
	if err := r.db.WithContext(ctx).Order("id ASC").First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query admin config failed: %w", err)
	}
	return &cfg, nil
}

// Save inserts cfg when it has no id yet, otherwise overwrites every column.
func (r *AdminConfigRepository) Save(ctx context.Context, cfg *models.AdminConfig) error {
	if err := r.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("save admin config failed: %w", err)
	}
	return nil
}
