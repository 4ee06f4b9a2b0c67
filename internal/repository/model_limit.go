package repository

import (
	"context"

	"github.com/bezhas/chat-gatekeeper/internal/models"
	"github.com/bezhas/chat-gatekeeper/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ModelLimitRepository struct {
	db *storage.Postgres
}

func NewModelLimitRepository(db *storage.Postgres) *ModelLimitRepository {
	return &ModelLimitRepository{db: db}
}

// Inserts or updates a model limit
func (r *ModelLimitRepository) Upsert(ctx context.Context, limit *models.ModelLimit) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			UpdateAll: true,
		}).
		Create(limit).Error
}

func (r *ModelLimitRepository) FindByName(ctx context.Context, name string) (*models.ModelLimit, error) {
	var limit models.ModelLimit
	err := r.db.DB.WithContext(ctx).
		Where("name = ?", name).
		First(&limit).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &limit, err
}

func (r *ModelLimitRepository) List(ctx context.Context) ([]models.ModelLimit, error) {
	var limits []models.ModelLimit
	err := r.db.DB.WithContext(ctx).
		Order("name").
		Find(&limits).Error

	return limits, err
}

func (r *ModelLimitRepository) Delete(ctx context.Context, name string) error {
	return r.db.DB.WithContext(ctx).
		Where("name = ?", name).
		Delete(&models.ModelLimit{}).Error
}
