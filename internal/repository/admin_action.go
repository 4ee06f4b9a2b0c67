package repository

import (
	"context"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/models"
	"github.com/bezhas/chat-gatekeeper/internal/storage"
)

type AdminActionRepository struct {
	db *storage.Postgres
}

func NewAdminActionRepository(db *storage.Postgres) *AdminActionRepository {
	return &AdminActionRepository{db: db}
}

// Inserts an audit record
func (r *AdminActionRepository) Create(ctx context.Context, action *models.AdminAction) error {
	return r.db.DB.WithContext(ctx).Create(action).Error
}

// Retrieves recent audit records
func (r *AdminActionRepository) List(ctx context.Context, from, to time.Time, limit, offset int) ([]models.AdminAction, error) {
	var actions []models.AdminAction

	err := r.db.DB.WithContext(ctx).
		Where("created_at BETWEEN ? AND ?", from, to).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&actions).Error

	return actions, err
}

// Retrieves audit records for one actor
func (r *AdminActionRepository) FindByActor(ctx context.Context, actorID string, limit int) ([]models.AdminAction, error) {
	var actions []models.AdminAction

	err := r.db.DB.WithContext(ctx).
		Where("actor_id = ?", actorID).
		Order("created_at DESC").
		Limit(limit).
		Find(&actions).Error

	return actions, err
}
