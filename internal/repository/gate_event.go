package repository

import (
	"context"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/models"
	"github.com/bezhas/chat-gatekeeper/internal/storage"
)

type GateEventRepository struct {
	db *storage.Postgres
}

func NewGateEventRepository(db *storage.Postgres) *GateEventRepository {
	return &GateEventRepository{db: db}
}

// Inserts multiple gate events (for batch insertion)
func (r *GateEventRepository) CreateBatch(ctx context.Context, events []models.GateEvent) error {
	if len(events) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&events).Error
}

// Retrieves events within a time range
func (r *GateEventRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.GateEvent, error) {
	var events []models.GateEvent

	err := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error

	return events, err
}

// Retrieves events for a specific subject
func (r *GateEventRepository) FindBySubject(ctx context.Context, subject string, from, to time.Time, limit, offset int) ([]models.GateEvent, error) {
	var events []models.GateEvent

	err := r.db.DB.WithContext(ctx).
		Where("subject = ? AND timestamp BETWEEN ? AND ?", subject, from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error

	return events, err
}

// Counts events in a time range
func (r *GateEventRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.GateEvent{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// Counts events per denial reason in a time range
func (r *GateEventRepository) CountByReason(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	var rows []struct {
		Reason string
		Count  int64
	}

	err := r.db.DB.WithContext(ctx).
		Model(&models.GateEvent{}).
		Select("reason, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("reason").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Reason] = row.Count
	}

	return counts, nil
}

// Retrieves the subjects with the most denials in a time range
func (r *GateEventRepository) TopSubjects(ctx context.Context, from, to time.Time, limit int) ([]map[string]interface{}, error) {
	var rows []struct {
		Subject string
		Count   int64
	}

	err := r.db.DB.WithContext(ctx).
		Model(&models.GateEvent{}).
		Select("subject, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("subject").
		Order("count DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	top := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		top = append(top, map[string]interface{}{
			"subject": row.Subject,
			"count":   row.Count,
		})
	}

	return top, nil
}
