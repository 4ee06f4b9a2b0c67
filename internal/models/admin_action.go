package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit record for administrative overrides
type AdminAction struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	ActorID   string    `gorm:"index;not null" json:"actor_id"`
	Action    string    `gorm:"not null" json:"action"` // "reset_user", "reset_ip", "reset_all_ips", "set_model_limit", "delete_model_limit"
	Target    string    `gorm:"index" json:"target"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *AdminAction) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (AdminAction) TableName() string {
	return "admin_actions"
}
