package models

import (
	"time"
)

// Represents a logged gate decision (denials and penalties)
type GateEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
	Subject    string    `gorm:"index" json:"subject"`
	Scope      string    `gorm:"index" json:"scope"` // "connection" or "message"
	Reason     string    `gorm:"index" json:"reason"`
	ModelID    string    `json:"model_id,omitempty"`
	CreditCost int       `json:"credit_cost,omitempty"`
	RetryAfter int       `json:"retry_after,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
}

func (GateEvent) TableName() string {
	return "gate_events"
}
