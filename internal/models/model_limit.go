package models

// Per-model rate limits for premium AI models
type ModelLimit struct {
	Name             string  `gorm:"primaryKey" json:"name"`
	CreditsPerMinute float64 `gorm:"not null" json:"credits_per_minute"`
	CostCeiling      int     `gorm:"not null" json:"cost_ceiling"`
	CooldownMs       int     `gorm:"not null" json:"cooldown_ms"`
}

func (ModelLimit) TableName() string {
	return "model_limits"
}
