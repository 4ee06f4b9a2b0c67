package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Redis     RedisConfig     `json:"redis"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	Credit    CreditConfig    `json:"credit"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

type AuthConfig struct {
	JWTSecret   string `json:"jwt_secret"`
	ExpiryHours int    `json:"expiry_hours"`
}

type CreditConfig struct {
	ServiceURL string `json:"service_url"`
	TimeoutMs  int    `json:"timeout_ms"`
}

type RateLimitConfig struct {
	Enabled    bool                        `json:"enabled"`
	FailOpen   bool                        `json:"fail_open"`
	KeyPrefix  string                      `json:"key_prefix"`
	Connection ConnectionLimitConfig       `json:"connection"`
	Message    MessageLimitConfig          `json:"message"`
	Penalties  PenaltyConfig               `json:"penalties"`
	Models     map[string]ModelLimitConfig `json:"models"`
}

type ConnectionLimitConfig struct {
	MaxConnections int `json:"max_connections"`
	WindowMs       int `json:"window_ms"`
}

type MessageLimitConfig struct {
	BaseLimit      int `json:"base_limit"`
	BaseWindowMs   int `json:"base_window_ms"`
	BurstLimit     int `json:"burst_limit"`
	BurstWindowMs  int `json:"burst_window_ms"`
	HourlyLimit    int `json:"hourly_limit"`
	HourlyWindowMs int `json:"hourly_window_ms"`
}

type PenaltyConfig struct {
	Enabled             bool `json:"enabled"`
	Threshold           int  `json:"threshold"`
	PenaltyDurationMs   int  `json:"penalty_duration_ms"`
	ObservationWindowMs int  `json:"observation_window_ms"`
}

type ModelLimitConfig struct {
	CreditsPerMinute float64 `json:"credits_per_minute"`
	CostCeiling      int     `json:"cost_ceiling"`
	CooldownMs       int     `json:"cooldown_ms"`
}

func (r *RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

// Returns a config with every limit at its default value.
// An empty or missing config file is valid.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Environment: "development",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
			DB:   0,
		},
		Auth: AuthConfig{
			ExpiryHours: 24,
		},
		Credit: CreditConfig{
			ServiceURL: "http://localhost:3001/api/credits",
			TimeoutMs:  3000,
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			FailOpen:  true,
			KeyPrefix: "gatekeeper:",
			Connection: ConnectionLimitConfig{
				MaxConnections: 10,
				WindowMs:       60000,
			},
			Message: MessageLimitConfig{
				BaseLimit:      5,
				BaseWindowMs:   1000,
				BurstLimit:     15,
				BurstWindowMs:  10000,
				HourlyLimit:    500,
				HourlyWindowMs: 3600000,
			},
			Penalties: PenaltyConfig{
				Enabled:             true,
				Threshold:           5,
				PenaltyDurationMs:   300000,
				ObservationWindowMs: 3600000,
			},
			Models: map[string]ModelLimitConfig{
				"gpt-4":           {CreditsPerMinute: 50, CostCeiling: 25, CooldownMs: 60000},
				"gpt-3.5-turbo":   {CreditsPerMinute: 100, CostCeiling: 10, CooldownMs: 30000},
				"claude-3-opus":   {CreditsPerMinute: 40, CostCeiling: 25, CooldownMs: 60000},
				"claude-3-sonnet": {CreditsPerMinute: 80, CostCeiling: 15, CooldownMs: 30000},
				"gemini-pro":      {CreditsPerMinute: 100, CostCeiling: 10, CooldownMs: 30000},
			},
		},
	}
}

func Load(path string) (*Config, error) {
	config := Defaults()

	file, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(file, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	config.applyEnv()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Server.Environment = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		c.Redis.Port = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("CREDIT_SERVICE_URL"); v != "" {
		c.Credit.ServiceURL = v
	}
	if v := os.Getenv("RATELIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = v != "false"
	}
	if v := os.Getenv("RATELIMIT_FAIL_OPEN"); v != "" {
		c.RateLimit.FailOpen = v != "false"
	}
	if v := os.Getenv("CONN_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Connection.MaxConnections = n
		}
	}
	if v := os.Getenv("CONN_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Connection.WindowMs = n
		}
	}
	if v := os.Getenv("MSG_BASE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Message.BaseLimit = n
		}
	}
	if v := os.Getenv("MSG_BURST_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Message.BurstLimit = n
		}
	}
	if v := os.Getenv("MSG_HOURLY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Message.HourlyLimit = n
		}
	}
	if v := os.Getenv("PENALTY_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Penalties.Threshold = n
		}
	}
	if v := os.Getenv("PENALTY_DURATION_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Penalties.PenaltyDurationMs = n
		}
	}
}

func (c *Config) validate() error {
	rl := &c.RateLimit

	if rl.Connection.MaxConnections <= 0 {
		return fmt.Errorf("connection.max_connections must be positive, got %d", rl.Connection.MaxConnections)
	}
	if rl.Connection.WindowMs <= 0 {
		return fmt.Errorf("connection.window_ms must be positive, got %d", rl.Connection.WindowMs)
	}
	if rl.Message.BaseLimit <= 0 || rl.Message.BurstLimit <= 0 || rl.Message.HourlyLimit <= 0 {
		return fmt.Errorf("message limits must be positive")
	}
	if rl.Message.BaseWindowMs <= 0 || rl.Message.BurstWindowMs <= 0 || rl.Message.HourlyWindowMs <= 0 {
		return fmt.Errorf("message windows must be positive")
	}
	if rl.Penalties.Enabled {
		if rl.Penalties.Threshold <= 0 {
			return fmt.Errorf("penalties.threshold must be positive, got %d", rl.Penalties.Threshold)
		}
		if rl.Penalties.PenaltyDurationMs <= 0 {
			return fmt.Errorf("penalties.penalty_duration_ms must be positive, got %d", rl.Penalties.PenaltyDurationMs)
		}
	}
	for name, m := range rl.Models {
		if m.CostCeiling < 0 || m.CreditsPerMinute < 0 {
			return fmt.Errorf("model %s limits must be non-negative", name)
		}
	}

	return nil
}
