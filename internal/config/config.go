package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"reserva/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Engine     EngineConfig     `yaml:"engine"`
	API        APIConfig        `yaml:"api"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Spaces     []models.Space   `yaml:"spaces"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// EngineConfig tunes the reservation/grant engine itself.
type EngineConfig struct {
	TickIntervalSeconds     int `yaml:"tick_interval_seconds"`
	MaxAdvanceDays          int `yaml:"max_advance_days"`
	MinGrantDurationMinutes int `yaml:"min_grant_duration_minutes"`
	MaxGrantDurationHours   int `yaml:"max_grant_duration_hours"`
	OutboxPollSeconds       int `yaml:"outbox_poll_seconds"`
	SessionTTLSeconds       int `yaml:"session_ttl_seconds"`
}

func (e EngineConfig) TickInterval() time.Duration {
	return time.Duration(e.TickIntervalSeconds) * time.Second
}

func (e EngineConfig) MinGrantDuration() time.Duration {
	return time.Duration(e.MinGrantDurationMinutes) * time.Minute
}

func (e EngineConfig) MaxGrantDuration() time.Duration {
	return time.Duration(e.MaxGrantDurationHours) * time.Hour
}

func (e EngineConfig) OutboxPollInterval() time.Duration {
	return time.Duration(e.OutboxPollSeconds) * time.Second
}

func (e EngineConfig) SessionTTL() time.Duration {
	return time.Duration(e.SessionTTLSeconds) * time.Second
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled             bool           `yaml:"enabled"`
	HeaderAPIKey        string         `yaml:"header_api_key"`
	HeaderExtra         string         `yaml:"header_extra"`
	HeaderOperatorToken string         `yaml:"header_operator_token"`
	APIKeys             []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment variables referenced from the YAML are
	// expanded before parsing.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Engine.TickIntervalSeconds < 1 || c.Engine.TickIntervalSeconds > 5 {
		return fmt.Errorf("engine tick interval must be 1..5 seconds, got %d", c.Engine.TickIntervalSeconds)
	}

	if c.Engine.MinGrantDuration() >= c.Engine.MaxGrantDuration() {
		return errors.New("engine min grant duration must be below max grant duration")
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis address is required when redis is enabled")
	}

	return ValidateSpaces(c.Spaces)
}

func ValidateSpaces(spaces []models.Space) error {
	seen := make(map[int64]bool)
	for _, space := range spaces {
		if space.ID == 0 {
			return fmt.Errorf("space '%s' has invalid ID 0", space.Title)
		}
		if seen[space.ID] {
			return fmt.Errorf("duplicate space ID found: %d", space.ID)
		}
		if space.Capacity <= 0 {
			return fmt.Errorf("space '%s' must have positive capacity", space.Title)
		}
		seen[space.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.Auth.HeaderOperatorToken == "" {
		c.API.Auth.HeaderOperatorToken = "x-operator-token"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Engine.TickIntervalSeconds == 0 {
		c.Engine.TickIntervalSeconds = models.DefaultTickIntervalSeconds
	}
	if c.Engine.MaxAdvanceDays == 0 {
		c.Engine.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}
	if c.Engine.MinGrantDurationMinutes == 0 {
		c.Engine.MinGrantDurationMinutes = models.DefaultMinGrantMinutes
	}
	if c.Engine.MaxGrantDurationHours == 0 {
		c.Engine.MaxGrantDurationHours = models.DefaultMaxGrantHours
	}
	if c.Engine.OutboxPollSeconds == 0 {
		c.Engine.OutboxPollSeconds = 1
	}
	if c.Engine.SessionTTLSeconds == 0 {
		c.Engine.SessionTTLSeconds = models.DefaultSessionTTL
	}
}
