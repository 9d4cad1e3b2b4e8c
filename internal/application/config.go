package application

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acme/product-pipeline/internal/domain/cooldown"
	"github.com/acme/product-pipeline/internal/domain/triage"
	"github.com/acme/product-pipeline/internal/infrastructure/cache"
	"github.com/acme/product-pipeline/internal/infrastructure/db"
	"github.com/acme/product-pipeline/internal/infrastructure/velocity"
)

// AdmissionConfig bounds Stage P promotions.
type AdmissionConfig struct {
	DailyQuota      int `yaml:"daily_quota"`
	DefaultBatchCap int `yaml:"default_batch_cap"`
	// StrictQuota re-checks quota usage before every promotion insert
	// instead of once per batch. Off by default: the quota is advisory
	// and concurrent batches may slightly overshoot.
	StrictQuota bool `yaml:"strict_quota"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config is the full pipeline configuration.
type Config struct {
	Triage    *triage.Config   `yaml:"triage"`
	Cooldown  *cooldown.Config `yaml:"cooldown"`
	Admission AdmissionConfig  `yaml:"admission"`
	Database  db.Config        `yaml:"database"`
	Cache     cache.Config     `yaml:"cache"`
	Velocity  velocity.Config  `yaml:"velocity"`
	Server    ServerConfig     `yaml:"server"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Triage:   triage.DefaultConfig(),
		Cooldown: cooldown.DefaultConfig(),
		Admission: AdmissionConfig{
			DailyQuota:      25,
			DefaultBatchCap: 0,
			StrictQuota:     false,
		},
		Database: db.DefaultConfig(),
		Cache:    cache.DefaultConfig(),
		Velocity: velocity.DefaultConfig(),
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Admission.DailyQuota < 0 {
		return fmt.Errorf("admission.daily_quota must not be negative")
	}
	if c.Triage != nil && c.Triage.HoldAt > c.Triage.PromoteAt {
		return fmt.Errorf("triage.hold_at must not exceed triage.promote_at")
	}
	if c.Cooldown != nil && (c.Cooldown.ShortDays <= 0 || c.Cooldown.LongDays <= 0) {
		return fmt.Errorf("cooldown windows must be positive")
	}
	return nil
}
