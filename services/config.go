package services

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendConfig names one remote award backend, in priority order.
type BackendConfig struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Token string `yaml:"token,omitempty"`
}

// ReconcileConfig tunes the offline queue sweeps.
type ReconcileConfig struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	MaxAttempts        int `yaml:"max_attempts"`
	MaxAgeHours        int `yaml:"max_age_hours"`
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`
	BatchSize          int `yaml:"batch_size"`
}

// Config is the service configuration, loaded from a YAML file with env
// overrides for deployment-specific values.
type Config struct {
	Backends []BackendConfig `yaml:"backends"`

	DuplicateWindowMillis    int `yaml:"duplicate_window_ms"`
	ProcessingDebounceMillis int `yaml:"processing_debounce_ms"`
	RateLimit                int `yaml:"rate_limit"`
	RateWindowSeconds        int `yaml:"rate_window_seconds"`

	ScanAwardPoints   int64  `yaml:"scan_award_points"`
	DefaultProgramID  string `yaml:"default_program_id"`
	DefaultBusinessID string `yaml:"default_business_id"`

	TierTimeoutSeconds int `yaml:"tier_timeout_seconds"`

	Reconcile ReconcileConfig `yaml:"reconcile"`
}

func defaultConfig() *Config {
	return &Config{
		DuplicateWindowMillis:    100,
		ProcessingDebounceMillis: 400,
		RateLimit:                10,
		RateWindowSeconds:        60,
		ScanAwardPoints:          10,
		TierTimeoutSeconds:       10,
		Reconcile: ReconcileConfig{
			IntervalSeconds:    60,
			MaxAttempts:        8,
			MaxAgeHours:        72,
			BackoffBaseSeconds: 30,
			BatchSize:          25,
		},
	}
}

// LoadConfig reads the config file (LOYALTY_CONFIG_FILE, default
// config.yaml). A missing file yields defaults; env vars override the
// deployment-specific fields either way.
func LoadConfig() (*Config, error) {
	path := os.Getenv("LOYALTY_CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}

	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if len(cfg.Backends) == 0 {
		// Single-backend deployments configure via env only.
		if url := os.Getenv("LOYALTY_BACKEND_URL"); url != "" {
			cfg.Backends = append(cfg.Backends, BackendConfig{
				Name:  "primary",
				URL:   url,
				Token: os.Getenv("LOYALTY_BACKEND_TOKEN"),
			})
		}
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEFAULT_PROGRAM_ID"); v != "" {
		cfg.DefaultProgramID = v
	}
	if v := os.Getenv("DEFAULT_BUSINESS_ID"); v != "" {
		cfg.DefaultBusinessID = v
	}
	if v := os.Getenv("SCAN_AWARD_POINTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.ScanAwardPoints = n
		}
	}
	if v := os.Getenv("SCAN_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit = n
		}
	}
}

// GateConfig translates the tuning values into the scan gate's shape.
func (c *Config) GateConfig() ScanGateConfig {
	return ScanGateConfig{
		DuplicateWindow:    time.Duration(c.DuplicateWindowMillis) * time.Millisecond,
		ProcessingDebounce: time.Duration(c.ProcessingDebounceMillis) * time.Millisecond,
		RateLimit:          c.RateLimit,
		RateWindow:         time.Duration(c.RateWindowSeconds) * time.Second,
	}
}

// TierTimeout is the bounded per-tier call timeout.
func (c *Config) TierTimeout() time.Duration {
	return time.Duration(c.TierTimeoutSeconds) * time.Second
}
