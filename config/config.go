package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Engine     EngineConfig     `yaml:"engine"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// EngineConfig holds the reservation engine's tunables.
type EngineConfig struct {
	BufferMinutes            int    `yaml:"buffer_minutes"`
	GraceMinutes             int    `yaml:"grace_minutes"`
	ReminderMinutes          int    `yaml:"reminder_minutes"`
	ExtensionMinutes         int    `yaml:"extension_minutes"`
	MaxBookingsPerDay        int    `yaml:"max_bookings_per_day"`
	MaxAdvanceBookingDays    int    `yaml:"max_advance_booking_days"`
	PriorityOfferTTLMinutes  int    `yaml:"priority_offer_ttl_minutes"`
	HeartbeatTimeoutMinutes  int    `yaml:"heartbeat_timeout_minutes"`
	RebookDurationMinutes    int    `yaml:"rebook_duration_minutes"`
	MasterCredential         string `yaml:"master_credential"`
	FastSweepIntervalSeconds int    `yaml:"fast_sweep_interval_seconds"`
	SlowSweepIntervalSeconds int    `yaml:"slow_sweep_interval_seconds"`

	FastSweepInterval time.Duration `yaml:"-"`
	SlowSweepInterval time.Duration `yaml:"-"`
}

// Buffer returns the slot buffer as a duration.
func (e *EngineConfig) Buffer() time.Duration {
	return time.Duration(e.BufferMinutes) * time.Minute
}

// Grace returns the no-show grace period as a duration.
func (e *EngineConfig) Grace() time.Duration {
	return time.Duration(e.GraceMinutes) * time.Minute
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults fills in defaults for unset fields. Exposed so tests can
// build configs without a file.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	e := &cfg.Engine
	if e.BufferMinutes <= 0 {
		e.BufferMinutes = 10
	}
	if e.GraceMinutes <= 0 {
		e.GraceMinutes = 10
	}
	if e.ReminderMinutes <= 0 {
		e.ReminderMinutes = 5
	}
	if e.ExtensionMinutes <= 0 {
		e.ExtensionMinutes = 5
	}
	if e.MaxBookingsPerDay <= 0 {
		e.MaxBookingsPerDay = 3
	}
	if e.MaxAdvanceBookingDays <= 0 {
		e.MaxAdvanceBookingDays = 7
	}
	if e.PriorityOfferTTLMinutes <= 0 {
		e.PriorityOfferTTLMinutes = 30
	}
	if e.HeartbeatTimeoutMinutes <= 0 {
		e.HeartbeatTimeoutMinutes = 10
	}
	if e.RebookDurationMinutes <= 0 {
		e.RebookDurationMinutes = 30
	}
	if e.FastSweepIntervalSeconds <= 0 {
		e.FastSweepIntervalSeconds = 60
	}
	if e.SlowSweepIntervalSeconds <= 0 {
		e.SlowSweepIntervalSeconds = 300
	}
	e.FastSweepInterval = time.Duration(e.FastSweepIntervalSeconds) * time.Second
	e.SlowSweepInterval = time.Duration(e.SlowSweepIntervalSeconds) * time.Second
}
