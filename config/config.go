package config

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Rooms      RoomsConfig      `yaml:"rooms"`
	Log        LogConfig        `yaml:"log"`
	Sync       SyncConfig       `yaml:"sync"`
	Policy     PolicyConfig     `yaml:"policy"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
// Push delivery is disabled when either key is empty.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig configures the change relay. An empty Addr keeps changes in-process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// RealtimeConfig tunes the WebSocket change feed.
type RealtimeConfig struct {
	PingPeriodSeconds int           `yaml:"ping_period_seconds"`
	PingPeriod        time.Duration `yaml:"-"`
	PongWaitSeconds   int           `yaml:"pong_wait_seconds"`
	PongWait          time.Duration `yaml:"-"`
}

// RoomsConfig lists room numbers provisioned at startup.
type RoomsConfig struct {
	Seed []string `yaml:"seed"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// SyncConfig configures the client-side synchronization engine.
type SyncConfig struct {
	ServerURL           string           `yaml:"server_url"`
	UserID              string           `yaml:"user_id"`
	PollIntervalSeconds int              `yaml:"poll_interval_seconds"`
	PollInterval        time.Duration    `yaml:"-"`
	RetryBaseMillis     int              `yaml:"retry_base_ms"`
	RetryBase           time.Duration    `yaml:"-"`
	RetryCapSeconds     int              `yaml:"retry_cap_seconds"`
	RetryCap            time.Duration    `yaml:"-"`
	RequestTimeoutSecs  int              `yaml:"request_timeout_seconds"`
	RequestTimeout      time.Duration    `yaml:"-"`
	Recipients          RecipientsConfig `yaml:"recipients"`
}

// RecipientsConfig selects who receives transition notifications.
type RecipientsConfig struct {
	Mode  string   `yaml:"mode"` // flag or roles
	Roles []string `yaml:"roles"`
}

// PolicyConfig overrides the actions each role may perform.
type PolicyConfig struct {
	Actions map[string][]string `yaml:"actions"`
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

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values and derives the duration fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "cleanroom:changes"
	}

	if cfg.Realtime.PongWaitSeconds <= 0 {
		cfg.Realtime.PongWaitSeconds = 60
	}
	cfg.Realtime.PongWait = time.Duration(cfg.Realtime.PongWaitSeconds) * time.Second
	if cfg.Realtime.PingPeriodSeconds <= 0 || cfg.Realtime.PingPeriodSeconds >= cfg.Realtime.PongWaitSeconds {
		cfg.Realtime.PingPeriod = cfg.Realtime.PongWait * 9 / 10
	} else {
		cfg.Realtime.PingPeriod = time.Duration(cfg.Realtime.PingPeriodSeconds) * time.Second
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Info().Msg("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	if cfg.Sync.PollIntervalSeconds <= 0 {
		cfg.Sync.PollIntervalSeconds = 10
	}
	cfg.Sync.PollInterval = time.Duration(cfg.Sync.PollIntervalSeconds) * time.Second
	if cfg.Sync.RetryBaseMillis <= 0 {
		cfg.Sync.RetryBaseMillis = 1000
	}
	cfg.Sync.RetryBase = time.Duration(cfg.Sync.RetryBaseMillis) * time.Millisecond
	if cfg.Sync.RetryCapSeconds <= 0 {
		cfg.Sync.RetryCapSeconds = 30
	}
	cfg.Sync.RetryCap = time.Duration(cfg.Sync.RetryCapSeconds) * time.Second
	if cfg.Sync.RequestTimeoutSecs <= 0 {
		cfg.Sync.RequestTimeoutSecs = 15
	}
	cfg.Sync.RequestTimeout = time.Duration(cfg.Sync.RequestTimeoutSecs) * time.Second
	if cfg.Sync.Recipients.Mode == "" {
		cfg.Sync.Recipients.Mode = "flag"
	}
}
