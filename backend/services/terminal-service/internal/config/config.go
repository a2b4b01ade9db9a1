package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	libconfig "kioskpay/backend/libs/config"
)

// Config defines terminal service configuration.
type Config struct {
	Log struct {
		Level string `yaml:"level" env:"TERMINAL_LOG_LEVEL"`
	} `yaml:"log"`
	Health struct {
		Interval     time.Duration `yaml:"interval" env:"TERMINAL_HEALTH_INTERVAL"`
		CheckTimeout time.Duration `yaml:"checkTimeout" env:"TERMINAL_HEALTH_CHECK_TIMEOUT"`
		Parallelism  int           `yaml:"parallelism" env:"TERMINAL_HEALTH_PARALLELISM"`
	} `yaml:"health"`
	History struct {
		Size int           `yaml:"size" env:"TERMINAL_HISTORY_SIZE"`
		TTL  time.Duration `yaml:"ttl" env:"TERMINAL_HISTORY_TTL"`
	} `yaml:"history"`
	Database struct {
		DSN   string `yaml:"dsn" env:"TERMINAL_POSTGRES_DSN"`
		Query string `yaml:"query" env:"TERMINAL_CONFIG_QUERY"`
	} `yaml:"database"`
	Redis struct {
		Addr     string        `yaml:"addr" env:"TERMINAL_REDIS_ADDR"`
		Password string        `yaml:"password" env:"TERMINAL_REDIS_PASSWORD"`
		DB       int           `yaml:"db" env:"TERMINAL_REDIS_DB"`
		TTL      time.Duration `yaml:"ttl" env:"TERMINAL_REDIS_TTL"`
	} `yaml:"redis"`
	Terminals       []StaticTerminal `yaml:"terminals"`
	ShutdownTimeout time.Duration    `yaml:"shutdownTimeout" env:"TERMINAL_SHUTDOWN_TIMEOUT"`
}

// StaticTerminal is a tenant terminal declared in the config file, either inline or as a
// path to a JSON document.
type StaticTerminal struct {
	TenantID   string         `yaml:"tenantId"`
	Config     map[string]any `yaml:"config"`
	ConfigFile string         `yaml:"configFile"`
}

// Document returns the terminal config as JSON for terminal.ParseConfig.
func (t StaticTerminal) Document() ([]byte, error) {
	if t.ConfigFile != "" {
		data, err := os.ReadFile(t.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("config: read terminal config for %s: %w", t.TenantID, err)
		}
		return data, nil
	}
	return json.Marshal(t.Config)
}

// Load reads path (or CONFIG_FILE) and the environment, then validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Health.Interval = 30 * time.Second
	cfg.Health.CheckTimeout = 10 * time.Second
	cfg.History.Size = 1024
	cfg.History.TTL = time.Hour
	cfg.Redis.TTL = 24 * time.Hour
	cfg.ShutdownTimeout = 15 * time.Second

	if err := libconfig.LoadConfig(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Health.Interval <= 0 {
		errs = append(errs, errors.New("config: health interval must be positive"))
	}
	if c.Health.CheckTimeout <= 0 {
		errs = append(errs, errors.New("config: health check timeout must be positive"))
	}
	if c.History.Size < 0 {
		errs = append(errs, errors.New("config: history size must not be negative"))
	}
	if strings.TrimSpace(c.Database.Query) != "" && strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("config: database query set without dsn"))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, errors.New("config: redis db must not be negative"))
	}

	seen := make(map[string]bool, len(c.Terminals))
	for i, t := range c.Terminals {
		id := strings.TrimSpace(t.TenantID)
		switch {
		case id == "":
			errs = append(errs, fmt.Errorf("config: terminals[%d]: tenantId is required", i))
		case seen[id]:
			errs = append(errs, fmt.Errorf("config: terminals[%d]: duplicate tenant %s", i, id))
		}
		seen[id] = true
		if (len(t.Config) == 0) == (t.ConfigFile == "") {
			errs = append(errs, fmt.Errorf("config: terminals[%d]: exactly one of config and configFile is required", i))
		}
	}
	return errors.Join(errs...)
}

// DatabaseEnabled reports whether tenant configs come from Postgres.
func (c *Config) DatabaseEnabled() bool { return strings.TrimSpace(c.Database.DSN) != "" }

// RedisEnabled reports whether the status mirror is on.
func (c *Config) RedisEnabled() bool { return strings.TrimSpace(c.Redis.Addr) != "" }
