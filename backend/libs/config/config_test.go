package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Health struct {
		Interval time.Duration `yaml:"interval"`
		Enabled  bool          `yaml:"enabled"`
	} `yaml:"health"`
	Redis struct {
		Addr string `yaml:"addr" env:"SAMPLE_REDIS_ADDR"`
		DB   int    `yaml:"db"`
	} `yaml:"redis"`
	Vendors []string `yaml:"vendors"`
	Items   []struct {
		Name string `yaml:"name"`
	} `yaml:"items"`
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service.yaml")
	body := []byte("health:\n  interval: 10s\n  enabled: true\nredis:\n  addr: file:6379\n  db: 2\nitems:\n  - name: a\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SAMPLE_REDIS_ADDR", "env:6379")
	t.Setenv("HEALTH_INTERVAL", "45s")
	t.Setenv("VENDORS", "stone, cielo")

	var cfg sampleConfig
	if err := LoadConfig(path, &cfg); err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Health.Interval != 45*time.Second {
		t.Fatalf("expected env interval override, got %s", cfg.Health.Interval)
	}
	if !cfg.Health.Enabled {
		t.Fatalf("expected enabled from file")
	}
	if cfg.Redis.Addr != "env:6379" {
		t.Fatalf("expected explicit env tag to win, got %s", cfg.Redis.Addr)
	}
	if cfg.Redis.DB != 2 {
		t.Fatalf("expected db from file, got %d", cfg.Redis.DB)
	}
	if len(cfg.Vendors) != 2 || cfg.Vendors[1] != "cielo" {
		t.Fatalf("unexpected vendors %v", cfg.Vendors)
	}
	if len(cfg.Items) != 1 || cfg.Items[0].Name != "a" {
		t.Fatalf("unexpected items %v", cfg.Items)
	}
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	if err := LoadConfig("", sampleConfig{}); err == nil {
		t.Fatalf("expected error for non-pointer target")
	}
}

func TestLoadConfigBadDuration(t *testing.T) {
	t.Setenv("HEALTH_INTERVAL", "soon")
	var cfg sampleConfig
	if err := LoadConfig("", &cfg); err == nil {
		t.Fatalf("expected parse error")
	}
}
