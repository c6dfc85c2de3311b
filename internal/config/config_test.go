package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port from file, got %d", cfg.Server.Port)
	}
	if cfg.Worker.IntervalMs != 5000 {
		t.Errorf("expected default interval 5000ms, got %d", cfg.Worker.IntervalMs)
	}
	if cfg.Worker.Interval() != 5*time.Second {
		t.Errorf("unexpected Interval(): %s", cfg.Worker.Interval())
	}
	if cfg.Worker.LeaseDuration != 15*time.Minute {
		t.Errorf("unexpected lease duration: %s", cfg.Worker.LeaseDuration)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite default driver, got %q", cfg.Database.Driver)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ASR_API_KEY", "asr-secret")
	t.Setenv("ASR_BASE_URL", "http://asr.local/v1/transcriptions")
	t.Setenv("WORKER_INTERVAL_MS", "250")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("worker:\n  simulate: true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ASR.APIKey != "asr-secret" {
		t.Errorf("expected ASR key from env, got %q", cfg.ASR.APIKey)
	}
	if !cfg.ASR.Configured() {
		t.Error("expected ASR to be configured")
	}
	if cfg.Worker.IntervalMs != 250 {
		t.Errorf("expected env interval, got %d", cfg.Worker.IntervalMs)
	}
	if !cfg.Worker.Simulate {
		t.Error("expected simulate from file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, true},
		{"zero interval", func(c *Config) { c.Worker.IntervalMs = 0 }, true},
		{"zero lease", func(c *Config) { c.Worker.LeaseDuration = 0 }, true},
		{"zero replay interval", func(c *Config) { c.Worker.ReplayInterval = 0 }, true},
		{"no fallback dir", func(c *Config) { c.Fallback.Dir = "" }, true},
		{"missing credentials are fine", func(c *Config) { c.ASR.APIKey = ""; c.Storage.Bucket = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "visits"}
	want := "host=db port=5432 user=u password=p dbname=visits sslmode=disable"
	if got := pg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}

	pg.URL = "postgres://u:p@db/visits"
	if got := pg.DSN(); got != pg.URL {
		t.Errorf("expected URL to win, got %q", got)
	}

	lite := DatabaseConfig{Driver: "sqlite", Path: "./x.db"}
	if got := lite.DSN(); got != "./x.db" {
		t.Errorf("sqlite DSN = %q", got)
	}
}
