// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.NATS.StreamName != "CHARTS" {
		t.Errorf("stream name = %q", cfg.NATS.StreamName)
	}
	if cfg.NATS.AckWait != 2*time.Minute {
		t.Errorf("ack wait = %v", cfg.NATS.AckWait)
	}
	if cfg.NATS.MaxDeliver != 5 {
		t.Errorf("max deliver = %d", cfg.NATS.MaxDeliver)
	}
	if cfg.Enrich.MaxAttempts != 5 {
		t.Errorf("enrich max attempts = %d", cfg.Enrich.MaxAttempts)
	}
	if cfg.Enrich.ArtistRatePerSec != 1.0 {
		t.Errorf("artist rate = %v", cfg.Enrich.ArtistRatePerSec)
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("server port = %d", cfg.Server.Port)
	}
	if cfg.Producer.LookbackDays != 1 {
		t.Errorf("lookback days = %d", cfg.Producer.LookbackDays)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NATS_URL", "nats://queue.internal:4222")
	t.Setenv("DATABASE_DSN", "postgres://app@db.internal:5432/charts")
	t.Setenv("ENRICH_MAX_ATTEMPTS", "2")
	t.Setenv("LOGGING_LEVEL", "debug")
	t.Setenv("PRODUCER_SOURCES", "top40, airplay ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.NATS.URL != "nats://queue.internal:4222" {
		t.Errorf("nats url = %q", cfg.NATS.URL)
	}
	if cfg.Database.DSN != "postgres://app@db.internal:5432/charts" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Enrich.MaxAttempts != 2 {
		t.Errorf("enrich max attempts = %d", cfg.Enrich.MaxAttempts)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	want := []string{"top40", "airplay"}
	if len(cfg.Producer.Sources) != len(want) {
		t.Fatalf("sources = %v, want %v", cfg.Producer.Sources, want)
	}
	for i := range want {
		if cfg.Producer.Sources[i] != want[i] {
			t.Errorf("sources[%d] = %q, want %q", i, cfg.Producer.Sources[i], want[i])
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("nats:\n  stream_name: CHARTS_STAGING\nserver:\n  port: 9999\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NATS.StreamName != "CHARTS_STAGING" {
		t.Errorf("stream name = %q", cfg.NATS.StreamName)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	// Untouched settings keep their defaults.
	if cfg.NATS.DurableName != "chart-processor" {
		t.Errorf("durable name = %q", cfg.NATS.DurableName)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env value 7070", cfg.Server.Port)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "NATS_URL", want: "nats.url"},
		{in: "NATS_STREAM_NAME", want: "nats.stream_name"},
		{in: "DATABASE_DSN", want: "database.dsn"},
		{in: "ENRICH_MAX_ATTEMPTS", want: "enrich.max_attempts"},
		{in: "PRODUCER_LOOKBACK_DAYS", want: "producer.lookback_days"},
		{in: "HOME", want: ""},
		{in: "PATH", want: ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults valid", mutate: func(*Config) {}},
		{name: "no url no embedded", mutate: func(c *Config) { c.NATS.URL = "" }, wantErr: true},
		{name: "no url with embedded", mutate: func(c *Config) {
			c.NATS.URL = ""
			c.NATS.EmbeddedServer = true
		}},
		{name: "empty stream", mutate: func(c *Config) { c.NATS.StreamName = "" }, wantErr: true},
		{name: "zero subscribers", mutate: func(c *Config) { c.NATS.SubscribersCount = 0 }, wantErr: true},
		{name: "zero ack wait", mutate: func(c *Config) { c.NATS.AckWait = 0 }, wantErr: true},
		{name: "empty dsn", mutate: func(c *Config) { c.Database.DSN = "" }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.Enrich.MaxAttempts = 0 }, wantErr: true},
		{name: "zero enrich timeout", mutate: func(c *Config) { c.Enrich.Timeout = 0 }, wantErr: true},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "negative lookback", mutate: func(c *Config) { c.Producer.LookbackDays = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
