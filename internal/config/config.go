// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides layered configuration for Chartpulse using Koanf v2.
// Precedence: environment variables > YAML config file > built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for both the processor and producer binaries.
type Config struct {
	NATS     NATSConfig     `koanf:"nats"`
	Database DatabaseConfig `koanf:"database"`
	Enrich   EnrichConfig   `koanf:"enrich"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Producer ProducerConfig `koanf:"producer"`
}

// NATSConfig holds NATS JetStream settings for the snapshot queue.
type NATSConfig struct {
	// URL is the NATS server connection URL.
	URL string `koanf:"url"`

	// EmbeddedServer runs an in-process NATS server instead of connecting
	// to an external one. Single-binary deployments only.
	EmbeddedServer bool `koanf:"embedded_server"`

	// StoreDir is the JetStream storage directory for the embedded server.
	StoreDir string `koanf:"store_dir"`

	// MaxMemory / MaxStore bound the embedded JetStream instance.
	MaxMemory int64 `koanf:"max_memory"`
	MaxStore  int64 `koanf:"max_store"`

	// StreamName is the JetStream stream holding chart snapshots.
	StreamName string `koanf:"stream_name"`

	// DurableName identifies the processor's durable consumer.
	DurableName string `koanf:"durable_name"`

	// QueueGroup load-balances messages across processor instances.
	QueueGroup string `koanf:"queue_group"`

	// SubscribersCount is the number of concurrent message processors.
	// Correctness under >1 relies on the store's upsert conflict rules,
	// not on ordering.
	SubscribersCount int `koanf:"subscribers_count"`

	// AckWait is the redelivery window: a message not acked within this
	// bound is redelivered.
	AckWait time.Duration `koanf:"ack_wait"`

	// MaxDeliver caps redelivery attempts per message.
	MaxDeliver int `koanf:"max_deliver"`

	// Router middleware settings.
	RetryMaxRetries      int           `koanf:"retry_max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	PoisonTopic          string        `koanf:"poison_topic"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	// DSN is the Postgres connection string.
	DSN string `koanf:"dsn"`

	// MaxConns caps the pgx pool size.
	MaxConns int `koanf:"max_conns"`

	// ConnectTimeout bounds the initial pool creation.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`

	// StatementTimeout bounds every individual store operation.
	StatementTimeout time.Duration `koanf:"statement_timeout"`
}

// EnrichConfig holds enrichment gateway settings.
type EnrichConfig struct {
	// ArtistBaseURL is the MusicBrainz-compatible artist lookup endpoint.
	ArtistBaseURL string `koanf:"artist_base_url"`

	// TrackBaseURL is the Spotify-compatible track feature endpoint.
	TrackBaseURL string `koanf:"track_base_url"`

	// TrackClientID / TrackClientSecret authenticate the track provider.
	TrackClientID     string `koanf:"track_client_id"`
	TrackClientSecret string `koanf:"track_client_secret"`

	// Timeout bounds every single provider call.
	Timeout time.Duration `koanf:"timeout"`

	// MaxAttempts caps rate-limited retries per track lookup.
	MaxAttempts int `koanf:"max_attempts"`

	// ArtistRatePerSec throttles artist lookups client-side.
	ArtistRatePerSec float64 `koanf:"artist_rate_per_sec"`

	// BreakerFailureThreshold consecutive failures open the circuit.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold"`

	// BreakerOpenTimeout is how long the circuit stays open before probing.
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// ServerConfig holds the ops HTTP server settings (health, metrics).
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ProducerConfig holds snapshot producer settings.
type ProducerConfig struct {
	// Sources lists chart source names this producer run should fetch.
	Sources []string `koanf:"sources"`

	// LookbackDays selects the chart date: today minus this many days.
	// Public chart pages publish with a one-day delay, hence default 1.
	LookbackDays int `koanf:"lookback_days"`
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.NATS.URL == "" && !c.NATS.EmbeddedServer {
		return fmt.Errorf("nats.url is required when nats.embedded_server is false")
	}
	if c.NATS.StreamName == "" {
		return fmt.Errorf("nats.stream_name is required")
	}
	if c.NATS.SubscribersCount < 1 {
		return fmt.Errorf("nats.subscribers_count must be at least 1, got %d", c.NATS.SubscribersCount)
	}
	if c.NATS.AckWait <= 0 {
		return fmt.Errorf("nats.ack_wait must be positive")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Enrich.MaxAttempts < 1 {
		return fmt.Errorf("enrich.max_attempts must be at least 1, got %d", c.Enrich.MaxAttempts)
	}
	if c.Enrich.Timeout <= 0 {
		return fmt.Errorf("enrich.timeout must be positive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Producer.LookbackDays < 0 {
		return fmt.Errorf("producer.lookback_days must not be negative")
	}
	return nil
}
