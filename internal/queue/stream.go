// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"chartpulse/internal/config"
)

// JetStreamContext is the subset of jetstream.JetStream the stream
// initializer needs. Tests substitute a fake.
type JetStreamContext interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// StreamInitializer provisions the chart stream before publishers and
// subscribers start. Initialization is idempotent: an existing stream
// is updated to the configured settings.
type StreamInitializer struct {
	js         JetStreamContext
	streamName string
}

// NewStreamInitializer creates a stream initializer.
func NewStreamInitializer(js JetStreamContext, streamName string) (*StreamInitializer, error) {
	if js == nil {
		return nil, errors.New("jetstream context required")
	}
	if streamName == "" {
		return nil, errors.New("stream name required")
	}
	return &StreamInitializer{js: js, streamName: streamName}, nil
}

// ConnectStreamInitializer dials NATS and returns an initializer bound
// to that connection. The caller owns the returned connection.
func ConnectStreamInitializer(cfg config.NATSConfig) (*StreamInitializer, *natsgo.Conn, error) {
	nc, err := natsgo.Connect(cfg.URL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}

	init, err := NewStreamInitializer(js, cfg.StreamName)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return init, nc, nil
}

// EnsureStream creates or updates the chart stream. The stream uses
// file storage with a duplicate-detection window so redundant producer
// publishes with the same Nats-Msg-Id collapse into one message.
func (s *StreamInitializer) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:        s.streamName,
		Subjects:    []string{"charts.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  2 * time.Minute,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}

	_, err := s.js.Stream(ctx, s.streamName)
	if err == nil {
		stream, err := s.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", s.streamName, err)
		}
		return stream, nil
	}

	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err := s.js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", s.streamName, err)
		}
		return stream, nil
	}

	return nil, fmt.Errorf("check stream %s: %w", s.streamName, err)
}

// IsHealthy reports whether the stream exists and is reachable.
func (s *StreamInitializer) IsHealthy(ctx context.Context) bool {
	_, err := s.js.Stream(ctx, s.streamName)
	return err == nil
}
