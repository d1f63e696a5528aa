// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package producer builds chart snapshots from chart sources and
// publishes them to the queue. Producers carry no database access and
// no enrichment: every feature field ships Pending, and the processor
// resolves them downstream.
package producer

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"chartpulse/internal/logging"
	"chartpulse/internal/models"
	"chartpulse/internal/queue"
)

// ChartSource is one chart provider: it fetches the ranked entries for
// a date, keyed by country name.
type ChartSource interface {
	Name() string
	Fetch(ctx context.Context, date string) (map[string][]models.LineItem, error)
}

// Publisher is the queue capability the producer needs.
type Publisher interface {
	Publish(topic string, msg *message.Message) error
}

// Producer assembles and publishes one snapshot per source per run.
type Producer struct {
	sources   []ChartSource
	publisher Publisher
}

// New creates a producer over the given sources.
func New(publisher Publisher, sources ...ChartSource) *Producer {
	return &Producer{sources: sources, publisher: publisher}
}

// Run fetches every source for the date and publishes one snapshot per
// source. A failing source is logged and skipped; the others still
// publish. The returned error is non-nil only when every source failed.
func (p *Producer) Run(ctx context.Context, date string) error {
	if len(p.sources) == 0 {
		return fmt.Errorf("no chart sources configured")
	}

	published := 0
	for _, src := range p.sources {
		if err := p.runSource(ctx, src, date); err != nil {
			logging.Error().Err(err).Str("source", src.Name()).Str("date", date).
				Msg("Chart source failed, continuing with next")
			continue
		}
		published++
	}

	if published == 0 {
		return fmt.Errorf("all %d chart sources failed for %s", len(p.sources), date)
	}
	logging.Info().Int("published", published).Str("date", date).Msg("Snapshot run complete")
	return nil
}

func (p *Producer) runSource(ctx context.Context, src ChartSource, date string) error {
	charts, err := src.Fetch(ctx, date)
	if err != nil {
		return fmt.Errorf("fetch charts: %w", err)
	}
	if len(charts) == 0 {
		return fmt.Errorf("source returned no charts")
	}

	for country, items := range charts {
		for i := range items {
			items[i].Source = src.Name()
		}
		charts[country] = items
	}

	snapshot := models.Snapshot{Date: date, Charts: charts}
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("assembled snapshot invalid: %w", err)
	}

	// The wire format is an array; one snapshot per message.
	payload, err := json.Marshal([]models.Snapshot{snapshot})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("source", src.Name())
	msg.Metadata.Set("date", date)

	if err := p.publisher.Publish(queue.TopicSnapshots, msg); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	logging.Info().
		Str("source", src.Name()).
		Str("date", date).
		Int("countries", len(charts)).
		Str("message_uuid", msg.UUID).
		Msg("Snapshot published")
	return nil
}
