// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

// The producer fetches charts from its configured sources, assembles
// snapshot messages, and publishes them to the queue. It runs once per
// invocation; scheduling is external (cron, systemd timer).
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chartpulse/internal/config"
	"chartpulse/internal/logging"
	"chartpulse/internal/models"
	"chartpulse/internal/producer"
	"chartpulse/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Producer run failed")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	streamInit, nc, err := queue.ConnectStreamInitializer(cfg.NATS)
	if err != nil {
		return err
	}
	defer nc.Close()

	streamCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	_, err = streamInit.EnsureStream(streamCtx)
	cancel()
	if err != nil {
		return err
	}

	pub, err := queue.NewPublisher(cfg.NATS, logging.NewWatermillAdapter())
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()

	sources := make([]producer.ChartSource, 0, len(cfg.Producer.Sources))
	for _, spec := range cfg.Producer.Sources {
		sources = append(sources, sourceFromSpec(spec))
	}

	// Chart pages publish with a delay; look back the configured number
	// of days for the chart date.
	date := time.Now().AddDate(0, 0, -cfg.Producer.LookbackDays).Format(models.DateFormat)

	return producer.New(pub, sources...).Run(ctx, date)
}

// sourceFromSpec parses a configured source entry. "name=path" binds a
// fixture file; a bare name defaults to fixtures/<name>.json.
func sourceFromSpec(spec string) producer.ChartSource {
	name, path, found := strings.Cut(spec, "=")
	if !found {
		path = "fixtures/" + name + ".json"
	}
	return producer.NewFixtureSource(name, path)
}
