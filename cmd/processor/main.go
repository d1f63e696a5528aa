// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

// The processor consumes chart snapshot messages from the queue,
// enriches pending fields via the metadata providers, and persists
// everything to Postgres with idempotent upserts.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chartpulse/internal/api"
	"chartpulse/internal/config"
	"chartpulse/internal/enrich"
	"chartpulse/internal/ingest"
	"chartpulse/internal/logging"
	"chartpulse/internal/queue"
	"chartpulse/internal/store"
	"chartpulse/internal/supervisor"
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
		logging.Fatal().Err(err).Msg("Processor exited with error")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Embedded broker for single-binary deployments.
	if cfg.NATS.EmbeddedServer {
		embedded, err := queue.NewEmbeddedServer(cfg.NATS)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Warn().Err(err).Msg("Embedded server shutdown incomplete")
			}
		}()
		cfg.NATS.URL = embedded.ClientURL()
		logging.Info().Str("url", cfg.NATS.URL).Msg("Embedded queue server started")
	}

	// Store outage at startup is fatal; after startup, per-item errors
	// degrade instead.
	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	pg, err := store.NewPostgres(startupCtx, cfg.Database)
	if err != nil {
		cancel()
		return err
	}
	if err := pg.EnsureSchema(startupCtx); err != nil {
		cancel()
		pg.Close()
		return err
	}
	cancel()
	defer pg.Close()

	// Stream must exist before publisher and subscriber bind to it.
	streamInit, nc, err := queue.ConnectStreamInitializer(cfg.NATS)
	if err != nil {
		return err
	}
	defer nc.Close()
	streamCtx, cancelStream := context.WithTimeout(ctx, 30*time.Second)
	_, err = streamInit.EnsureStream(streamCtx)
	cancelStream()
	if err != nil {
		return err
	}

	wmLogger := logging.NewWatermillAdapter()

	poisonPub, err := queue.NewPublisher(cfg.NATS, wmLogger)
	if err != nil {
		return err
	}
	defer func() { _ = poisonPub.Close() }()

	sub, err := queue.NewSubscriber(cfg.NATS, wmLogger)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	gateway := enrich.NewGateway(
		enrich.NewMusicBrainzClient(cfg.Enrich.ArtistBaseURL, cfg.Enrich.Timeout, cfg.Enrich.ArtistRatePerSec),
		newTrackClient(cfg.Enrich),
		cfg.Enrich,
	)
	processor := ingest.NewProcessor(pg, gateway)

	router, err := queue.NewRouter(cfg.NATS, poisonPub.WatermillPublisher(), ingest.IsPermanent, wmLogger)
	if err != nil {
		return err
	}
	router.AddConsumerHandler("chart-snapshots", queue.TopicSnapshots, sub.WatermillSubscriber(), processor.Handle)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddQueueService(supervisor.NewRunnerService("snapshot-router", router))
	tree.AddServingService(supervisor.NewHTTPServerService(api.NewServer(cfg.Server, pg), 10*time.Second))

	logging.Info().
		Str("stream", cfg.NATS.StreamName).
		Str("durable", cfg.NATS.DurableName).
		Int("subscribers", cfg.NATS.SubscribersCount).
		Msg("Processor starting")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("Processor stopped")
	return nil
}

func newTrackClient(cfg config.EnrichConfig) *enrich.SpotifyClient {
	return enrich.NewSpotifyClient(cfg.TrackBaseURL, cfg.TrackClientID, cfg.TrackClientSecret, cfg.Timeout)
}
