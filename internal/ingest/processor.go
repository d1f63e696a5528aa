// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ingest implements the ingestion processor: it consumes chart
// snapshot messages, drives enrichment for pending fields, and persists
// countries, artists, songs, sources, and chart entries through the
// store's idempotent upsert primitives.
package ingest

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"chartpulse/internal/enrich"
	"chartpulse/internal/logging"
	"chartpulse/internal/metrics"
	"chartpulse/internal/models"
	"chartpulse/internal/store"
)

// Enricher is the gateway capability the processor depends on. Resolve
// methods degrade instead of failing: the boolean is false when no
// metadata could be obtained.
type Enricher interface {
	ResolveArtist(ctx context.Context, name string) (enrich.ArtistInfo, bool)
	ResolveTrack(ctx context.Context, title, artist string) (enrich.TrackFeatures, bool)
}

// Processor handles snapshot messages. It is safe for concurrent use:
// correctness under concurrent instances or handler goroutines rests on
// the store's unique-constraint-plus-conflict-resolution discipline,
// not on mutual exclusion here.
type Processor struct {
	store    store.Store
	enricher Enricher

	messagesHandled atomic.Int64
	itemsFailed     atomic.Int64
}

// NewProcessor creates a processor over the given store and enricher.
func NewProcessor(st store.Store, enricher Enricher) *Processor {
	return &Processor{store: st, enricher: enricher}
}

// Handle processes one queue message. It is the handler function given
// to the router's AddNoPublisherHandler.
//
// Error contract:
//   - Bodies that do not decode at all return *PermanentError: the
//     message goes to the poison queue, never into a redelivery loop.
//   - An invalid snapshot within a decodable message is logged and
//     skipped; its valid siblings are still processed.
//   - A pass that persists nothing while the store was refusing writes
//     returns *RetryableError, so the queue redelivers instead of
//     acknowledging a message the store never saw. Upserts are
//     idempotent, making the redelivery safe.
//   - Otherwise nil once all items have been attempted. Per-item
//     failures are logged and counted but never fail the message.
func (p *Processor) Handle(msg *message.Message) error {
	start := time.Now()
	metrics.MessagesConsumed.Inc()

	snapshots, err := models.DecodeSnapshots(msg.Payload)
	if err != nil {
		metrics.MessagesMalformed.Inc()
		logging.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping malformed snapshot message")
		return NewPermanentError("malformed snapshot message", err)
	}

	ctx := msg.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var persisted, transient int
	for i := range snapshots {
		if err := snapshots[i].Validate(); err != nil {
			metrics.RecordItemFailure("snapshot")
			logging.Error().Err(err).Int("snapshot", i).Str("message_uuid", msg.UUID).
				Msg("Skipping invalid snapshot, siblings still processed")
			continue
		}
		n, failures := p.processSnapshot(ctx, &snapshots[i])
		persisted += n
		transient += failures
	}

	if persisted == 0 && transient > 0 {
		logging.Error().Int("failures", transient).Str("message_uuid", msg.UUID).
			Msg("Nothing persisted, requesting redelivery")
		return NewRetryableError("store rejected every item", nil)
	}

	p.messagesHandled.Add(1)
	metrics.MessagesProcessed.Inc()
	metrics.MessageProcessingDuration.Observe(time.Since(start).Seconds())
	return nil
}

// processSnapshot ingests one snapshot and reports how many items were
// persisted and how many hit transient (store) failures; permanently
// invalid items count toward neither. Countries are walked in sorted
// order for reproducible logs; ordering carries no correctness weight.
func (p *Processor) processSnapshot(ctx context.Context, snapshot *models.Snapshot) (persisted, transient int) {
	countries := make([]string, 0, len(snapshot.Charts))
	for country := range snapshot.Charts {
		countries = append(countries, country)
	}
	sort.Strings(countries)

	for _, country := range countries {
		items := snapshot.Charts[country]

		countryID, err := p.store.UpsertCountry(ctx, country)
		if err != nil {
			metrics.RecordItemFailure("country")
			transient++
			logging.Error().Err(err).Str("country", country).Str("date", snapshot.Date).
				Msg("Country upsert failed, skipping its chart")
			continue
		}

		if err := p.store.UpsertChartDate(ctx, snapshot.Date); err != nil {
			// Chart entries do not reference chart_dates; keep going.
			logging.Error().Err(err).Str("date", snapshot.Date).Msg("Chart date upsert failed")
		}

		for i := range items {
			err := p.processItem(ctx, snapshot.Date, countryID, &items[i])
			if err == nil {
				persisted++
				continue
			}
			p.itemsFailed.Add(1)
			if !IsPermanent(err) {
				transient++
			}
			logging.Error().Err(err).
				Str("country", country).
				Str("date", snapshot.Date).
				Str("song", items[i].Title).
				Int("position", items[i].Position).
				Msg("Line item failed, continuing with next")
		}
	}
	return persisted, transient
}

// processItem resolves and persists one line item. Any error aborts this
// item only; previously committed primitives stand.
func (p *Processor) processItem(ctx context.Context, date string, countryID int64, item *models.LineItem) error {
	if err := item.Validate(); err != nil {
		metrics.RecordItemFailure("validate")
		return NewPermanentError("invalid line item", err)
	}

	artistType := p.resolveArtistType(ctx, item)
	artistID, err := p.store.UpsertArtist(ctx, item.Artist, artistType)
	if err != nil {
		metrics.RecordItemFailure("artist")
		return err
	}

	song := p.buildSong(ctx, artistID, item)
	songID, err := p.store.InsertSong(ctx, song)
	if err != nil {
		metrics.RecordItemFailure("song")
		return err
	}

	source := item.Source
	if source == "" {
		source = models.Unknown
	}
	if err := p.store.UpsertSongSource(ctx, songID, source); err != nil {
		metrics.RecordItemFailure("song_source")
		return err
	}

	if err := p.store.UpsertChartEntry(ctx, date, countryID, songID, item.Position); err != nil {
		metrics.RecordItemFailure("chart_entry")
		return err
	}

	metrics.ItemsPersisted.Inc()
	return nil
}

// resolveArtistType returns the supplied classification when present,
// otherwise asks the gateway, degrading to Unknown.
func (p *Processor) resolveArtistType(ctx context.Context, item *models.LineItem) string {
	if item.ArtistFeatures.Type.IsResolved() {
		return item.ArtistFeatures.Type.Value()
	}
	info, ok := p.enricher.ResolveArtist(ctx, item.Artist)
	if !ok || info.Type == "" {
		return models.Unknown
	}
	return info.Type
}

// buildSong assembles the song row, resolving pending features via the
// gateway. Message-supplied values win over looked-up ones; everything
// unresolved degrades to Unknown, and duration is normalized so it is
// never persisted as null.
func (p *Processor) buildSong(ctx context.Context, artistID int64, item *models.LineItem) store.Song {
	song := store.Song{
		Title:      item.Title,
		ArtistID:   artistID,
		Album:      item.Album,
		Duration:   item.NormalizedDuration(),
		SpotifyURL: item.SpotifyURL,
		Key:        item.SongFeatures.Key.OrUnknown(),
		Genre:      item.SongFeatures.Genre.OrUnknown(),
		Language:   item.SongFeatures.Language.OrUnknown(),
	}

	if item.SongFeatures.Resolved() {
		return song
	}

	features, ok := p.enricher.ResolveTrack(ctx, item.Title, item.Artist)
	if !ok {
		return song
	}

	song.Key = item.SongFeatures.Key.ValueOr(features.Key)
	song.Genre = item.SongFeatures.Genre.ValueOr(features.Genre)
	song.Language = item.SongFeatures.Language.ValueOr(features.Language)

	if isAbsent(song.Album) && features.Album != "" {
		album := features.Album
		song.Album = &album
	}
	if song.Duration == models.DefaultDuration && features.Duration != "" && features.Duration != models.Unknown {
		song.Duration = features.Duration
	}
	if song.SpotifyURL == nil {
		song.SpotifyURL = features.SpotifyURL
	}
	return song
}

// isAbsent reports whether an optional string carries no real value.
func isAbsent(s *string) bool {
	return s == nil || *s == "" || *s == models.Unknown
}

// MessagesHandled returns the number of messages fully processed.
func (p *Processor) MessagesHandled() int64 {
	return p.messagesHandled.Load()
}

// ItemsFailed returns the number of line items that failed processing.
func (p *Processor) ItemsFailed() int64 {
	return p.itemsFailed.Load()
}
