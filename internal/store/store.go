// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store implements the persistence layer: a small set of upsert
// primitives over Postgres with explicit conflict-resolution rules. Each
// primitive is an independent atomic statement; there is no cross-item
// transaction, so a failure in one never rolls back previously committed
// primitives from the same message.
package store

import (
	"context"
)

// Song holds the columns of one songs row. Songs are inserted
// unconditionally: the schema intentionally has no natural key on
// (title, artist_id), so re-ingestion accumulates rows while chart
// entries still collapse on (date, country, song).
type Song struct {
	Title      string
	ArtistID   int64
	Album      *string
	Duration   string
	SpotifyURL *string
	Key        string
	Genre      string
	Language   string
}

// Store is the persistence contract the ingestion processor depends on.
// All writes are keyed on natural or composite uniqueness constraints so
// concurrent processors converge without locks.
type Store interface {
	// UpsertCountry returns the id for the named country, creating the
	// row on first reference. Race-safe: concurrent callers with the
	// same name get the same id.
	UpsertCountry(ctx context.Context, name string) (int64, error)

	// UpsertArtist returns the id for the named artist, creating the row
	// on first reference. An existing row's type is never overwritten;
	// the first writer's classification sticks.
	UpsertArtist(ctx context.Context, name, artistType string) (int64, error)

	// InsertSong always inserts a new row and returns its id.
	InsertSong(ctx context.Context, song Song) (int64, error)

	// UpsertSongSource marks the song as seen from the named source,
	// creating the source row if needed. Conflict-ignore: the pair is
	// recorded at most once regardless of re-processing.
	UpsertSongSource(ctx context.Context, songID int64, sourceName string) error

	// UpsertChartDate records that chart data exists for the date.
	// Conflict-ignore.
	UpsertChartDate(ctx context.Context, date string) error

	// UpsertChartEntry records a song's position for (date, country).
	// On conflict the position is updated in place: last write wins.
	UpsertChartEntry(ctx context.Context, date string, countryID, songID int64, position int) error

	// Ping verifies store connectivity, used by the readiness probe.
	Ping(ctx context.Context) error
}
