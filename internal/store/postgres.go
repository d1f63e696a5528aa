// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chartpulse/internal/config"
	"chartpulse/internal/logging"
	"chartpulse/internal/metrics"
)

// Postgres implements Store over a pgx connection pool.
type Postgres struct {
	pool             *pgxpool.Pool
	statementTimeout time.Duration
}

// NewPostgres opens a connection pool and verifies connectivity.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logging.Info().Int("max_conns", int(poolCfg.MaxConns)).Msg("Database connection pool established")

	return &Postgres{
		pool:             pool,
		statementTimeout: cfg.StatementTimeout,
	}, nil
}

// EnsureSchema creates the chart tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping verifies store connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.boundCtx(ctx)
	defer cancel()
	return p.pool.Ping(ctx)
}

// boundCtx applies the statement timeout so no store call can block past
// its ceiling.
func (p *Postgres) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.statementTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.statementTimeout)
}

// UpsertCountry implements Store. Conflict-ignore insert, then re-select:
// under a concurrent insert of the same name the conflict resolves to
// "already exists, re-select", never a duplicate row.
func (p *Postgres) UpsertCountry(ctx context.Context, name string) (int64, error) {
	start := time.Now()
	id, err := p.upsertNamed(ctx, "countries", name)
	metrics.RecordStoreOperation("upsert_country", time.Since(start), err)
	return id, err
}

// UpsertArtist implements Store. The type column is only written on
// insert; an existing row keeps its original classification.
func (p *Postgres) UpsertArtist(ctx context.Context, name, artistType string) (int64, error) {
	start := time.Now()
	ctx, cancel := p.boundCtx(ctx)
	defer cancel()

	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO artists (name, type) VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING
		 RETURNING id`,
		name, artistType,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = p.pool.QueryRow(ctx, `SELECT id FROM artists WHERE name = $1`, name).Scan(&id)
	}
	metrics.RecordStoreOperation("upsert_artist", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("upsert artist %q: %w", name, err)
	}
	return id, nil
}

// InsertSong implements Store. Always inserts a new row; songs carry no
// natural key at this layer.
func (p *Postgres) InsertSong(ctx context.Context, song Song) (int64, error) {
	start := time.Now()
	ctx, cancel := p.boundCtx(ctx)
	defer cancel()

	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO songs (title, artist_id, album, duration, spotify_url, key, genre, language)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		song.Title, song.ArtistID, song.Album, song.Duration,
		song.SpotifyURL, song.Key, song.Genre, song.Language,
	).Scan(&id)
	metrics.RecordStoreOperation("insert_song", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("insert song %q: %w", song.Title, err)
	}
	return id, nil
}

// UpsertSongSource implements Store. Resolves or creates the source row,
// then inserts the join row with conflict-ignore.
func (p *Postgres) UpsertSongSource(ctx context.Context, songID int64, sourceName string) error {
	start := time.Now()

	sourceID, err := p.upsertNamed(ctx, "sources", sourceName)
	if err != nil {
		metrics.RecordStoreOperation("upsert_song_source", time.Since(start), err)
		return err
	}

	ctx, cancel := p.boundCtx(ctx)
	defer cancel()
	_, err = p.pool.Exec(ctx,
		`INSERT INTO song_sources (song_id, source_id) VALUES ($1, $2)
		 ON CONFLICT (song_id, source_id) DO NOTHING`,
		songID, sourceID,
	)
	metrics.RecordStoreOperation("upsert_song_source", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("upsert song source (%d, %q): %w", songID, sourceName, err)
	}
	return nil
}

// UpsertChartDate implements Store. Conflict-ignore.
func (p *Postgres) UpsertChartDate(ctx context.Context, date string) error {
	start := time.Now()
	ctx, cancel := p.boundCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx,
		`INSERT INTO chart_dates (date) VALUES ($1) ON CONFLICT (date) DO NOTHING`,
		date,
	)
	metrics.RecordStoreOperation("upsert_chart_date", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("upsert chart date %q: %w", date, err)
	}
	return nil
}

// UpsertChartEntry implements Store. Position is the only mutable field:
// on conflict the new position wins.
func (p *Postgres) UpsertChartEntry(ctx context.Context, date string, countryID, songID int64, position int) error {
	start := time.Now()
	ctx, cancel := p.boundCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx,
		`INSERT INTO charts (date, country_id, song_id, position)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (date, country_id, song_id) DO UPDATE SET position = EXCLUDED.position`,
		date, countryID, songID, position,
	)
	metrics.RecordStoreOperation("upsert_chart_entry", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("upsert chart entry (%s, %d, %d): %w", date, countryID, songID, err)
	}
	return nil
}

// upsertNamed is the shared insert-or-reselect for tables keyed on a
// unique name column (countries, sources).
func (p *Postgres) upsertNamed(ctx context.Context, table, name string) (int64, error) {
	ctx, cancel := p.boundCtx(ctx)
	defer cancel()

	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO `+table+` (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING id`,
		name,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = p.pool.QueryRow(ctx, `SELECT id FROM `+table+` WHERE name = $1`, name).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("upsert %s %q: %w", table, name, err)
	}
	return id, nil
}
