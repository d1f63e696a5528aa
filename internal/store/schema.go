// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

// schemaStatements create the chart schema. All statements are
// IF NOT EXISTS so startup is idempotent; evolution beyond additive
// columns is out of scope.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS countries (
		id   SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS artists (
		id   SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		type TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS songs (
		id          SERIAL PRIMARY KEY,
		title       TEXT NOT NULL,
		artist_id   INTEGER NOT NULL REFERENCES artists(id),
		album       TEXT,
		duration    TEXT NOT NULL,
		spotify_url TEXT,
		key         TEXT,
		genre       TEXT,
		language    TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS sources (
		id   SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS song_sources (
		song_id   INTEGER NOT NULL REFERENCES songs(id),
		source_id INTEGER NOT NULL REFERENCES sources(id),
		UNIQUE (song_id, source_id)
	)`,
	`CREATE TABLE IF NOT EXISTS chart_dates (
		date DATE NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS charts (
		date       DATE NOT NULL,
		country_id INTEGER NOT NULL REFERENCES countries(id),
		song_id    INTEGER NOT NULL REFERENCES songs(id),
		position   INTEGER NOT NULL,
		UNIQUE (date, country_id, song_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_charts_date ON charts(date)`,
	`CREATE INDEX IF NOT EXISTS idx_songs_artist ON songs(artist_id)`,
}
