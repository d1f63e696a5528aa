// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"sync"
)

// Memory is an in-memory Store used by tests and local development runs.
// It enforces the same uniqueness and conflict-resolution rules as the
// Postgres implementation so processor behavior can be asserted without
// a database.
type Memory struct {
	mu sync.Mutex

	countries map[string]int64
	artists   map[string]int64
	// artistTypes keyed by id; never overwritten on upsert
	artistTypes map[int64]string
	sources     map[string]int64
	songs       []Song
	songSources map[[2]int64]struct{}
	chartDates  map[string]struct{}
	charts      map[ChartKey]int

	nextID int64

	// FailNext, when set, makes the next store call return this error
	// once. Lets tests exercise per-item failure isolation.
	FailNext error
}

// ChartKey identifies one chart entry row.
type ChartKey struct {
	Date      string
	CountryID int64
	SongID    int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		countries:   make(map[string]int64),
		artists:     make(map[string]int64),
		artistTypes: make(map[int64]string),
		sources:     make(map[string]int64),
		songSources: make(map[[2]int64]struct{}),
		chartDates:  make(map[string]struct{}),
		charts:      make(map[ChartKey]int),
	}
}

func (m *Memory) takeFailure() error {
	if err := m.FailNext; err != nil {
		m.FailNext = nil
		return err
	}
	return nil
}

// UpsertCountry implements Store.
func (m *Memory) UpsertCountry(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	if id, ok := m.countries[name]; ok {
		return id, nil
	}
	m.nextID++
	m.countries[name] = m.nextID
	return m.nextID, nil
}

// UpsertArtist implements Store.
func (m *Memory) UpsertArtist(_ context.Context, name, artistType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	if id, ok := m.artists[name]; ok {
		return id, nil
	}
	m.nextID++
	m.artists[name] = m.nextID
	m.artistTypes[m.nextID] = artistType
	return m.nextID, nil
}

// InsertSong implements Store.
func (m *Memory) InsertSong(_ context.Context, song Song) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	m.nextID++
	m.songs = append(m.songs, song)
	return m.nextID, nil
}

// UpsertSongSource implements Store.
func (m *Memory) UpsertSongSource(_ context.Context, songID int64, sourceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	sourceID, ok := m.sources[sourceName]
	if !ok {
		m.nextID++
		sourceID = m.nextID
		m.sources[sourceName] = sourceID
	}
	m.songSources[[2]int64{songID, sourceID}] = struct{}{}
	return nil
}

// UpsertChartDate implements Store.
func (m *Memory) UpsertChartDate(_ context.Context, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.chartDates[date] = struct{}{}
	return nil
}

// UpsertChartEntry implements Store.
func (m *Memory) UpsertChartEntry(_ context.Context, date string, countryID, songID int64, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.charts[ChartKey{Date: date, CountryID: countryID, SongID: songID}] = position
	return nil
}

// Ping implements Store.
func (m *Memory) Ping(context.Context) error { return nil }

// Snapshot accessors for test assertions.

// CountryID returns the id for a country name, or 0.
func (m *Memory) CountryID(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countries[name]
}

// ArtistID returns the id for an artist name, or 0.
func (m *Memory) ArtistID(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.artists[name]
}

// ArtistType returns the stored type for an artist id.
func (m *Memory) ArtistType(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.artistTypes[id]
}

// Songs returns a copy of all inserted song rows.
func (m *Memory) Songs() []Song {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Song, len(m.songs))
	copy(out, m.songs)
	return out
}

// SongSourceCount returns the number of distinct (song, source) pairs.
func (m *Memory) SongSourceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.songSources)
}

// ChartEntries returns a copy of all chart entry rows.
func (m *Memory) ChartEntries() map[ChartKey]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ChartKey]int, len(m.charts))
	for k, v := range m.charts {
		out[k] = v
	}
	return out
}

// CountryCount returns the number of country rows.
func (m *Memory) CountryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.countries)
}

// ArtistCount returns the number of artist rows.
func (m *Memory) ArtistCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.artists)
}
