// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

package producer

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"chartpulse/internal/models"
)

// FixtureSource serves charts from a JSON file: an object mapping
// country names to entry arrays. It exists for local runs and smoke
// tests; real scraping sources live outside this repo and implement
// the same interface.
type FixtureSource struct {
	name string
	path string
}

// NewFixtureSource creates a fixture source reading from path.
func NewFixtureSource(name, path string) *FixtureSource {
	return &FixtureSource{name: name, path: path}
}

// Name implements ChartSource.
func (s *FixtureSource) Name() string { return s.name }

// Fetch implements ChartSource. The date parameter is ignored: the
// fixture serves the same charts for every date.
func (s *FixtureSource) Fetch(_ context.Context, _ string) (map[string][]models.LineItem, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", s.path, err)
	}

	var charts map[string][]models.LineItem
	if err := json.Unmarshal(data, &charts); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", s.path, err)
	}
	return charts, nil
}

// StaticSource serves a fixed in-memory chart map. Used by tests and
// demo runs.
type StaticSource struct {
	name   string
	charts map[string][]models.LineItem
	err    error
}

// NewStaticSource creates a source returning the given charts.
func NewStaticSource(name string, charts map[string][]models.LineItem) *StaticSource {
	return &StaticSource{name: name, charts: charts}
}

// NewFailingSource creates a source whose Fetch always fails.
func NewFailingSource(name string, err error) *StaticSource {
	return &StaticSource{name: name, err: err}
}

// Name implements ChartSource.
func (s *StaticSource) Name() string { return s.name }

// Fetch implements ChartSource.
func (s *StaticSource) Fetch(_ context.Context, _ string) (map[string][]models.LineItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	// Deep-copy so callers mutating entries never touch the fixture.
	out := make(map[string][]models.LineItem, len(s.charts))
	for country, items := range s.charts {
		copied := make([]models.LineItem, len(items))
		copy(copied, items)
		out[country] = copied
	}
	return out, nil
}
