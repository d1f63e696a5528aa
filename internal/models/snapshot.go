// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package models defines the chart snapshot message schema shared by
// producers and the ingestion processor.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// DateFormat is the calendar date layout used on the wire and in the store.
const DateFormat = "2006-01-02"

// Unknown is the literal sentinel persisted for values enrichment could
// not resolve.
const Unknown = "Unknown"

// pendingMarker is what producers historically emitted for fields the
// processor should resolve. Kept on the wire for interoperability.
const pendingMarker = "to be fetched in processor"

// DefaultDuration is the zero-duration sentinel persisted when a song's
// duration is missing or invalid. Durations are never stored as null.
const DefaultDuration = "00:00:00"

// Snapshot is one producer's full capture of rankings for one date across
// countries. Immutable once published.
type Snapshot struct {
	Date   string                `json:"date"`
	Charts map[string][]LineItem `json:"charts"`
}

// LineItem is one ranked song entry within a snapshot.
type LineItem struct {
	Position       int            `json:"position"`
	Title          string         `json:"song"`
	Artist         string         `json:"artist"`
	Album          *string        `json:"album"`
	Duration       *string        `json:"duration"`
	SpotifyURL     *string        `json:"spotify_url"`
	Source         string         `json:"source"`
	SongFeatures   SongFeatures   `json:"songFeatures"`
	ArtistFeatures ArtistFeatures `json:"artistFeatures"`
}

// SongFeatures carries per-track metadata, possibly pending enrichment.
type SongFeatures struct {
	Key      Field `json:"key"`
	Genre    Field `json:"genre"`
	Language Field `json:"language"`
}

// Resolved reports whether every feature field carries a usable value.
func (f SongFeatures) Resolved() bool {
	return f.Key.IsResolved() && f.Genre.IsResolved() && f.Language.IsResolved()
}

// ArtistFeatures carries per-artist metadata, possibly pending enrichment.
type ArtistFeatures struct {
	Type Field `json:"type"`
}

// Field is a tagged value: either Resolved with a concrete string, or
// Pending, meaning the processor must resolve it via enrichment. It
// replaces the string-sentinel comparisons of earlier producers; the
// sentinels are recognized once, at parse time.
type Field struct {
	value    string
	resolved bool
}

// Resolved constructs a resolved field.
func Resolved(value string) Field {
	return Field{value: value, resolved: true}
}

// Pending constructs an unresolved field.
func Pending() Field {
	return Field{}
}

// IsResolved reports whether the field carries a concrete value.
func (f Field) IsResolved() bool { return f.resolved }

// Value returns the concrete value, or the empty string when pending.
func (f Field) Value() string { return f.value }

// OrUnknown returns the concrete value, or the Unknown sentinel when pending.
func (f Field) OrUnknown() string {
	if f.resolved {
		return f.value
	}
	return Unknown
}

// ValueOr returns the concrete value, or fallback when pending. An empty
// fallback still yields the Unknown sentinel so persisted values never
// regress to empty strings.
func (f Field) ValueOr(fallback string) string {
	if f.resolved {
		return f.value
	}
	if fallback == "" {
		return Unknown
	}
	return fallback
}

// UnmarshalJSON decodes a field from its wire form. Null, the empty
// string, "Unknown", "unresolved", and the legacy "to be fetched" markers
// all decode as Pending; numbers are stringified (track keys arrive as
// integers from some providers).
func (f *Field) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = Pending()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if isPendingSentinel(s) {
			*f = Pending()
		} else {
			*f = Resolved(s)
		}
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = Resolved(strconv.FormatFloat(n, 'f', -1, 64))
		return nil
	}

	return fmt.Errorf("field must be a string, number, or null, got %s", trimmed)
}

// MarshalJSON encodes the field. Pending fields emit the legacy marker so
// existing consumers keep recognizing them.
func (f Field) MarshalJSON() ([]byte, error) {
	if !f.resolved {
		return json.Marshal(pendingMarker)
	}
	return json.Marshal(f.value)
}

func isPendingSentinel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown", "unresolved":
		return true
	}
	return strings.Contains(strings.ToLower(s), "to be fetched")
}

// ErrEmptySnapshot is returned when a message decodes to no snapshots.
var ErrEmptySnapshot = errors.New("message contains no snapshots")

// DecodeSnapshots parses a queue message body. The body is a JSON array of
// snapshot objects; a single bare object is tolerated. Envelope validation
// is left to the caller, per snapshot, so one invalid snapshot never
// discards its siblings in the same message.
func DecodeSnapshots(payload []byte) ([]Snapshot, error) {
	var snapshots []Snapshot
	if err := json.Unmarshal(payload, &snapshots); err != nil {
		var single Snapshot
		if err2 := json.Unmarshal(payload, &single); err2 != nil {
			return nil, fmt.Errorf("decode snapshot message: %w", err)
		}
		snapshots = []Snapshot{single}
	}
	if len(snapshots) == 0 {
		return nil, ErrEmptySnapshot
	}
	return snapshots, nil
}

// Validate checks the snapshot envelope. Individual line items are
// validated separately so one bad item never rejects a whole snapshot.
func (s *Snapshot) Validate() error {
	if s.Date == "" {
		return errors.New("date: required")
	}
	if _, err := time.Parse(DateFormat, s.Date); err != nil {
		return fmt.Errorf("date: invalid format %q (want YYYY-MM-DD)", s.Date)
	}
	if len(s.Charts) == 0 {
		return errors.New("charts: required")
	}
	return nil
}

// Validate checks a single line item.
func (li *LineItem) Validate() error {
	if li.Position < 1 {
		return fmt.Errorf("position: must be positive, got %d", li.Position)
	}
	if li.Title == "" {
		return errors.New("song: required")
	}
	if li.Artist == "" {
		return errors.New("artist: required")
	}
	return nil
}

// NormalizedDuration returns the item's duration, defaulting missing,
// empty, or sentinel values to DefaultDuration.
func (li *LineItem) NormalizedDuration() string {
	if li.Duration == nil {
		return DefaultDuration
	}
	d := strings.TrimSpace(*li.Duration)
	if d == "" || strings.EqualFold(d, Unknown) {
		return DefaultDuration
	}
	return d
}
