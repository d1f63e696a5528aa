// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

package producer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"

	"chartpulse/internal/models"
	"chartpulse/internal/queue"
)

// capturePublisher records published messages.
type capturePublisher struct {
	topics   []string
	messages []*message.Message
	err      error
}

func (c *capturePublisher) Publish(topic string, msg *message.Message) error {
	if c.err != nil {
		return c.err
	}
	c.topics = append(c.topics, topic)
	c.messages = append(c.messages, msg)
	return nil
}

func testCharts() map[string][]models.LineItem {
	return map[string][]models.LineItem{
		"Germany": {
			{Position: 1, Title: "Alpha", Artist: "Ada"},
			{Position: 2, Title: "Beta", Artist: "Grace"},
		},
		"France": {
			{Position: 1, Title: "Gamma", Artist: "Margaret"},
		},
	}
}

func TestRunPublishesSnapshotPerSource(t *testing.T) {
	pub := &capturePublisher{}
	p := New(pub,
		NewStaticSource("top40", testCharts()),
		NewStaticSource("airplay", testCharts()),
	)

	if err := p.Run(context.Background(), "2026-03-01"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(pub.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.messages))
	}
	for _, topic := range pub.topics {
		if topic != queue.TopicSnapshots {
			t.Errorf("published to %q, want %q", topic, queue.TopicSnapshots)
		}
	}

	// The wire format is a one-element array of snapshots.
	snapshots, err := models.DecodeSnapshots(pub.messages[0].Payload)
	if err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("payload carries %d snapshots, want 1", len(snapshots))
	}
	snap := snapshots[0]
	if snap.Date != "2026-03-01" {
		t.Errorf("date = %q", snap.Date)
	}
	if len(snap.Charts) != 2 {
		t.Errorf("countries = %d, want 2", len(snap.Charts))
	}

	source := pub.messages[0].Metadata.Get("source")
	for country, items := range snap.Charts {
		for _, item := range items {
			if item.Source != source {
				t.Errorf("%s item source = %q, want %q", country, item.Source, source)
			}
			if item.SongFeatures.Resolved() {
				t.Errorf("%s item published with resolved features", country)
			}
			if item.ArtistFeatures.Type.IsResolved() {
				t.Errorf("%s item published with resolved artist type", country)
			}
		}
	}

	if pub.messages[0].UUID == pub.messages[1].UUID {
		t.Error("messages share a UUID")
	}
}

func TestRunSourceFailureIsolation(t *testing.T) {
	pub := &capturePublisher{}
	p := New(pub,
		NewFailingSource("broken", errors.New("scrape failed")),
		NewStaticSource("top40", testCharts()),
	)

	if err := p.Run(context.Background(), "2026-03-01"); err != nil {
		t.Fatalf("Run failed despite one healthy source: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.messages))
	}
	if got := pub.messages[0].Metadata.Get("source"); got != "top40" {
		t.Errorf("published source = %q", got)
	}
}

func TestRunAllSourcesFail(t *testing.T) {
	pub := &capturePublisher{}
	p := New(pub,
		NewFailingSource("a", errors.New("down")),
		NewFailingSource("b", errors.New("down")),
	)

	if err := p.Run(context.Background(), "2026-03-01"); err == nil {
		t.Fatal("expected error when every source fails")
	}
	if len(pub.messages) != 0 {
		t.Errorf("published %d messages, want 0", len(pub.messages))
	}
}

func TestRunNoSources(t *testing.T) {
	if err := New(&capturePublisher{}).Run(context.Background(), "2026-03-01"); err == nil {
		t.Fatal("expected error with no sources")
	}
}

func TestRunPublishFailure(t *testing.T) {
	pub := &capturePublisher{err: errors.New("queue unavailable")}
	p := New(pub, NewStaticSource("top40", testCharts()))

	if err := p.Run(context.Background(), "2026-03-01"); err == nil {
		t.Fatal("expected error when publishing fails")
	}
}

func TestFixtureSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "top40.json")
	fixture := `{"Germany": [{"position": 1, "song": "Alpha", "artist": "Ada"}]}`
	if err := os.WriteFile(path, []byte(fixture), 0o600); err != nil {
		t.Fatal(err)
	}

	src := NewFixtureSource("top40", path)
	if src.Name() != "top40" {
		t.Errorf("name = %q", src.Name())
	}

	charts, err := src.Fetch(context.Background(), "2026-03-01")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(charts["Germany"]) != 1 {
		t.Fatalf("germany items = %d", len(charts["Germany"]))
	}
	if charts["Germany"][0].Title != "Alpha" {
		t.Errorf("title = %q", charts["Germany"][0].Title)
	}
}

func TestFixtureSourceMissingFile(t *testing.T) {
	src := NewFixtureSource("top40", filepath.Join(t.TempDir(), "absent.json"))
	if _, err := src.Fetch(context.Background(), "2026-03-01"); err == nil {
		t.Fatal("expected error for missing fixture")
	}
}
