// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"chartpulse/internal/config"
)

func testEnrichConfig() config.EnrichConfig {
	return config.EnrichConfig{
		Timeout:                 time.Second,
		MaxAttempts:             3,
		BreakerFailureThreshold: 3,
		BreakerOpenTimeout:      time.Minute,
	}
}

type scriptedArtistLookup struct {
	calls int
	fn    func(call int) (ArtistInfo, error)
}

func (s *scriptedArtistLookup) LookupArtist(context.Context, string) (ArtistInfo, error) {
	s.calls++
	return s.fn(s.calls)
}

type scriptedTrackLookup struct {
	calls int
	fn    func(call int) (TrackFeatures, error)
}

func (s *scriptedTrackLookup) LookupTrack(context.Context, string, string) (TrackFeatures, error) {
	s.calls++
	return s.fn(s.calls)
}

func TestResolveArtist(t *testing.T) {
	tests := []struct {
		name     string
		result   ArtistInfo
		err      error
		wantOK   bool
		wantType string
	}{
		{name: "hit", result: ArtistInfo{Name: "Ada", Type: "Person"}, wantOK: true, wantType: "Person"},
		{name: "not found", err: ErrNotFound, wantOK: false},
		{name: "transport error", err: errors.New("connection refused"), wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &scriptedArtistLookup{fn: func(int) (ArtistInfo, error) {
				return tt.result, tt.err
			}}
			g := NewGateway(lookup, nil, testEnrichConfig())

			info, ok := g.ResolveArtist(context.Background(), "Ada")
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.wantOK && info.Type != tt.wantType {
				t.Errorf("type = %q, want %q", info.Type, tt.wantType)
			}
		})
	}
}

func TestResolveTrackRateLimitRetry(t *testing.T) {
	// Two 429s then success: the gateway waits out Retry-After and
	// delivers the result on the third attempt.
	lookup := &scriptedTrackLookup{fn: func(call int) (TrackFeatures, error) {
		if call < 3 {
			return TrackFeatures{}, &RateLimitError{RetryAfter: time.Millisecond}
		}
		return TrackFeatures{Key: "7", Genre: "pop"}, nil
	}}
	g := NewGateway(nil, lookup, testEnrichConfig())

	features, ok := g.ResolveTrack(context.Background(), "Alpha", "Ada")
	if !ok {
		t.Fatal("expected lookup to succeed after retries")
	}
	if features.Key != "7" {
		t.Errorf("key = %q", features.Key)
	}
	if lookup.calls != 3 {
		t.Errorf("lookup calls = %d, want 3", lookup.calls)
	}
}

func TestResolveTrackFourRateLimitsThenSuccess(t *testing.T) {
	cfg := testEnrichConfig()
	cfg.MaxAttempts = 5

	lookup := &scriptedTrackLookup{fn: func(call int) (TrackFeatures, error) {
		if call <= 4 {
			return TrackFeatures{}, &RateLimitError{RetryAfter: time.Millisecond}
		}
		return TrackFeatures{Key: "C", Genre: "Pop", Language: "English"}, nil
	}}
	g := NewGateway(nil, lookup, cfg)

	features, ok := g.ResolveTrack(context.Background(), "Alpha", "Band X")
	if !ok {
		t.Fatal("fifth attempt result lost")
	}
	if features.Key != "C" || features.Genre != "Pop" {
		t.Errorf("features = %+v", features)
	}
	if lookup.calls != 5 {
		t.Errorf("lookup calls = %d, want 5", lookup.calls)
	}
}

func TestResolveTrackRateLimitExhausted(t *testing.T) {
	lookup := &scriptedTrackLookup{fn: func(int) (TrackFeatures, error) {
		return TrackFeatures{}, &RateLimitError{RetryAfter: time.Millisecond}
	}}
	g := NewGateway(nil, lookup, testEnrichConfig())

	_, ok := g.ResolveTrack(context.Background(), "Alpha", "Ada")
	if ok {
		t.Fatal("expected degradation after exhausting retries")
	}
	if lookup.calls != 3 {
		t.Errorf("lookup calls = %d, want max attempts 3", lookup.calls)
	}
}

func TestResolveTrackNotFoundIsFinal(t *testing.T) {
	lookup := &scriptedTrackLookup{fn: func(int) (TrackFeatures, error) {
		return TrackFeatures{}, ErrNotFound
	}}
	g := NewGateway(nil, lookup, testEnrichConfig())

	if _, ok := g.ResolveTrack(context.Background(), "Alpha", "Ada"); ok {
		t.Fatal("not-found lookup reported success")
	}
	if lookup.calls != 1 {
		t.Errorf("lookup calls = %d, want 1: not-found must not be retried", lookup.calls)
	}
}

func TestArtistBreakerOpensOnConsecutiveFailures(t *testing.T) {
	lookup := &scriptedArtistLookup{fn: func(int) (ArtistInfo, error) {
		return ArtistInfo{}, errors.New("connection refused")
	}}
	g := NewGateway(lookup, nil, testEnrichConfig())

	for i := 0; i < 5; i++ {
		g.ResolveArtist(context.Background(), "Ada")
	}
	// Threshold 3: calls 4 and 5 must be short-circuited by the open
	// breaker without reaching the provider.
	if lookup.calls != 3 {
		t.Errorf("provider calls = %d, want 3 (breaker open)", lookup.calls)
	}
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	lookup := &scriptedArtistLookup{fn: func(int) (ArtistInfo, error) {
		return ArtistInfo{}, ErrNotFound
	}}
	g := NewGateway(lookup, nil, testEnrichConfig())

	for i := 0; i < 10; i++ {
		g.ResolveArtist(context.Background(), "Ada")
	}
	if lookup.calls != 10 {
		t.Errorf("provider calls = %d, want 10: not-found must not trip the breaker", lookup.calls)
	}
}

func TestResolveTrackCanceledContext(t *testing.T) {
	lookup := &scriptedTrackLookup{fn: func(int) (TrackFeatures, error) {
		return TrackFeatures{}, &RateLimitError{RetryAfter: time.Hour}
	}}
	g := NewGateway(nil, lookup, testEnrichConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := g.ResolveTrack(ctx, "Alpha", "Ada"); ok {
			t.Error("expected degradation on canceled context")
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ResolveTrack did not honor context cancellation")
	}
}
