// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package enrich implements the enrichment gateway: bounded, degrading
// lookups against the external artist and track metadata providers. All
// external I/O of the ingestion pipeline is isolated here so the
// processor stays deterministic given gateway responses.
package enrich

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"chartpulse/internal/config"
	"chartpulse/internal/logging"
	"chartpulse/internal/metrics"
)

// ErrNotFound is returned by providers when no metadata exists for the
// queried name. It is an expected outcome, not a provider failure.
var ErrNotFound = errors.New("not found")

// RateLimitError signals a "too many requests" response carrying the
// provider-specified backoff.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return "rate limited, retry after " + e.RetryAfter.String()
}

// ArtistInfo is the artist lookup capability's output.
type ArtistInfo struct {
	Name           string
	Country        string
	Gender         string
	Disambiguation string
	Aliases        string
	Tags           string
	Type           string
}

// TrackFeatures is the track feature lookup capability's output.
// Duration is formatted m:ss.
type TrackFeatures struct {
	Key        string
	Genre      string
	Language   string
	Album      string
	Duration   string
	SpotifyURL *string
}

// ArtistLookup is the artist metadata capability.
type ArtistLookup interface {
	LookupArtist(ctx context.Context, name string) (ArtistInfo, error)
}

// TrackFeatureLookup is the track metadata capability. Implementations
// may return *RateLimitError to request a delayed retry.
type TrackFeatureLookup interface {
	LookupTrack(ctx context.Context, title, artist string) (TrackFeatures, error)
}

// Gateway wraps the two capabilities with timeouts, circuit breakers,
// rate-limit retry, and graceful degradation. Resolve methods never
// return an error: enrichment failure degrades to "not resolved" and the
// caller proceeds with placeholder values.
type Gateway struct {
	artists ArtistLookup
	tracks  TrackFeatureLookup

	timeout     time.Duration
	maxAttempts int

	artistBreaker *gobreaker.CircuitBreaker[ArtistInfo]
	trackBreaker  *gobreaker.CircuitBreaker[TrackFeatures]
}

// NewGateway constructs a gateway around the given capabilities.
func NewGateway(artists ArtistLookup, tracks TrackFeatureLookup, cfg config.EnrichConfig) *Gateway {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Gateway{
		artists:       artists,
		tracks:        tracks,
		timeout:       timeout,
		maxAttempts:   maxAttempts,
		artistBreaker: newBreaker[ArtistInfo]("artist", cfg),
		trackBreaker:  newBreaker[TrackFeatures]("track", cfg),
	}
}

// newBreaker builds a circuit breaker for one provider. Not-found and
// rate-limit responses mean the provider is alive, so only transport and
// server errors count as failures.
func newBreaker[T any](provider string, cfg config.EnrichConfig) *gobreaker.CircuitBreaker[T] {
	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = time.Minute
	}

	var rateLimitErr *RateLimitError
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:    "enrich-" + provider,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.As(err, &rateLimitErr)
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(provider).Set(breakerStateValue(to))
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// ResolveArtist looks up artist metadata by display name. The second
// return value is false when the artist could not be resolved; the
// caller proceeds with placeholder values.
func (g *Gateway) ResolveArtist(ctx context.Context, name string) (ArtistInfo, bool) {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	info, err := g.artistBreaker.Execute(func() (ArtistInfo, error) {
		return g.artists.LookupArtist(callCtx, name)
	})
	switch {
	case err == nil:
		metrics.RecordEnrichment("artist", "hit", time.Since(start))
		return info, true
	case errors.Is(err, ErrNotFound):
		metrics.RecordEnrichment("artist", "miss", time.Since(start))
		return ArtistInfo{}, false
	default:
		metrics.RecordEnrichment("artist", "error", time.Since(start))
		logging.Warn().Err(err).Str("artist", name).Msg("Artist lookup failed")
		return ArtistInfo{}, false
	}
}

// ResolveTrack looks up track features by (title, artist). Rate-limit
// responses are retried after the provider-supplied delay, up to the
// configured attempt cap; exhausting the cap degrades to unresolved so
// persistence is never blocked.
func (g *Gateway) ResolveTrack(ctx context.Context, title, artist string) (TrackFeatures, bool) {
	start := time.Now()

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		features, err := g.trackBreaker.Execute(func() (TrackFeatures, error) {
			return g.tracks.LookupTrack(callCtx, title, artist)
		})
		cancel()

		var rateLimitErr *RateLimitError
		switch {
		case err == nil:
			metrics.RecordEnrichment("track", "hit", time.Since(start))
			return features, true
		case errors.Is(err, ErrNotFound):
			metrics.RecordEnrichment("track", "miss", time.Since(start))
			return TrackFeatures{}, false
		case errors.As(err, &rateLimitErr):
			metrics.EnrichmentRateLimited.Inc()
			logging.Warn().
				Dur("retry_after", rateLimitErr.RetryAfter).
				Int("attempt", attempt).
				Str("song", title).
				Msg("Track provider rate limited")
			if attempt == g.maxAttempts {
				break
			}
			if err := sleepCtx(ctx, rateLimitErr.RetryAfter); err != nil {
				metrics.RecordEnrichment("track", "error", time.Since(start))
				return TrackFeatures{}, false
			}
		default:
			metrics.RecordEnrichment("track", "error", time.Since(start))
			logging.Warn().Err(err).Str("song", title).Str("artist", artist).Msg("Track lookup failed")
			return TrackFeatures{}, false
		}
	}

	metrics.RecordEnrichment("track", "error", time.Since(start))
	logging.Error().Str("song", title).Str("artist", artist).
		Int("max_attempts", g.maxAttempts).
		Msg("Track lookup abandoned after rate-limit retries")
	return TrackFeatures{}, false
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
