// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// MusicBrainzClient implements ArtistLookup against the MusicBrainz
// artist search API. A client-side rate limiter keeps request volume
// within the public API's one-request-per-second etiquette.
type MusicBrainzClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewMusicBrainzClient creates an artist lookup client.
//
// Parameters:
//   - baseURL: API root, e.g. https://musicbrainz.org/ws/2
//   - timeout: per-request ceiling
//   - ratePerSec: client-side request rate cap (0 disables throttling)
func NewMusicBrainzClient(baseURL string, timeout time.Duration, ratePerSec float64) *MusicBrainzClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}

	return &MusicBrainzClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// mbArtistSearchResponse mirrors the fields of the artist search payload
// this client consumes.
type mbArtistSearchResponse struct {
	Artists []struct {
		Name           string `json:"name"`
		Country        string `json:"country"`
		Gender         string `json:"gender"`
		Disambiguation string `json:"disambiguation"`
		Type           string `json:"type"`
		Aliases        []struct {
			Name string `json:"name"`
		} `json:"aliases"`
		Tags []struct {
			Name string `json:"name"`
		} `json:"tags"`
	} `json:"artists"`
}

// LookupArtist implements ArtistLookup. The top search result wins; an
// empty result set is ErrNotFound.
func (c *MusicBrainzClient) LookupArtist(ctx context.Context, name string) (ArtistInfo, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return ArtistInfo{}, fmt.Errorf("artist lookup throttled: %w", err)
		}
	}

	endpoint := fmt.Sprintf("%s/artist/?query=artist:%s&fmt=json", c.baseURL, url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ArtistInfo{}, fmt.Errorf("build artist request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ArtistInfo{}, fmt.Errorf("artist request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return ArtistInfo{}, fmt.Errorf("artist lookup returned status %d", resp.StatusCode)
	}

	var payload mbArtistSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ArtistInfo{}, fmt.Errorf("decode artist response: %w", err)
	}
	if len(payload.Artists) == 0 {
		return ArtistInfo{}, ErrNotFound
	}

	top := payload.Artists[0]
	aliases := make([]string, 0, len(top.Aliases))
	for _, a := range top.Aliases {
		aliases = append(aliases, a.Name)
	}
	tags := make([]string, 0, len(top.Tags))
	for _, t := range top.Tags {
		tags = append(tags, t.Name)
	}

	return ArtistInfo{
		Name:           top.Name,
		Country:        top.Country,
		Gender:         top.Gender,
		Disambiguation: top.Disambiguation,
		Aliases:        strings.Join(aliases, ", "),
		Tags:           strings.Join(tags, ", "),
		Type:           top.Type,
	}, nil
}
