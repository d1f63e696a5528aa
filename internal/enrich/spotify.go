// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// DefaultSpotifyTokenURL is the client-credentials token endpoint.
const DefaultSpotifyTokenURL = "https://accounts.spotify.com/api/token"

// SpotifyClient implements TrackFeatureLookup against the Spotify Web
// API: track search, audio features for the key, and artist details for
// genres. HTTP 429 responses surface as *RateLimitError carrying the
// Retry-After hint; the gateway owns the retry policy.
type SpotifyClient struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewSpotifyClient creates a track feature lookup client.
func NewSpotifyClient(baseURL, clientID, clientSecret string, timeout time.Duration) *SpotifyClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &SpotifyClient{
		baseURL:      baseURL,
		tokenURL:     DefaultSpotifyTokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// SetTokenURL overrides the token endpoint. Used by tests.
func (c *SpotifyClient) SetTokenURL(tokenURL string) {
	c.tokenURL = tokenURL
}

type spotifySearchResponse struct {
	Tracks struct {
		Items []spotifyTrack `json:"items"`
	} `json:"tracks"`
}

type spotifyTrack struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DurationMS int    `json:"duration_ms"`
	Album      struct {
		Name string `json:"name"`
	} `json:"album"`
	Artists []struct {
		ID string `json:"id"`
	} `json:"artists"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

type spotifyAudioFeatures struct {
	Key int `json:"key"`
}

type spotifyArtist struct {
	Genres []string `json:"genres"`
}

// LookupTrack implements TrackFeatureLookup.
func (c *SpotifyClient) LookupTrack(ctx context.Context, title, artist string) (TrackFeatures, error) {
	query := url.Values{}
	query.Set("q", fmt.Sprintf("track:%s artist:%s", title, artist))
	query.Set("type", "track")
	query.Set("limit", "1")

	var search spotifySearchResponse
	if err := c.getJSON(ctx, c.baseURL+"/search?"+query.Encode(), &search); err != nil {
		return TrackFeatures{}, err
	}
	if len(search.Tracks.Items) == 0 {
		return TrackFeatures{}, ErrNotFound
	}
	track := search.Tracks.Items[0]

	features := TrackFeatures{
		Key:      "Unknown",
		Genre:    "Unknown",
		Language: "Unknown", // the provider carries no language signal
		Album:    track.Album.Name,
		Duration: formatDuration(track.DurationMS),
	}
	if features.Album == "" {
		features.Album = "Unknown"
	}
	if track.ExternalURLs.Spotify != "" {
		spotifyURL := track.ExternalURLs.Spotify
		features.SpotifyURL = &spotifyURL
	}

	var audio spotifyAudioFeatures
	if err := c.getJSON(ctx, c.baseURL+"/audio-features/"+track.ID, &audio); err != nil {
		return TrackFeatures{}, err
	}
	features.Key = strconv.Itoa(audio.Key)

	if len(track.Artists) > 0 {
		var artistDetails spotifyArtist
		if err := c.getJSON(ctx, c.baseURL+"/artists/"+track.Artists[0].ID, &artistDetails); err != nil {
			return TrackFeatures{}, err
		}
		if len(artistDetails.Genres) > 0 {
			features.Genre = strings.Join(artistDetails.Genres, ", ")
		}
	}

	return features, nil
}

// getJSON performs an authenticated GET, decoding the response into out.
func (c *SpotifyClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build track request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("track request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("track provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode track response: %w", err)
	}
	return nil
}

// token returns a valid access token, refreshing via the client
// credentials flow when the cached one is missing or near expiry.
func (c *SpotifyClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-30*time.Second)) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.accessToken = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// parseRetryAfter reads a Retry-After header value in seconds, falling
// back to one second when absent or unparseable.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}

// formatDuration renders a millisecond track length as m:ss.
func formatDuration(ms int) string {
	if ms <= 0 {
		return "Unknown"
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
