package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"offbeat/internal/domain"
	"offbeat/internal/ports"
)

// DefaultBaseURL is the Spotify Web API root.
const DefaultBaseURL = "https://api.spotify.com"

// ErrUnauthorized is returned when Spotify rejects the access token.
var ErrUnauthorized = errors.New("spotify token rejected")

// Client fetches a user's top tracks from the Spotify Web API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

type topTracksResponse struct {
	Items []struct {
		ID    string `json:"id"`
		Album struct {
			Name   string `json:"name"`
			Images []struct {
				URL string `json:"url"`
			} `json:"images"`
		} `json:"album"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
	} `json:"items"`
}

// GetTopTracks calls GET /v1/me/top/tracks. Tracks are named after their
// album and pictured with the album's first image.
func (c *Client) GetTopTracks(ctx context.Context, token string, limit int) ([]domain.Track, error) {
	u, err := url.Parse(c.baseURL + "/v1/me/top/tracks")
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		u.RawQuery = url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("top tracks: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("top tracks: unexpected status %d", resp.StatusCode)
	}

	var body topTracksResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode top tracks: %w", err)
	}
	tracks := make([]domain.Track, 0, len(body.Items))
	for _, item := range body.Items {
		t := domain.Track{ID: item.ID, Name: item.Album.Name, Artist: []string{}}
		if len(item.Album.Images) > 0 {
			t.Image = item.Album.Images[0].URL
		}
		for _, a := range item.Artists {
			t.Artist = append(t.Artist, a.Name)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

var _ ports.TrackPort = (*Client)(nil)
