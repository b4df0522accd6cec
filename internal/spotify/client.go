package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.spotify.com/v1"

// Track is the subset of Spotify track metadata this service stores.
type Track struct {
	URI        string
	ID         string
	Name       string
	Artist     string
	Album      string
	DurationMS uint32
}

// Device is one playback device reported by the provider.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	VolumePercent int    `json:"volume_percent"`
}

// PlaybackState is the currently-playing snapshot.
type PlaybackState struct {
	IsPlaying  bool
	ProgressMS int
	Track      Track
	Device     Device
	ShuffleOn  bool
	RepeatMode string
}

// Client issues authenticated calls against the Spotify Web API.
// Callers pass the bearer token per call; the token lifecycle lives
// in TokenManager. Every request is bounded by the client timeout.
type Client struct {
	http    *http.Client
	apiBase string
}

// NewClient builds a Client with the given request timeout. apiBase
// is overridable for tests.
func NewClient(timeout time.Duration, apiBase string) *Client {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		apiBase: apiBase,
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, query url.Values, out any) error {
	u := c.apiBase + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	// 204 means "no content here", e.g. nothing is playing.
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return classifyStatus(resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("spotify: decode response: %w", err)
	}
	return nil
}

// --- wire types ---

type apiTrack struct {
	URI     string `json:"uri"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name string `json:"name"`
	} `json:"album"`
	DurationMS int `json:"duration_ms"`
}

func (t apiTrack) toTrack() Track {
	artist := ""
	if len(t.Artists) > 0 {
		artist = t.Artists[0].Name
	}
	dur := uint32(0)
	if t.DurationMS > 0 {
		dur = uint32(t.DurationMS)
	}
	return Track{
		URI:        t.URI,
		ID:         t.ID,
		Name:       t.Name,
		Artist:     artist,
		Album:      t.Album.Name,
		DurationMS: dur,
	}
}

// CurrentPlayback fetches the player state. When nothing is playing
// the provider answers 204 and (nil, nil) is returned.
func (c *Client) CurrentPlayback(ctx context.Context, token string) (*PlaybackState, error) {
	var raw struct {
		IsPlaying    bool     `json:"is_playing"`
		ProgressMS   int      `json:"progress_ms"`
		ShuffleState bool     `json:"shuffle_state"`
		RepeatState  string   `json:"repeat_state"`
		Device       Device   `json:"device"`
		Item         apiTrack `json:"item"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/player", token, nil, &raw); err != nil {
		return nil, err
	}
	if raw.Item.URI == "" {
		return nil, nil
	}
	return &PlaybackState{
		IsPlaying:  raw.IsPlaying,
		ProgressMS: raw.ProgressMS,
		Track:      raw.Item.toTrack(),
		Device:     raw.Device,
		ShuffleOn:  raw.ShuffleState,
		RepeatMode: raw.RepeatState,
	}, nil
}

// Devices lists the tenant's available playback devices.
func (c *Client) Devices(ctx context.Context, token string) ([]Device, error) {
	var raw struct {
		Devices []Device `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/player/devices", token, nil, &raw); err != nil {
		return nil, err
	}
	return raw.Devices, nil
}

// SearchTracks searches the catalog, returning at most limit tracks.
func (c *Client) SearchTracks(ctx context.Context, token, query string, limit int) ([]Track, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", strconv.Itoa(limit))
	var raw struct {
		Tracks struct {
			Items []apiTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := c.do(ctx, http.MethodGet, "/search", token, q, &raw); err != nil {
		return nil, err
	}
	out := make([]Track, 0, len(raw.Tracks.Items))
	for _, it := range raw.Tracks.Items {
		out = append(out, it.toTrack())
	}
	return out, nil
}

// GetTrack resolves one track by id.
func (c *Client) GetTrack(ctx context.Context, token, id string) (Track, error) {
	var raw apiTrack
	if err := c.do(ctx, http.MethodGet, "/tracks/"+url.PathEscape(id), token, nil, &raw); err != nil {
		return Track{}, err
	}
	if raw.URI == "" {
		return Track{}, ErrNotFound
	}
	return raw.toTrack(), nil
}

// ResolveTrack accepts either a spotify:track:<id> URI or a free-text
// search term and resolves it to track metadata.
func (c *Client) ResolveTrack(ctx context.Context, token, ref string) (Track, error) {
	ref = strings.TrimSpace(ref)
	if id, ok := strings.CutPrefix(ref, "spotify:track:"); ok {
		return c.GetTrack(ctx, token, id)
	}
	tracks, err := c.SearchTracks(ctx, token, ref, 1)
	if err != nil {
		return Track{}, err
	}
	if len(tracks) == 0 {
		return Track{}, ErrNotFound
	}
	return tracks[0], nil
}

// AddToQueue appends a track to the tenant's active playback queue.
func (c *Client) AddToQueue(ctx context.Context, token, trackURI string) error {
	q := url.Values{}
	q.Set("uri", trackURI)
	return c.do(ctx, http.MethodPost, "/me/player/queue", token, q, nil)
}

// Pause pauses playback on the active device.
func (c *Client) Pause(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPut, "/me/player/pause", token, nil, nil)
}

// Resume resumes playback on the active device.
func (c *Client) Resume(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPut, "/me/player/play", token, nil, nil)
}

// Next skips to the next track.
func (c *Client) Next(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/me/player/next", token, nil, nil)
}

// Previous returns to the previous track.
func (c *Client) Previous(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/me/player/previous", token, nil, nil)
}

// SetVolume sets the active device volume (0-100).
func (c *Client) SetVolume(ctx context.Context, token string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	q := url.Values{}
	q.Set("volume_percent", strconv.Itoa(percent))
	return c.do(ctx, http.MethodPut, "/me/player/volume", token, q, nil)
}
