package spotify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(2*time.Second, srv.URL), srv
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrPremiumRequired},
		{http.StatusNotFound, ErrNoActiveDevice},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrUnavailable},
		{http.StatusBadGateway, ErrUnavailable},
	}
	for _, tc := range cases {
		c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
		}))
		err := c.Pause(context.Background(), "tok")
		srv.Close()
		assert.ErrorIs(t, err, tc.want, "status %d", tc.code)
	}
}

func TestCurrentPlaybackNothingPlaying(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	state, err := c.CurrentPlayback(context.Background(), "tok")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestCurrentPlayback(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/player", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"is_playing": true,
			"progress_ms": 43000,
			"shuffle_state": true,
			"repeat_state": "off",
			"device": {"id": "d1", "name": "Kitchen", "is_active": true, "volume_percent": 60},
			"item": {
				"uri": "spotify:track:abc123",
				"id": "abc123",
				"name": "Levitating",
				"artists": [{"name": "Dua Lipa"}, {"name": "DaBaby"}],
				"album": {"name": "Future Nostalgia"},
				"duration_ms": 203000
			}
		}`))
	}))
	defer srv.Close()

	state, err := c.CurrentPlayback(context.Background(), "tok")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.IsPlaying)
	assert.Equal(t, 43000, state.ProgressMS)
	assert.Equal(t, "spotify:track:abc123", state.Track.URI)
	assert.Equal(t, "Dua Lipa", state.Track.Artist)
	assert.Equal(t, "Future Nostalgia", state.Track.Album)
	assert.Equal(t, uint32(203000), state.Track.DurationMS)
	assert.Equal(t, "Kitchen", state.Device.Name)
}

func TestResolveTrackByURI(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tracks/abc123", r.URL.Path)
		w.Write([]byte(`{"uri":"spotify:track:abc123","id":"abc123","name":"Levitating","artists":[{"name":"Dua Lipa"}],"album":{"name":"Future Nostalgia"},"duration_ms":203000}`))
	}))
	defer srv.Close()

	track, err := c.ResolveTrack(context.Background(), "tok", "spotify:track:abc123")
	require.NoError(t, err)
	assert.Equal(t, "Levitating", track.Name)
}

func TestResolveTrackBySearch(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "levitating", r.URL.Query().Get("q"))
		assert.Equal(t, "track", r.URL.Query().Get("type"))
		w.Write([]byte(`{"tracks":{"items":[{"uri":"spotify:track:abc123","name":"Levitating","artists":[{"name":"Dua Lipa"}],"album":{"name":"Future Nostalgia"}}]}}`))
	}))
	defer srv.Close()

	track, err := c.ResolveTrack(context.Background(), "tok", "  levitating ")
	require.NoError(t, err)
	assert.Equal(t, "spotify:track:abc123", track.URI)
}

func TestResolveTrackNoResults(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tracks":{"items":[]}}`))
	}))
	defer srv.Close()

	_, err := c.ResolveTrack(context.Background(), "tok", "gibberish")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddToQueue(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/me/player/queue", r.URL.Path)
		assert.Equal(t, "spotify:track:abc123", r.URL.Query().Get("uri"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := c.AddToQueue(context.Background(), "tok", "spotify:track:abc123")
	assert.NoError(t, err)
}

func TestSetVolumeClamps(t *testing.T) {
	var got []string
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.URL.Query().Get("volume_percent"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, c.SetVolume(context.Background(), "tok", -5))
	require.NoError(t, c.SetVolume(context.Background(), "tok", 150))
	require.NoError(t, c.SetVolume(context.Background(), "tok", 60))
	assert.Equal(t, []string{"0", "100", "60"}, got)
}

func TestDevices(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"devices":[{"id":"d1","name":"Kitchen","type":"Speaker","is_active":true,"volume_percent":60}]}`))
	}))
	defer srv.Close()

	devices, err := c.Devices(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "Kitchen", devices[0].Name)
	assert.True(t, devices[0].IsActive)
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := NewClient(time.Second, srv.URL)
	srv.Close() // connection refused from here on

	err := c.Pause(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUnavailable)
}
