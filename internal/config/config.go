// Package config loads runtime configuration from environment
// variables.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds the core application settings. Each field maps to one
// environment variable; required values are enforced by must() and a
// missing one halts startup.
type Config struct {
	Env            string        // application environment (dev/test/prod)
	Port           string        // HTTP port to listen on
	DBUser         string        // database username
	DBPass         string        // database password (optional)
	DBHost         string        // database host address
	DBPort         string        // database port number
	DBName         string        // database name
	DBMaxOpen      int           // connection pool: max open connections
	DBMaxIdle      int           // connection pool: max idle connections
	DBConnLifetime time.Duration // connection pool: max connection age
	JWTSecret      string        // secret used to sign JWTs
	AccessTTLMin   int           // access token time-to-live in minutes
	RefreshTTLDays int           // refresh token time-to-live in days
	BcryptCost     int           // bcrypt cost for password hashing
	IPHashSalt     string        // salt for hashing guest submitter IPs
	AMQPURL        string        // relay broker URL (empty disables the relay)
	PublicBaseURL  string        // externally visible base URL, used in links
}

// SpotifyConfig holds the playback-provider integration settings.
// The OAuth flow uses PKCE, so only the client id is required.
type SpotifyConfig struct {
	ClientID     string        // Spotify application client id
	RedirectURL  string        // OAuth callback registered with Spotify
	APIBase      string        // Web API base override (tests)
	AuthBase     string        // accounts service base override (tests)
	CallTimeout  time.Duration // per-request HTTP timeout
	TokenMargin  time.Duration // refresh this long before expiry
	BackoffBase  time.Duration // first retry delay after a provider failure
	BackoffMax   time.Duration // ceiling for the failure backoff
	PollInterval time.Duration // playback reconciler tick interval
	Retention    time.Duration // played-request retention window
}

// Load reads the core configuration.
func Load() Config {
	return Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"),
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		DBMaxOpen:      envInt("DB_MAX_OPEN_CONNS", 20),
		DBMaxIdle:      envInt("DB_MAX_IDLE_CONNS", 10),
		DBConnLifetime: envDur("DB_CONN_MAX_LIFETIME", 15*time.Minute),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),
		IPHashSalt:     must("IP_HASH_SALT"),
		AMQPURL:        os.Getenv("AMQP_URL"),
		PublicBaseURL:  envStr("PUBLIC_BASE_URL", "http://localhost:8080"),
	}
}

// LoadSpotifyConfig reads the provider integration settings. Defaults
// suit production; the base-URL overrides exist for tests.
func LoadSpotifyConfig() SpotifyConfig {
	return SpotifyConfig{
		ClientID:     must("SPOTIFY_CLIENT_ID"),
		RedirectURL:  must("SPOTIFY_REDIRECT_URL"),
		APIBase:      os.Getenv("SPOTIFY_API_BASE"),
		AuthBase:     os.Getenv("SPOTIFY_AUTH_BASE"),
		CallTimeout:  envDur("SPOTIFY_CALL_TIMEOUT", 10*time.Second),
		TokenMargin:  envDur("SPOTIFY_TOKEN_MARGIN", time.Minute),
		BackoffBase:  envDur("SPOTIFY_BACKOFF_BASE", 5*time.Second),
		BackoffMax:   envDur("SPOTIFY_BACKOFF_MAX", 5*time.Minute),
		PollInterval: envDur("PLAYBACK_POLL_INTERVAL", 15*time.Second),
		Retention:    envDur("PLAYED_RETENTION", time.Hour),
	}
}

// must retrieves a required environment variable or exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the value to an integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
