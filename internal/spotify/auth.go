package spotify

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultAuthBase = "https://accounts.spotify.com"
	stateTTL        = 10 * time.Minute
	requestedScopes = "user-read-playback-state user-modify-playback-state"
	authorizePath   = "/authorize"
	tokenPath       = "/api/token"
)

// TokenSet is the result of a code exchange or refresh grant.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}

type pendingAuth struct {
	tenantID  uint64
	verifier  string
	expiresAt time.Time
}

// Authenticator drives the PKCE authorization-code flow. The state →
// verifier mapping for in-flight connect attempts is held in process
// memory with a short TTL; the round trip from redirect to callback
// lands on the same instance.
type Authenticator struct {
	http        *http.Client
	authBase    string
	clientID    string
	redirectURI string

	mu      sync.Mutex
	pending map[string]pendingAuth
	now     func() time.Time
}

// NewAuthenticator builds an Authenticator. authBase is overridable
// for tests.
func NewAuthenticator(clientID, redirectURI string, timeout time.Duration, authBase string) *Authenticator {
	if authBase == "" {
		authBase = defaultAuthBase
	}
	return &Authenticator{
		http:        &http.Client{Timeout: timeout},
		authBase:    authBase,
		clientID:    clientID,
		redirectURI: redirectURI,
		pending:     make(map[string]pendingAuth),
		now:         time.Now,
	}
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// challenge derives the S256 code challenge from a verifier per
// RFC 7636.
func challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// BeginAuth creates a state + verifier pair for the tenant and
// returns the provider authorize URL to redirect the admin to.
func (a *Authenticator) BeginAuth(tenantID uint64) (authorizeURL string, err error) {
	state, err := randomURLSafe(24)
	if err != nil {
		return "", err
	}
	verifier, err := randomURLSafe(48)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	now := a.now()
	// Opportunistic sweep of expired entries.
	for s, p := range a.pending {
		if now.After(p.expiresAt) {
			delete(a.pending, s)
		}
	}
	a.pending[state] = pendingAuth{
		tenantID:  tenantID,
		verifier:  verifier,
		expiresAt: now.Add(stateTTL),
	}
	a.mu.Unlock()

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", a.clientID)
	q.Set("redirect_uri", a.redirectURI)
	q.Set("scope", requestedScopes)
	q.Set("state", state)
	q.Set("code_challenge_method", "S256")
	q.Set("code_challenge", challenge(verifier))
	return a.authBase + authorizePath + "?" + q.Encode(), nil
}

// Exchange trades the callback code for a token set, consuming the
// state. The verifier proves this process initiated the flow.
func (a *Authenticator) Exchange(ctx context.Context, state, code string) (tenantID uint64, ts TokenSet, err error) {
	a.mu.Lock()
	p, ok := a.pending[state]
	delete(a.pending, state)
	a.mu.Unlock()
	if !ok || a.now().After(p.expiresAt) {
		return 0, TokenSet{}, ErrUnauthorized
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", a.redirectURI)
	form.Set("client_id", a.clientID)
	form.Set("code_verifier", p.verifier)

	ts, err = a.tokenRequest(ctx, form)
	if err != nil {
		return 0, TokenSet{}, err
	}
	return p.tenantID, ts, nil
}

// Refresh exchanges a refresh token for a new token set. Spotify may
// rotate the refresh token; when it does not, the previous one is
// carried forward.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", a.clientID)

	ts, err := a.tokenRequest(ctx, form)
	if err != nil {
		return TokenSet{}, err
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

func (a *Authenticator) tokenRequest(ctx context.Context, form url.Values) (TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.authBase+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenSet{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		// invalid_grant and friends mean the authorization is gone.
		return TokenSet{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return TokenSet{}, classifyStatus(resp.StatusCode, string(body))
	}

	var raw struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return TokenSet{}, fmt.Errorf("spotify: decode token response: %w", err)
	}
	if raw.AccessToken == "" {
		return TokenSet{}, ErrUnauthorized
	}
	return TokenSet{
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		Scope:        raw.Scope,
		ExpiresAt:    a.now().UTC().Add(time.Duration(raw.ExpiresIn) * time.Second),
	}, nil
}
