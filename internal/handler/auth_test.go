package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partyjam/partyjam/internal/config"
	"github.com/partyjam/partyjam/internal/model"
	"github.com/partyjam/partyjam/internal/repository"
	"github.com/partyjam/partyjam/internal/utils"
)

// ----- fakes -----

type fakeUserDir struct {
	byID       map[uint64]model.User
	statuses   map[uint64]string
	passSets   int
	createdIDs uint64
}

func newFakeUserDir(users ...model.User) *fakeUserDir {
	d := &fakeUserDir{byID: map[uint64]model.User{}, statuses: map[uint64]string{}}
	for _, u := range users {
		d.byID[u.ID] = u
	}
	return d
}

func (d *fakeUserDir) Create(_ context.Context, username, email, password string, _ int) (uint64, error) {
	d.createdIDs++
	hash, _ := utils.HashPassword(password, 4)
	d.byID[d.createdIDs] = model.User{ID: d.createdIDs, Username: username, Email: email,
		PasswordHash: hash, Role: model.RoleUser, Status: model.UserStatusPending}
	return d.createdIDs, nil
}

func (d *fakeUserDir) GetByUsername(_ context.Context, username string) (model.User, error) {
	for _, u := range d.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (d *fakeUserDir) GetByEmail(_ context.Context, email string) (model.User, error) {
	for _, u := range d.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (d *fakeUserDir) GetByID(_ context.Context, id uint64) (model.User, error) {
	u, ok := d.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (d *fakeUserDir) SetStatus(_ context.Context, id uint64, status string) error {
	u := d.byID[id]
	u.Status = status
	d.byID[id] = u
	d.statuses[id] = status
	return nil
}

func (d *fakeUserDir) SetPassword(_ context.Context, id uint64, password string, _ int) error {
	u := d.byID[id]
	u.PasswordHash, _ = utils.HashPassword(password, 4)
	d.byID[id] = u
	d.passSets++
	return nil
}

type fakeSessions struct {
	byHash     map[string]uint64
	revokedAll []uint64
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byHash: map[string]uint64{}}
}

func (s *fakeSessions) StoreRefresh(_ context.Context, userID uint64, tokenHash string, _ time.Time) error {
	s.byHash[tokenHash] = userID
	return nil
}

func (s *fakeSessions) ValidateRefresh(_ context.Context, tokenHash string) (uint64, error) {
	uid, ok := s.byHash[tokenHash]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return uid, nil
}

func (s *fakeSessions) RevokeByHash(_ context.Context, tokenHash string) error {
	delete(s.byHash, tokenHash)
	return nil
}

func (s *fakeSessions) RevokeAllForUser(_ context.Context, userID uint64) error {
	s.revokedAll = append(s.revokedAll, userID)
	for h, uid := range s.byHash {
		if uid == userID {
			delete(s.byHash, h)
		}
	}
	return nil
}

type fakeVerifications struct {
	byHash map[string]uint64
}

func newFakeVerifications() *fakeVerifications {
	return &fakeVerifications{byHash: map[string]uint64{}}
}

func (v *fakeVerifications) Store(_ context.Context, _ string, userID uint64, tokenHash string, _ time.Time) error {
	v.byHash[tokenHash] = userID
	return nil
}

func (v *fakeVerifications) Consume(_ context.Context, _ string, tokenHash string) (uint64, error) {
	uid, ok := v.byHash[tokenHash]
	if !ok {
		return 0, repository.ErrNotFound
	}
	delete(v.byHash, tokenHash)
	return uid, nil
}

type fakeLifecycle struct {
	created  []uint64
	sessions []bool
	ended    []uint64
}

func (l *fakeLifecycle) GetOrCreate(_ context.Context, tenantID uint64) (model.Event, error) {
	l.created = append(l.created, tenantID)
	return model.Event{UserID: tenantID, Status: model.EventStatusOffline}, nil
}

func (l *fakeLifecycle) MarkAdminSession(_ context.Context, _ uint64, _ string, active bool) {
	l.sessions = append(l.sessions, active)
}

func (l *fakeLifecycle) EndEvent(_ context.Context, tenantID uint64, _ string) (model.Event, error) {
	l.ended = append(l.ended, tenantID)
	return model.Event{UserID: tenantID, Status: model.EventStatusOffline}, nil
}

// ----- fixture -----

type authFixture struct {
	h     *AuthHandler
	users *fakeUserDir
	sess  *fakeSessions
	ver   *fakeVerifications
	life  *fakeLifecycle
	e     *echo.Echo
}

func newAuthFixture(t *testing.T, users ...model.User) *authFixture {
	t.Helper()
	cfg := config.Config{JWTSecret: "test-secret", AccessTTLMin: 15, RefreshTTLDays: 4, BcryptCost: 4}
	f := &authFixture{
		users: newFakeUserDir(users...),
		sess:  newFakeSessions(),
		ver:   newFakeVerifications(),
		life:  &fakeLifecycle{},
		e:     echo.New(),
	}
	f.h = NewAuthHandler(cfg, f.users, f.sess, f.ver, f.life, zerolog.Nop())
	return f
}

func (f *authFixture) request(method, body string, headers map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	return f.e.NewContext(req, rec), rec
}

func hostUser(t *testing.T, id uint64, username, status string) model.User {
	t.Helper()
	hash, err := utils.HashPassword("correct horse", 4)
	require.NoError(t, err)
	return model.User{ID: id, Username: username, Email: username + "@example.com",
		PasswordHash: hash, Role: model.RoleUser, Status: status}
}

// ----- tests -----

func TestLoginRequiresActiveAccount(t *testing.T) {
	cases := []struct {
		status   string
		wantCode int
	}{
		{model.UserStatusActive, http.StatusOK},
		{model.UserStatusPending, http.StatusForbidden},
		{model.UserStatusSuspended, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			f := newAuthFixture(t, hostUser(t, 7, "dj-ada", tc.status))
			c, rec := f.request(http.MethodPost, `{"username":"dj-ada","password":"correct horse"}`, nil)

			require.NoError(t, f.h.Login(c))
			assert.Equal(t, tc.wantCode, rec.Code)

			if tc.wantCode == http.StatusOK {
				var resp authResp
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Access.Token)
				assert.NotEmpty(t, resp.Refresh.Token)
				assert.Equal(t, []bool{true}, f.life.sessions)
			} else {
				assert.Empty(t, f.sess.byHash, "no refresh token may be stored")
				assert.Empty(t, f.life.sessions)
			}
		})
	}
}

func TestLoginPendingHintsVerification(t *testing.T) {
	f := newAuthFixture(t, hostUser(t, 7, "dj-ada", model.UserStatusPending))
	c, rec := f.request(http.MethodPost, `{"username":"dj-ada","password":"correct horse"}`, nil)

	require.NoError(t, f.h.Login(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "verify your email")
}

func TestLogoutWithRefreshTokenEndsEvent(t *testing.T) {
	f := newAuthFixture(t, hostUser(t, 7, "dj-ada", model.UserStatusActive))
	require.NoError(t, f.sess.StoreRefresh(context.Background(), 7, utils.HashSecret("raw-refresh"), time.Now().Add(time.Hour)))

	c, rec := f.request(http.MethodPost, `{"refresh_token":"raw-refresh"}`, nil)
	require.NoError(t, f.h.Logout(c))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.sess.byHash, "refresh token must be revoked")
	assert.Equal(t, []uint64{7}, f.life.ended, "logout must end the event")
}

func TestLogoutWithBearerTokenOnly(t *testing.T) {
	f := newAuthFixture(t, hostUser(t, 7, "dj-ada", model.UserStatusActive))
	require.NoError(t, f.sess.StoreRefresh(context.Background(), 7, utils.HashSecret("raw-refresh"), time.Now().Add(time.Hour)))

	access, err := utils.NewAccessToken("test-secret", 7, "dj-ada", model.RoleUser, 15)
	require.NoError(t, err)

	c, rec := f.request(http.MethodPost, `{}`, map[string]string{
		"Authorization": "Bearer " + access.Token,
	})
	require.NoError(t, f.h.Logout(c))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uint64{7}, f.sess.revokedAll, "all sessions for the caller are revoked")
	assert.Equal(t, []uint64{7}, f.life.ended)
}

func TestLogoutWithoutCredentials(t *testing.T) {
	f := newAuthFixture(t)
	c, rec := f.request(http.MethodPost, `{}`, nil)

	require.NoError(t, f.h.Logout(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.life.ended)
}

func TestLogoutRejectsForgedBearer(t *testing.T) {
	f := newAuthFixture(t, hostUser(t, 7, "dj-ada", model.UserStatusActive))

	forged, err := utils.NewAccessToken("other-secret", 7, "dj-ada", model.RoleUser, 15)
	require.NoError(t, err)

	c, rec := f.request(http.MethodPost, `{}`, map[string]string{
		"Authorization": "Bearer " + forged.Token,
	})
	require.NoError(t, f.h.Logout(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.sess.revokedAll)
	assert.Empty(t, f.life.ended)
}

func TestVerifyEmailActivatesAndProvisionsEvent(t *testing.T) {
	f := newAuthFixture(t, hostUser(t, 7, "dj-ada", model.UserStatusPending))
	require.NoError(t, f.ver.Store(context.Background(), repository.TableEmailVerification, 7,
		utils.HashSecret("verify-me"), time.Now().Add(time.Hour)))

	c, rec := f.request(http.MethodPost, `{"token":"verify-me"}`, nil)
	require.NoError(t, f.h.VerifyEmail(c))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, model.UserStatusActive, f.users.statuses[7])
	assert.Equal(t, []uint64{7}, f.life.created, "event row is provisioned on activation")

	// Token is single-use.
	c2, rec2 := f.request(http.MethodPost, `{"token":"verify-me"}`, nil)
	require.NoError(t, f.h.VerifyEmail(c2))
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestRegisterThenVerifyThenLogin(t *testing.T) {
	f := newAuthFixture(t)

	c, rec := f.request(http.MethodPost,
		`{"username":"dj-nova","email":"nova@example.com","password":"longenough"}`, nil)
	require.NoError(t, f.h.Register(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	// Pending account cannot sign in yet.
	c2, rec2 := f.request(http.MethodPost, `{"username":"dj-nova","password":"longenough"}`, nil)
	require.NoError(t, f.h.Login(c2))
	assert.Equal(t, http.StatusForbidden, rec2.Code)

	// Directly exercise the stored verification token.
	require.Len(t, f.ver.byHash, 1)
	var uid uint64
	for _, v := range f.ver.byHash {
		uid = v
	}
	require.NoError(t, f.users.SetStatus(context.Background(), uid, model.UserStatusActive))

	c3, rec3 := f.request(http.MethodPost, `{"username":"dj-nova","password":"longenough"}`, nil)
	require.NoError(t, f.h.Login(c3))
	assert.Equal(t, http.StatusOK, rec3.Code)
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newAuthFixture(t, hostUser(t, 7, "dj-ada", model.UserStatusActive))
	require.NoError(t, f.sess.StoreRefresh(context.Background(), 7, utils.HashSecret("old-refresh"), time.Now().Add(time.Hour)))

	c, rec := f.request(http.MethodPost, `{"refresh_token":"old-refresh"}`, nil)
	require.NoError(t, f.h.Refresh(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp authResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Refresh.Token)
	assert.NotEqual(t, "old-refresh", resp.Refresh.Token)

	// The old token no longer validates.
	c2, rec2 := f.request(http.MethodPost, `{"refresh_token":"old-refresh"}`, nil)
	require.NoError(t, f.h.Refresh(c2))
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}
