package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/account-service/internal/model"
)

// fakeAuthenticator accepts exactly one token.
type fakeAuthenticator struct {
	token string
	user  *model.PublicUser
	got   string
}

var errBadToken = errors.New("bad token")

func (f *fakeAuthenticator) Authenticate(_ context.Context, token string) (*model.PublicUser, error) {
	f.got = token
	if token == "" || token != f.token {
		return nil, errBadToken
	}
	return f.user, nil
}

func newProtected(authn Authenticator) (http.Handler, *error) {
	var seen error
	onError := func(w http.ResponseWriter, err error) {
		seen = err
		w.WriteHeader(http.StatusUnauthorized)
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(user.Username))
	})
	return RequireAuth(authn, onError)(next), &seen
}

func TestRequireAuth_Cookie(t *testing.T) {
	authn := &fakeAuthenticator{token: "good", user: &model.PublicUser{ID: "u1", Username: "alice"}}
	h, _ := newProtected(authn)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "good"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestRequireAuth_BearerHeader(t *testing.T) {
	authn := &fakeAuthenticator{token: "good", user: &model.PublicUser{ID: "u1", Username: "alice"}}
	h, _ := newProtected(authn)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth_CookieWinsOverHeader(t *testing.T) {
	authn := &fakeAuthenticator{token: "cookie-token", user: &model.PublicUser{ID: "u1"}}
	h, _ := newProtected(authn)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "cookie-token"})
	req.Header.Set("Authorization", "Bearer header-token")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "cookie-token", authn.got)
}

func TestRequireAuth_RejectsAndStopsChain(t *testing.T) {
	authn := &fakeAuthenticator{token: "good"}
	h, seen := newProtected(authn)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Body.String())
	require.ErrorIs(t, *seen, errBadToken)
}

func TestRequireAuth_NoTokenPassesEmptyString(t *testing.T) {
	authn := &fakeAuthenticator{token: "good"}
	h, _ := newProtected(authn)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "", authn.got)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"  Bearer   abc  ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, bearerToken(tt.header))
		})
	}
}

func TestUserFromContext_Anonymous(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)
}

func TestRefreshTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.Equal(t, "", RefreshTokenFromRequest(req))

	req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: "r1"})
	assert.Equal(t, "r1", RefreshTokenFromRequest(req))
}
