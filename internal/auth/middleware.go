package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/account-service/internal/model"
)

// Cookie names the session tokens travel under.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. A package-private type means
// only this package can create the key, so nothing else can read or shadow
// the authenticated user.
type contextKey string

const userKey contextKey = "user"

// Authenticator resolves an access token into the user it belongs to.
// The account service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*model.PublicUser, error)
}

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the access token from the accessToken cookie, falling back to an
// "Authorization: Bearer <token>" header for non-browser clients, resolves
// it through authn and stores the user in the request context. On failure it
// hands the error to onError and stops the chain.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(authn Authenticator, onError func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authn.Authenticate(r.Context(), AccessTokenFromRequest(r))
			if err != nil {
				onError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *model.PublicUser) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext retrieves the authenticated user from the request context.
//
// Returns (nil, false) when the request did not pass through RequireAuth.
//
//	user, ok := auth.UserFromContext(r.Context())
//	if !ok {
//	    // anonymous
//	}
func UserFromContext(ctx context.Context) (*model.PublicUser, bool) {
	user, ok := ctx.Value(userKey).(*model.PublicUser)
	return user, ok && user != nil
}

// AccessTokenFromRequest returns the access token carried by r, or "".
// The cookie wins over the header when both are present.
func AccessTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return bearerToken(r.Header.Get("Authorization"))
}

// RefreshTokenFromRequest returns the refresh token from the refreshToken
// cookie, or "".
func RefreshTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		return c.Value
	}
	return ""
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
