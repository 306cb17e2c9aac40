// Package auth provides password hashing, JWT minting/verification and the
// authentication middleware for the account API.
//
// TWO TOKEN KINDS:
//
//	access  → short-lived, carries {sub, email, username, fullname}; sent on every API call
//	refresh → long-lived, carries {sub} only; used solely to obtain a new pair
//
// Each kind has its own HMAC secret and TTL. The "typ" claim records the kind
// as well, so even a misconfiguration that reused one secret for both kinds
// could not make a refresh token pass as an access token.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header:    {"alg":"HS256","typ":"JWT"}
//	- Payload:   {"sub":"<user id>","typ":"access","exp":...,"jti":"<uuid>",...}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
//
// Expiry is checked lazily, at verification time. Nothing evicts tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is stamped into every token and required on verification.
const Issuer = "account-service"

// minSecretLength is the shortest HMAC secret NewTokenService accepts.
const minSecretLength = 16

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	// ErrTokenInvalid covers malformed tokens, bad signatures, a wrong issuer,
	// a wrong kind and a missing subject.
	ErrTokenInvalid = errors.New("auth: invalid token")
	// ErrTokenExpired is returned for a correctly signed token past its exp.
	ErrTokenExpired = errors.New("auth: token expired")
)

// Identity is the user data a token is minted from.
type Identity struct {
	ID       string
	Email    string
	Username string
	Fullname string
}

// Claims is the JWT payload. Refresh tokens leave the profile fields empty.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Fullname string `json:"fullname,omitempty"`
	Kind     Kind   `json:"typ"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the token.
func (c *Claims) UserID() string {
	return c.Subject
}

// parser rejects anything not signed with HS256 (algorithm confusion, "none")
// and any token without an exp claim.
var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(Issuer),
	jwt.WithExpirationRequired(),
)

// Mint signs a token of the given kind for id, valid for ttl.
//
// A random jti makes every token unique, even two minted for the same user
// within the same second. Rotation depends on that.
func Mint(kind Kind, id Identity, secret []byte, ttl time.Duration) (string, error) {
	if id.ID == "" {
		return "", fmt.Errorf("auth: minting %s token: empty subject", kind)
	}

	now := time.Now()
	c := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if kind == KindAccess {
		c.Email = id.Email
		c.Username = id.Username
		c.Fullname = id.Fullname
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify parses tokenStr, checks its signature against secret, its expiry,
// its issuer and that it is of the expected kind.
//
// The signature is checked before the claims, so an expired token signed
// with the wrong secret reports ErrTokenInvalid, not ErrTokenExpired.
func Verify(tokenStr string, kind Kind, secret []byte) (*Claims, error) {
	c := &Claims{}
	token, err := parser.ParseWithClaims(tokenStr, c, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	if c.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrTokenInvalid, kind, c.Kind)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrTokenInvalid)
	}

	return c, nil
}

// TokenConfig holds the four independent token settings.
type TokenConfig struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
}

// Validate enforces the constraints NewTokenService relies on.
func (c TokenConfig) Validate() error {
	if len(c.AccessSecret) < minSecretLength {
		return fmt.Errorf("auth: access token secret must be at least %d characters", minSecretLength)
	}
	if len(c.RefreshSecret) < minSecretLength {
		return fmt.Errorf("auth: refresh token secret must be at least %d characters", minSecretLength)
	}
	if c.AccessSecret == c.RefreshSecret {
		return errors.New("auth: access and refresh token secrets must differ")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("auth: token lifetimes must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("auth: refresh token lifetime must exceed access token lifetime")
	}
	return nil
}

// TokenPair bundles a freshly minted access and refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenService mints and verifies both token kinds with the secrets and
// lifetimes it was constructed with. It holds no other state and is safe for
// concurrent use.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenService validates cfg and builds a TokenService from it.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
	}, nil
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// MintAccess signs an access token carrying the full identity.
func (s *TokenService) MintAccess(id Identity) (string, error) {
	return Mint(KindAccess, id, s.accessSecret, s.accessTTL)
}

// MintRefresh signs a refresh token carrying only the user id.
func (s *TokenService) MintRefresh(userID string) (string, error) {
	return Mint(KindRefresh, Identity{ID: userID}, s.refreshSecret, s.refreshTTL)
}

// MintPair mints an access and a refresh token for id.
func (s *TokenService) MintPair(id Identity) (*TokenPair, error) {
	access, err := s.MintAccess(id)
	if err != nil {
		return nil, err
	}
	refresh, err := s.MintRefresh(id.ID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess verifies an access token with the access secret.
func (s *TokenService) VerifyAccess(token string) (*Claims, error) {
	return Verify(token, KindAccess, s.accessSecret)
}

// VerifyRefresh verifies a refresh token with the refresh secret.
func (s *TokenService) VerifyRefresh(token string) (*Claims, error) {
	return Verify(token, KindRefresh, s.refreshSecret)
}
