package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/model"
)

// SessionManager runs login, logout, refresh and password changes. It is the
// only component that writes the refresh token slot.
//
// SESSION STATES (per user):
//
//	NoSession ──login──▶ Active ──refresh──▶ Active' (new pair, old refresh token dead)
//	    ▲                  │
//	    └──────logout──────┘
//
// The slot holds one token. A new login overwrites it, which silently ends
// the session on any other device.
type SessionManager struct {
	credentials *CredentialStore
	tokens      *auth.TokenService
	logger      *slog.Logger
}

// NewSessionManager wires a SessionManager.
func NewSessionManager(credentials *CredentialStore, tokens *auth.TokenService, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		credentials: credentials,
		tokens:      tokens,
		logger:      logger,
	}
}

// LoginResult bundles the issued tokens with the user projection so the
// handler can set cookies and respond in one step.
type LoginResult struct {
	User   *model.PublicUser
	Tokens *auth.TokenPair
}

func identityOf(u *model.User) auth.Identity {
	return auth.Identity{
		ID:       u.ID,
		Email:    u.Email,
		Username: u.Username,
		Fullname: u.Fullname,
	}
}

// Login checks identity (username or email) and password and starts a new
// session.
//
// A wrong password is reported as InvalidCredentials and leaves the stored
// refresh token untouched.
func (s *SessionManager) Login(ctx context.Context, identity, password string) (*LoginResult, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, apperror.ValidationFailed("username", "username or email is required")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	user, err := s.credentials.FindByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	ok, err := s.credentials.VerifyPassword(user, password)
	if err != nil {
		return nil, apperror.Translate("verify password", err)
	}
	if !ok {
		s.logger.Warn("login rejected", slog.String("userID", user.ID))
		return nil, apperror.InvalidCredentials()
	}

	pair, err := s.tokens.MintPair(identityOf(user))
	if err != nil {
		return nil, apperror.StoreUnavailable("mint tokens", err)
	}
	if err := s.credentials.SetRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return &LoginResult{User: user.Public(), Tokens: pair}, nil
}

// Logout ends the user's session. It is idempotent.
func (s *SessionManager) Logout(ctx context.Context, userID string) error {
	if err := s.credentials.ClearRefreshToken(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("user logged out", slog.String("userID", userID))
	return nil
}

// Refresh exchanges a valid refresh token for a new pair and retires the
// presented one.
//
// The presented token must be the one currently stored. Anything else is a
// token that was rotated away or revoked by logout or a newer login, and is
// reported as ExpiredSession so the client logs in again instead of retrying.
//
// The final write is a compare-and-swap on the stored token. When several
// requests present the same token at once, all of them can pass the
// comparison above but only one swap succeeds; the others get ExpiredSession.
func (s *SessionManager) Refresh(ctx context.Context, presented string) (*auth.TokenPair, error) {
	if presented == "" {
		return nil, apperror.Unauthorized("refresh token is required")
	}

	claims, err := s.tokens.VerifyRefresh(presented)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperror.ExpiredSession("refresh token is expired")
		}
		return nil, apperror.Unauthorized("invalid refresh token")
	}

	user, err := s.credentials.FindByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid refresh token")
		}
		return nil, err
	}

	if user.RefreshToken == "" ||
		subtle.ConstantTimeCompare([]byte(presented), []byte(user.RefreshToken)) != 1 {
		s.logger.Warn("stale refresh token presented", slog.String("userID", user.ID))
		return nil, apperror.ExpiredSession("refresh token is expired or used")
	}

	pair, err := s.tokens.MintPair(identityOf(user))
	if err != nil {
		return nil, apperror.StoreUnavailable("mint tokens", err)
	}

	swapped, err := s.credentials.SwapRefreshToken(ctx, user.ID, presented, pair.RefreshToken)
	if err != nil {
		return nil, err
	}
	if !swapped {
		s.logger.Warn("refresh lost rotation race", slog.String("userID", user.ID))
		return nil, apperror.ExpiredSession("refresh token is expired or used")
	}

	s.logger.Debug("session refreshed", slog.String("userID", user.ID))
	return pair, nil
}

// Authenticate resolves an access token to the user it was issued for. It
// implements auth.Authenticator for the RequireAuth middleware.
//
// Every token problem, expiry included, is Unauthorized. A token for a user
// that no longer exists is Unauthorized too.
func (s *SessionManager) Authenticate(ctx context.Context, accessToken string) (*model.PublicUser, error) {
	if accessToken == "" {
		return nil, apperror.Unauthorized("unauthorized request")
	}

	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, apperror.Unauthorized("invalid access token")
	}

	user, err := s.credentials.FindByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid access token")
		}
		return nil, err
	}
	return user.Public(), nil
}

// ChangePassword replaces the password after checking the old one.
//
// The stored refresh token is kept: the current session, and the device
// that made the change, stay logged in.
func (s *SessionManager) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.credentials.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.credentials.VerifyPassword(user, oldPassword)
	if err != nil {
		return apperror.Translate("verify password", err)
	}
	if !ok {
		return apperror.InvalidCredentials()
	}

	return s.credentials.UpdatePassword(ctx, user, newPassword)
}

var _ auth.Authenticator = (*SessionManager)(nil)
