// Package service holds the business rules of the account service.
//
//	handler (HTTP) → AccountService / SessionManager → CredentialStore → UserRepository (DB)
//	                                 ↘ auth.TokenService (JWT)   ↘ auth.PasswordService (bcrypt)
//
// Nothing in this package knows about HTTP. Every error that leaves it is an
// *apperror.AppError, so the handler layer only has to map sentinels to
// status codes.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
)

// Candidate is the input to CredentialStore.Create.
type Candidate struct {
	Username      string
	Email         string
	Fullname      string
	Password      string
	AvatarURL     string
	CoverImageURL string
}

// CredentialStore owns user records and their password hashes.
//
// It is the only code that hashes or compares passwords, and the refresh
// token slot methods at the bottom are called by SessionManager alone.
type CredentialStore struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewCredentialStore wires a CredentialStore.
func NewCredentialStore(users repository.UserRepository, passwords *auth.PasswordService, logger *slog.Logger) *CredentialStore {
	return &CredentialStore{
		users:     users,
		passwords: passwords,
		logger:    logger,
	}
}

// normaliseIdentity is applied to usernames, emails and login identities.
func normaliseIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Create validates cand, hashes the password and inserts the record.
//
// The availability check up front only gives a friendly early answer. Two
// registrations racing for the same name can both pass it; the store's
// unique index then rejects the loser with apperror.Conflict.
func (c *CredentialStore) Create(ctx context.Context, cand Candidate) (*model.PublicUser, error) {
	user := &model.User{
		Username:      normaliseIdentity(cand.Username),
		Email:         normaliseIdentity(cand.Email),
		Fullname:      strings.TrimSpace(cand.Fullname),
		AvatarURL:     strings.TrimSpace(cand.AvatarURL),
		CoverImageURL: strings.TrimSpace(cand.CoverImageURL),
		WatchHistory:  []string{},
	}

	required := []struct{ field, value string }{
		{"username", user.Username},
		{"email", user.Email},
		{"fullname", user.Fullname},
		{"password", cand.Password},
		{"avatar", user.AvatarURL},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, apperror.ValidationFailed(r.field, r.field+" is required")
		}
	}
	if strings.TrimSpace(cand.Password) == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}
	if err := checkIdentityShape(user.Username, user.Email); err != nil {
		return nil, err
	}

	if err := c.CheckAvailable(ctx, user.Username, user.Email, ""); err != nil {
		return nil, err
	}

	hash, err := c.passwords.Hash(cand.Password)
	if err != nil {
		return nil, apperror.Translate("hash password", err)
	}
	user.PasswordHash = hash

	if err := c.users.Create(ctx, user); err != nil {
		return nil, apperror.Translate("create user", err)
	}

	c.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user.Public(), nil
}

// CheckAvailable fails with apperror.Conflict when username or email is held
// by a record other than excludeID. Empty arguments are not checked.
func (c *CredentialStore) CheckAvailable(ctx context.Context, username, email, excludeID string) error {
	usernameTaken, emailTaken, err := c.users.ExistsByUsernameOrEmail(ctx,
		normaliseIdentity(username), normaliseIdentity(email), excludeID)
	if err != nil {
		return apperror.Translate("check identity availability", err)
	}
	switch {
	case usernameTaken:
		return apperror.Conflict("user", "username")
	case emailTaken:
		return apperror.Conflict("user", "email")
	}
	return nil
}

// FindByIdentity looks a user up by email when identity contains "@", by
// username otherwise.
func (c *CredentialStore) FindByIdentity(ctx context.Context, identity string) (*model.User, error) {
	user, err := c.users.FindByIdentity(ctx, normaliseIdentity(identity))
	if err != nil {
		return nil, apperror.Translate("find user by identity", err)
	}
	return user, nil
}

// FindByID returns the full record for id.
func (c *CredentialStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.NotFound("user", id)
	}
	user, err := c.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, apperror.Translate("get user", err)
	}
	return user, nil
}

// VerifyPassword reports whether plaintext matches the stored hash.
func (c *CredentialStore) VerifyPassword(user *model.User, plaintext string) (bool, error) {
	return c.passwords.Verify(user.PasswordHash, plaintext)
}

// UpdatePassword rehashes and stores newPlaintext. No other field changes.
func (c *CredentialStore) UpdatePassword(ctx context.Context, user *model.User, newPlaintext string) error {
	if strings.TrimSpace(newPlaintext) == "" {
		return apperror.ValidationFailed("newPassword", "new password is required")
	}

	hash, err := c.passwords.Hash(newPlaintext)
	if err != nil {
		return apperror.Translate("hash password", err)
	}
	if err := c.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return apperror.Translate("update password", err)
	}
	user.PasswordHash = hash

	c.logger.Info("password changed", slog.String("userID", user.ID))
	return nil
}

// UpdateProfileFields applies the provided fields of upd.
//
// A provided field must not be blank. Setting a username or email to the
// value the record already has is fine; taking one held by another record
// is a Conflict.
func (c *CredentialStore) UpdateProfileFields(ctx context.Context, id string, upd model.ProfileUpdate) (*model.PublicUser, error) {
	if upd.Empty() {
		return nil, apperror.ValidationFailed("", "at least one of email, username or fullname is required")
	}

	clean := model.ProfileUpdate{}
	if upd.Email != nil {
		v := normaliseIdentity(*upd.Email)
		if v == "" {
			return nil, apperror.ValidationFailed("email", "email must not be empty")
		}
		clean.Email = &v
	}
	if upd.Username != nil {
		v := normaliseIdentity(*upd.Username)
		if v == "" {
			return nil, apperror.ValidationFailed("username", "username must not be empty")
		}
		clean.Username = &v
	}
	if upd.Fullname != nil {
		v := strings.TrimSpace(*upd.Fullname)
		if v == "" {
			return nil, apperror.ValidationFailed("fullname", "fullname must not be empty")
		}
		clean.Fullname = &v
	}
	if err := checkIdentityShape(deref(clean.Username), deref(clean.Email)); err != nil {
		return nil, err
	}

	if err := c.CheckAvailable(ctx, deref(clean.Username), deref(clean.Email), id); err != nil {
		return nil, err
	}

	user, err := c.users.UpdateProfile(ctx, id, clean)
	if err != nil {
		return nil, apperror.Translate("update profile", err)
	}

	c.logger.Info("profile updated", slog.String("userID", id))
	return user.Public(), nil
}

// UpdateImages stores new image URLs. An empty URL keeps the current one.
func (c *CredentialStore) UpdateImages(ctx context.Context, id, avatarURL, coverImageURL string) (*model.PublicUser, error) {
	user, err := c.users.UpdateImages(ctx, id, avatarURL, coverImageURL)
	if err != nil {
		return nil, apperror.Translate("update images", err)
	}
	return user.Public(), nil
}

// =========================================================================
// Refresh token slot (SessionManager only)
// =========================================================================

func (c *CredentialStore) SetRefreshToken(ctx context.Context, id, token string) error {
	return apperror.Translate("store refresh token", c.users.SetRefreshToken(ctx, id, token))
}

func (c *CredentialStore) SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error) {
	ok, err := c.users.SwapRefreshToken(ctx, id, expected, next)
	if err != nil {
		return false, apperror.Translate("rotate refresh token", err)
	}
	return ok, nil
}

func (c *CredentialStore) ClearRefreshToken(ctx context.Context, id string) error {
	return apperror.Translate("clear refresh token", c.users.ClearRefreshToken(ctx, id))
}

// checkIdentityShape keeps usernames and emails in disjoint namespaces: a
// username may not contain "@" and an email must. Empty values are skipped.
func checkIdentityShape(username, email string) error {
	if username != "" && model.IsEmailIdentity(username) {
		return apperror.ValidationFailed("username", "username must not contain @")
	}
	if email != "" && !model.IsEmailIdentity(email) {
		return apperror.ValidationFailed("email", "email must be a valid email address")
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
