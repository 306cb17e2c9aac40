// Package repository declares the persistence contracts the service layer
// depends on. Implementations live in the sqlite and mongo subpackages.
package repository

import (
	"context"

	"github.com/sakif/account-service/internal/model"
)

// UserRepository stores user records.
//
// ERROR CONTRACT:
//   - a missing record is apperror.NotFound
//   - a username or email already used by another record is apperror.Conflict
//   - anything else is a raw driver error the caller translates
//
// Username and email are matched case-insensitively; callers normalise them
// to lower case before writing.
type UserRepository interface {
	// Create assigns ID, CreatedAt and UpdatedAt and inserts the record.
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	// FindByIdentity matches identity against the email column when it
	// contains "@" (model.IsEmailIdentity) and against username otherwise.
	FindByIdentity(ctx context.Context, identity string) (*model.User, error)
	// ExistsByUsernameOrEmail reports which of the two values is already
	// taken by a record other than excludeID. Either value may be empty to
	// skip it.
	ExistsByUsernameOrEmail(ctx context.Context, username, email, excludeID string) (usernameTaken, emailTaken bool, err error)

	UpdatePasswordHash(ctx context.Context, id, hash string) error
	// UpdateProfile applies the non-nil fields of upd and returns the
	// updated record.
	UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error)
	// UpdateImages sets the avatar and/or cover image URL. An empty value
	// leaves that column unchanged.
	UpdateImages(ctx context.Context, id, avatarURL, coverImageURL string) (*model.User, error)

	// SetRefreshToken overwrites the refresh-token slot unconditionally.
	SetRefreshToken(ctx context.Context, id, token string) error
	// SwapRefreshToken replaces the slot with next only if it currently holds
	// expected. It reports whether the swap happened.
	SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error)
	// ClearRefreshToken empties the slot. Clearing an already empty slot is
	// not an error.
	ClearRefreshToken(ctx context.Context, id string) error

	Close() error
}
