// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// User represents a registered account as it is persisted by the store.
//
// SECRETS NEVER LEAVE THE SERVICE LAYER:
// PasswordHash and RefreshToken are tagged `json:"-"` so an accidental
// json.Marshal of a User cannot leak them, but handlers never see a *User in
// the first place: every read path returns the PublicUser projection.
//
// RefreshToken is a single slot. An empty value means "no active session";
// a non-empty value is the most recently issued refresh token for this user.
type User struct {
	ID            string    `json:"id"            db:"id"              bson:"_id"`
	Username      string    `json:"username"      db:"username"        bson:"username"`
	Email         string    `json:"email"         db:"email"           bson:"email"`
	Fullname      string    `json:"fullname"      db:"fullname"        bson:"fullname"`
	AvatarURL     string    `json:"avatarUrl"     db:"avatar_url"      bson:"avatar"`
	CoverImageURL string    `json:"coverImageUrl" db:"cover_image_url" bson:"coverImage,omitempty"`
	WatchHistory  []string  `json:"watchHistory"  db:"-"               bson:"watchHistory"`
	PasswordHash  string    `json:"-"             db:"password_hash"   bson:"password"`
	RefreshToken  string    `json:"-"             db:"refresh_token"   bson:"refreshToken,omitempty"`
	CreatedAt     time.Time `json:"createdAt"     db:"created_at"      bson:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"     db:"updated_at"      bson:"updatedAt"`
}

// PublicUser is the read-side view of a User: everything except the password
// hash and the refresh token.
type PublicUser struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Fullname      string    `json:"fullname"`
	AvatarURL     string    `json:"avatarUrl"`
	CoverImageURL string    `json:"coverImageUrl,omitempty"`
	WatchHistory  []string  `json:"watchHistory"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Public returns the projection of u that is safe to hand to callers.
// The watch history slice is copied so the projection does not alias the record.
func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	history := make([]string, len(u.WatchHistory))
	copy(history, u.WatchHistory)

	return &PublicUser{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		Fullname:      u.Fullname,
		AvatarURL:     u.AvatarURL,
		CoverImageURL: u.CoverImageURL,
		WatchHistory:  history,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// ProfileUpdate carries the optional fields of an account details update.
// A nil pointer means "leave unchanged".
type ProfileUpdate struct {
	Email    *string
	Username *string
	Fullname *string
}

// Empty reports whether no field was provided.
func (p ProfileUpdate) Empty() bool {
	return p.Email == nil && p.Username == nil && p.Fullname == nil
}

// IsEmailIdentity reports whether a login identity is an email address.
// Usernames may not contain "@" and emails must, so a login value can only
// ever name one column.
func IsEmailIdentity(identity string) bool {
	return strings.Contains(identity, "@")
}
