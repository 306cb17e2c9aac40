package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, fullname, avatar_url, cover_image_url,
	watch_history, password_hash, refresh_token, created_at, updated_at`

// Create inserts a new user. ID and timestamps are assigned here and written
// back into user.
//
// The UNIQUE constraints on username and email are what make registration
// safe under concurrency: of two inserts racing for the same name, SQLite
// accepts exactly one and the other surfaces as apperror.Conflict.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	history, err := encodeHistory(user.WatchHistory)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	id := xid.New().String()

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, fullname, avatar_url, cover_image_url,
		                    watch_history, password_hash, refresh_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		user.Username,
		user.Email,
		user.Fullname,
		user.AvatarURL,
		user.CoverImageURL,
		history,
		user.PasswordHash,
		nullable(user.RefreshToken),
		now,
		now,
	)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// FindByIdentity looks a user up by email when identity contains "@", by
// username otherwise. Both columns are COLLATE NOCASE, so the comparison
// ignores case.
func (db *DB) FindByIdentity(ctx context.Context, identity string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	if model.IsEmailIdentity(identity) {
		query = `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	}
	row := db.conn.QueryRowContext(ctx, query, identity)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", identity)
		}
		return nil, fmt.Errorf("sqlite: finding user %q: %w", identity, err)
	}
	return u, nil
}

// ExistsByUsernameOrEmail reports whether username or email is held by a
// record other than excludeID.
func (db *DB) ExistsByUsernameOrEmail(ctx context.Context, username, email, excludeID string) (bool, bool, error) {
	var usernameTaken, emailTaken bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT
		     EXISTS(SELECT 1 FROM users WHERE ? <> '' AND username = ? AND id <> ?),
		     EXISTS(SELECT 1 FROM users WHERE ? <> '' AND email = ? AND id <> ?)`,
		username, username, excludeID,
		email, email, excludeID,
	).Scan(&usernameTaken, &emailTaken)
	if err != nil {
		return false, false, fmt.Errorf("sqlite: checking identity availability: %w", err)
	}
	return usernameTaken, emailTaken, nil
}

// UpdatePasswordHash replaces the stored hash. Nothing else changes.
func (db *DB) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for user %s: %w", id, err)
	}
	return requireRow(res, id)
}

// UpdateProfile applies the provided fields of upd.
//
// COALESCE keeps the current value for every NULL parameter, so a nil
// pointer in upd leaves that column alone.
func (db *DB) UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET
		     email      = COALESCE(?, email),
		     username   = COALESCE(?, username),
		     fullname   = COALESCE(?, fullname),
		     updated_at = ?
		 WHERE id = ?`,
		optional(upd.Email),
		optional(upd.Username),
		optional(upd.Fullname),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("sqlite: updating profile of user %s: %w", id, err)
	}
	if err := requireRow(res, id); err != nil {
		return nil, err
	}
	return db.GetUserByID(ctx, id)
}

// UpdateImages sets the avatar and/or cover URL; an empty argument keeps the
// stored value.
func (db *DB) UpdateImages(ctx context.Context, id, avatarURL, coverImageURL string) (*model.User, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET
		     avatar_url      = COALESCE(NULLIF(?, ''), avatar_url),
		     cover_image_url = COALESCE(NULLIF(?, ''), cover_image_url),
		     updated_at      = ?
		 WHERE id = ?`,
		avatarURL, coverImageURL, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating images of user %s: %w", id, err)
	}
	if err := requireRow(res, id); err != nil {
		return nil, err
	}
	return db.GetUserByID(ctx, id)
}

// SetRefreshToken overwrites the refresh-token slot.
func (db *DB) SetRefreshToken(ctx context.Context, id, token string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET refresh_token = ?, updated_at = ? WHERE id = ?`,
		nullable(token), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: setting refresh token for user %s: %w", id, err)
	}
	return requireRow(res, id)
}

// SwapRefreshToken is a compare-and-swap on the refresh-token slot.
//
// The WHERE clause carries the expected value, so the check and the write
// are one statement. Two refreshes presenting the same token both match
// before either writes; SQLite serialises the UPDATEs and the second one
// finds the slot already changed and affects zero rows.
func (db *DB) SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error) {
	if expected == "" {
		return false, nil
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET refresh_token = ?, updated_at = ?
		 WHERE id = ? AND refresh_token = ?`,
		nullable(next), time.Now().UTC(), id, expected)
	if err != nil {
		return false, fmt.Errorf("sqlite: rotating refresh token for user %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rotating refresh token for user %s: %w", id, err)
	}
	return n == 1, nil
}

// ClearRefreshToken empties the slot. A missing user is not an error here:
// logging out twice, or after the record is gone, is a no-op.
func (db *DB) ClearRefreshToken(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE users SET refresh_token = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: clearing refresh token for user %s: %w", id, err)
	}
	return nil
}

// =========================================================================
// helpers
// =========================================================================

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u       model.User
		history string
		refresh sql.NullString
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.Fullname,
		&u.AvatarURL,
		&u.CoverImageURL,
		&history,
		&u.PasswordHash,
		&refresh,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.RefreshToken = refresh.String

	if err := json.Unmarshal([]byte(history), &u.WatchHistory); err != nil {
		return nil, apperror.Integrity("stored watch history is unreadable",
			fmt.Errorf("sqlite: decoding watch history of user %s: %w", u.ID, err))
	}
	if u.WatchHistory == nil {
		u.WatchHistory = []string{}
	}
	return &u, nil
}

func encodeHistory(history []string) (string, error) {
	if history == nil {
		history = []string{}
	}
	b, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("sqlite: encoding watch history: %w", err)
	}
	return string(b), nil
}

// requireRow turns "zero rows affected" into apperror.NotFound.
func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// uniqueViolation maps a UNIQUE constraint failure to apperror.Conflict
// naming the offending column, or returns nil for any other error.
//
// SQLite reports the column in the message:
//
//	UNIQUE constraint failed: users.email
func uniqueViolation(err error) *apperror.AppError {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return nil
	}
	code := sqliteErr.Code()
	if code != sqlite3.SQLITE_CONSTRAINT_UNIQUE && code&0xff != sqlite3.SQLITE_CONSTRAINT {
		return nil
	}

	msg := sqliteErr.Error()
	switch {
	case strings.Contains(msg, "users.email"):
		return apperror.Conflict("user", "email")
	case strings.Contains(msg, "users.username"):
		return apperror.Conflict("user", "username")
	case strings.Contains(msg, "UNIQUE"):
		return apperror.Conflict("user", "username or email")
	}
	return nil
}

// nullable stores "" as NULL so the refresh-token slot reads as empty.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
