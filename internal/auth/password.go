// WHY BCRYPT?
// bcrypt is deliberately slow, salts every hash with fresh randomness and
// embeds both the salt and the cost in its output, so no separate salt column
// is needed:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 iterations)
//	 version

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/account-service/internal/apperror"
)

// defaultCost is the bcrypt work factor used in production.
// Roughly 250ms per hash on current server hardware.
const defaultCost = 12

// MaxPasswordBytes is the bcrypt input limit. Longer inputs would be silently
// truncated by the algorithm, so Hash rejects them.
const MaxPasswordBytes = 72

// PasswordService provides bcrypt hashing and verification.
//
// The cost is a field so tests can use bcrypt.MinCost (4) and run in
// milliseconds.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceWithCost creates a PasswordService with a custom cost.
// Values outside bcrypt's range fall back to the default.
//
// Do NOT pass low costs in production.
func NewPasswordServiceWithCost(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = defaultCost
	}
	return &PasswordService{cost: cost}
}

// Hash hashes the given plaintext password with bcrypt.
//
// Every call draws a new random salt, so hashing the same password twice
// yields two different strings. The result is what gets stored; the plaintext
// never is.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", MaxPasswordBytes))
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks whether a plaintext password matches a stored bcrypt hash.
//
// A mismatch is not an error: it returns (false, nil). An error is returned
// only when the stored hash itself is unusable, which means the record is
// corrupt and is reported as an IntegrityError.
//
// TIMING SAFETY:
// bcrypt.CompareHashAndPassword compares in constant time.
func (p *PasswordService) Verify(hash, plaintext string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, apperror.Integrity("stored credentials are unreadable",
			fmt.Errorf("auth: comparing password hash: %w", err))
	}
}
