package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/blob"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. Username and
// email uniqueness is case-insensitive, like the real stores.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User // keyed by ID
	nextID int

	// set to a non-nil error to simulate a database failure
	createErr error
	getErr    error
	setErr    error

	createCalls int
	setCalls    int
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User), nextID: 1}
}

func (f *fakeUserRepo) taken(field, value, excludeID string) bool {
	for _, u := range f.users {
		if u.ID == excludeID {
			continue
		}
		if field == "username" && strings.EqualFold(u.Username, value) {
			return true
		}
		if field == "email" && strings.EqualFold(u.Email, value) {
			return true
		}
	}
	return false
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	if f.taken("username", user.Username, "") {
		return apperror.Conflict("user", "username")
	}
	if f.taken("email", user.Email, "") {
		return apperror.Conflict("user", "email")
	}
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	f.nextID++
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) FindByIdentity(_ context.Context, identity string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		value := u.Username
		if model.IsEmailIdentity(identity) {
			value = u.Email
		}
		if strings.EqualFold(value, identity) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", identity)
}

func (f *fakeUserRepo) ExistsByUsernameOrEmail(_ context.Context, username, email, excludeID string) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return false, false, f.getErr
	}
	return username != "" && f.taken("username", username, excludeID),
		email != "" && f.taken("email", email, excludeID), nil
}

func (f *fakeUserRepo) UpdatePasswordHash(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeUserRepo) UpdateProfile(_ context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	if upd.Username != nil && f.taken("username", *upd.Username, id) {
		return nil, apperror.Conflict("user", "username")
	}
	if upd.Email != nil && f.taken("email", *upd.Email, id) {
		return nil, apperror.Conflict("user", "email")
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.Fullname != nil {
		u.Fullname = *upd.Fullname
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) UpdateImages(_ context.Context, id, avatarURL, coverImageURL string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	if avatarURL != "" {
		u.AvatarURL = avatarURL
	}
	if coverImageURL != "" {
		u.CoverImageURL = coverImageURL
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) SetRefreshToken(_ context.Context, id, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.RefreshToken = token
	return nil
}

func (f *fakeUserRepo) SwapRefreshToken(_ context.Context, id, expected, next string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || expected == "" || u.RefreshToken != expected {
		return false, nil
	}
	u.RefreshToken = next
	return true, nil
}

func (f *fakeUserRepo) ClearRefreshToken(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.RefreshToken = ""
	}
	return nil
}

func (f *fakeUserRepo) Close() error { return nil }

// stored returns the record as the repository holds it.
func (f *fakeUserRepo) stored(t *testing.T, id string) model.User {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		t.Fatalf("user %s not in repo", id)
	}
	return *u
}

// fakeUploader records every call and returns a predictable URL.
type fakeUploader struct {
	mu    sync.Mutex
	calls []string
	// fail makes the upload of the given local path fail with err
	fail map[string]error

	deleted   []string
	deleteErr error
}

func (f *fakeUploader) Upload(_ context.Context, localPath string) (*blob.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, localPath)
	if err, ok := f.fail[localPath]; ok {
		return nil, err
	}
	key := "images/" + strings.TrimPrefix(localPath, "/tmp/")
	return &blob.Object{Key: key, URL: "https://cdn.example.com/" + key}, nil
}

func (f *fakeUploader) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "test-access-secret-at-least-16",
		AccessTTL:     15 * time.Minute,
		RefreshSecret: "test-refresh-secret-at-least-16",
		RefreshTTL:    24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// testEnv bundles the services wired over one repo.
type testEnv struct {
	repo     repository.UserRepository
	fake     *fakeUserRepo // nil when repo is not the fake
	uploader *fakeUploader
	tokens   *auth.TokenService
	creds    *CredentialStore
	sessions *SessionManager
	accounts *AccountService
}

func newTestEnvWithRepo(t *testing.T, repo repository.UserRepository) *testEnv {
	t.Helper()
	logger := testLogger()
	tokens := newTestTokens(t)
	// Cost 4 is the bcrypt minimum and keeps tests fast.
	creds := NewCredentialStore(repo, auth.NewPasswordServiceWithCost(4), logger)
	up := &fakeUploader{fail: map[string]error{}}

	env := &testEnv{
		repo:     repo,
		uploader: up,
		tokens:   tokens,
		creds:    creds,
		sessions: NewSessionManager(creds, tokens, logger),
		accounts: NewAccountService(creds, up, logger),
	}
	if f, ok := repo.(*fakeUserRepo); ok {
		env.fake = f
	}
	return env
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithRepo(t, newFakeUserRepo())
}

// registerAlice registers the user most tests start from.
func registerAlice(t *testing.T, env *testEnv) *model.PublicUser {
	t.Helper()
	u, err := env.accounts.Register(context.Background(), RegisterInput{
		Username:   "alice",
		Email:      "a@x.com",
		Fullname:   "Alice A",
		Password:   "Secret123",
		AvatarPath: "/tmp/alice-avatar.png",
	})
	if err != nil {
		t.Fatalf("Register(alice) error = %v", err)
	}
	return u
}
