package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/service"
)

// Accounts is the part of service.AccountService the handler uses.
type Accounts interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.PublicUser, error)
	CurrentUser(ctx context.Context, userID string) (*model.PublicUser, error)
	UpdateAccount(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.PublicUser, error)
	UpdateAvatar(ctx context.Context, userID, localPath string) (*model.PublicUser, error)
	UpdateCoverImage(ctx context.Context, userID, localPath string) (*model.PublicUser, error)
}

// Sessions is the part of service.SessionManager the handler uses.
type Sessions interface {
	Login(ctx context.Context, identity, password string) (*service.LoginResult, error)
	Logout(ctx context.Context, userID string) error
	Refresh(ctx context.Context, presented string) (*auth.TokenPair, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
}

// UserConfig carries the transport settings of UserHandler.
type UserConfig struct {
	Cookies        CookieConfig
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	MaxUploadBytes int64
}

// UserHandler serves /api/v1/users.
//
// HANDLER RESPONSIBILITIES:
//   - decode and validate the request (JSON or multipart)
//   - call exactly one service method
//   - set or clear the session cookies
//   - write the envelope
//
// No business rule lives here. Every error goes through WriteError.
type UserHandler struct {
	accounts Accounts
	sessions Sessions
	cfg      UserConfig
	logger   *slog.Logger
}

func NewUserHandler(accounts Accounts, sessions Sessions, cfg UserConfig, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		accounts: accounts,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// =========================================================================
// Request bodies
// =========================================================================

type registerForm struct {
	Username string `json:"username" validate:"required,excludes=@"`
	Email    string `json:"email"    validate:"required,email"`
	Fullname string `json:"fullname" validate:"required"`
	Password string `json:"password" validate:"required,maxbytes=72"`
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"    validate:"omitempty,email"`
	Password string `json:"password" validate:"required,maxbytes=72"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,maxbytes=72"`
}

type updateAccountRequest struct {
	Email    *string `json:"email"    validate:"omitnil,email"`
	Username *string `json:"username" validate:"omitnil,excludes=@"`
	Fullname *string `json:"fullname"`
}

type loginResponse struct {
	User         *model.PublicUser `json:"user"`
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
}

// =========================================================================
// Public routes
// =========================================================================

// HandleRegister creates an account.
//
// HTTP: POST /api/v1/users/register   (multipart/form-data)
// Fields: username, email, fullname, password, avatar (file), coverImage (optional file)
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r, h.cfg.MaxUploadBytes); err != nil {
		WriteError(w, err)
		return
	}
	files := newSpool(r, h.logger)
	defer files.cleanup()

	form := registerForm{
		Username: r.FormValue("username"),
		Email:    strings.TrimSpace(r.FormValue("email")),
		Fullname: r.FormValue("fullname"),
		Password: r.FormValue("password"),
	}
	if err := validateStruct(&form); err != nil {
		WriteError(w, err)
		return
	}

	avatarPath, err := files.spool("avatar")
	if err != nil {
		WriteError(w, err)
		return
	}
	if avatarPath == "" {
		WriteError(w, apperror.ValidationFailed("avatar", "avatar file is required"))
		return
	}
	coverPath, err := files.spool("coverImage")
	if err != nil {
		WriteError(w, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Username:       form.Username,
		Email:          form.Email,
		Fullname:       form.Fullname,
		Password:       form.Password,
		AvatarPath:     avatarPath,
		CoverImagePath: coverPath,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "User registered Successfully", user)
}

// HandleLogin starts a session.
//
// HTTP: POST /api/v1/users/login
// Body: {"username": "alice", "password": "..."} or {"email": "a@x.com", "password": "..."}
//
// Both tokens are set as cookies and also returned in the body for clients
// that cannot use cookies.
func (h *UserHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	identity := strings.TrimSpace(req.Username)
	if identity == "" {
		identity = strings.TrimSpace(req.Email)
	}
	if identity == "" {
		WriteError(w, apperror.ValidationFailed("username", "username or email is required"))
		return
	}

	res, err := h.sessions.Login(r.Context(), identity, req.Password)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.cfg.Cookies.setSession(w, res.Tokens, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	writeSuccess(w, http.StatusOK, "User logged In Successfully", loginResponse{
		User:         res.User,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	})
}

// HandleRefresh rotates the session tokens.
//
// HTTP: POST /api/v1/users/refresh-token
// The refresh token comes from the refreshToken cookie or, failing that,
// the JSON body {"refreshToken": "..."}.
func (h *UserHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token := auth.RefreshTokenFromRequest(r)
	if token == "" && r.Body != nil {
		var req refreshRequest
		// A missing or malformed body just means no token; Refresh reports that.
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req)
		token = strings.TrimSpace(req.RefreshToken)
	}

	pair, err := h.sessions.Refresh(r.Context(), token)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.cfg.Cookies.setSession(w, pair, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	writeSuccess(w, http.StatusOK, "Access token refreshed", pair)
}

// =========================================================================
// Authenticated routes (behind auth.RequireAuth)
// =========================================================================

// currentUser returns the user RequireAuth put in the context.
func currentUser(w http.ResponseWriter, r *http.Request) (*model.PublicUser, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		// Only reachable when a route is mounted without RequireAuth.
		WriteError(w, apperror.Unauthorized("unauthorized request"))
		return nil, false
	}
	return user, true
}

// HandleLogout ends the session.
//
// HTTP: POST /api/v1/users/logout
func (h *UserHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Logout(r.Context(), user.ID); err != nil {
		WriteError(w, err)
		return
	}

	h.cfg.Cookies.clearSession(w)
	writeSuccess(w, http.StatusOK, "User logged Out", nil)
}

// HandleChangePassword
//
// HTTP: POST /api/v1/users/change-password
// Body: {"oldPassword": "...", "newPassword": "..."}
func (h *UserHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if err := h.sessions.ChangePassword(r.Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		WriteError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Password changed successfully", nil)
}

// HandleCurrentUser
//
// HTTP: GET /api/v1/users/current-user
func (h *UserHandler) HandleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	fresh, err := h.accounts.CurrentUser(r.Context(), user.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User fetched successfully", fresh)
}

// HandleUpdateAccount
//
// HTTP: PATCH /api/v1/users/update-account
// Body: any of {"email", "username", "fullname"}
func (h *UserHandler) HandleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req updateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	updated, err := h.accounts.UpdateAccount(r.Context(), user.ID, model.ProfileUpdate{
		Email:    req.Email,
		Username: req.Username,
		Fullname: req.Fullname,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Account details updated successfully", updated)
}

// HandleUpdateAvatar
//
// HTTP: PATCH /api/v1/users/avatar   (multipart, field "avatar")
func (h *UserHandler) HandleUpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, "avatar", h.accounts.UpdateAvatar, "Avatar image updated successfully")
}

// HandleUpdateCoverImage
//
// HTTP: PATCH /api/v1/users/cover-image   (multipart, field "coverImage")
func (h *UserHandler) HandleUpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, "coverImage", h.accounts.UpdateCoverImage, "Cover image updated successfully")
}

func (h *UserHandler) updateImage(
	w http.ResponseWriter,
	r *http.Request,
	field string,
	apply func(ctx context.Context, userID, localPath string) (*model.PublicUser, error),
	message string,
) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := parseMultipart(w, r, h.cfg.MaxUploadBytes); err != nil {
		WriteError(w, err)
		return
	}
	files := newSpool(r, h.logger)
	defer files.cleanup()

	path, err := files.spool(field)
	if err != nil {
		WriteError(w, err)
		return
	}
	if path == "" {
		WriteError(w, apperror.ValidationFailed(field, field+" file is missing"))
		return
	}

	updated, err := apply(r.Context(), user.ID, path)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, message, updated)
}

// Routes returns the /api/v1/users subrouter. requireAuth guards every
// route that acts on the logged-in user.
//
// ROUTES:
//
//	POST  /register          public, multipart
//	POST  /login             public
//	POST  /refresh-token     public (the refresh token is the credential)
//	POST  /logout            auth
//	POST  /change-password   auth
//	GET   /current-user      auth
//	PATCH /update-account    auth
//	PATCH /avatar            auth, multipart
//	PATCH /cover-image       auth, multipart
func (h *UserHandler) Routes(requireAuth func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Post("/register", h.HandleRegister)
	r.Post("/login", h.HandleLogin)
	r.Post("/refresh-token", h.HandleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/logout", h.HandleLogout)
		r.Post("/change-password", h.HandleChangePassword)
		r.Get("/current-user", h.HandleCurrentUser)
		r.Patch("/update-account", h.HandleUpdateAccount)
		r.Patch("/avatar", h.HandleUpdateAvatar)
		r.Patch("/cover-image", h.HandleUpdateCoverImage)
	})

	return r
}
