package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/blob"
	"github.com/sakif/account-service/internal/model"
)

// AccountService handles registration and profile changes, including the
// image uploads they involve.
type AccountService struct {
	credentials *CredentialStore
	uploader    blob.Uploader
	logger      *slog.Logger
}

// NewAccountService wires an AccountService.
func NewAccountService(credentials *CredentialStore, uploader blob.Uploader, logger *slog.Logger) *AccountService {
	return &AccountService{
		credentials: credentials,
		uploader:    uploader,
		logger:      logger,
	}
}

// RegisterInput is the registration form after the transport layer has
// spooled the uploaded files to local paths.
type RegisterInput struct {
	Username       string
	Email          string
	Fullname       string
	Password       string
	AvatarPath     string // required
	CoverImagePath string // optional
}

// Register creates an account.
//
// ORDER:
//  1. validate fields (no I/O)
//  2. reject a taken username/email before spending an upload on it
//  3. upload avatar, then cover image if given
//  4. insert the record
//
// A failed upload stops here with UploadError and no record is written.
// Objects already uploaded by a registration that then fails are deleted.
func (a *AccountService) Register(ctx context.Context, in RegisterInput) (*model.PublicUser, error) {
	fields := []struct{ field, value string }{
		{"fullname", in.Fullname},
		{"email", in.Email},
		{"username", in.Username},
		{"password", in.Password},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return nil, apperror.ValidationFailed(f.field, "all fields are required")
		}
	}
	if in.AvatarPath == "" {
		return nil, apperror.ValidationFailed("avatar", "avatar file is required")
	}

	if err := checkIdentityShape(normaliseIdentity(in.Username), normaliseIdentity(in.Email)); err != nil {
		return nil, err
	}
	if err := a.credentials.CheckAvailable(ctx, in.Username, in.Email, ""); err != nil {
		return nil, err
	}

	avatar, err := a.upload(ctx, "avatar", in.AvatarPath)
	if err != nil {
		return nil, err
	}

	var coverURL string
	uploaded := []*blob.Object{avatar}
	if in.CoverImagePath != "" {
		cover, err := a.upload(ctx, "coverImage", in.CoverImagePath)
		if err != nil {
			a.discard(ctx, uploaded...)
			return nil, err
		}
		coverURL = cover.URL
		uploaded = append(uploaded, cover)
	}

	user, err := a.credentials.Create(ctx, Candidate{
		Username:      in.Username,
		Email:         in.Email,
		Fullname:      in.Fullname,
		Password:      in.Password,
		AvatarURL:     avatar.URL,
		CoverImageURL: coverURL,
	})
	if err != nil {
		a.discard(ctx, uploaded...)
		return nil, err
	}
	return user, nil
}

// CurrentUser returns the public projection of the user.
func (a *AccountService) CurrentUser(ctx context.Context, userID string) (*model.PublicUser, error) {
	user, err := a.credentials.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}

// UpdateAccount changes email, username and/or fullname.
func (a *AccountService) UpdateAccount(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.PublicUser, error) {
	return a.credentials.UpdateProfileFields(ctx, userID, upd)
}

// UpdateAvatar uploads a new avatar and points the record at it.
func (a *AccountService) UpdateAvatar(ctx context.Context, userID, localPath string) (*model.PublicUser, error) {
	if localPath == "" {
		return nil, apperror.ValidationFailed("avatar", "avatar file is missing")
	}
	obj, err := a.upload(ctx, "avatar", localPath)
	if err != nil {
		return nil, err
	}
	user, err := a.credentials.UpdateImages(ctx, userID, obj.URL, "")
	if err != nil {
		a.discard(ctx, obj)
		return nil, err
	}
	return user, nil
}

// UpdateCoverImage uploads a new cover image and points the record at it.
func (a *AccountService) UpdateCoverImage(ctx context.Context, userID, localPath string) (*model.PublicUser, error) {
	if localPath == "" {
		return nil, apperror.ValidationFailed("coverImage", "cover image file is missing")
	}
	obj, err := a.upload(ctx, "coverImage", localPath)
	if err != nil {
		return nil, err
	}
	user, err := a.credentials.UpdateImages(ctx, userID, "", obj.URL)
	if err != nil {
		a.discard(ctx, obj)
		return nil, err
	}
	return user, nil
}

// upload runs the uploader once. A file that is not an image is the
// client's fault (ValidationError); anything else is UploadError.
func (a *AccountService) upload(ctx context.Context, field, localPath string) (*blob.Object, error) {
	obj, err := a.uploader.Upload(ctx, localPath)
	if err != nil {
		if errors.Is(err, blob.ErrNotImage) {
			return nil, apperror.ValidationFailed(field, field+" must be a jpeg, png, gif or webp image")
		}
		a.logger.Error("upload failed",
			slog.String("field", field),
			slog.String("error", err.Error()),
		)
		return nil, apperror.UploadFailed(err)
	}
	if obj == nil || obj.URL == "" {
		return nil, apperror.UploadFailed(errors.New("uploader returned no url"))
	}
	return obj, nil
}

// discard deletes objects that no record will point to. It is best effort:
// a failure is logged with the key so the object can be removed by hand, and
// the caller's original error is what gets returned.
//
// The request context may already be cancelled when the caller gives up, so
// the deletes run on a detached context with their own deadline.
func (a *AccountService) discard(ctx context.Context, objs ...*blob.Object) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	for _, obj := range objs {
		if err := a.uploader.Delete(ctx, obj.Key); err != nil {
			a.logger.Warn("orphaned upload left in blob store",
				slog.String("key", obj.Key),
				slog.String("error", err.Error()),
			)
		}
	}
}
