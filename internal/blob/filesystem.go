package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemConfig configures FileSystemUploader.
type FileSystemConfig struct {
	// BaseDir is the root directory objects are written under.
	BaseDir string
	// PublicBaseURL is prepended to the key to form the object URL,
	// e.g. "http://localhost:8080/media".
	PublicBaseURL string
	// Prefix is the first key segment, e.g. "avatars".
	Prefix string
}

// FileSystemUploader copies uploads into a local directory.
type FileSystemUploader struct {
	cfg FileSystemConfig
	log *slog.Logger
}

var _ Uploader = (*FileSystemUploader)(nil)

// NewFileSystemUploader creates BaseDir if needed.
func NewFileSystemUploader(cfg FileSystemConfig, logger *slog.Logger) (*FileSystemUploader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("blob: filesystem base dir is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: creating %s: %w", cfg.BaseDir, err)
	}
	return &FileSystemUploader{
		cfg: cfg,
		log: logger.With(slog.String("component", "blob.filesystem")),
	}, nil
}

// BaseDir returns the directory objects are stored under, for serving them.
func (u *FileSystemUploader) BaseDir() string {
	return u.cfg.BaseDir
}

func (u *FileSystemUploader) Upload(ctx context.Context, localPath string) (obj *Object, err error) {
	info, err := DetectImage(localPath)
	if err != nil {
		return nil, err
	}

	key := NewKey(u.cfg.Prefix, info.Ext)
	dst := filepath.Join(u.cfg.BaseDir, filepath.FromSlash(key))

	defer func() {
		if err != nil {
			u.log.ErrorContext(ctx, "blob store failed", "key", key, "error", err)
		} else {
			u.log.DebugContext(ctx, "blob stored", "key", key)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("blob: mkdir all: %w", err)
	}
	if err := copyFile(localPath, dst); err != nil {
		_ = os.Remove(dst)
		return nil, err
	}

	return &Object{
		Key: key,
		URL: strings.TrimRight(u.cfg.PublicBaseURL, "/") + "/" + key,
	}, nil
}

// Delete removes the file stored under key. Keys that would resolve outside
// BaseDir are rejected.
func (u *FileSystemUploader) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("blob: invalid key %q", key)
	}
	err := os.Remove(filepath.Join(u.cfg.BaseDir, rel))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blob: delete: %w", err)
	}
	u.log.DebugContext(ctx, "blob deleted", "key", key)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("blob: open: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("blob: create: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("blob: write: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("blob: sync: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("blob: close: %w", err)
	}
	return nil
}
