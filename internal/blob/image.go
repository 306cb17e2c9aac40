package blob

import (
	"errors"
	"fmt"
	"image"
	"os"

	// Format registrations for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ErrNotImage is returned by DetectImage for files that are not one of the
// accepted image formats.
var ErrNotImage = errors.New("blob: file is not a supported image")

// ImageInfo describes a detected image.
type ImageInfo struct {
	Format      string // "jpeg", "png", "gif" or "webp"
	ContentType string
	Ext         string
	Width       int
	Height      int
}

var imageTypes = map[string]struct {
	contentType string
	ext         string
}{
	"jpeg": {"image/jpeg", ".jpg"},
	"png":  {"image/png", ".png"},
	"gif":  {"image/gif", ".gif"},
	"webp": {"image/webp", ".webp"},
}

// DetectImage sniffs the file at path by decoding its header. Only the
// header is read, so this is cheap even for large files. The client-supplied
// file name and content type are never trusted.
func DetectImage(path string) (*ImageInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blob: opening %s: %w", path, err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	t, ok := imageTypes[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotImage, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrNotImage)
	}

	return &ImageInfo{
		Format:      format,
		ContentType: t.contentType,
		Ext:         t.ext,
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}
