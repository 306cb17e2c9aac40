// Package blob uploads user images (avatars, cover images) to object storage
// and returns the public URL they can be fetched from.
//
// Two backends:
//
//	s3         → any S3-compatible store (AWS, MinIO); production
//	filesystem → a local directory the server itself serves; development and tests
package blob

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

// Object is the result of a successful upload.
type Object struct {
	Key string // storage key, relative to the bucket or base directory
	URL string // public URL stored on the user record
}

// Uploader stores the file at localPath and reports where it can be fetched.
// An error means nothing usable was stored.
//
// Delete removes a stored object by key. Deleting a key that does not exist
// is not an error.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// NewKey returns a fresh storage key of the form
//
//	<prefix>/<yyyy>/<mm>/<dd>/<uuid><ext>
//
// Date directories keep listings small; the uuid makes keys collision-free.
func NewKey(prefix, ext string) string {
	d := time.Now().UTC()
	name := uuid.NewString() + ext
	return path.Join(prefix, fmt.Sprintf("%04d/%02d/%02d", d.Year(), int(d.Month()), d.Day()), name)
}
