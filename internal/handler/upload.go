package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/blob"
)

// multipartMemory is how much of a multipart body is held in memory before
// the standard library spills parts to disk.
const multipartMemory = 1 << 20

// parseMultipart limits the body to maxBytes and parses it.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperror.ValidationFailed("", fmt.Sprintf("request body exceeds %d bytes", maxBytes))
		}
		return apperror.ValidationFailed("", "request must be multipart/form-data")
	}
	return nil
}

// spooledFiles tracks temp files created for one request so they can all be
// removed when the request ends, whatever the outcome.
type spooledFiles struct {
	r      *http.Request
	logger *slog.Logger
	paths  []string
}

func newSpool(r *http.Request, logger *slog.Logger) *spooledFiles {
	return &spooledFiles{r: r, logger: logger}
}

func (s *spooledFiles) cleanup() {
	for _, p := range s.paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove upload temp file",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.r.MultipartForm != nil {
		if err := s.r.MultipartForm.RemoveAll(); err != nil {
			s.logger.Warn("failed to remove multipart temp files", slog.String("error", err.Error()))
		}
	}
}

// spool copies the uploaded file under field to a temp file and returns its
// path. It returns "" with no error when the field is absent; callers
// decide whether that is allowed. More than one file under the field, or a
// file that is not an image, is a ValidationError.
//
// The client's file name and Content-Type are ignored. What the file is
// gets decided by sniffing its bytes.
func (s *spooledFiles) spool(field string) (string, error) {
	if s.r.MultipartForm == nil {
		return "", nil
	}
	headers := s.r.MultipartForm.File[field]
	switch len(headers) {
	case 0:
		return "", nil
	case 1:
	default:
		return "", apperror.ValidationFailed(field, "only one "+field+" file is allowed")
	}

	src, err := headers[0].Open()
	if err != nil {
		return "", apperror.ValidationFailed(field, "could not read "+field+" file")
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "upload-*")
	if err != nil {
		return "", apperror.UploadFailed(fmt.Errorf("create temp file: %w", err))
	}
	s.paths = append(s.paths, tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", apperror.UploadFailed(fmt.Errorf("spool %s: %w", field, err))
	}
	if err := tmp.Close(); err != nil {
		return "", apperror.UploadFailed(fmt.Errorf("spool %s: %w", field, err))
	}

	if _, err := blob.DetectImage(tmp.Name()); err != nil {
		return "", apperror.ValidationFailed(field, field+" must be a jpeg, png, gif or webp image")
	}
	return tmp.Name(), nil
}
