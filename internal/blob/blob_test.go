package blob

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =========================================================================
// HELPERS
// =========================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

// writeImage encodes a small image in the given format into dir.
func writeImage(t *testing.T, dir, format string) string {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, testImage())
	case "jpeg":
		err = jpeg.Encode(&buf, testImage(), nil)
	case "gif":
		err = gif.Encode(&buf, testImage(), nil)
	default:
		t.Fatalf("unknown format %q", format)
	}
	require.NoError(t, err)

	p := filepath.Join(dir, "upload-"+format)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))
	return p
}

// =========================================================================
// KEY TESTS
// =========================================================================

func TestNewKey(t *testing.T) {
	key := NewKey("avatars", ".png")
	assert.Regexp(t, regexp.MustCompile(`^avatars/\d{4}/\d{2}/\d{2}/[0-9a-f-]{36}\.png$`), key)
	assert.NotEqual(t, key, NewKey("avatars", ".png"))
}

// =========================================================================
// DetectImage TESTS
// =========================================================================

func TestDetectImage(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		format      string
		contentType string
		ext         string
	}{
		{"png", "image/png", ".png"},
		{"jpeg", "image/jpeg", ".jpg"},
		{"gif", "image/gif", ".gif"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			info, err := DetectImage(writeImage(t, dir, tt.format))
			require.NoError(t, err)
			assert.Equal(t, tt.format, info.Format)
			assert.Equal(t, tt.contentType, info.ContentType)
			assert.Equal(t, tt.ext, info.Ext)
			assert.Equal(t, 4, info.Width)
			assert.Equal(t, 3, info.Height)
		})
	}
}

func TestDetectImage_RejectsNonImages(t *testing.T) {
	p := filepath.Join(t.TempDir(), "avatar.png") // the name lies
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\necho pwned\n"), 0o600))

	_, err := DetectImage(p)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestDetectImage_MissingFile(t *testing.T) {
	_, err := DetectImage(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotImage))
}

// =========================================================================
// FILESYSTEM UPLOADER TESTS
// =========================================================================

func TestFileSystemUploader_Upload(t *testing.T) {
	base := t.TempDir()
	u, err := NewFileSystemUploader(FileSystemConfig{
		BaseDir:       base,
		PublicBaseURL: "http://localhost:8080/media/",
		Prefix:        "images",
	}, discardLogger())
	require.NoError(t, err)

	src := writeImage(t, t.TempDir(), "png")
	obj, err := u.Upload(context.Background(), src)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(obj.Key, "images/"))
	assert.True(t, strings.HasSuffix(obj.Key, ".png"))
	assert.Equal(t, "http://localhost:8080/media/"+obj.Key, obj.URL)

	want, _ := os.ReadFile(src)
	got, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(obj.Key)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileSystemUploader_RejectsNonImage(t *testing.T) {
	base := t.TempDir()
	u, err := NewFileSystemUploader(FileSystemConfig{BaseDir: base, PublicBaseURL: "http://x"}, discardLogger())
	require.NoError(t, err)

	p := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(p, []byte("plain text"), 0o600))

	_, err = u.Upload(context.Background(), p)
	assert.ErrorIs(t, err, ErrNotImage)

	entries, _ := os.ReadDir(base)
	assert.Empty(t, entries, "nothing may be stored for a rejected upload")
}

func TestFileSystemUploader_CancelledContext(t *testing.T) {
	u, err := NewFileSystemUploader(FileSystemConfig{BaseDir: t.TempDir()}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = u.Upload(ctx, writeImage(t, t.TempDir(), "png"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileSystemUploader_Delete(t *testing.T) {
	base := t.TempDir()
	u, err := NewFileSystemUploader(FileSystemConfig{BaseDir: base, PublicBaseURL: "http://x", Prefix: "images"}, discardLogger())
	require.NoError(t, err)

	obj, err := u.Upload(context.Background(), writeImage(t, t.TempDir(), "png"))
	require.NoError(t, err)
	stored := filepath.Join(base, filepath.FromSlash(obj.Key))
	require.FileExists(t, stored)

	require.NoError(t, u.Delete(context.Background(), obj.Key))
	assert.NoFileExists(t, stored)

	// Deleting again is fine.
	assert.NoError(t, u.Delete(context.Background(), obj.Key))
}

func TestFileSystemUploader_DeleteRejectsEscapingKeys(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

	u, err := NewFileSystemUploader(FileSystemConfig{BaseDir: t.TempDir()}, discardLogger())
	require.NoError(t, err)

	for _, key := range []string{"../keep.txt", "/etc/passwd", ""} {
		assert.Error(t, u.Delete(context.Background(), key), key)
	}
	assert.FileExists(t, outside)
}

// =========================================================================
// S3 UPLOADER TESTS
// =========================================================================

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error

	deleted   []string
	deleteErr error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if in.Body != nil {
		f.body, _ = io.ReadAll(in.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// stubS3 swaps the SDK seams for the duration of the test and returns the
// fake client and the options the uploader configured it with.
func stubS3(t *testing.T, putter *fakePutter) *s3.Options {
	t.Helper()
	origLoad, origNew := loadDefaultAWSConfig, newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig, newS3ClientFromConfig = origLoad, origNew
	})

	loadDefaultAWSConfig = func(_ context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		var lo config.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				return aws.Config{}, err
			}
		}
		return aws.Config{Region: lo.Region, Credentials: lo.Credentials}, nil
	}

	opts := &s3.Options{}
	newS3ClientFromConfig = func(_ aws.Config, optFns ...func(*s3.Options)) objectClient {
		for _, fn := range optFns {
			fn(opts)
		}
		return putter
	}
	return opts
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), S3Config{}, discardLogger())
	require.Error(t, err)
}

func TestS3Uploader_Upload(t *testing.T) {
	putter := &fakePutter{}
	opts := stubS3(t, putter)

	u, err := NewS3Uploader(context.Background(), S3Config{
		Bucket:          "media",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		UsePathStyle:    true,
		Prefix:          "avatars",
	}, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)

	src := writeImage(t, t.TempDir(), "jpeg")
	obj, err := u.Upload(context.Background(), src)
	require.NoError(t, err)

	require.NotNil(t, putter.input)
	assert.Equal(t, "media", aws.ToString(putter.input.Bucket))
	assert.Equal(t, obj.Key, aws.ToString(putter.input.Key))
	assert.Equal(t, "image/jpeg", aws.ToString(putter.input.ContentType))
	assert.True(t, strings.HasSuffix(obj.Key, ".jpg"))
	assert.Equal(t, "http://localhost:9000/media/"+obj.Key, obj.URL)

	want, _ := os.ReadFile(src)
	assert.Equal(t, want, putter.body)
	assert.Equal(t, int64(len(want)), aws.ToInt64(putter.input.ContentLength))
}

func TestS3Uploader_PutFailure(t *testing.T) {
	putter := &fakePutter{err: errors.New("AccessDenied")}
	stubS3(t, putter)

	u, err := NewS3Uploader(context.Background(), S3Config{Bucket: "media", Region: "eu-west-1"}, discardLogger())
	require.NoError(t, err)

	_, err = u.Upload(context.Background(), writeImage(t, t.TempDir(), "png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestS3Uploader_ObjectURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"public base url", S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"}, "https://cdn.example.com/k/x.png"},
		{"custom endpoint", S3Config{Bucket: "b", Endpoint: "http://minio:9000"}, "http://minio:9000/b/k/x.png"},
		{"aws", S3Config{Bucket: "b", Region: "eu-west-1"}, "https://b.s3.eu-west-1.amazonaws.com/k/x.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &S3Uploader{cfg: tt.cfg}
			assert.Equal(t, tt.want, u.objectURL("k/x.png"))
		})
	}
}

func TestS3Uploader_Delete(t *testing.T) {
	client := &fakePutter{}
	stubS3(t, client)

	u, err := NewS3Uploader(context.Background(), S3Config{Bucket: "media", Region: "us-east-1"}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, u.Delete(context.Background(), "images/a.png"))
	assert.Equal(t, []string{"media/images/a.png"}, client.deleted)

	client.deleteErr = errors.New("access denied")
	err = u.Delete(context.Background(), "images/b.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "images/b.png")
}
