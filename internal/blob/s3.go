package blob

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// SDK entry points, swapped out in tests.
var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) objectClient {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// objectClient is the part of the S3 API the uploader calls.
type objectClient interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config configures S3Uploader.
type S3Config struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint, e.g. "http://localhost:9000" for MinIO.
	Endpoint string
	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	// PublicBaseURL, when set, is used to build object URLs (a CDN in front
	// of the bucket). Otherwise the URL is derived from the endpoint.
	PublicBaseURL string
	Prefix        string
}

// S3Uploader puts uploads into an S3 bucket.
type S3Uploader struct {
	client objectClient
	cfg    S3Config
	log    *slog.Logger
}

var _ Uploader = (*S3Uploader)(nil)

// NewS3Uploader loads the AWS configuration and builds the client.
func NewS3Uploader(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Uploader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blob: loading aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Uploader{
		client: client,
		cfg:    cfg,
		log:    logger.With(slog.String("component", "blob.s3"), slog.String("bucket", cfg.Bucket)),
	}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, localPath string) (*Object, error) {
	info, err := DetectImage(localPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("blob: open: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("blob: stat: %w", err)
	}

	key := NewKey(u.cfg.Prefix, info.Ext)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentType:   aws.String(info.ContentType),
		ContentLength: aws.Int64(st.Size()),
	})
	if err != nil {
		u.log.ErrorContext(ctx, "put object failed", "key", key, "error", err)
		return nil, fmt.Errorf("blob: putting %s: %w", key, err)
	}

	u.log.DebugContext(ctx, "object stored", "key", key, "size", st.Size())
	return &Object{Key: key, URL: u.objectURL(key)}, nil
}

// Delete removes key from the bucket. S3 reports success for a missing key.
func (u *S3Uploader) Delete(ctx context.Context, key string) error {
	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("blob: deleting %s: %w", key, err)
	}
	u.log.DebugContext(ctx, "object deleted", "key", key)
	return nil
}

// objectURL builds the public URL for key:
//
//	PublicBaseURL set   → <PublicBaseURL>/<key>
//	Endpoint set        → <Endpoint>/<bucket>/<key>
//	neither             → https://<bucket>.s3.<region>.amazonaws.com/<key>
func (u *S3Uploader) objectURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	switch {
	case u.cfg.PublicBaseURL != "":
		return strings.TrimRight(u.cfg.PublicBaseURL, "/") + "/" + escaped
	case u.cfg.Endpoint != "":
		return strings.TrimRight(u.cfg.Endpoint, "/") + "/" + u.cfg.Bucket + "/" + escaped
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, escaped)
	}
}
