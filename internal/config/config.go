// Package config loads the server configuration.
//
// LOAD ORDER (later wins):
//  1. Default()            built-in values, enough for local development except secrets
//  2. YAML file            optional, path from -config or CONFIG_PATH
//  3. environment          PORT, DB_PATH, ACCESS_TOKEN_SECRET, ...
//
// Validate() runs last. main refuses to start when it fails, so a server never
// comes up with missing or weak token secrets.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/blob"
)

const (
	DBDriverSQLite = "sqlite"
	DBDriverMongo  = "mongo"

	BlobDriverFS = "filesystem"
	BlobDriverS3 = "s3"
)

type Config struct {
	Port   int          `yaml:"port"`
	Log    LogConfig    `yaml:"log"`
	DB     DBConfig     `yaml:"db"`
	Tokens TokensConfig `yaml:"tokens"`
	Cookie CookieConfig `yaml:"cookie"`
	Blob   BlobConfig   `yaml:"blob"`

	// MaxUploadBytes caps a multipart request body.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

type DBConfig struct {
	Driver   string `yaml:"driver"` // sqlite or mongo
	Path     string `yaml:"path"`
	MongoURI string `yaml:"mongo_uri"`
	MongoDB  string `yaml:"mongo_database"`
}

type TokensConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshSecret string        `yaml:"refresh_secret"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
}

type CookieConfig struct {
	Secure   bool   `yaml:"secure"`
	SameSite string `yaml:"same_site"` // lax, strict or none
	Domain   string `yaml:"domain"`
}

type BlobConfig struct {
	Driver string `yaml:"driver"` // filesystem or s3

	// filesystem
	Dir           string `yaml:"dir"`
	PublicBaseURL string `yaml:"public_base_url"`
	Prefix        string `yaml:"prefix"`

	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	PublicBaseURL   string `yaml:"public_base_url"`
}

// Default returns the development configuration. Token secrets are left
// empty on purpose: they must come from the file or the environment.
func Default() *Config {
	return &Config{
		Port: 8000,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		DB: DBConfig{
			Driver:  DBDriverSQLite,
			Path:    "data/accounts.db",
			MongoDB: "accounts",
		},
		Tokens: TokensConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 10 * 24 * time.Hour,
		},
		Cookie: CookieConfig{
			Secure:   true,
			SameSite: "lax",
		},
		Blob: BlobConfig{
			Driver:        BlobDriverFS,
			Dir:           "data/media",
			PublicBaseURL: "http://localhost:8000/media",
			Prefix:        "images",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		MaxUploadBytes: 10 << 20,
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and the environment. A missing file is not an error; an unreadable
// or malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production and a map in tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a number", key, v))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}

	num("PORT", &c.Port)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	str("DB_DRIVER", &c.DB.Driver)
	str("DB_PATH", &c.DB.Path)
	str("MONGODB_URI", &c.DB.MongoURI)
	str("MONGODB_DATABASE", &c.DB.MongoDB)

	str("ACCESS_TOKEN_SECRET", &c.Tokens.AccessSecret)
	dur("ACCESS_TOKEN_EXPIRY", &c.Tokens.AccessTTL)
	str("REFRESH_TOKEN_SECRET", &c.Tokens.RefreshSecret)
	dur("REFRESH_TOKEN_EXPIRY", &c.Tokens.RefreshTTL)

	flag("COOKIE_SECURE", &c.Cookie.Secure)
	str("COOKIE_SAME_SITE", &c.Cookie.SameSite)
	str("COOKIE_DOMAIN", &c.Cookie.Domain)

	str("BLOB_DRIVER", &c.Blob.Driver)
	str("MEDIA_DIR", &c.Blob.Dir)
	str("MEDIA_PUBLIC_BASE_URL", &c.Blob.PublicBaseURL)
	str("S3_BUCKET", &c.Blob.S3.Bucket)
	str("S3_REGION", &c.Blob.S3.Region)
	str("S3_ENDPOINT", &c.Blob.S3.Endpoint)
	str("S3_ACCESS_KEY_ID", &c.Blob.S3.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &c.Blob.S3.SecretAccessKey)
	flag("S3_USE_PATH_STYLE", &c.Blob.S3.UsePathStyle)
	str("S3_PUBLIC_BASE_URL", &c.Blob.S3.PublicBaseURL)

	if v, ok := lookup("MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES: %q is not a number", v))
		} else {
			c.MaxUploadBytes = n
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// parseDuration accepts Go durations ("15m", "240h") and the day suffix
// common in deployment env files ("10d").
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.Log.Format))
	}

	switch c.DB.Driver {
	case DBDriverSQLite:
		if c.DB.Path == "" {
			errs = append(errs, errors.New("db path is required for the sqlite driver"))
		}
	case DBDriverMongo:
		if c.DB.MongoURI == "" || c.DB.MongoDB == "" {
			errs = append(errs, errors.New("MONGODB_URI and MONGODB_DATABASE are required for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db driver %q", c.DB.Driver))
	}

	if err := c.TokenConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SameSite(); err != nil {
		errs = append(errs, err)
	}

	switch c.Blob.Driver {
	case BlobDriverFS:
		if c.Blob.Dir == "" || c.Blob.PublicBaseURL == "" {
			errs = append(errs, errors.New("media dir and public base url are required for the filesystem blob driver"))
		}
	case BlobDriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 blob driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}

	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload bytes must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// TokenConfig is the slice of the configuration the token service needs.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  c.Tokens.AccessSecret,
		AccessTTL:     c.Tokens.AccessTTL,
		RefreshSecret: c.Tokens.RefreshSecret,
		RefreshTTL:    c.Tokens.RefreshTTL,
	}
}

func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return lvl, nil
}

func (c *Config) SameSite() (http.SameSite, error) {
	switch strings.ToLower(c.Cookie.SameSite) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		if !c.Cookie.Secure {
			return 0, errors.New("cookie same_site=none requires secure cookies")
		}
		return http.SameSiteNoneMode, nil
	}
	return 0, fmt.Errorf("invalid cookie same_site %q", c.Cookie.SameSite)
}

func (c *Config) FileSystemBlob() blob.FileSystemConfig {
	return blob.FileSystemConfig{
		BaseDir:       c.Blob.Dir,
		PublicBaseURL: c.Blob.PublicBaseURL,
		Prefix:        c.Blob.Prefix,
	}
}

func (c *Config) S3Blob() blob.S3Config {
	s3 := c.Blob.S3
	return blob.S3Config{
		Bucket:          s3.Bucket,
		Region:          s3.Region,
		Endpoint:        s3.Endpoint,
		AccessKeyID:     s3.AccessKeyID,
		SecretAccessKey: s3.SecretAccessKey,
		UsePathStyle:    s3.UsePathStyle,
		PublicBaseURL:   s3.PublicBaseURL,
		Prefix:          c.Blob.Prefix,
	}
}
