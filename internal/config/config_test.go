package config

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.Tokens.AccessSecret = "access-secret-0123456789"
	cfg.Tokens.RefreshSecret = "refresh-secret-0123456789"
	return cfg
}

func TestDefault_NeedsSecrets(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret")

	assert.NoError(t, validConfig().Validate())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORT":                 "9090",
		"DB_DRIVER":            "mongo",
		"MONGODB_URI":          "mongodb://db:27017",
		"ACCESS_TOKEN_SECRET":  "a-secret-a-secret",
		"ACCESS_TOKEN_EXPIRY":  "1h",
		"REFRESH_TOKEN_SECRET": "r-secret-r-secret",
		"REFRESH_TOKEN_EXPIRY": "10d",
		"COOKIE_SECURE":        "false",
		"BLOB_DRIVER":          "s3",
		"S3_BUCKET":            "avatars",
		"S3_USE_PATH_STYLE":    "true",
		"LOG_LEVEL":            "debug",
		"DB_PATH":              "", // empty values do not override
	}))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, DBDriverMongo, cfg.DB.Driver)
	assert.Equal(t, "mongodb://db:27017", cfg.DB.MongoURI)
	assert.Equal(t, "data/accounts.db", cfg.DB.Path)
	assert.Equal(t, time.Hour, cfg.Tokens.AccessTTL)
	assert.Equal(t, 240*time.Hour, cfg.Tokens.RefreshTTL)
	assert.False(t, cfg.Cookie.Secure)
	assert.Equal(t, "avatars", cfg.S3Blob().Bucket)
	assert.True(t, cfg.S3Blob().UsePathStyle)
	assert.Equal(t, "images", cfg.S3Blob().Prefix)
	require.NoError(t, cfg.Validate())

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORT":                "eighty",
		"ACCESS_TOKEN_EXPIRY": "soon",
		"COOKIE_SECURE":       "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "ACCESS_TOKEN_EXPIRY")
	assert.Contains(t, err.Error(), "COOKIE_SECURE")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
port: 8081
db:
  driver: sqlite
  path: /var/lib/accounts/accounts.db
tokens:
  access_secret: file-access-secret-123
  access_ttl: 5m
  refresh_secret: file-refresh-secret-123
  refresh_ttl: 48h
cookie:
  same_site: strict
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg := Default()
	require.NoError(t, cfg.loadFile(path))

	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, "/var/lib/accounts/accounts.db", cfg.DB.Path)
	assert.Equal(t, 5*time.Minute, cfg.Tokens.AccessTTL)
	assert.Equal(t, 48*time.Hour, cfg.Tokens.RefreshTTL)
	assert.True(t, cfg.Cookie.Secure, "unset keys keep their defaults")
	require.NoError(t, cfg.Validate())

	ss, err := cfg.SameSite()
	require.NoError(t, err)
	assert.Equal(t, http.SameSiteStrictMode, ss)
}

func TestLoadFile_MissingIsFineMalformedIsNot(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.loadFile(filepath.Join(t.TempDir(), "absent.yaml")))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("port: [not, a, number"), 0o600))
	assert.Error(t, cfg.loadFile(bad))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"unknown db driver", func(c *Config) { c.DB.Driver = "postgres" }},
		{"mongo without uri", func(c *Config) { c.DB.Driver = DBDriverMongo }},
		{"short secret", func(c *Config) { c.Tokens.AccessSecret = "short" }},
		{"identical secrets", func(c *Config) { c.Tokens.RefreshSecret = c.Tokens.AccessSecret }},
		{"refresh not longer than access", func(c *Config) { c.Tokens.RefreshTTL = c.Tokens.AccessTTL }},
		{"same_site none without secure", func(c *Config) {
			c.Cookie.SameSite = "none"
			c.Cookie.Secure = false
		}},
		{"unknown same_site", func(c *Config) { c.Cookie.SameSite = "sometimes" }},
		{"s3 without bucket", func(c *Config) { c.Blob.Driver = BlobDriverS3 }},
		{"unknown blob driver", func(c *Config) { c.Blob.Driver = "ftp" }},
		{"no upload limit", func(c *Config) { c.MaxUploadBytes = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"15m", 15 * time.Minute, false},
		{"1d", 24 * time.Hour, false},
		{"10d", 240 * time.Hour, false},
		{"xd", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
