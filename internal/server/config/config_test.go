package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DRIVE_AUTH__JWT_SECRET", "secret")
	t.Setenv("DRIVE_STORAGE__SIGNING_SECRET", "signing")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Server.GracefulShutdown)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "jwt", cfg.Auth.Mode)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "fs", cfg.Storage.Driver)
	assert.Equal(t, "signing", cfg.Storage.SigningSecret)
	assert.Equal(t, 60*time.Second, cfg.Storage.OwnerDownloadTTL)
	assert.Equal(t, time.Hour, cfg.Storage.ShareDownloadTTL)
	assert.True(t, cfg.Storage.VerifyUploads)
	assert.Equal(t, 24*time.Hour, cfg.Cleanup.PendingUploadTTL)
	assert.Equal(t, "@every 1h", cfg.Cleanup.Schedule)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
auth:
  jwt-secret: from-file
storage:
  signing-secret: sig
  share-download-ttl: 2h
cache:
  redis-addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("DRIVE_SERVER__PORT", "9191")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port, "env overrides file")
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.Storage.ShareDownloadTTL)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[auth]
jwt-secret = "toml-secret"

[storage]
signing-secret = "sig"
verify-uploads = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "toml-secret", cfg.Auth.JWTSecret)
	assert.False(t, cfg.Storage.VerifyUploads)
}

func TestLoad_MemoryDriver(t *testing.T) {
	t.Setenv("DRIVE_AUTH__JWT_SECRET", "secret")
	t.Setenv("DRIVE_STORAGE__SIGNING_SECRET", "signing")
	t.Setenv("DRIVE_DB__DRIVER", "memory")
	t.Setenv("DRIVE_DB__DATA_SOURCE", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.DB.Driver)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("missing jwt secret", func(t *testing.T) {
		t.Setenv("DRIVE_STORAGE__SIGNING_SECRET", "signing")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("unknown storage driver", func(t *testing.T) {
		t.Setenv("DRIVE_AUTH__JWT_SECRET", "secret")
		t.Setenv("DRIVE_STORAGE__DRIVER", "ftp")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("s3 driver without bucket", func(t *testing.T) {
		t.Setenv("DRIVE_AUTH__JWT_SECRET", "secret")
		t.Setenv("DRIVE_STORAGE__DRIVER", "s3")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("unsupported file extension", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "config.ini"))
		assert.Error(t, err)
	})
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DRIVE_DB__DATA_SOURCE", "db.data-source"},
		{"DRIVE_STORAGE__S3__BUCKET", "storage.s3.bucket"},
		{"DRIVE_SERVER__PORT", "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, _ := envKey(tt.in, "")
			assert.Equal(t, tt.want, got)
		})
	}
}
