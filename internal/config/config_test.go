package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "DATABASE_URL", "PROTEST_DATA_SERVICE", "REDIS_ADDR", "REDIS_PASSWORD",
		"AUTH_SECRET", "FUNCTIONS_URL", "FUNCTIONS_KEY", "STORAGE_ROOT", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(t.TempDir())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "protestdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
data:
  backend: sql
sessions:
  intake_ttl: 2h
support:
  email: help@example.com
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sql", cfg.Data.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Sessions.IntakeTTL)
	assert.Equal(t, 8*time.Hour, cfg.Sessions.ConciergeTTL, "unset keys keep defaults")
	assert.Equal(t, "help@example.com", cfg.Support.Email)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")
	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("AUTH_SECRET", "0123456789abcdef0123")
	t.Setenv("FUNCTIONS_URL", "https://fn.example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "sql", cfg.Data.Backend, "DATABASE_URL implies the sql backend")
	assert.Equal(t, "file:test.db", cfg.Data.DatabaseURL)
	assert.Equal(t, "redis", cfg.Sessions.Backend)
	assert.Equal(t, "redis:6379", cfg.Sessions.RedisAddr)
	assert.Equal(t, "0123456789abcdef0123", cfg.Auth.Secret)
	assert.Equal(t, "remote", cfg.Functions.Mode)

	t.Setenv("PROTEST_DATA_SERVICE", "stub")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "stub", cfg.Data.Backend)
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.WriteFile(".env", []byte("PORT=6060\nLOG_LEVEL=debug\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")
	_, err := Load("")
	require.Error(t, err)

	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("functions:\n  mode: remote\n"), 0o600))
	_, err = Load(path)
	assert.ErrorContains(t, err, "base_url")
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	cfg.Server.Port = 8181
	path := filepath.Join(t.TempDir(), "nested", "cfg.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
