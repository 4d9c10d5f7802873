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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: A settings file
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
database:
  driver: postgres
  url: postgres://file
redis:
  addr: localhost:6379
log:
  level: debug
`), 0o644))

	// AND: Environment overrides for some keys
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	// WHEN: Loading
	cfg, err := Load(path)
	require.NoError(t, err)

	// THEN: The file sets values and the environment wins where set
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "postgres://env", cfg.DB.URL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Run("port", func(t *testing.T) {
		t.Setenv("PORT", "eighty")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("shutdown timeout", func(t *testing.T) {
		t.Setenv("SHUTDOWN_TIMEOUT", "soon")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
