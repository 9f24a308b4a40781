package configs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/avatarctic/imitation-player/configs"
	"github.com/avatarctic/imitation-player/internal/core/domain/offline"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ORIGIN_URL", "http://origin.test")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, "imitation-player-v2", cfg.Cache.Generation)
	assert.Equal(t, "/audio/", cfg.Cache.AudioMarker)
	assert.Equal(t, "/index.html", cfg.Cache.RootDocument)
	assert.Equal(t, offline.DefaultShell, cfg.Cache.Shell)
	assert.Equal(t, "data/progress.db", cfg.Database.Path)
	assert.Equal(t, "data/offline-cache.db", cfg.Cache.Database.Path)
	assert.Equal(t, 1, cfg.Cache.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ORIGIN_URL", "http://origin.test")
	t.Setenv("CACHE_BACKEND", "REDIS")
	t.Setenv("CACHE_GENERATION", "imitation-player-v3")
	t.Setenv("CACHE_SHELL", " /, /index.html ,,/app.js")
	t.Setenv("DB_BUSY_TIMEOUT", "250ms")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "imitation-player-v3", cfg.Cache.Generation)
	assert.Equal(t, []string{"/", "/index.html", "/app.js"}, cfg.Cache.Shell)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.BusyTimeout)
	assert.Equal(t, 0, cfg.Redis.DB)
}

func TestLoad_ShellIsNotShared(t *testing.T) {
	t.Setenv("ORIGIN_URL", "http://origin.test")

	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Cache.Shell[0] = "/changed"
	assert.Equal(t, "/", offline.DefaultShell[0])
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("ORIGIN_URL", "http://origin.test")
	t.Setenv("CACHE_BACKEND", "memcached")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_PanicsWithoutOrigin(t *testing.T) {
	t.Setenv("ORIGIN_URL", "")
	assert.Panics(t, func() { _, _ = config.Load() })
}
