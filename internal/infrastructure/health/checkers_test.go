package health_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infraDB "github.com/avatarctic/imitation-player/internal/infrastructure/db"
	"github.com/avatarctic/imitation-player/internal/infrastructure/health"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestDBHealthChecker(t *testing.T) {
	database, err := infraDB.NewDatabase(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)

	hc := health.NewDBHealthChecker("offline_cache", database)
	assert.Equal(t, "offline_cache", hc.Name())
	require.NoError(t, hc.Check(context.Background()))

	require.NoError(t, database.Close())
	assert.Error(t, hc.Check(context.Background()))
}

func TestProgressHealthChecker(t *testing.T) {
	hc := health.NewProgressHealthChecker(pingFunc(func(ctx context.Context) error { return nil }))
	assert.Equal(t, "progress_store", hc.Name())
	require.NoError(t, hc.Check(context.Background()))

	hc = health.NewProgressHealthChecker(pingFunc(func(ctx context.Context) error { return errors.New("unavailable") }))
	assert.Error(t, hc.Check(context.Background()))
}
