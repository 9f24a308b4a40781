package repositories_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/avatarctic/imitation-player/internal/core/domain/progress"
	"github.com/avatarctic/imitation-player/internal/core/ports"
	"github.com/avatarctic/imitation-player/internal/infrastructure/db"
	"github.com/avatarctic/imitation-player/internal/infrastructure/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDatabase(t *testing.T, dir string) *db.Database {
	t.Helper()
	database, err := db.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(dir))
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func newProgressRepo(t *testing.T) (ports.ProgressRepository, *db.Database) {
	database := openDatabase(t, db.ProgressMigrations)
	return repositories.NewProgressRepository(database), database
}

func TestProgressRepository_OrderRoundTrip(t *testing.T) {
	repo, _ := newProgressRepo(t)
	ctx := context.Background()

	got, err := repo.GetOrder(ctx, "slash")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.UnixMilli(1_700_000_000_123).UTC()
	require.NoError(t, repo.SaveOrder(ctx, &progress.Order{ListID: "slash", IDs: []string{"b", "a"}, UpdatedAt: now}))

	got, err = repo.GetOrder(ctx, "slash")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"b", "a"}, got.IDs)
	assert.Equal(t, now, got.UpdatedAt)

	require.NoError(t, repo.SaveOrder(ctx, &progress.Order{ListID: "slash", IDs: []string{"c"}, UpdatedAt: now.Add(time.Second)}))
	got, err = repo.GetOrder(ctx, "slash")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got.IDs)
	assert.Equal(t, now.Add(time.Second), got.UpdatedAt)
}

func TestProgressRepository_NilOrderStoresEmptyList(t *testing.T) {
	repo, _ := newProgressRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveOrder(ctx, &progress.Order{ListID: "x", UpdatedAt: time.Now()}))
	got, err := repo.GetOrder(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.IDs)
}

func TestProgressRepository_MalformedOrderReadsAsAbsent(t *testing.T) {
	repo, database := newProgressRepo(t)
	_, err := database.DB.Exec(`INSERT INTO kv (key, value, updated_at) VALUES ('order:bad', '{"a":1}', 0)`)
	require.NoError(t, err)

	got, err := repo.GetOrder(context.Background(), "bad")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProgressRepository_IncrementCounter(t *testing.T) {
	repo, database := newProgressRepo(t)
	ctx := context.Background()

	c, err := repo.GetCounter(ctx, "slash:set-1:e1")
	require.NoError(t, err)
	assert.Nil(t, c)

	for want := 1; want <= 3; want++ {
		n, err := repo.IncrementCounter(ctx, "slash:set-1:e1", time.Now())
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	c, err = repo.GetCounter(ctx, "slash:set-1:e1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 3, c.Value)
	assert.False(t, c.UpdatedAt.IsZero())

	_, err = database.DB.Exec(`INSERT INTO kv (key, value, updated_at) VALUES ('count:junk', '"abc"', 0)`)
	require.NoError(t, err)
	n, err := repo.IncrementCounter(ctx, "junk", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProgressRepository_ScanCountersByPrefix(t *testing.T) {
	repo, _ := newProgressRepo(t)
	ctx := context.Background()

	for _, key := range []string{"slash:s1:a", "slash:s1:b", "slash:s1:b", "slash:s2:a", "shadow:s1:a", "slash:s1"} {
		_, err := repo.IncrementCounter(ctx, key, time.Now())
		require.NoError(t, err)
	}
	require.NoError(t, repo.SaveOrder(ctx, &progress.Order{ListID: "slash:s1:zzz", IDs: []string{"q"}}))

	got, err := repo.ScanCounters(ctx, "slash:s1:", "", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "slash:s1:a", got[0].Key)
	assert.Equal(t, 1, got[0].Value)
	assert.Equal(t, "slash:s1:b", got[1].Key)
	assert.Equal(t, 2, got[1].Value)

	page, err := repo.ScanCounters(ctx, "slash:", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	rest, err := repo.ScanCounters(ctx, "slash:", page[1].Key, 10)
	require.NoError(t, err)
	keys := []string{page[0].Key, page[1].Key}
	for _, c := range rest {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{"slash:s1", "slash:s1:a", "slash:s1:b", "slash:s2:a"}, keys)
}

func TestProgressRepository_Ping(t *testing.T) {
	repo, _ := newProgressRepo(t)
	require.NoError(t, repo.Ping(context.Background()))
}
