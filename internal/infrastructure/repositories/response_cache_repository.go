package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/avatarctic/imitation-player/internal/core/domain/offline"
	"github.com/avatarctic/imitation-player/internal/core/ports"
	"github.com/avatarctic/imitation-player/internal/infrastructure/db"
	"github.com/jmoiron/sqlx"
)

const activeGenerationKey = "active_generation"

// ResponseCacheRepository implements ports.ResponseCache on SQLite.
type ResponseCacheRepository struct {
	db *db.Database
}

type cacheRow struct {
	Generation string `db:"generation"`
	URL        string `db:"url"`
	Status     int    `db:"status"`
	Header     string `db:"header"`
	Body       []byte `db:"body"`
	StoredAt   int64  `db:"stored_at"`
}

// NewResponseCacheRepository creates a SQLite-backed response cache.
func NewResponseCacheRepository(database *db.Database) ports.ResponseCache {
	return &ResponseCacheRepository{db: database}
}

func (r *ResponseCacheRepository) Match(ctx context.Context, generation, key string) (*offline.Entry, error) {
	var row cacheRow
	err := r.db.DB.GetContext(ctx, &row,
		`SELECT generation, url, status, header, body, stored_at FROM cache_entries WHERE generation = ? AND url = ?`,
		generation, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to match cache entry: %w", err)
	}
	header := http.Header{}
	if err := json.Unmarshal([]byte(row.Header), &header); err != nil {
		return nil, fmt.Errorf("failed to decode cached headers: %w", err)
	}
	body := row.Body
	if body == nil {
		body = []byte{}
	}
	return &offline.Entry{URL: row.URL, Status: row.Status, Header: header, Body: body, StoredAt: fromMillis(row.StoredAt)}, nil
}

func (r *ResponseCacheRepository) Put(ctx context.Context, generation string, entry *offline.Entry) error {
	return r.put(ctx, r.db.DB, generation, entry, false)
}

func (r *ResponseCacheRepository) PutIfAbsent(ctx context.Context, generation string, entry *offline.Entry) (bool, error) {
	res, err := r.exec(ctx, r.db.DB, generation, entry, true)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *ResponseCacheRepository) PutAll(ctx context.Context, generation string, entries []*offline.Entry) error {
	tx, err := r.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, entry := range entries {
		if err := r.put(ctx, tx, generation, entry, false); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache entries: %w", err)
	}
	return nil
}

func (r *ResponseCacheRepository) put(ctx context.Context, ex sqlx.ExecerContext, generation string, entry *offline.Entry, ifAbsent bool) error {
	_, err := r.exec(ctx, ex, generation, entry, ifAbsent)
	return err
}

func (r *ResponseCacheRepository) exec(ctx context.Context, ex sqlx.ExecerContext, generation string, entry *offline.Entry, ifAbsent bool) (sql.Result, error) {
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to encode headers: %w", err)
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}
	conflict := `DO UPDATE SET status = excluded.status, header = excluded.header, body = excluded.body, stored_at = excluded.stored_at`
	if ifAbsent {
		conflict = `DO NOTHING`
	}
	query := `
		INSERT INTO cache_entries (generation, url, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(generation, url) ` + conflict
	res, err := ex.ExecContext(ctx, query, generation, entry.URL, entry.Status, string(header), body, toMillis(entry.StoredAt))
	if err != nil {
		return nil, fmt.Errorf("failed to store cache entry: %w", err)
	}
	return res, nil
}

func (r *ResponseCacheRepository) Generations(ctx context.Context) ([]string, error) {
	var gens []string
	if err := r.db.DB.SelectContext(ctx, &gens, `SELECT DISTINCT generation FROM cache_entries ORDER BY generation`); err != nil {
		return nil, fmt.Errorf("failed to list cache generations: %w", err)
	}
	return gens, nil
}

func (r *ResponseCacheRepository) DeleteGeneration(ctx context.Context, generation string) error {
	if _, err := r.db.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE generation = ?`, generation); err != nil {
		return fmt.Errorf("failed to delete cache generation %s: %w", generation, err)
	}
	return nil
}

func (r *ResponseCacheRepository) ActiveGeneration(ctx context.Context) (string, error) {
	var gen string
	err := r.db.DB.GetContext(ctx, &gen, `SELECT value FROM cache_meta WHERE name = ?`, activeGenerationKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load active generation: %w", err)
	}
	return gen, nil
}

func (r *ResponseCacheRepository) SetActiveGeneration(ctx context.Context, generation string) error {
	_, err := r.db.DB.ExecContext(ctx, `
		INSERT INTO cache_meta (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, activeGenerationKey, generation)
	if err != nil {
		return fmt.Errorf("failed to store active generation: %w", err)
	}
	return nil
}
