package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avatarctic/imitation-player/internal/core/domain/progress"
	"github.com/avatarctic/imitation-player/internal/core/ports"
	"github.com/avatarctic/imitation-player/internal/infrastructure/db"
)

// ProgressRepository stores order and counter records in the kv table.
type ProgressRepository struct {
	db *db.Database
}

type kvRow struct {
	Key       string `db:"key"`
	Value     string `db:"value"`
	UpdatedAt int64  `db:"updated_at"`
}

// NewProgressRepository creates a new progress repository
func NewProgressRepository(database *db.Database) ports.ProgressRepository {
	return &ProgressRepository{db: database}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

const upsertKV = `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// GetOrder retrieves the stored order of a list. A value that is not a JSON
// array of strings reads as absent.
func (r *ProgressRepository) GetOrder(ctx context.Context, listID string) (*progress.Order, error) {
	var row kvRow
	err := r.db.DB.GetContext(ctx, &row, `SELECT key, value, updated_at FROM kv WHERE key = ?`, progress.OrderKey(listID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(row.Value), &ids); err != nil || ids == nil {
		return nil, nil
	}
	return &progress.Order{ListID: listID, IDs: ids, UpdatedAt: fromMillis(row.UpdatedAt)}, nil
}

// SaveOrder replaces the stored order in a single statement.
func (r *ProgressRepository) SaveOrder(ctx context.Context, order *progress.Order) error {
	ids := order.IDs
	if ids == nil {
		ids = []string{}
	}
	value, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}
	if _, err := r.db.DB.ExecContext(ctx, upsertKV, progress.OrderKey(order.ListID), string(value), toMillis(order.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// GetCounter retrieves a counter record.
func (r *ProgressRepository) GetCounter(ctx context.Context, itemKey string) (*progress.Counter, error) {
	var row kvRow
	err := r.db.DB.GetContext(ctx, &row, `SELECT key, value, updated_at FROM kv WHERE key = ?`, progress.CountKey(itemKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load count: %w", err)
	}
	return &progress.Counter{Key: itemKey, Value: progress.ParseCount(row.Value), UpdatedAt: fromMillis(row.UpdatedAt)}, nil
}

// IncrementCounter performs the read-modify-write inside one transaction.
func (r *ProgressRepository) IncrementCounter(ctx context.Context, itemKey string, now time.Time) (int, error) {
	key := progress.CountKey(itemKey)
	tx, err := r.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	if err := tx.GetContext(ctx, &raw, `SELECT value FROM kv WHERE key = ?`, key); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to read count: %w", err)
	}
	next := progress.ParseCount(raw) + 1

	if _, err := tx.ExecContext(ctx, upsertKV, key, strconv.Itoa(next), toMillis(now)); err != nil {
		return 0, fmt.Errorf("failed to increment count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit count: %w", err)
	}
	return next, nil
}

// ScanCounters walks the counter key range for prefix in primary key order.
func (r *ProgressRepository) ScanCounters(ctx context.Context, prefix, after string, limit int) ([]*progress.Counter, error) {
	lo, hi := progress.KeyRange(progress.CountKey(prefix))

	var where []string
	args := []any{lo}
	where = append(where, "key >= ?")
	if hi != "" {
		where = append(where, "key < ?")
		args = append(args, hi)
	}
	if after != "" {
		where = append(where, "key > ?")
		args = append(args, progress.CountKey(after))
	}
	query := `SELECT key, value, updated_at FROM kv WHERE ` + strings.Join(where, " AND ") + ` ORDER BY key`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []kvRow
	if err := r.db.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to scan counts: %w", err)
	}
	counters := make([]*progress.Counter, 0, len(rows))
	for _, row := range rows {
		counters = append(counters, &progress.Counter{
			Key:       strings.TrimPrefix(row.Key, progress.CountKeyPrefix),
			Value:     progress.ParseCount(row.Value),
			UpdatedAt: fromMillis(row.UpdatedAt),
		})
	}
	return counters, nil
}

func (r *ProgressRepository) Ping(ctx context.Context) error {
	return r.db.DB.PingContext(ctx)
}

func (r *ProgressRepository) Close() error {
	return r.db.Close()
}
