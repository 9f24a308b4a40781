package ports

import (
	"context"
	"iter"
	"time"

	"github.com/avatarctic/imitation-player/internal/core/domain/progress"
)

// ProgressRepository is the durable backend of the progress store.
// Getters return (nil, nil) when the record does not exist.
type ProgressRepository interface {
	GetOrder(ctx context.Context, listID string) (*progress.Order, error)
	SaveOrder(ctx context.Context, order *progress.Order) error
	GetCounter(ctx context.Context, itemKey string) (*progress.Counter, error)
	// IncrementCounter reads, increments and writes the counter in one
	// transaction and returns the new value.
	IncrementCounter(ctx context.Context, itemKey string, now time.Time) (int, error)
	// ScanCounters returns up to limit counters whose item key starts with
	// prefix and sorts after after, in key order.
	ScanCounters(ctx context.Context, prefix, after string, limit int) ([]*progress.Counter, error)
	Ping(ctx context.Context) error
	Close() error
}

// ProgressOpener opens the durable backend. It is called at most once.
type ProgressOpener func(ctx context.Context) (ProgressRepository, error)

// ProgressService is the progress store used by the UI. No method fails:
// when the backend is unavailable reads return defaults and writes are
// dropped.
type ProgressService interface {
	Initialize(ctx context.Context) error
	Available() bool

	GetOrder(ctx context.Context, listID string) ([]string, bool)
	GetOrderRecord(ctx context.Context, listID string) *progress.Order
	SaveOrder(ctx context.Context, listID string, orderedIDs []string)

	GetCount(ctx context.Context, itemKey string) int
	GetCounter(ctx context.Context, itemKey string) *progress.Counter
	IncrementCount(ctx context.Context, itemKey string) int
	CountsByPrefix(ctx context.Context, prefix string) iter.Seq2[string, int]
	Practiced(ctx context.Context, prefix string) int
}
