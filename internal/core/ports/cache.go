package ports

import (
	"context"

	"github.com/avatarctic/imitation-player/internal/core/domain/offline"
)

// ResponseCache stores responses grouped by cache generation.
// Match returns (nil, nil) on a miss.
type ResponseCache interface {
	Match(ctx context.Context, generation, key string) (*offline.Entry, error)
	// Put stores entry, replacing any previous entry for the same URL.
	Put(ctx context.Context, generation string, entry *offline.Entry) error
	// PutIfAbsent stores entry only when no entry exists for the URL and
	// reports whether it was stored.
	PutIfAbsent(ctx context.Context, generation string, entry *offline.Entry) (bool, error)
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, generation string, entries []*offline.Entry) error
	Generations(ctx context.Context) ([]string, error)
	DeleteGeneration(ctx context.Context, generation string) error
	// ActiveGeneration returns "" when no generation was ever activated.
	ActiveGeneration(ctx context.Context) (string, error)
	SetActiveGeneration(ctx context.Context, generation string) error
}
