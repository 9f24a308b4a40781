package services

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/avatarctic/imitation-player/internal/core/domain/progress"
	"github.com/avatarctic/imitation-player/internal/core/ports"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const defaultScanBatch = 256

var _ ports.ProgressService = (*ProgressService)(nil)

// ProgressService is the local state store for list orders and practice
// counters. The backend is opened lazily, once, and shared by all callers.
// When it cannot be opened every operation degrades to its default.
type ProgressService struct {
	open   ports.ProgressOpener
	logger *logrus.Logger
	now    func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	ready   bool
	repo    ports.ProgressRepository
	initErr error

	warnOnce  sync.Once
	locks     *keyedMutex
	scanBatch int
}

// ProgressOption tweaks a ProgressService.
type ProgressOption func(*ProgressService)

// WithClock overrides the time source used for update stamps.
func WithClock(now func() time.Time) ProgressOption {
	return func(s *ProgressService) { s.now = now }
}

// WithScanBatch sets how many counters a prefix scan loads per round trip.
func WithScanBatch(n int) ProgressOption {
	return func(s *ProgressService) {
		if n > 0 {
			s.scanBatch = n
		}
	}
}

func NewProgressService(open ports.ProgressOpener, logger *logrus.Logger, opts ...ProgressOption) *ProgressService {
	s := &ProgressService{
		open:      open,
		logger:    logger,
		now:       time.Now,
		locks:     newKeyedMutex(),
		scanBatch: defaultScanBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize opens the backend. Concurrent callers share a single attempt
// and its outcome is kept for the life of the service. The returned error is
// informational: on failure the service keeps answering with defaults.
func (s *ProgressService) Initialize(ctx context.Context) error {
	if ok, err := s.state(); ok {
		return err
	}
	_, err, _ := s.group.Do("init", func() (any, error) {
		if ok, err := s.state(); ok {
			return nil, err
		}
		var repo ports.ProgressRepository
		var err error
		if s.open == nil {
			err = fmt.Errorf("%w: no backend configured", progress.ErrBackendUnavailable)
		} else {
			// One caller giving up must not fail initialization for everybody else.
			repo, err = s.open(context.WithoutCancel(ctx))
			if err != nil {
				err = fmt.Errorf("%w: %w", progress.ErrBackendUnavailable, err)
			}
		}

		s.mu.Lock()
		s.ready = true
		s.repo = repo
		s.initErr = err
		s.mu.Unlock()

		if err != nil {
			s.warnUnavailable(err)
		} else if s.logger != nil {
			s.logger.Info("progress store initialized")
		}
		return nil, err
	})
	return err
}

func (s *ProgressService) state() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready, s.initErr
}

// Available reports whether the durable backend is open.
func (s *ProgressService) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo != nil
}

// backend waits for initialization and returns nil in degraded mode.
func (s *ProgressService) backend(ctx context.Context) ports.ProgressRepository {
	_ = s.Initialize(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo
}

// Ping checks the backend for health reporting.
func (s *ProgressService) Ping(ctx context.Context) error {
	repo := s.backend(ctx)
	if repo == nil {
		_, err := s.state()
		return err
	}
	return repo.Ping(ctx)
}

// Close releases the backend, if one was opened.
func (s *ProgressService) Close() error {
	s.mu.Lock()
	repo := s.repo
	s.repo = nil
	s.mu.Unlock()
	if repo == nil {
		return nil
	}
	return repo.Close()
}

func (s *ProgressService) warnUnavailable(err error) {
	s.warnOnce.Do(func() {
		if s.logger != nil {
			s.logger.WithError(err).Warn("progress store unavailable; running without persistence")
		}
	})
}

func (s *ProgressService) logFailure(op, key string, err error) {
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"op": op, "key": key}).WithError(err).Warn("progress store operation failed")
	}
}

// GetOrder returns the saved order for listID, or false if none was saved.
func (s *ProgressService) GetOrder(ctx context.Context, listID string) ([]string, bool) {
	order := s.GetOrderRecord(ctx, listID)
	if order == nil {
		return nil, false
	}
	return order.IDs, true
}

// GetOrderRecord returns the saved order with its update stamp, or nil.
func (s *ProgressService) GetOrderRecord(ctx context.Context, listID string) *progress.Order {
	repo := s.backend(ctx)
	if repo == nil {
		return nil
	}
	order, err := repo.GetOrder(ctx, listID)
	if err != nil {
		s.logFailure("getOrder", progress.OrderKey(listID), err)
		return nil
	}
	return order
}

// SaveOrder replaces the saved order of listID. Duplicate ids are dropped.
func (s *ProgressService) SaveOrder(ctx context.Context, listID string, orderedIDs []string) {
	repo := s.backend(ctx)
	if repo == nil {
		return
	}
	order := &progress.Order{ListID: listID, IDs: progress.NormalizeIDs(orderedIDs), UpdatedAt: s.now()}
	if err := repo.SaveOrder(ctx, order); err != nil {
		s.logFailure("saveOrder", progress.OrderKey(listID), err)
	}
}

// GetCount returns the counter value for itemKey, zero if unset.
func (s *ProgressService) GetCount(ctx context.Context, itemKey string) int {
	if c := s.GetCounter(ctx, itemKey); c != nil {
		return c.Value
	}
	return 0
}

// GetCounter returns the counter record for itemKey, or nil.
func (s *ProgressService) GetCounter(ctx context.Context, itemKey string) *progress.Counter {
	repo := s.backend(ctx)
	if repo == nil {
		return nil
	}
	c, err := repo.GetCounter(ctx, itemKey)
	if err != nil {
		s.logFailure("getCount", progress.CountKey(itemKey), err)
		return nil
	}
	return c
}

// IncrementCount adds one to the counter and returns the new value. Calls for
// the same key are serialized; a failed call returns 0.
func (s *ProgressService) IncrementCount(ctx context.Context, itemKey string) int {
	repo := s.backend(ctx)
	if repo == nil {
		return 0
	}
	unlock := s.locks.Lock(itemKey)
	defer unlock()

	next, err := repo.IncrementCounter(ctx, itemKey, s.now())
	if err != nil {
		s.logFailure("incrementCount", progress.CountKey(itemKey), err)
		return 0
	}
	return next
}

// CountsByPrefix yields (item key, count) for every counter under prefix in
// stored key order. Each iteration runs a fresh scan, loaded in batches so
// no database connection is held while the caller's loop body runs.
func (s *ProgressService) CountsByPrefix(ctx context.Context, prefix string) iter.Seq2[string, int] {
	prefix = progress.TrimCountPrefix(prefix)
	return func(yield func(string, int) bool) {
		repo := s.backend(ctx)
		if repo == nil {
			return
		}
		after := ""
		for {
			batch, err := repo.ScanCounters(ctx, prefix, after, s.scanBatch)
			if err != nil {
				s.logFailure("getCountsByPrefix", progress.CountKey(prefix), err)
				return
			}
			for _, c := range batch {
				if !yield(c.Key, c.Value) {
					return
				}
			}
			if len(batch) < s.scanBatch {
				return
			}
			after = batch[len(batch)-1].Key
		}
	}
}

// Practiced counts the items under prefix that were practiced at least once.
func (s *ProgressService) Practiced(ctx context.Context, prefix string) int {
	n := 0
	for _, count := range s.CountsByPrefix(ctx, prefix) {
		if count > 0 {
			n++
		}
	}
	return n
}
