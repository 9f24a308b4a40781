package mocks

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/avatarctic/imitation-player/internal/core/domain/progress"
)

// ProgressRepositoryMock is a lightweight mock for ProgressRepository
type ProgressRepositoryMock struct {
	GetOrderFn         func(ctx context.Context, listID string) (*progress.Order, error)
	SaveOrderFn        func(ctx context.Context, order *progress.Order) error
	GetCounterFn       func(ctx context.Context, itemKey string) (*progress.Counter, error)
	IncrementCounterFn func(ctx context.Context, itemKey string, now time.Time) (int, error)
	ScanCountersFn     func(ctx context.Context, prefix, after string, limit int) ([]*progress.Counter, error)
	PingFn             func(ctx context.Context) error
}

func (m *ProgressRepositoryMock) GetOrder(ctx context.Context, listID string) (*progress.Order, error) {
	if m.GetOrderFn != nil {
		return m.GetOrderFn(ctx, listID)
	}
	return nil, nil
}
func (m *ProgressRepositoryMock) SaveOrder(ctx context.Context, order *progress.Order) error {
	if m.SaveOrderFn != nil {
		return m.SaveOrderFn(ctx, order)
	}
	return nil
}
func (m *ProgressRepositoryMock) GetCounter(ctx context.Context, itemKey string) (*progress.Counter, error) {
	if m.GetCounterFn != nil {
		return m.GetCounterFn(ctx, itemKey)
	}
	return nil, nil
}
func (m *ProgressRepositoryMock) IncrementCounter(ctx context.Context, itemKey string, now time.Time) (int, error) {
	if m.IncrementCounterFn != nil {
		return m.IncrementCounterFn(ctx, itemKey, now)
	}
	return 0, fmt.Errorf("not implemented")
}
func (m *ProgressRepositoryMock) ScanCounters(ctx context.Context, prefix, after string, limit int) ([]*progress.Counter, error) {
	if m.ScanCountersFn != nil {
		return m.ScanCountersFn(ctx, prefix, after, limit)
	}
	return nil, nil
}
func (m *ProgressRepositoryMock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn(ctx)
	}
	return nil
}
func (m *ProgressRepositoryMock) Close() error { return nil }

// ProgressServiceMock is a lightweight mock for ProgressService
type ProgressServiceMock struct {
	InitializeFn     func(ctx context.Context) error
	AvailableFn      func() bool
	GetOrderRecordFn func(ctx context.Context, listID string) *progress.Order
	SaveOrderFn      func(ctx context.Context, listID string, orderedIDs []string)
	GetCounterFn     func(ctx context.Context, itemKey string) *progress.Counter
	IncrementCountFn func(ctx context.Context, itemKey string) int
	CountsFn         func(ctx context.Context, prefix string) map[string]int
}

func (m *ProgressServiceMock) Initialize(ctx context.Context) error {
	if m.InitializeFn != nil {
		return m.InitializeFn(ctx)
	}
	return nil
}
func (m *ProgressServiceMock) Available() bool {
	if m.AvailableFn != nil {
		return m.AvailableFn()
	}
	return true
}
func (m *ProgressServiceMock) GetOrder(ctx context.Context, listID string) ([]string, bool) {
	if o := m.GetOrderRecord(ctx, listID); o != nil {
		return o.IDs, true
	}
	return nil, false
}
func (m *ProgressServiceMock) GetOrderRecord(ctx context.Context, listID string) *progress.Order {
	if m.GetOrderRecordFn != nil {
		return m.GetOrderRecordFn(ctx, listID)
	}
	return nil
}
func (m *ProgressServiceMock) SaveOrder(ctx context.Context, listID string, orderedIDs []string) {
	if m.SaveOrderFn != nil {
		m.SaveOrderFn(ctx, listID, orderedIDs)
	}
}
func (m *ProgressServiceMock) GetCount(ctx context.Context, itemKey string) int {
	if c := m.GetCounter(ctx, itemKey); c != nil {
		return c.Value
	}
	return 0
}
func (m *ProgressServiceMock) GetCounter(ctx context.Context, itemKey string) *progress.Counter {
	if m.GetCounterFn != nil {
		return m.GetCounterFn(ctx, itemKey)
	}
	return nil
}
func (m *ProgressServiceMock) IncrementCount(ctx context.Context, itemKey string) int {
	if m.IncrementCountFn != nil {
		return m.IncrementCountFn(ctx, itemKey)
	}
	return 0
}
func (m *ProgressServiceMock) CountsByPrefix(ctx context.Context, prefix string) iter.Seq2[string, int] {
	return func(yield func(string, int) bool) {
		if m.CountsFn == nil {
			return
		}
		for k, v := range m.CountsFn(ctx, prefix) {
			if !yield(k, v) {
				return
			}
		}
	}
}
func (m *ProgressServiceMock) Practiced(ctx context.Context, prefix string) int {
	n := 0
	for _, v := range m.CountsByPrefix(ctx, prefix) {
		if v > 0 {
			n++
		}
	}
	return n
}

// RoundTripperMock is a lightweight mock for http.RoundTripper
type RoundTripperMock struct {
	RoundTripFn func(req *http.Request) (*http.Response, error)
}

func (m *RoundTripperMock) RoundTrip(req *http.Request) (*http.Response, error) {
	if m.RoundTripFn != nil {
		return m.RoundTripFn(req)
	}
	return nil, fmt.Errorf("network disabled")
}
