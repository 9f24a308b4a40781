package progress

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	OrderKeyPrefix = "order:"
	CountKeyPrefix = "count:"
)

// ErrBackendUnavailable marks the store as running without durable storage.
var ErrBackendUnavailable = errors.New("progress backend unavailable")

// Order is the user-chosen ordering of a list's items.
type Order struct {
	ListID    string    `json:"list"`
	IDs       []string  `json:"ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Counter is a per-item practice count.
type Counter struct {
	Key       string    `json:"key"`
	Value     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

func OrderKey(listID string) string { return OrderKeyPrefix + listID }

func CountKey(itemKey string) string { return CountKeyPrefix + itemKey }

// TrimCountPrefix accepts both item-key prefixes ("slash:set-1:") and
// storage-key prefixes ("count:slash:set-1:") and returns the former.
func TrimCountPrefix(prefix string) string {
	return strings.TrimPrefix(prefix, CountKeyPrefix)
}

// EntryCounterKey builds the composite counter key feature:list:item. Items
// without an id are addressed by their position in the list.
func EntryCounterKey(feature, listID, itemID string, index int) string {
	if itemID == "" {
		itemID = fmt.Sprintf("entry-%d", index)
	}
	return feature + ":" + listID + ":" + itemID
}

// NormalizeIDs drops duplicate ids, keeping the first occurrence. The result
// is never nil.
func NormalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ParseCount reads a stored counter value. Anything that is not a finite
// number yields zero; negative values are clamped to zero.
func ParseCount(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

// ApplyOrder arranges items by a stored order. Ids in ordered that match no
// item are skipped, and items missing from ordered are appended in their
// original order.
func ApplyOrder[T any](items []T, id func(T) string, ordered []string) []T {
	if len(ordered) == 0 {
		return items
	}
	byID := make(map[string]int, len(items))
	for i, item := range items {
		if _, ok := byID[id(item)]; !ok {
			byID[id(item)] = i
		}
	}
	used := make([]bool, len(items))
	out := make([]T, 0, len(items))
	for _, want := range ordered {
		i, ok := byID[want]
		if !ok || used[i] {
			continue
		}
		used[i] = true
		out = append(out, items[i])
	}
	for i, item := range items {
		if !used[i] {
			out = append(out, item)
		}
	}
	return out
}

// KeyRange returns the half-open storage key range [lo, hi) covering every
// key that starts with prefix. An empty hi means the range is unbounded.
func KeyRange(prefix string) (lo, hi string) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return prefix, string(b[:i+1])
		}
	}
	return prefix, ""
}
