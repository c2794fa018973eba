package service

import (
	"sort"

	"github.com/noah-isme/iep-collab-api/internal/models"
)

// DefaultOperationLogLimit caps the per-document history.
const DefaultOperationLogLimit = 1000

// OperationLog is an append-only, size-bounded history of applied operations.
// It is not safe for concurrent use; the owning document lock serialises access.
type OperationLog struct {
	limit   int
	entries []models.OperationRecord
	keys    map[string]int
}

// NewOperationLog constructs a log keeping at most limit entries.
func NewOperationLog(limit int) *OperationLog {
	if limit <= 0 {
		limit = DefaultOperationLogLimit
	}
	return &OperationLog{limit: limit, keys: make(map[string]int)}
}

// Append records an entry, evicting the oldest once the cap is reached.
func (l *OperationLog) Append(record models.OperationRecord) {
	if len(l.entries) >= l.limit {
		evicted := l.entries[0]
		l.entries = append(l.entries[:0], l.entries[1:]...)
		l.forget(evicted.DedupKey())
	}
	l.entries = append(l.entries, record)
	l.keys[record.DedupKey()]++
}

// Contains reports whether an operation with the same author and timestamp was applied.
func (l *OperationLog) Contains(record models.OperationRecord) bool {
	return l.keys[record.DedupKey()] > 0
}

// Entries returns a copy of the log, oldest first.
func (l *OperationLog) Entries() []models.OperationRecord {
	out := make([]models.OperationRecord, len(l.entries))
	copy(out, l.entries)
	return out
}

// Tail returns up to n of the newest entries, oldest first.
func (l *OperationLog) Tail(n int) []models.OperationRecord {
	if n <= 0 || n >= len(l.entries) {
		return l.Entries()
	}
	out := make([]models.OperationRecord, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Len returns the number of retained entries.
func (l *OperationLog) Len() int {
	return len(l.entries)
}

// SortByTimestamp reorders entries by wall-clock time for audit display.
// Document state is not rebuilt from the new order.
func (l *OperationLog) SortByTimestamp() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		return l.entries[i].Timestamp.Before(l.entries[j].Timestamp)
	})
}

func (l *OperationLog) forget(key string) {
	if l.keys[key] <= 1 {
		delete(l.keys, key)
		return
	}
	l.keys[key]--
}
