package analysis

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/mbd888/fraudswarm/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]*Record // userID → records in insertion order
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory analysis audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]*Record),
	}
}

func (s *MemoryStore) Record(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.UserID] = append(s.records[rec.UserID], cloneRecord(rec))
	return nil
}

// ListByUser returns the user's most recent records first, up to limit.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Record
	for _, rec := range s.records[userID] {
		if before.Before(rec.AnalyzedAt, rec.ID) {
			matched = append(matched, rec)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	slices.SortFunc(matched, func(a, b *Record) int {
		if c := b.AnalyzedAt.Compare(a.AnalyzedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	matched = matched[:min(limit, len(matched))]
	result := make([]*Record, len(matched))
	for i, rec := range matched {
		result[i] = cloneRecord(rec)
	}
	return result, nil
}
