package workflow

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HistoryStore keeps push attempts.
type HistoryStore interface {
	// Log stores h, assigning ID and PushedAt when they are empty.
	Log(ctx context.Context, h *HistoryEntry) error
	// List returns matching entries, newest first.
	List(ctx context.Context, f Filter) ([]*HistoryEntry, error)
	// Stats counts matching entries. Filter.Limit is ignored.
	Stats(ctx context.Context, f Filter) (Statistics, error)
}

// RecordSink creates records in a department.
type RecordSink interface {
	Insert(ctx context.Context, departmentID int64, data map[string]any) (string, error)
}

func stamp(h *HistoryEntry) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.PushedAt.IsZero() {
		h.PushedAt = time.Now().UTC()
	}
}

// InMemoryHistory implements HistoryStore with a slice.
type InMemoryHistory struct {
	entries []*HistoryEntry
	mu      sync.RWMutex
}

func NewInMemoryHistory() *InMemoryHistory {
	return &InMemoryHistory{}
}

func (s *InMemoryHistory) Log(_ context.Context, h *HistoryEntry) error {
	stamp(h)
	if err := h.Validate(); err != nil {
		return err
	}
	cp := *h

	s.mu.Lock()
	s.entries = append(s.entries, &cp)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryHistory) List(_ context.Context, f Filter) ([]*HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*HistoryEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < f.limit(); i-- {
		if h := s.entries[i]; f.matches(h) {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryHistory) Stats(_ context.Context, f Filter) (Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, ok, failed int
	for _, h := range s.entries {
		if !f.matches(h) {
			continue
		}
		total++
		switch h.Status {
		case StatusSuccess:
			ok++
		case StatusFailed:
			failed++
		}
	}
	return newStatistics(total, ok, failed), nil
}

// InMemorySink stores pushed records in a map keyed by department.
type InMemorySink struct {
	records map[int64]map[string]map[string]any
	mu      sync.Mutex
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{records: make(map[int64]map[string]map[string]any)}
}

func (s *InMemorySink) Insert(_ context.Context, departmentID int64, data map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if s.records[departmentID] == nil {
		s.records[departmentID] = make(map[string]map[string]any)
	}
	s.records[departmentID][id] = maps.Clone(data)
	return id, nil
}

// Records returns the IDs of a department's records, sorted.
func (s *InMemorySink) Records(departmentID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.records[departmentID]))
}

// Record returns a copy of one stored record.
func (s *InMemorySink) Record(departmentID int64, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[departmentID][id]
	return maps.Clone(r), ok
}
