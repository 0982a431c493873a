package alerts

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryStore is an in-memory alert store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
}

// NewMemoryStore creates an in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*Alert)}
}

func (s *MemoryStore) Create(ctx context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerts[a.ID]; exists {
		return errors.New("alert already exists")
	}
	s.alerts[a.ID] = clone(a)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return clone(a), nil
}

func (s *MemoryStore) Update(ctx context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[a.ID]; !ok {
		return ErrAlertNotFound
	}
	s.alerts[a.ID] = clone(a)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*Alert, int, error) {
	f.Normalize()

	s.mu.RLock()
	var matched []*Alert
	for _, a := range s.alerts {
		if matches(a, f) {
			matched = append(matched, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Keyset {
		kept := matched[:0:0]
		for _, a := range matched {
			if f.After.After(a.CreatedAt, a.ID) {
				kept = append(kept, a)
			}
		}
		matched = kept
	}
	start := f.Offset()
	if start >= len(matched) {
		return []*Alert{}, total, nil
	}
	end := start + f.FetchLimit()
	if end > len(matched) {
		end = len(matched)
	}

	page := make([]*Alert, 0, end-start)
	for _, a := range matched[start:end] {
		page = append(page, clone(a))
	}
	return page, total, nil
}

func matches(a *Alert, f Filter) bool {
	if f.AccountID != "" && a.AccountID != f.AccountID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	return true
}
