package risk

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory profile store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryStore creates an in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

func (s *MemoryStore) Get(ctx context.Context, accountID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[accountID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.profiles[p.AccountID]; exists {
		return ErrProfileExists
	}
	p.Version = 1
	s.profiles[p.AccountID] = p.Clone()
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.profiles[p.AccountID]
	if !ok {
		return ErrProfileNotFound
	}
	if cur.Version != p.Version {
		return ErrVersionConflict
	}
	p.Version++
	s.profiles[p.AccountID] = p.Clone()
	return nil
}

func (s *MemoryStore) ListDueForReview(ctx context.Context, t time.Time, limit int) ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Profile
	for _, p := range s.profiles {
		if !p.NextReview.After(t) {
			due = append(due, p.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextReview.Before(due[j].NextReview)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}
