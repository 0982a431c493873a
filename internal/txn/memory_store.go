package txn

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultRetention covers the longest window the risk engine queries (30d).
	DefaultRetention  = 31 * 24 * time.Hour
	maxEntriesPerAcct = 5000
)

// MemoryStore keeps per-account sliding windows in memory.
type MemoryStore struct {
	windows   sync.Map // accountID -> *accountWindow
	retention time.Duration
}

type accountWindow struct {
	mu      sync.Mutex
	entries []Transaction // sorted by CreatedAt
}

// NewMemoryStore creates an in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{retention: DefaultRetention}
}

func (s *MemoryStore) window(accountID string) *accountWindow {
	v, _ := s.windows.LoadOrStore(accountID, &accountWindow{})
	return v.(*accountWindow)
}

func (s *MemoryStore) Record(ctx context.Context, tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	w := s.window(tx.AccountID)
	w.mu.Lock()
	defer w.mu.Unlock()

	i := sort.Search(len(w.entries), func(i int) bool {
		return w.entries[i].CreatedAt.After(tx.CreatedAt)
	})
	w.entries = append(w.entries, Transaction{})
	copy(w.entries[i+1:], w.entries[i:])
	w.entries[i] = *tx

	s.prune(w, w.entries[len(w.entries)-1].CreatedAt)
	return nil
}

// prune drops entries older than retention relative to the newest entry and
// caps the window size. Caller holds w.mu.
func (s *MemoryStore) prune(w *accountWindow, newest time.Time) {
	cutoff := newest.Add(-s.retention)
	start := 0
	for start < len(w.entries) && w.entries[start].CreatedAt.Before(cutoff) {
		start++
	}
	if len(w.entries)-start > maxEntriesPerAcct {
		start = len(w.entries) - maxEntriesPerAcct
	}
	if start > 0 {
		w.entries = append([]Transaction(nil), w.entries[start:]...)
	}
}

func (s *MemoryStore) CountRecent(ctx context.Context, accountID string, op Operation, since time.Time) (int, error) {
	n := 0
	s.each(accountID, since, func(tx *Transaction) {
		if tx.Operation == op && tx.Status.countsForVelocity() {
			n++
		}
	})
	return n, nil
}

func (s *MemoryStore) RecentAmounts(ctx context.Context, accountID string, op Operation, since time.Time) ([]decimal.Decimal, error) {
	var out []decimal.Decimal
	s.each(accountID, since, func(tx *Transaction) {
		if tx.Operation == op && tx.Status == StatusCompleted {
			out = append(out, tx.AmountUSD)
		}
	})
	return out, nil
}

func (s *MemoryStore) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	n := 0
	s.each(accountID, since, func(*Transaction) { n++ })
	return n, nil
}

// each visits entries created at or after since.
func (s *MemoryStore) each(accountID string, since time.Time, fn func(tx *Transaction)) {
	v, ok := s.windows.Load(accountID)
	if !ok {
		return
	}
	w := v.(*accountWindow)
	w.mu.Lock()
	defer w.mu.Unlock()

	i := sort.Search(len(w.entries), func(i int) bool {
		return !w.entries[i].CreatedAt.Before(since)
	})
	for ; i < len(w.entries); i++ {
		fn(&w.entries[i])
	}
}
