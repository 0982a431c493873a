package syncutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	m := NewKeyedMutex(0)
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	const n = 100

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "acct-1")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != n {
		t.Fatalf("expected %d, got %d", n, counter)
	}
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex(0)

	unlock, err := m.Lock(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := m.Lock(ctx, "acct-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestKeyedMutex_TryLock(t *testing.T) {
	m := NewKeyedMutex(4)

	unlock, ok := m.TryLock("acct-1")
	if !ok {
		t.Fatal("expected first TryLock to succeed")
	}
	if _, ok := m.TryLock("acct-1"); ok {
		t.Fatal("expected second TryLock on same key to fail")
	}
	unlock()

	unlock, ok = m.TryLock("acct-1")
	if !ok {
		t.Fatal("expected TryLock to succeed after unlock")
	}
	unlock()
}

func TestKeyedMutex_UnlockWakesWaiter(t *testing.T) {
	m := NewKeyedMutex(0)
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "relay")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := m.Lock(ctx, "relay")
		if err != nil {
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired lock before release")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter did not acquire lock after release")
	}
}
