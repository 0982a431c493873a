// Package syncutil provides per-key locking for account read-modify-write.
package syncutil

import (
	"context"
	"hash/fnv"
)

const defaultShards = 256

// KeyedMutex is a fixed pool of channel-backed mutexes addressed by key.
// Two keys may share a shard; that only costs throughput, never correctness.
// Waiters can give up when their context is cancelled.
type KeyedMutex struct {
	shards []chan struct{}
}

// NewKeyedMutex creates a mutex pool with n shards (256 when n <= 0).
func NewKeyedMutex(n int) *KeyedMutex {
	if n <= 0 {
		n = defaultShards
	}
	m := &KeyedMutex{shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// Lock acquires the shard for key. On success it returns an unlock func the
// caller must invoke exactly once. On cancellation it returns ctx.Err().
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	ch := m.shards[m.index(key)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the shard for key without waiting.
func (m *KeyedMutex) TryLock(key string) (func(), bool) {
	ch := m.shards[m.index(key)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, true
	default:
		return nil, false
	}
}

func (m *KeyedMutex) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
