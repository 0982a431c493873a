package txn

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping redis test")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() {
		_ = client.Del(context.Background(), historyKey("redis-acct")).Err()
		_ = client.Close()
	})
	require.NoError(t, client.Ping(context.Background()).Err())

	return NewRedisStore(client)
}

func TestRedisStore_Windows(t *testing.T) {
	s := newRedisTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	record(t, s, "redis-acct", OpDeposit, 100, StatusCompleted, now.Add(-10*time.Minute))
	record(t, s, "redis-acct", OpDeposit, 200, StatusProcessing, now.Add(-5*time.Minute))
	record(t, s, "redis-acct", OpDeposit, 300, StatusFailed, now.Add(-4*time.Minute))
	record(t, s, "redis-acct", OpTrade, 400, StatusCompleted, now.Add(-3*time.Hour))

	n, err := s.CountRecent(ctx, "redis-acct", OpDeposit, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	amounts, err := s.RecentAmounts(ctx, "redis-acct", OpDeposit, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, amounts, 1)
	assert.Equal(t, "100", amounts[0].String())

	n, err = s.CountSince(ctx, "redis-acct", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
