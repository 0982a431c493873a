package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const redisKeyPattern = "risk:history:%s"

// RedisStore keeps each account's history in a sorted set scored by
// creation time (unix ms). Entries older than the retention window are
// trimmed on write and the key expires when the account goes quiet.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedisStore creates a Redis-backed history store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, retention: DefaultRetention}
}

func historyKey(accountID string) string {
	return fmt.Sprintf(redisKeyPattern, accountID)
}

func (s *RedisStore) Record(ctx context.Context, tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	member, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	key := historyKey(tx.AccountID)
	cutoff := tx.CreatedAt.Add(-s.retention).UnixMilli()

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(tx.CreatedAt.UnixMilli()), Member: member})
		p.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		p.Expire(ctx, key, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

func (s *RedisStore) CountRecent(ctx context.Context, accountID string, op Operation, since time.Time) (int, error) {
	txs, err := s.since(ctx, accountID, since)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, tx := range txs {
		if tx.Operation == op && tx.Status.countsForVelocity() {
			n++
		}
	}
	return n, nil
}

func (s *RedisStore) RecentAmounts(ctx context.Context, accountID string, op Operation, since time.Time) ([]decimal.Decimal, error) {
	txs, err := s.since(ctx, accountID, since)
	if err != nil {
		return nil, err
	}
	var out []decimal.Decimal
	for _, tx := range txs {
		if tx.Operation == op && tx.Status == StatusCompleted {
			out = append(out, tx.AmountUSD)
		}
	}
	return out, nil
}

func (s *RedisStore) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	txs, err := s.since(ctx, accountID, since)
	if err != nil {
		return 0, err
	}
	return len(txs), nil
}

// Ping checks connectivity for the readiness check.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) since(ctx context.Context, accountID string, since time.Time) ([]Transaction, error) {
	members, err := s.client.ZRangeByScore(ctx, historyKey(accountID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	out := make([]Transaction, 0, len(members))
	for _, m := range members {
		var tx Transaction
		if err := json.Unmarshal([]byte(m), &tx); err != nil {
			return nil, fmt.Errorf("corrupt history entry for %s: %w", accountID, err)
		}
		out = append(out, tx)
	}
	return out, nil
}
