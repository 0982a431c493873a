package txn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore reads and appends account history in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_transactions (id, account_id, operation, amount_usd, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
	`, tx.ID, tx.AccountID, string(tx.Operation), tx.AmountUSD, string(tx.Status), tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountRecent(ctx context.Context, accountID string, op Operation, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM risk_transactions
		WHERE account_id = $1 AND operation = $2 AND created_at >= $3
		  AND status IN ('completed', 'processing')
	`, accountID, string(op), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent transactions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) RecentAmounts(ctx context.Context, accountID string, op Operation, since time.Time) ([]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT amount_usd FROM risk_transactions
		WHERE account_id = $1 AND operation = $2 AND created_at >= $3
		  AND status = 'completed'
		ORDER BY created_at
	`, accountID, string(op), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent amounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []decimal.Decimal
	for rows.Next() {
		var amt decimal.Decimal
		if err := rows.Scan(&amt); err != nil {
			return nil, fmt.Errorf("failed to scan amount: %w", err)
		}
		out = append(out, amt)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM risk_transactions
		WHERE account_id = $1 AND created_at >= $2
	`, accountID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}
