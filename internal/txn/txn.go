// Package txn records an account's past money movements and answers the
// read-only window queries the risk engine needs (velocity counts, recent
// amounts). It never moves money itself.
package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOperation = errors.New("invalid operation")
	ErrInvalidStatus    = errors.New("invalid transaction status")
)

// Operation is a money-movement type gated by the risk engine.
type Operation string

const (
	OpDeposit    Operation = "deposit"
	OpWithdrawal Operation = "withdrawal"
	OpTrade      Operation = "trade"
)

// ParseOperation validates an operation name. "trading" is accepted as an
// alias for trade.
func ParseOperation(s string) (Operation, error) {
	switch s {
	case "deposit":
		return OpDeposit, nil
	case "withdrawal":
		return OpWithdrawal, nil
	case "trade", "trading":
		return OpTrade, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, s)
	}
}

// Status of a recorded transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// countsForVelocity reports whether a transaction in this state occupies a
// velocity slot. Failed and pending attempts do not.
func (s Status) countsForVelocity() bool {
	return s == StatusCompleted || s == StatusProcessing
}

// Transaction is one past money movement.
type Transaction struct {
	ID        string          `json:"id"`
	AccountID string          `json:"accountId"`
	Operation Operation       `json:"operation"`
	AmountUSD decimal.Decimal `json:"amountUsd"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Validate checks the fields a store relies on.
func (t *Transaction) Validate() error {
	if t.AccountID == "" {
		return errors.New("transaction: account id required")
	}
	if _, err := ParseOperation(string(t.Operation)); err != nil {
		return err
	}
	if !t.Status.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}
	if !t.AmountUSD.IsPositive() {
		return errors.New("transaction: amount must be positive")
	}
	return nil
}

// HistoryProvider answers window queries over an account's history.
type HistoryProvider interface {
	// CountRecent counts completed or processing transactions of op since t.
	CountRecent(ctx context.Context, accountID string, op Operation, since time.Time) (int, error)
	// RecentAmounts returns amounts of completed transactions of op since t.
	RecentAmounts(ctx context.Context, accountID string, op Operation, since time.Time) ([]decimal.Decimal, error)
	// CountSince counts transactions of any type and status since t.
	CountSince(ctx context.Context, accountID string, since time.Time) (int, error)
}

// Recorder appends to an account's history.
type Recorder interface {
	Record(ctx context.Context, tx *Transaction) error
}

// Store is a history backend that both records and answers queries.
type Store interface {
	HistoryProvider
	Recorder
}
