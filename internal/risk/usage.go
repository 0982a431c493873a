package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskgate/internal/txn"
)

// UsageKind is what a completed operation adds to. Loss is not a money
// movement but still accrues against the loss limits.
type UsageKind string

const (
	UsageTrade      UsageKind = "trade"
	UsageWithdrawal UsageKind = "withdrawal"
	UsageDeposit    UsageKind = "deposit"
	UsageLoss       UsageKind = "loss"
)

// ParseUsageKind accepts the operation names plus "loss".
func ParseUsageKind(s string) (UsageKind, error) {
	if s == string(UsageLoss) {
		return UsageLoss, nil
	}
	op, err := txn.ParseOperation(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, s)
	}
	return UsageKind(op), nil
}

// UsageTracker maintains the rolling usage counters on a profile.
type UsageTracker struct{}

// ResetIfDue zeroes the daily counters once at least one whole day has
// passed since the last reset. Weekly and monthly loss are left alone.
func (UsageTracker) ResetIfDue(u *Usage, now time.Time) bool {
	if u.LastReset.IsZero() {
		u.LastReset = now
		return false
	}
	if now.Sub(u.LastReset) < 24*time.Hour {
		return false
	}
	u.DailyTrading = decimal.Zero
	u.DailyWithdrawals = decimal.Zero
	u.DailyDeposits = decimal.Zero
	u.DailyLoss = decimal.Zero
	u.LastReset = now
	return true
}

// Record adds a completed operation to the counters, resetting first if due.
func (t UsageTracker) Record(u *Usage, kind UsageKind, amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	t.ResetIfDue(u, now)

	switch kind {
	case UsageTrade:
		u.DailyTrading = u.DailyTrading.Add(amount)
	case UsageWithdrawal:
		u.DailyWithdrawals = u.DailyWithdrawals.Add(amount)
	case UsageDeposit:
		u.DailyDeposits = u.DailyDeposits.Add(amount)
	case UsageLoss:
		u.DailyLoss = u.DailyLoss.Add(amount)
		u.WeeklyLoss = u.WeeklyLoss.Add(amount)
		u.MonthlyLoss = u.MonthlyLoss.Add(amount)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOperation, kind)
	}
	return nil
}

// OpenPosition increments the open position count.
func (UsageTracker) OpenPosition(u *Usage) {
	u.OpenPositions++
}

// ClosePosition decrements the open position count, never below zero.
func (UsageTracker) ClosePosition(u *Usage) {
	if u.OpenPositions > 0 {
		u.OpenPositions--
	}
}
