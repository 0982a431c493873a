package risk

import (
	"github.com/shopspring/decimal"

	"github.com/mbd888/riskgate/internal/txn"
)

// LimitCode names a breached limit.
type LimitCode string

const (
	LimitDailyTrading    LimitCode = "daily_trading_limit"
	LimitSingleTradeSize LimitCode = "single_trade_size_limit"
	LimitDailyWithdrawal LimitCode = "daily_withdrawal_limit"
	LimitDailyDeposit    LimitCode = "daily_deposit_limit"
	LimitOpenPositions   LimitCode = "max_open_positions"
	LimitDailyLoss       LimitCode = "daily_loss_limit"
	LimitWeeklyLoss      LimitCode = "weekly_loss_limit"
	LimitMonthlyLoss     LimitCode = "monthly_loss_limit"
)

// LimitEnforcer compares a proposed operation and current usage to limits.
type LimitEnforcer struct{}

// Check evaluates every applicable limit and returns all breaches.
func (LimitEnforcer) Check(op txn.Operation, amount decimal.Decimal, l Limits, u Usage) []LimitCode {
	var codes []LimitCode

	switch op {
	case txn.OpTrade:
		if u.DailyTrading.Add(amount).GreaterThan(l.DailyTradingLimit) {
			codes = append(codes, LimitDailyTrading)
		}
		if amount.GreaterThan(l.MaxSingleTradeSize) {
			codes = append(codes, LimitSingleTradeSize)
		}
	case txn.OpWithdrawal:
		if u.DailyWithdrawals.Add(amount).GreaterThan(l.DailyWithdrawalLimit) {
			codes = append(codes, LimitDailyWithdrawal)
		}
	case txn.OpDeposit:
		if u.DailyDeposits.Add(amount).GreaterThan(l.DailyDepositLimit) {
			codes = append(codes, LimitDailyDeposit)
		}
	}

	if u.OpenPositions >= l.MaxOpenPositions {
		codes = append(codes, LimitOpenPositions)
	}
	if u.DailyLoss.GreaterThanOrEqual(l.MaxDailyLoss) {
		codes = append(codes, LimitDailyLoss)
	}
	if u.WeeklyLoss.GreaterThanOrEqual(l.MaxWeeklyLoss) {
		codes = append(codes, LimitWeeklyLoss)
	}
	if u.MonthlyLoss.GreaterThanOrEqual(l.MaxMonthlyLoss) {
		codes = append(codes, LimitMonthlyLoss)
	}
	return codes
}

// LimitAmounts is one figure per daily/loss limit.
type LimitAmounts struct {
	DailyTrading    decimal.Decimal `json:"dailyTrading"`
	DailyWithdrawal decimal.Decimal `json:"dailyWithdrawal"`
	DailyDeposit    decimal.Decimal `json:"dailyDeposit"`
	DailyLoss       decimal.Decimal `json:"dailyLoss"`
	WeeklyLoss      decimal.Decimal `json:"weeklyLoss"`
	MonthlyLoss     decimal.Decimal `json:"monthlyLoss"`
}

// Remaining is the headroom left under each limit, floored at zero.
func (LimitEnforcer) Remaining(l Limits, u Usage) LimitAmounts {
	left := func(limit, used decimal.Decimal) decimal.Decimal {
		return decimal.Max(decimal.Zero, limit.Sub(used))
	}
	return LimitAmounts{
		DailyTrading:    left(l.DailyTradingLimit, u.DailyTrading),
		DailyWithdrawal: left(l.DailyWithdrawalLimit, u.DailyWithdrawals),
		DailyDeposit:    left(l.DailyDepositLimit, u.DailyDeposits),
		DailyLoss:       left(l.MaxDailyLoss, u.DailyLoss),
		WeeklyLoss:      left(l.MaxWeeklyLoss, u.WeeklyLoss),
		MonthlyLoss:     left(l.MaxMonthlyLoss, u.MonthlyLoss),
	}
}

var hundred = decimal.NewFromInt(100)

// Utilization is usage as a percentage of each limit, rounded to two
// places. A zero limit reports 100 if anything was used, else 0.
func (LimitEnforcer) Utilization(l Limits, u Usage) LimitAmounts {
	pct := func(used, limit decimal.Decimal) decimal.Decimal {
		if !limit.IsPositive() {
			if used.IsPositive() {
				return hundred
			}
			return decimal.Zero
		}
		return used.Div(limit).Mul(hundred).Round(2)
	}
	return LimitAmounts{
		DailyTrading:    pct(u.DailyTrading, l.DailyTradingLimit),
		DailyWithdrawal: pct(u.DailyWithdrawals, l.DailyWithdrawalLimit),
		DailyDeposit:    pct(u.DailyDeposits, l.DailyDepositLimit),
		DailyLoss:       pct(u.DailyLoss, l.MaxDailyLoss),
		WeeklyLoss:      pct(u.WeeklyLoss, l.MaxWeeklyLoss),
		MonthlyLoss:     pct(u.MonthlyLoss, l.MaxMonthlyLoss),
	}
}
