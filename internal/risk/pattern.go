package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskgate/internal/alerts"
	"github.com/mbd888/riskgate/internal/circuitbreaker"
	"github.com/mbd888/riskgate/internal/logging"
	"github.com/mbd888/riskgate/internal/metrics"
	"github.com/mbd888/riskgate/internal/txn"
)

// VelocityResult is the outcome of the trailing-hour rate check.
type VelocityResult struct {
	Flagged   bool `json:"flagged"`
	Count     int  `json:"count"`
	Threshold int  `json:"threshold"`
	// Unavailable is set when history could not be read; Flagged is then true.
	Unavailable bool `json:"unavailable,omitempty"`
}

// PatternResult is the outcome of the statistical anomaly check.
type PatternResult struct {
	Flagged     bool            `json:"flagged"`
	Reasons     []string        `json:"reasons,omitempty"`
	Samples     int             `json:"samples"`
	AvgAmount   decimal.Decimal `json:"avgAmount"`
	MaxAmount   decimal.Decimal `json:"maxAmount"`
	Unavailable bool            `json:"unavailable,omitempty"`
}

// PatternDetector runs velocity and statistical checks over recent history.
// A history failure is treated as a hit.
type PatternDetector struct {
	history txn.HistoryProvider
	policy  Policy
	breaker *circuitbreaker.Breaker
	raiser  alerts.Raiser
}

// NewPatternDetector creates a detector. breaker and raiser may be nil.
func NewPatternDetector(history txn.HistoryProvider, policy Policy, breaker *circuitbreaker.Breaker, raiser alerts.Raiser) *PatternDetector {
	return &PatternDetector{history: history, policy: policy, breaker: breaker, raiser: raiser}
}

// CheckVelocity flags the request when the trailing hour already holds
// threshold or more completed/processing operations of the same type.
func (d *PatternDetector) CheckVelocity(ctx context.Context, accountID string, op txn.Operation, now time.Time) VelocityResult {
	threshold := d.policy.Operations[op].Velocity
	if threshold <= 0 {
		threshold = 10
	}
	res := VelocityResult{Threshold: threshold}

	err := d.call(ctx, func(ctx context.Context) error {
		var err error
		res.Count, err = d.history.CountRecent(ctx, accountID, op, now.Add(-time.Hour))
		return err
	})
	if err != nil {
		logging.L(ctx).Warn("velocity check failed, treating as flagged", "operation", op, "error", err)
		res.Flagged = true
		res.Unavailable = true
		return res
	}

	if res.Count >= threshold {
		res.Flagged = true
		d.raise(ctx, alerts.Request{
			AccountID: accountID,
			Type:      alerts.TypeUnusualActivity,
			Operation: string(op),
			Details: map[string]any{
				"type":      "high_velocity",
				"operation": string(op),
				"count":     res.Count,
				"threshold": threshold,
			},
		})
	}
	return res
}

// CheckPattern compares amount against the account's recent completed
// amounts for op.
func (d *PatternDetector) CheckPattern(ctx context.Context, accountID string, op txn.Operation, amount decimal.Decimal, now time.Time) PatternResult {
	cfg := d.policy.Pattern
	var res PatternResult

	var amounts []decimal.Decimal
	since := now.AddDate(0, 0, -cfg.LookbackDays)
	err := d.call(ctx, func(ctx context.Context) error {
		var err error
		amounts, err = d.history.RecentAmounts(ctx, accountID, op, since)
		return err
	})
	if err != nil {
		logging.L(ctx).Warn("pattern check failed, treating as flagged", "operation", op, "error", err)
		res.Flagged = true
		res.Unavailable = true
		return res
	}

	res.Samples = len(amounts)
	if len(amounts) < cfg.MinSamples {
		return res
	}

	sum, maxAmt := decimal.Zero, amounts[0]
	for _, a := range amounts {
		sum = sum.Add(a)
		maxAmt = decimal.Max(maxAmt, a)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(amounts))))
	res.AvgAmount = avg.Round(2)
	res.MaxAmount = maxAmt

	unusuallyLarge := amount.GreaterThan(avg.Mul(cfg.MeanMultiplier)) &&
		amount.GreaterThan(maxAmt.Mul(cfg.MaxMultiplier))

	roundNumber := cfg.RoundUnit.IsPositive() &&
		amount.Mod(cfg.RoundUnit).IsZero() &&
		amount.GreaterThanOrEqual(cfg.RoundMinimum)

	kyc := d.policy.Compliance.BasicKYCThreshold
	justUnder := amount.GreaterThanOrEqual(kyc.Mul(cfg.NearThresholdRatio)) && amount.LessThan(kyc)

	if !unusuallyLarge && !(roundNumber && justUnder) {
		return res
	}

	res.Flagged = true
	if unusuallyLarge {
		res.Reasons = append(res.Reasons, "unusually_large_amount")
	}
	if roundNumber {
		res.Reasons = append(res.Reasons, "round_number_pattern")
	}
	if justUnder {
		res.Reasons = append(res.Reasons, "just_under_threshold")
	}

	d.raise(ctx, alerts.Request{
		AccountID:   accountID,
		Type:        alerts.TypeUnusualActivity,
		Operation:   string(op),
		Amount:      amount,
		RiskFactors: res.Reasons,
		Details: map[string]any{
			"type":      "unusual_pattern",
			"operation": string(op),
			"amount":    amount.String(),
			"reasons":   res.Reasons,
			"avgAmount": res.AvgAmount.String(),
			"maxAmount": res.MaxAmount.String(),
		},
	})
	return res
}

func (d *PatternDetector) call(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	if d.breaker != nil {
		err = d.breaker.Execute(ctx, "history", fn)
	} else {
		err = fn(ctx)
	}
	if err != nil {
		metrics.CollaboratorFailuresTotal.WithLabelValues("history").Inc()
	}
	return err
}

func (d *PatternDetector) raise(ctx context.Context, req alerts.Request) {
	if d.raiser != nil {
		d.raiser.Raise(ctx, req)
	}
}
