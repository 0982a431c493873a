package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskgate/internal/alerts"
	"github.com/mbd888/riskgate/internal/circuitbreaker"
	"github.com/mbd888/riskgate/internal/logging"
	"github.com/mbd888/riskgate/internal/metrics"
	"github.com/mbd888/riskgate/internal/txn"
)

// Gate runs KYC and AML checks for the decision engine.
type Gate struct {
	cfg       Config
	history   txn.HistoryProvider
	sanctions SanctionsScreener
	breaker   *circuitbreaker.Breaker
	raiser    alerts.Raiser
	now       func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithSanctionsScreener overrides the list screener built from Config.
func WithSanctionsScreener(s SanctionsScreener) GateOption {
	return func(g *Gate) { g.sanctions = s }
}

// WithBreaker guards collaborator calls with a circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) GateOption {
	return func(g *Gate) { g.breaker = b }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a compliance gate. raiser may be nil.
func NewGate(cfg Config, history txn.HistoryProvider, raiser alerts.Raiser, opts ...GateOption) *Gate {
	g := &Gate{
		cfg:     cfg,
		history: history,
		raiser:  raiser,
		now:     time.Now,
	}
	if len(cfg.SanctionsList) > 0 {
		g.sanctions = NewListScreener(cfg.SanctionsList, cfg.SanctionsMatchThreshold)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the gate's thresholds.
func (g *Gate) Config() Config { return g.cfg }

// CheckKYC reports whether amount needs verification beyond what the
// subject already has. Enhanced is checked first.
func (g *Gate) CheckKYC(s Subject, amount decimal.Decimal) KYCRequirement {
	if amount.GreaterThanOrEqual(g.cfg.EnhancedKYCThreshold) && s.VerificationLevel != LevelEnhanced {
		return KYCRequirement{
			Required: true,
			Level:    LevelEnhanced,
			Reason:   fmt.Sprintf("amounts of %s or more require enhanced verification", g.cfg.EnhancedKYCThreshold),
		}
	}
	if amount.GreaterThanOrEqual(g.cfg.BasicKYCThreshold) && s.KYCStatus != "approved" {
		return KYCRequirement{
			Required: true,
			Level:    LevelBasic,
			Reason:   fmt.Sprintf("amounts of %s or more require approved KYC", g.cfg.BasicKYCThreshold),
		}
	}
	return KYCRequirement{}
}

// NeedsScreening reports whether amount crosses the AML screening threshold.
func (g *Gate) NeedsScreening(amount decimal.Decimal) bool {
	return amount.GreaterThan(g.cfg.ScreeningThreshold)
}

// ScreenAML scores the subject for money-laundering risk. It never returns
// passed when a collaborator failed or the deadline expired; those cases
// degrade to manual_review.
func (g *Gate) ScreenAML(ctx context.Context, s Subject, op txn.Operation, amount decimal.Decimal) AMLResult {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	now := g.now()
	res := AMLResult{ScreenedAt: now}
	score := 0

	switch {
	case s.SanctionsFlagged:
		score += g.cfg.SanctionsWeight
		res.Reasons = append(res.Reasons, "sanctions_flagged")
	case g.sanctions != nil && s.Name != "":
		var match *SanctionsMatch
		err := g.call(ctx, "sanctions", func(ctx context.Context) error {
			var err error
			match, err = g.sanctions.Screen(ctx, s.Name)
			return err
		})
		if err != nil {
			return g.finish(ctx, s, op, amount, g.degrade(ctx, res, score, err))
		}
		if match != nil {
			score += g.cfg.SanctionsWeight
			res.Sanctions = match
			res.Reasons = append(res.Reasons, "sanctions_match")
		}
	}

	if score >= g.cfg.SanctionsWeight {
		res.Score = clampScore(score)
		res.Status = AMLFailed
		return g.finish(ctx, s, op, amount, res)
	}

	if amount.GreaterThan(g.cfg.LargeAmount) {
		score += g.cfg.LargeAmountWeight
		res.Reasons = append(res.Reasons, "large_amount")
	}

	var recent int
	err := g.call(ctx, "history", func(ctx context.Context) error {
		var err error
		recent, err = g.history.CountSince(ctx, s.AccountID, now.Add(-24*time.Hour))
		return err
	})
	if err != nil {
		return g.finish(ctx, s, op, amount, g.degrade(ctx, res, score, err))
	}
	if recent >= g.cfg.HighFrequencyCount {
		score += g.cfg.HighFrequencyWeight
		res.Reasons = append(res.Reasons, "high_frequency")
	}

	if s.PEP {
		score += g.cfg.PEPWeight
		res.Reasons = append(res.Reasons, "politically_exposed_person")
	}

	res.Score = clampScore(score)
	res.Status = g.cfg.classify(score)
	return g.finish(ctx, s, op, amount, res)
}

func (g *Gate) degrade(ctx context.Context, res AMLResult, score int, err error) AMLResult {
	reason := "screening_unavailable"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "screening_timeout"
		err = fmt.Errorf("%w: %v", ErrComplianceTimeout, err)
	}
	logging.L(ctx).Warn("aml screening degraded to manual review", "reason", reason, "error", err)

	if score < g.cfg.DegradedScore {
		score = g.cfg.DegradedScore
	}
	res.Score = clampScore(score)
	res.Status = AMLManualReview
	res.Degraded = true
	res.Reasons = append(res.Reasons, reason)
	return res
}

func (g *Gate) finish(ctx context.Context, s Subject, op txn.Operation, amount decimal.Decimal, res AMLResult) AMLResult {
	metrics.AMLScreeningsTotal.WithLabelValues(string(res.Status)).Inc()
	if res.Status == AMLPassed || g.raiser == nil {
		return res
	}

	g.raiser.Raise(ctx, alerts.Request{
		AccountID:   s.AccountID,
		Type:        alerts.TypeComplianceIssue,
		Operation:   string(op),
		Amount:      amount,
		RiskScore:   res.Score,
		RiskFactors: res.Reasons,
		Details: map[string]any{
			"type":     "aml_" + string(res.Status),
			"amlScore": res.Score,
			"degraded": res.Degraded,
		},
		Trigger: &alerts.TriggerEvent{
			Type: "aml_screening",
			Data: map[string]any{"operation": string(op), "amount": amount.String()},
		},
	})
	return res
}

func (g *Gate) call(ctx context.Context, collaborator string, fn func(ctx context.Context) error) error {
	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(ctx, collaborator, fn)
	} else {
		err = fn(ctx)
	}
	if err != nil {
		metrics.CollaboratorFailuresTotal.WithLabelValues(collaborator).Inc()
	}
	return err
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
