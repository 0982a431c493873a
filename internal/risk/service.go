package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskgate/internal/alerts"
	"github.com/mbd888/riskgate/internal/circuitbreaker"
	"github.com/mbd888/riskgate/internal/compliance"
	"github.com/mbd888/riskgate/internal/idgen"
	"github.com/mbd888/riskgate/internal/logging"
	"github.com/mbd888/riskgate/internal/metrics"
	"github.com/mbd888/riskgate/internal/retry"
	"github.com/mbd888/riskgate/internal/syncutil"
	"github.com/mbd888/riskgate/internal/traces"
	"github.com/mbd888/riskgate/internal/txn"
)

const storeCollaborator = "profile_store"

// Service is the decision engine. It is the only type callers outside the
// package need.
type Service struct {
	store    Store
	history  txn.HistoryProvider
	recorder txn.Recorder
	raiser   alerts.Raiser
	breaker  *circuitbreaker.Breaker
	gate     *compliance.Gate
	detector *PatternDetector
	scorer   *Scorer
	usage    UsageTracker
	limits   LimitEnforcer
	policy   Policy
	clock    Clock
	loc      *time.Location
	locks    *syncutil.KeyedMutex
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithRecorder appends completed operations to transaction history.
func WithRecorder(r txn.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithRaiser sets where alerts are sent. Without one, alerts are dropped.
func WithRaiser(r alerts.Raiser) Option {
	return func(s *Service) { s.raiser = r }
}

// WithBreaker guards store and history calls.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(s *Service) { s.breaker = b }
}

// WithGate replaces the compliance gate built from the policy.
func WithGate(g *compliance.Gate) Option {
	return func(s *Service) { s.gate = g }
}

// WithLogger sets the fallback logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wires the engine's components.
func NewService(store Store, history txn.HistoryProvider, policy Policy, opts ...Option) *Service {
	s := &Service{
		store:   store,
		history: history,
		policy:  policy,
		clock:   SystemClock,
		locks:   syncutil.NewKeyedMutex(0),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loc = policy.location()
	s.scorer = NewScorer(policy, s.clock)
	s.detector = NewPatternDetector(history, policy, s.breaker, s.raiser)
	if s.gate == nil {
		gateOpts := []compliance.GateOption{compliance.WithClock(s.clock.Now)}
		if s.breaker != nil {
			gateOpts = append(gateOpts, compliance.WithBreaker(s.breaker))
		}
		s.gate = compliance.NewGate(policy.Compliance, history, s.raiser, gateOpts...)
	}
	return s
}

// Policy returns the active policy.
func (s *Service) Policy() Policy { return s.policy }

// CheckOperation decides whether accountID may perform op for amount.
//
// Store failures never produce an allowed decision: they come back as a
// blocked Decision with a nil error. A non-nil error is returned only for
// invalid input or a cancelled context, always alongside a blocked Decision.
func (s *Service) CheckOperation(ctx context.Context, accountID string, op txn.Operation, amount decimal.Decimal, rc RequestContext) (*Decision, error) {
	started := time.Now()
	ctx = logging.WithAccountID(ctx, accountID)
	ctx, span := traces.StartSpan(ctx, "risk.CheckOperation",
		traces.AccountID(accountID), traces.Operation(string(op)), traces.Amount(amount.String()))
	defer span.End()

	now := s.clock.Now()
	d := newDecision(accountID, op, amount, now)
	finish := func(err error) (*Decision, error) {
		d.settle()
		s.observe(ctx, d, started)
		span.SetAttributes(traces.Outcome(string(d.Outcome)), traces.Score(d.RiskScore))
		if err != nil {
			traces.RecordError(span, err)
		}
		return d, err
	}

	if _, ok := s.policy.Operations[op]; !ok {
		d.block(ViolationInvalidOperation)
		return finish(fmt.Errorf("%w: %q", ErrInvalidOperation, op))
	}
	if !amount.IsPositive() {
		d.block(ViolationInvalidAmount)
		return finish(ErrInvalidAmount)
	}

	unlock, err := s.locks.Lock(ctx, accountID)
	if err != nil {
		d.block(ViolationCheckCancelled)
		return finish(err)
	}
	defer unlock()

	p, err := s.loadOrInit(ctx, accountID, ProfileInput{Country: rc.Country})
	switch {
	case errors.Is(err, ErrProfileNotFound):
		d.block(ViolationProfileNotFound)
		return finish(nil)
	case errors.Is(err, ErrCorruptProfile):
		logging.L(ctx).Error("refusing corrupt risk profile", "error", err)
		d.block(ViolationProfileCorrupt)
		return finish(nil)
	case err != nil:
		logging.L(ctx).Error("risk store unavailable", "error", err)
		d.block(ViolationStoreUnavailable)
		return finish(nil)
	}

	if s.usage.ResetIfDue(&p.CurrentUsage, now) {
		if err := s.saveProfile(ctx, p); err != nil {
			logging.L(ctx).Warn("failed to persist daily usage reset", "error", err)
		}
	}

	if p.Monitoring.IsRestricted {
		d.block(ViolationAccountRestricted)
		return finish(nil)
	}

	// Limits deny the operation but the remaining checks still run so the
	// decision carries full diagnostics.
	if codes := s.limits.Check(op, amount, p.Limits, p.CurrentUsage); len(codes) > 0 {
		d.Allowed = false
		d.LimitBreaches = limitCodes(codes)
		d.Violations = append(d.Violations, d.LimitBreaches...)
		for _, c := range codes {
			metrics.LimitBreachesTotal.WithLabelValues(string(c)).Inc()
		}
		s.raise(ctx, alerts.Request{
			AccountID: accountID,
			Type:      alerts.TypeLimitBreach,
			Operation: string(op),
			Amount:    amount,
			Details: map[string]any{
				"limitType": d.LimitBreaches[0],
				"breaches":  d.LimitBreaches,
				"operation": string(op),
				"amount":    amount.String(),
			},
		})
	}

	score, factors := s.transactionRisk(p, op, amount, rc, now)
	d.Factors = append(d.Factors, factors...)

	vel := s.detector.CheckVelocity(ctx, accountID, op, now)
	d.Velocity = &vel
	if vel.Flagged {
		score += velocityPenalty
		if vel.Unavailable {
			d.warn(WarningVelocityUnavailable)
		} else {
			d.warn(WarningHighVelocity)
		}
	}

	pat := s.detector.CheckPattern(ctx, accountID, op, amount, now)
	d.Pattern = &pat
	if pat.Flagged {
		score += patternPenalty
		if pat.Unavailable {
			d.warn(WarningPatternUnavailable)
		} else {
			d.warn(WarningUnusualPattern)
		}
	}

	s.checkCompliance(ctx, p, d)

	d.RiskScore = clampScore(score)
	if d.RiskScore > approvalScore || amount.GreaterThan(s.policy.Operations[op].SingleLarge) {
		d.RequiresApproval = true
	}
	if d.RequiresApproval {
		d.warn(WarningManualApproval)
	}

	if d.RiskScore > alertScore {
		s.raise(ctx, alerts.Request{
			AccountID:   accountID,
			Type:        alerts.TypeHighRiskTransaction,
			Operation:   string(op),
			Amount:      amount,
			RiskScore:   d.RiskScore,
			RiskFactors: d.Factors,
			Details: map[string]any{
				"operation":  string(op),
				"amount":     amount.String(),
				"riskScore":  d.RiskScore,
				"factors":    d.Factors,
				"decisionId": d.ID,
			},
		})
	}

	return finish(nil)
}

func (s *Service) checkCompliance(ctx context.Context, p *Profile, d *Decision) {
	subject := subjectFor(p)

	if kyc := s.gate.CheckKYC(subject, d.Amount); kyc.Required {
		d.KYC = &kyc
		d.RequiresApproval = true
		d.warn("kyc_required_" + kyc.Level)
	}

	if !s.gate.NeedsScreening(d.Amount) {
		return
	}
	aml := s.gate.ScreenAML(ctx, subject, d.Operation, d.Amount)
	d.AML = &aml
	switch aml.Status {
	case compliance.AMLFailed:
		d.block(ViolationAMLScreeningFailed)
	case compliance.AMLManualReview:
		d.RequiresApproval = true
		d.warn(WarningAMLManualReview)
	}

	if aml.Sanctions != nil && !p.RiskFactors.SanctionsCheck {
		p.RiskFactors.SanctionsCheck = true
		if err := s.saveProfile(ctx, p); err != nil {
			logging.L(ctx).Error("failed to record sanctions hit on profile", "error", err)
		}
	}
}

func subjectFor(p *Profile) compliance.Subject {
	return compliance.Subject{
		AccountID:         p.AccountID,
		Name:              p.HolderName,
		Country:           p.Country,
		VerificationLevel: string(p.RiskFactors.VerificationLevel),
		KYCStatus:         string(p.RiskFactors.KYCStatus),
		PEP:               p.RiskFactors.PEPCheck,
		SanctionsFlagged:  p.RiskFactors.SanctionsCheck,
	}
}

func (s *Service) observe(ctx context.Context, d *Decision, started time.Time) {
	op := string(d.Operation)
	metrics.DecisionsTotal.WithLabelValues(op, string(d.Outcome)).Inc()
	metrics.DecisionScore.WithLabelValues(op).Observe(float64(d.RiskScore))
	metrics.DecisionDuration.Observe(time.Since(started).Seconds())

	logging.L(ctx).Info("risk decision",
		"decision_id", d.ID,
		"operation", op,
		"amount", d.Amount.String(),
		"allowed", d.Allowed,
		"outcome", d.Outcome,
		"score", d.RiskScore,
		"violations", d.Violations,
	)
}

// Completion reports the result of an operation the caller executed.
type Completion struct {
	Kind           UsageKind       `json:"operation"`
	Amount         decimal.Decimal `json:"amount"`
	Success        bool            `json:"success"`
	TransactionID  string          `json:"transactionId,omitempty"`
	OpenedPosition bool            `json:"openedPosition,omitempty"`
	ClosedPosition bool            `json:"closedPosition,omitempty"`
}

// CompleteOperation applies a successful operation to the profile: usage,
// trading statistics, account age and a fresh assessment. Unsuccessful
// operations change nothing and return the current profile.
func (s *Service) CompleteOperation(ctx context.Context, accountID string, c Completion) (*Profile, error) {
	if !c.Success {
		return s.GetProfile(ctx, accountID)
	}
	if !c.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	kind, err := ParseUsageKind(string(c.Kind))
	if err != nil {
		return nil, err
	}
	c.Kind = kind

	ctx = logging.WithAccountID(ctx, accountID)
	ctx, span := traces.StartSpan(ctx, "risk.CompleteOperation",
		traces.AccountID(accountID), traces.Operation(string(c.Kind)), traces.Amount(c.Amount.String()))
	defer span.End()

	var completedAt time.Time
	p, err := s.mutate(ctx, accountID, func(p *Profile, now time.Time) error {
		if err := s.usage.Record(&p.CurrentUsage, c.Kind, c.Amount, now); err != nil {
			return err
		}
		if c.Kind == UsageTrade {
			f := &p.RiskFactors
			f.TradingFrequency++
			f.AverageTradeSize = f.AverageTradeSize.Add(c.Amount).Div(decimal.NewFromInt(2))
		}
		if c.OpenedPosition {
			s.usage.OpenPosition(&p.CurrentUsage)
		}
		if c.ClosedPosition {
			s.usage.ClosePosition(&p.CurrentUsage)
		}
		p.RiskFactors.AccountAge = daysSince(p.CreatedAt, now)
		s.scorer.Assess(p)
		completedAt = now
		return nil
	})
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}

	if s.recorder != nil && c.Kind != UsageLoss {
		id := c.TransactionID
		if id == "" {
			id = idgen.New()
		}
		tx := &txn.Transaction{
			ID:        id,
			AccountID: accountID,
			Operation: txn.Operation(c.Kind),
			AmountUSD: c.Amount,
			Status:    txn.StatusCompleted,
			CreatedAt: completedAt,
		}
		if err := s.recorder.Record(ctx, tx); err != nil {
			metrics.CollaboratorFailuresTotal.WithLabelValues("history").Inc()
			logging.L(ctx).Warn("failed to append transaction history", "transaction_id", id, "error", err)
		}
	}

	logging.L(ctx).Info("operation completed",
		"operation", c.Kind, "amount", c.Amount.String(), "risk_level", p.RiskLevel, "score", p.RiskScore)
	return p, nil
}

// mutate runs fn on a fresh copy of the profile under the account lock and
// saves it, retrying on version conflicts.
func (s *Service) mutate(ctx context.Context, accountID string, fn func(p *Profile, now time.Time) error) (*Profile, error) {
	unlock, err := s.locks.Lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *Profile
	err = retry.Do(ctx, retry.OnConflict(ErrVersionConflict), func() error {
		p, err := s.loadProfile(ctx, accountID)
		if err != nil {
			return err
		}
		if err := fn(p, s.clock.Now()); err != nil {
			return retry.Permanent(err)
		}
		if err := s.saveProfile(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// loadProfile reads and validates a profile. Infrastructure errors come
// back wrapped in ErrStoreUnavailable.
func (s *Service) loadProfile(ctx context.Context, accountID string) (*Profile, error) {
	var p *Profile
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.store.Get(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) saveProfile(ctx context.Context, p *Profile) error {
	p.UpdatedAt = s.clock.Now()
	err := s.storeCall(ctx, func(ctx context.Context) error {
		return s.store.Save(ctx, p)
	})
	if errors.Is(err, ErrVersionConflict) {
		metrics.VersionConflictsTotal.Inc()
	}
	return err
}

// storeCall runs fn through the breaker. Domain outcomes (not found,
// conflicts) pass through untouched and do not trip the breaker.
func (s *Service) storeCall(ctx context.Context, fn func(ctx context.Context) error) error {
	var domainErr error
	guarded := func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrProfileNotFound) || errors.Is(err, ErrProfileExists) ||
			errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrCorruptProfile) {
			domainErr = err
			return nil
		}
		return err
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, storeCollaborator, guarded)
	} else {
		err = guarded(ctx)
	}
	if domainErr != nil {
		return domainErr
	}
	if err != nil {
		metrics.CollaboratorFailuresTotal.WithLabelValues(storeCollaborator).Inc()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) raise(ctx context.Context, req alerts.Request) {
	if s.raiser != nil {
		s.raiser.Raise(ctx, req)
	}
}

func daysSince(t, now time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t) / (24 * time.Hour))
}
