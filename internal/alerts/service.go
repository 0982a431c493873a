package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskgate/internal/idgen"
	"github.com/mbd888/riskgate/internal/logging"
	"github.com/mbd888/riskgate/internal/metrics"
)

// DefaultEscalationQueue receives critical alerts automatically.
const DefaultEscalationQueue = "risk_team"

var largeHighRiskAmount = decimal.NewFromInt(50000)

var titles = map[Type]string{
	TypeLimitBreach:          "Transaction Limit Exceeded",
	TypeUnusualActivity:      "Unusual Account Activity",
	TypeHighRiskTransaction:  "High Risk Transaction",
	TypeComplianceIssue:      "Compliance Issue Detected",
	TypeSecurityAlert:        "Security Alert",
	TypeMarketRisk:           "Market Risk Warning",
	TypeConcentrationRisk:    "Portfolio Concentration Risk",
	TypeLossLimitApproach:    "Loss Limit Approaching",
	TypeLimitIncreaseRequest: "Limit Increase Requested",
	TypeKYCSubmission:        "KYC Documents Submitted",
}

// Manager creates alerts and applies lifecycle transitions.
type Manager struct {
	store           Store
	notifiers       []Notifier
	escalationQueue string
	now             func() time.Time
	logger          *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifiers registers sinks for lifecycle events.
func WithNotifiers(n ...Notifier) Option {
	return func(m *Manager) { m.notifiers = append(m.notifiers, n...) }
}

// WithEscalationQueue overrides where critical alerts are routed.
func WithEscalationQueue(queue string) Option {
	return func(m *Manager) {
		if queue != "" {
			m.escalationQueue = queue
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an alert manager.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:           store,
		escalationQueue: DefaultEscalationQueue,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create classifies and persists a new alert. Critical alerts are escalated
// to the review queue as part of creation.
func (m *Manager) Create(ctx context.Context, req Request) (*Alert, error) {
	if _, err := ParseType(string(req.Type)); err != nil {
		return nil, err
	}
	if req.AccountID == "" {
		return nil, fmt.Errorf("alert: account id required")
	}

	now := m.now()
	score := req.RiskScore
	if score <= 0 {
		score = derivedScore(req)
	}
	sev := classify(req.Type, score)

	a := &Alert{
		ID:             idgen.AlertID(now),
		AccountID:      req.AccountID,
		Type:           req.Type,
		Severity:       sev,
		Status:         StatusOpen,
		Title:          Title(req.Type),
		Description:    describe(req),
		Details:        req.Details,
		TriggerEvent:   req.Trigger,
		RiskScore:      score,
		RiskFactors:    req.RiskFactors,
		RequiresAction: sev == SeverityHigh || sev == SeverityCritical,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if sev == SeverityCritical {
		a.Escalated = true
		a.EscalatedAt = &now
		a.EscalatedTo = m.escalationQueue
	}

	if err := m.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to store alert: %w", err)
	}
	metrics.AlertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()

	m.notify(ctx, EventCreated, a)
	return a, nil
}

// Raise creates an alert and logs (rather than returns) any failure.
func (m *Manager) Raise(ctx context.Context, req Request) {
	if _, err := m.Create(ctx, req); err != nil {
		logging.L(ctx).Error("failed to raise alert",
			"account_id", req.AccountID, "type", req.Type, "error", err)
	}
}

// Get returns one alert.
func (m *Manager) Get(ctx context.Context, id string) (*Alert, error) {
	return m.store.Get(ctx, id)
}

// List returns a page of alerts plus the total match count.
func (m *Manager) List(ctx context.Context, f Filter) ([]*Alert, int, error) {
	f.Normalize()
	return m.store.List(ctx, f)
}

// Escalate routes an alert to target (the default queue when empty).
// Severity is raised to at least high.
func (m *Manager) Escalate(ctx context.Context, id, target string) (*Alert, error) {
	if target == "" {
		target = m.escalationQueue
	}
	return m.transition(ctx, id, EventEscalated, func(a *Alert, now time.Time) {
		a.Escalated = true
		a.EscalatedAt = &now
		a.EscalatedTo = target
		if a.Severity.rank() < SeverityHigh.rank() {
			a.Severity = SeverityHigh
		}
		a.RequiresAction = true
	})
}

// Investigate assigns an open alert to an investigator.
func (m *Manager) Investigate(ctx context.Context, id, assignee string) (*Alert, error) {
	return m.transition(ctx, id, EventInvestigating, func(a *Alert, now time.Time) {
		a.Status = StatusInvestigating
		a.AssignedTo = assignee
	})
}

// Resolve closes an alert with a resolution note and the actions taken.
func (m *Manager) Resolve(ctx context.Context, id, resolver, resolution string, actions []string) (*Alert, error) {
	return m.transition(ctx, id, EventResolved, func(a *Alert, now time.Time) {
		a.Status = StatusResolved
		a.ResolvedAt = &now
		a.ResolvedBy = resolver
		a.Resolution = resolution
		a.ActionsTaken = append(a.ActionsTaken, actions...)
	})
}

// MarkFalsePositive closes an alert as not a real risk.
func (m *Manager) MarkFalsePositive(ctx context.Context, id, resolver, note string) (*Alert, error) {
	return m.transition(ctx, id, EventFalsePositive, func(a *Alert, now time.Time) {
		a.Status = StatusFalsePositive
		a.ResolvedAt = &now
		a.ResolvedBy = resolver
		a.Resolution = note
	})
}

// MarkRead flags an alert as seen by its account holder. Alerts belonging
// to another account are reported as not found.
func (m *Manager) MarkRead(ctx context.Context, accountID, id string) error {
	a, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.AccountID != accountID {
		return ErrAlertNotFound
	}
	if a.UserNotified {
		return nil
	}
	a.UserNotified = true
	a.UpdatedAt = m.now()
	return m.store.Update(ctx, a)
}

func (m *Manager) transition(ctx context.Context, id string, kind EventKind, apply func(a *Alert, now time.Time)) (*Alert, error) {
	a, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, ErrAlertClosed
	}

	now := m.now()
	apply(a, now)
	a.UpdatedAt = now

	if err := m.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	m.notify(ctx, kind, a)
	return a, nil
}

// notify fans out synchronously; a failing sink never fails the transition.
func (m *Manager) notify(ctx context.Context, kind EventKind, a *Alert) {
	if len(m.notifiers) == 0 {
		return
	}
	ev := Event{Kind: kind, Alert: clone(a), At: m.now()}
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			metrics.AlertNotificationsTotal.WithLabelValues(n.Name(), "error").Inc()
			m.logger.Warn("alert notification failed", "sink", n.Name(), "alert_id", a.ID, "error", err)
			continue
		}
		metrics.AlertNotificationsTotal.WithLabelValues(n.Name(), "ok").Inc()
	}
}

// Title returns the fixed title for an alert type.
func Title(t Type) string {
	if s, ok := titles[t]; ok {
		return s
	}
	return "Security Alert"
}

func derivedScore(req Request) int {
	switch req.Type {
	case TypeComplianceIssue:
		return 90
	case TypeHighRiskTransaction:
		if req.Amount.GreaterThan(largeHighRiskAmount) {
			return 80
		}
		return 60
	case TypeUnusualActivity:
		return 50
	case TypeLimitBreach:
		return 40
	default:
		return 30
	}
}

func classify(t Type, score int) Severity {
	switch {
	case t == TypeComplianceIssue || score > 80:
		return SeverityCritical
	case t == TypeHighRiskTransaction || score > 60:
		return SeverityHigh
	case t == TypeUnusualActivity:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func describe(req Request) string {
	str := func(key string) string {
		if v, ok := req.Details[key]; ok {
			return fmt.Sprint(v)
		}
		return ""
	}

	switch req.Type {
	case TypeLimitBreach:
		limit := str("limitType")
		if codes, ok := req.Details["limits"].([]string); ok && limit == "" {
			limit = strings.Join(codes, ", ")
		}
		return fmt.Sprintf("User attempted to exceed %s limit", limit)
	case TypeUnusualActivity:
		return fmt.Sprintf("Unusual %s detected for user account", str("type"))
	case TypeHighRiskTransaction:
		return fmt.Sprintf("High risk %s transaction of $%s", req.Operation, req.Amount.StringFixed(2))
	case TypeComplianceIssue:
		return fmt.Sprintf("Compliance issue detected: %s", str("type"))
	case TypeLimitIncreaseRequest:
		return fmt.Sprintf("Requested %s increase to %s", str("limitType"), str("requestedLimit"))
	case TypeKYCSubmission:
		return "KYC documents submitted for review"
	case TypeLossLimitApproach:
		return fmt.Sprintf("Account is approaching its %s limit", str("limitType"))
	default:
		return "Security alert triggered"
	}
}
