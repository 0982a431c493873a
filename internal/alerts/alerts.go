// Package alerts records risk alerts raised by the decision engine and
// drives their review lifecycle (open, investigating, resolved,
// false_positive). Alerts are never deleted.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskgate/internal/pagination"
)

var (
	ErrAlertNotFound = errors.New("alert not found")
	ErrAlertClosed   = errors.New("alert is already closed")
	ErrInvalidType   = errors.New("invalid alert type")
)

// Type classifies what raised the alert.
type Type string

const (
	TypeLimitBreach          Type = "limit_breach"
	TypeUnusualActivity      Type = "unusual_activity"
	TypeHighRiskTransaction  Type = "high_risk_transaction"
	TypeComplianceIssue      Type = "compliance_issue"
	TypeSecurityAlert        Type = "security_alert"
	TypeMarketRisk           Type = "market_risk"
	TypeConcentrationRisk    Type = "concentration_risk"
	TypeLossLimitApproach    Type = "loss_limit_approach"
	TypeLimitIncreaseRequest Type = "limit_increase_request"
	TypeKYCSubmission        Type = "kyc_submission"
)

// ParseType validates an alert type name.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeLimitBreach, TypeUnusualActivity, TypeHighRiskTransaction,
		TypeComplianceIssue, TypeSecurityAlert, TypeMarketRisk,
		TypeConcentrationRisk, TypeLossLimitApproach,
		TypeLimitIncreaseRequest, TypeKYCSubmission:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// Severity of an alert. Order matters: info < warning < high < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Status is the review state of an alert.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// TriggerEvent describes the request that raised the alert.
type TriggerEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Alert is a single risk alert.
type Alert struct {
	ID             string         `json:"alertId"`
	AccountID      string         `json:"accountId"`
	Type           Type           `json:"type"`
	Severity       Severity       `json:"severity"`
	Status         Status         `json:"status"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Details        map[string]any `json:"details,omitempty"`
	TriggerEvent   *TriggerEvent  `json:"triggerEvent,omitempty"`
	RiskScore      int            `json:"riskScore"`
	RiskFactors    []string       `json:"riskFactors,omitempty"`
	RequiresAction bool           `json:"requiresAction"`
	AssignedTo     string         `json:"assignedTo,omitempty"`
	Escalated      bool           `json:"escalated"`
	EscalatedAt    *time.Time     `json:"escalatedAt,omitempty"`
	EscalatedTo    string         `json:"escalatedTo,omitempty"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty"`
	ResolvedBy     string         `json:"resolvedBy,omitempty"`
	Resolution     string         `json:"resolution,omitempty"`
	ActionsTaken   []string       `json:"actionsTaken,omitempty"`
	UserNotified   bool           `json:"userNotified"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Request is what a caller supplies to raise an alert. Title, description,
// severity and (unless RiskScore > 0) score are derived by the Manager.
type Request struct {
	AccountID   string
	Type        Type
	Amount      decimal.Decimal
	Operation   string
	RiskScore   int
	RiskFactors []string
	Details     map[string]any
	Trigger     *TriggerEvent
}

// Filter narrows alert listings. Zero values match everything.
type Filter struct {
	AccountID string
	Status    Status
	Severity  Severity
	Type      Type
	Page      int // 1-based
	Limit     int

	// Keyset switches to cursor paging: Page is ignored, only alerts older
	// than After are returned, and one extra row is fetched so the caller
	// can tell whether another page exists.
	Keyset bool
	After  *pagination.Cursor
}

// Normalize clamps paging to sane bounds.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
}

// Offset returns the row offset for the current page.
func (f Filter) Offset() int {
	if f.Keyset {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// FetchLimit is the number of rows a store should return.
func (f Filter) FetchLimit() int {
	if f.Keyset {
		return f.Limit + 1
	}
	return f.Limit
}

// Store persists alerts.
type Store interface {
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	Update(ctx context.Context, a *Alert) error
	// List returns one page of matching alerts, newest first, plus the total match count.
	List(ctx context.Context, f Filter) ([]*Alert, int, error)
}

// Raiser accepts alert requests. Implementations never block a decision on
// alert persistence failures; they log and count them instead.
type Raiser interface {
	Raise(ctx context.Context, req Request)
}

// EventKind names an alert lifecycle change pushed to notifiers.
type EventKind string

const (
	EventCreated       EventKind = "alert.created"
	EventEscalated     EventKind = "alert.escalated"
	EventInvestigating EventKind = "alert.investigating"
	EventResolved      EventKind = "alert.resolved"
	EventFalsePositive EventKind = "alert.false_positive"
)

// Event is delivered to notifiers after a lifecycle change is persisted.
type Event struct {
	Kind  EventKind `json:"kind"`
	Alert *Alert    `json:"alert"`
	At    time.Time `json:"at"`
}

// Notifier receives alert events (Kafka topic, WebSocket hub, ...).
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

func clone(a *Alert) *Alert {
	c := *a
	if a.Details != nil {
		c.Details = make(map[string]any, len(a.Details))
		for k, v := range a.Details {
			c.Details[k] = v
		}
	}
	if a.RiskFactors != nil {
		c.RiskFactors = append([]string(nil), a.RiskFactors...)
	}
	if a.ActionsTaken != nil {
		c.ActionsTaken = append([]string(nil), a.ActionsTaken...)
	}
	if a.TriggerEvent != nil {
		te := *a.TriggerEvent
		c.TriggerEvent = &te
	}
	return &c
}
