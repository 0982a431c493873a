package risk

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskgate/internal/alerts"
	"github.com/mbd888/riskgate/internal/compliance"
	"github.com/mbd888/riskgate/internal/idgen"
	"github.com/mbd888/riskgate/internal/txn"
)

// ViolationInput records a new violation.
type ViolationInput struct {
	Type        ViolationType     `json:"type"`
	Description string            `json:"description"`
	Severity    ViolationSeverity `json:"severity"`
}

func (in *ViolationInput) validate() error {
	switch in.Type {
	case ViolationLimitBreach, ViolationSuspiciousActivity, ViolationPolicy, ViolationManualFlag:
	default:
		return fmt.Errorf("%w: unknown violation type %q", ErrInvalidInput, in.Type)
	}
	switch in.Severity {
	case "":
		in.Severity = ViolationMedium
	case ViolationLow, ViolationMedium, ViolationHigh, ViolationCritical:
	default:
		return fmt.Errorf("%w: unknown violation severity %q", ErrInvalidInput, in.Severity)
	}
	return nil
}

// AddViolation appends a violation. The third unresolved violation puts the
// account under monitoring.
func (s *Service) AddViolation(ctx context.Context, accountID string, in ViolationInput) (*Profile, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, accountID, func(p *Profile, now time.Time) error {
		p.Violations = append(p.Violations, Violation{
			ID:          idgen.WithPrefix("viol_"),
			Type:        in.Type,
			Description: in.Description,
			Severity:    in.Severity,
			Date:        now,
		})
		if p.UnresolvedViolations() >= monitoringViolationCount && !p.Monitoring.IsMonitored {
			p.Monitoring.IsMonitored = true
			p.Monitoring.MonitoringReason = "Multiple violations detected"
			p.Monitoring.MonitoringStarted = &now
		}
		return nil
	})
}

// ResolveViolation closes a violation. Monitoring, once started, stays on
// until a reviewer clears it.
func (s *Service) ResolveViolation(ctx context.Context, accountID, violationID, resolvedBy string, actions []string) (*Profile, error) {
	if resolvedBy == "" {
		return nil, fmt.Errorf("%w: resolvedBy required", ErrInvalidInput)
	}
	return s.mutate(ctx, accountID, func(p *Profile, now time.Time) error {
		i := slices.IndexFunc(p.Violations, func(v Violation) bool { return v.ID == violationID })
		if i < 0 {
			return ErrViolationNotFound
		}
		v := &p.Violations[i]
		if v.Resolved {
			return ErrViolationResolved
		}
		v.Resolved = true
		v.ResolvedAt = &now
		v.ResolvedBy = resolvedBy
		v.Actions = actions
		return nil
	})
}

// ClearMonitoring takes the account off monitoring. It is refused while
// enough unresolved violations remain to put the account back under it.
func (s *Service) ClearMonitoring(ctx context.Context, accountID string) (*Profile, error) {
	return s.mutate(ctx, accountID, func(p *Profile, _ time.Time) error {
		if n := p.UnresolvedViolations(); n >= monitoringViolationCount {
			return fmt.Errorf("%w: %d unresolved violations keep the account under monitoring", ErrInvalidInput, n)
		}
		p.Monitoring.IsMonitored = false
		p.Monitoring.MonitoringReason = ""
		p.Monitoring.MonitoringStarted = nil
		return nil
	})
}

// Restrict blocks every further operation for the account.
func (s *Service) Restrict(ctx context.Context, accountID string, level RestrictionLevel, reason string) (*Profile, error) {
	if _, err := ParseRestrictionLevel(string(level)); err != nil {
		return nil, err
	}
	p, err := s.mutate(ctx, accountID, func(p *Profile, _ time.Time) error {
		p.Monitoring.IsRestricted = true
		p.Monitoring.RestrictionLevel = level
		p.Monitoring.RestrictionReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.raise(ctx, alerts.Request{
		AccountID: accountID,
		Type:      alerts.TypeSecurityAlert,
		Details: map[string]any{
			"type":             "account_restricted",
			"restrictionLevel": string(level),
			"reason":           reason,
		},
	})
	return p, nil
}

// Unrestrict lifts a restriction.
func (s *Service) Unrestrict(ctx context.Context, accountID string) (*Profile, error) {
	return s.mutate(ctx, accountID, func(p *Profile, _ time.Time) error {
		p.Monitoring.IsRestricted = false
		p.Monitoring.RestrictionLevel = RestrictionNone
		p.Monitoring.RestrictionReason = ""
		return nil
	})
}

// ReviewKYC records a reviewer's KYC verdict. Approval re-derives the
// limits from the verification tier.
func (s *Service) ReviewKYC(ctx context.Context, accountID, status, level string) (*Profile, error) {
	kyc, err := ParseKYCStatus(status)
	if err != nil {
		return nil, err
	}
	var ver Verification
	if level != "" {
		if ver, err = ParseVerification(level); err != nil {
			return nil, err
		}
	}
	return s.mutate(ctx, accountID, func(p *Profile, _ time.Time) error {
		p.RiskFactors.KYCStatus = kyc
		if ver != "" {
			p.RiskFactors.VerificationLevel = ver
		}
		if kyc == KYCApproved {
			p.Limits = s.policy.LimitsFor(p.RiskFactors.VerificationLevel)
		}
		s.scorer.Assess(p)
		return nil
	})
}

// KYCSubmission describes identity documents sent for review.
type KYCSubmission struct {
	DocumentType   string `json:"documentType"`
	DocumentNumber string `json:"documentNumber"`
	IssuingCountry string `json:"issuingCountry"`
	ExpiryDate     string `json:"expiryDate,omitempty"`
}

// SubmitKYC marks the profile pending review and raises a kyc_submission
// alert for the review desk. An unverified account moves to basic.
func (s *Service) SubmitKYC(ctx context.Context, accountID string, sub KYCSubmission) (*Profile, error) {
	if sub.DocumentType == "" || sub.DocumentNumber == "" || sub.IssuingCountry == "" {
		return nil, fmt.Errorf("%w: document type, number, and issuing country are required", ErrInvalidInput)
	}
	if _, err := s.loadOrInit(ctx, accountID, ProfileInput{}); err != nil {
		return nil, err
	}

	p, err := s.mutate(ctx, accountID, func(p *Profile, _ time.Time) error {
		p.RiskFactors.KYCStatus = KYCPending
		if p.RiskFactors.VerificationLevel == VerificationNone {
			p.RiskFactors.VerificationLevel = VerificationBasic
		}
		s.scorer.Assess(p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.raise(ctx, alerts.Request{
		AccountID: accountID,
		Type:      alerts.TypeKYCSubmission,
		Details: map[string]any{
			"documentType":   sub.DocumentType,
			"issuingCountry": sub.IssuingCountry,
			"submittedAt":    s.clock.Now(),
		},
	})
	return p, nil
}

// CheckKYC reports the verification an amount would need. An unknown
// account always needs basic KYC.
func (s *Service) CheckKYC(ctx context.Context, accountID string, op txn.Operation, amount decimal.Decimal) (compliance.KYCRequirement, error) {
	if _, ok := s.policy.Operations[op]; !ok {
		return compliance.KYCRequirement{}, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	if !amount.IsPositive() {
		return compliance.KYCRequirement{}, ErrInvalidAmount
	}
	p, err := s.loadProfile(ctx, accountID)
	if errors.Is(err, ErrProfileNotFound) {
		return compliance.KYCRequirement{Required: true, Level: compliance.LevelBasic, Reason: "no risk profile on file"}, nil
	}
	if err != nil {
		return compliance.KYCRequirement{}, err
	}
	return s.gate.CheckKYC(subjectFor(p), amount), nil
}

// Limit types a holder may ask to raise.
var increasableLimits = []string{
	"dailyTradingLimit",
	"dailyWithdrawalLimit",
	"dailyDepositLimit",
	"maxSingleTradeSize",
	"maxOpenPositions",
}

// LimitIncreaseRequest asks the review desk to raise one limit.
type LimitIncreaseRequest struct {
	LimitType       string          `json:"limitType"`
	RequestedAmount decimal.Decimal `json:"requestedAmount"`
	Justification   string          `json:"justification"`
}

// LimitIncreaseReceipt acknowledges a queued request.
type LimitIncreaseReceipt struct {
	Status                  string          `json:"status"`
	LimitType               string          `json:"limitType"`
	CurrentAmount           decimal.Decimal `json:"currentAmount"`
	RequestedAmount         decimal.Decimal `json:"requestedAmount"`
	EstimatedProcessingTime string          `json:"estimatedProcessingTime"`
}

// RequestLimitIncrease validates the request and raises a
// limit_increase_request alert. Limits change only through review.
func (s *Service) RequestLimitIncrease(ctx context.Context, accountID string, req LimitIncreaseRequest) (*LimitIncreaseReceipt, error) {
	if !slices.Contains(increasableLimits, req.LimitType) {
		return nil, fmt.Errorf("%w: invalid limit type %q", ErrInvalidInput, req.LimitType)
	}
	if !req.RequestedAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(req.Justification) == "" {
		return nil, fmt.Errorf("%w: justification required", ErrInvalidInput)
	}

	p, err := s.loadProfile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	current := currentLimit(p.Limits, req.LimitType)

	s.raise(ctx, alerts.Request{
		AccountID: accountID,
		Type:      alerts.TypeLimitIncreaseRequest,
		Amount:    req.RequestedAmount,
		Details: map[string]any{
			"limitType":       req.LimitType,
			"requestedAmount": req.RequestedAmount.String(),
			"currentAmount":   current.String(),
			"justification":   req.Justification,
		},
	})

	return &LimitIncreaseReceipt{
		Status:                  "pending_review",
		LimitType:               req.LimitType,
		CurrentAmount:           current,
		RequestedAmount:         req.RequestedAmount,
		EstimatedProcessingTime: "24-48 hours",
	}, nil
}

func currentLimit(l Limits, limitType string) decimal.Decimal {
	switch limitType {
	case "dailyTradingLimit":
		return l.DailyTradingLimit
	case "dailyWithdrawalLimit":
		return l.DailyWithdrawalLimit
	case "dailyDepositLimit":
		return l.DailyDepositLimit
	case "maxSingleTradeSize":
		return l.MaxSingleTradeSize
	case "maxOpenPositions":
		return decimal.NewFromInt(int64(l.MaxOpenPositions))
	}
	return decimal.Zero
}
