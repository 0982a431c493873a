package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskgate/internal/compliance"
	"github.com/mbd888/riskgate/internal/idgen"
	"github.com/mbd888/riskgate/internal/txn"
)

// Outcome summarizes a Decision for callers that only branch on one value.
type Outcome string

const (
	OutcomeAllow    Outcome = "allow"
	OutcomeWarn     Outcome = "warn"
	OutcomeBlock    Outcome = "block"
	OutcomeEscalate Outcome = "escalate"
)

// Violation and warning codes reported on a Decision.
const (
	ViolationAccountRestricted  = "account_restricted"
	ViolationStoreUnavailable   = "risk_store_unavailable"
	ViolationProfileNotFound    = "risk_profile_not_found"
	ViolationProfileCorrupt     = "risk_profile_corrupt"
	ViolationInvalidAmount      = "invalid_amount"
	ViolationInvalidOperation   = "invalid_operation"
	ViolationCheckCancelled     = "risk_check_cancelled"
	ViolationAMLScreeningFailed = "aml_screening_failed"

	WarningHighVelocity        = "high_velocity"
	WarningVelocityUnavailable = "velocity_check_unavailable"
	WarningUnusualPattern      = "unusual_pattern"
	WarningPatternUnavailable  = "pattern_check_unavailable"
	WarningAMLManualReview     = "aml_manual_review"
	WarningManualApproval      = "manual_approval_required"
)

// Score adjustments applied on top of the transaction risk.
const (
	velocityPenalty = 20
	patternPenalty  = 15
	approvalScore   = 70 // strictly above requires approval
	alertScore      = 60 // strictly above raises high_risk_transaction
)

// RequestContext carries what the caller knows about the request origin.
type RequestContext struct {
	IPAddress       string `json:"ipAddress,omitempty"`
	UserAgent       string `json:"userAgent,omitempty"`
	Country         string `json:"country,omitempty"`
	PaymentMethodID string `json:"paymentMethodId,omitempty"`
	NewDevice       bool   `json:"newDevice,omitempty"`
	IPReputation    *int   `json:"ipReputation,omitempty"`
}

// Decision is the engine's verdict on one proposed operation.
type Decision struct {
	ID               string                     `json:"decisionId"`
	AccountID        string                     `json:"accountId"`
	Operation        txn.Operation              `json:"operation"`
	Amount           decimal.Decimal            `json:"amount"`
	Allowed          bool                       `json:"allowed"`
	Outcome          Outcome                    `json:"outcome"`
	Warnings         []string                   `json:"warnings"`
	Violations       []string                   `json:"violations"`
	RiskScore        int                        `json:"riskScore"`
	RequiresApproval bool                       `json:"requiresApproval"`
	LimitBreaches    []string                   `json:"limitBreaches"`
	Factors          []string                   `json:"factors"`
	Velocity         *VelocityResult            `json:"velocity,omitempty"`
	Pattern          *PatternResult             `json:"pattern,omitempty"`
	KYC              *compliance.KYCRequirement `json:"kyc,omitempty"`
	AML              *compliance.AMLResult      `json:"aml,omitempty"`
	EvaluatedAt      time.Time                  `json:"evaluatedAt"`
}

func newDecision(accountID string, op txn.Operation, amount decimal.Decimal, now time.Time) *Decision {
	return &Decision{
		ID:            idgen.WithPrefix("dec_"),
		AccountID:     accountID,
		Operation:     op,
		Amount:        amount,
		Allowed:       true,
		Warnings:      []string{},
		Violations:    []string{},
		LimitBreaches: []string{},
		Factors:       []string{},
		EvaluatedAt:   now,
	}
}

// block marks the decision as denied with violation.
func (d *Decision) block(violation string) {
	d.Allowed = false
	d.Violations = append(d.Violations, violation)
}

func (d *Decision) warn(w string) {
	for _, existing := range d.Warnings {
		if existing == w {
			return
		}
	}
	d.Warnings = append(d.Warnings, w)
}

func (d *Decision) settle() {
	switch {
	case !d.Allowed:
		d.Outcome = OutcomeBlock
	case d.RequiresApproval:
		d.Outcome = OutcomeEscalate
	case len(d.Warnings) > 0:
		d.Outcome = OutcomeWarn
	default:
		d.Outcome = OutcomeAllow
	}
}

var offHoursMinimum = decimal.NewFromInt(5000)

// transactionRisk scores the request itself, separately from the profile.
func (s *Service) transactionRisk(p *Profile, op txn.Operation, amount decimal.Decimal, rc RequestContext, now time.Time) (int, []string) {
	var factors []string
	score := 0

	if excess := p.RiskScore - 50; excess > 0 {
		score += excess
		factors = append(factors, "elevated_profile_risk")
	}

	large := s.policy.Operations[op].SingleLarge
	if amount.GreaterThan(large) {
		score += 30
		factors = append(factors, "large_amount")
	}
	if amount.GreaterThan(large.Mul(decimal.NewFromInt(2))) {
		score += 20
		factors = append(factors, "very_large_amount")
	}

	if p.RiskFactors.AccountAge < 30 {
		score += 25
		factors = append(factors, "new_account")
	}

	if hour := now.In(s.loc).Hour(); (hour < 6 || hour > 22) && amount.GreaterThan(offHoursMinimum) {
		score += 15
		factors = append(factors, "off_hours_transaction")
	}

	if s.policy.IsHighRiskCountry(rc.Country) {
		score += 20
		factors = append(factors, "high_risk_geography")
	}
	if rc.NewDevice {
		score += 15
		factors = append(factors, "new_device")
	}
	if rc.IPReputation != nil && *rc.IPReputation < 30 {
		score += 20
		factors = append(factors, "low_ip_reputation")
	}

	if n := p.unresolvedSince(now.Add(-7 * 24 * time.Hour)); n > 0 {
		score += 10 * n
		factors = append(factors, "recent_violations")
	}

	return clampScore(score), factors
}

func limitCodes(codes []LimitCode) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}
