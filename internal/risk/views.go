package risk

import (
	"context"
	"time"
)

// LimitsView is the read model behind the limits endpoint.
type LimitsView struct {
	AccountID      string       `json:"accountId"`
	Limits         Limits       `json:"limits"`
	CurrentUsage   Usage        `json:"currentUsage"`
	Remaining      LimitAmounts `json:"remaining"`
	Utilization    LimitAmounts `json:"utilization"`
	RiskLevel      Level        `json:"riskLevel"`
	RiskScore      int          `json:"riskScore"`
	LastAssessment time.Time    `json:"lastAssessment"`
	Monitoring     Monitoring   `json:"monitoring"`
}

// Limits reports limits, usage and headroom. A stale daily window is shown
// as reset without writing it back.
func (s *Service) Limits(ctx context.Context, accountID string) (*LimitsView, error) {
	p, err := s.loadProfile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	u := p.CurrentUsage
	s.usage.ResetIfDue(&u, s.clock.Now())

	return &LimitsView{
		AccountID:      p.AccountID,
		Limits:         p.Limits,
		CurrentUsage:   u,
		Remaining:      s.limits.Remaining(p.Limits, u),
		Utilization:    s.limits.Utilization(p.Limits, u),
		RiskLevel:      p.RiskLevel,
		RiskScore:      p.RiskScore,
		LastAssessment: p.LastAssessment,
		Monitoring:     p.Monitoring,
	}, nil
}

// KYCView summarizes identity verification.
type KYCView struct {
	Status   KYCStatus    `json:"status"`
	Level    Verification `json:"level"`
	Required bool         `json:"required"`
	NextStep string       `json:"nextStep,omitempty"`
}

// AMLView summarizes screening state.
type AMLView struct {
	Status    string    `json:"status"`
	RiskScore int       `json:"riskScore"`
	LastCheck time.Time `json:"lastCheck"`
	Sanctions bool      `json:"sanctionsHit"`
	PEP       bool      `json:"pep"`
}

// ViolationCounts summarizes violation history.
type ViolationCounts struct {
	Total  int `json:"total"`
	Open   int `json:"open"`
	Recent int `json:"recent"` // last 30 days
}

// ComplianceView is the read model behind the compliance endpoint.
type ComplianceView struct {
	AccountID  string          `json:"accountId"`
	KYC        KYCView         `json:"kyc"`
	AML        AMLView         `json:"aml"`
	Monitoring Monitoring      `json:"monitoring"`
	Violations ViolationCounts `json:"violations"`
}

func amlBucket(score int) string {
	switch {
	case score < 30:
		return "low_risk"
	case score < 70:
		return "medium_risk"
	default:
		return "high_risk"
	}
}

// ComplianceStatus reports KYC, AML, monitoring and violation state.
func (s *Service) ComplianceStatus(ctx context.Context, accountID string) (*ComplianceView, error) {
	p, err := s.loadProfile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	f := p.RiskFactors

	kyc := KYCView{
		Status:   f.KYCStatus,
		Level:    f.VerificationLevel,
		Required: f.KYCStatus != KYCApproved,
	}
	switch f.KYCStatus {
	case KYCPending:
		kyc.NextStep = "Submit documents"
	case KYCRejected, KYCExpired:
		kyc.NextStep = "Resubmit documents"
	}

	counts := ViolationCounts{Total: len(p.Violations), Open: p.UnresolvedViolations()}
	cutoff := now.Add(-30 * 24 * time.Hour)
	for _, v := range p.Violations {
		if v.Date.After(cutoff) {
			counts.Recent++
		}
	}

	return &ComplianceView{
		AccountID: p.AccountID,
		KYC:       kyc,
		AML: AMLView{
			Status:    amlBucket(f.AMLRisk),
			RiskScore: f.AMLRisk,
			LastCheck: p.LastAssessment,
			Sanctions: f.SanctionsCheck,
			PEP:       f.PEPCheck,
		},
		Monitoring: p.Monitoring,
		Violations: counts,
	}, nil
}

// Recommendation is a suggested next step for lowering risk.
type Recommendation struct {
	Category string `json:"category"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

// AssessmentView is the read model behind the assessment endpoint.
type AssessmentView struct {
	AccountID          string           `json:"accountId"`
	RiskScore          int              `json:"riskScore"`
	RiskLevel          Level            `json:"riskLevel"`
	Breakdown          Breakdown        `json:"breakdown"`
	Recommendations    []Recommendation `json:"recommendations"`
	CanTradeFreely     bool             `json:"canTradeFreely"`
	RequiresMonitoring bool             `json:"requiresMonitoring"`
	NextReview         time.Time        `json:"nextReview"`
}

// Assessment explains the stored score factor by factor.
func (s *Service) Assessment(ctx context.Context, accountID string) (*AssessmentView, error) {
	p, err := s.loadProfile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	b := s.scorer.Breakdown(p.RiskFactors)

	recs := []Recommendation{}
	if b.Verification > 0 {
		recs = append(recs, Recommendation{
			Category: "verification",
			Priority: "high",
			Message:  "Complete identity verification to lower your risk score and raise limits",
		})
	}
	if b.Experience > 10 {
		recs = append(recs, Recommendation{
			Category: "education",
			Priority: "medium",
			Message:  "Complete trading education to demonstrate experience",
		})
	}
	if p.UnresolvedViolations() > 0 {
		recs = append(recs, Recommendation{
			Category: "compliance",
			Priority: "high",
			Message:  "Resolve outstanding violations",
		})
	}

	return &AssessmentView{
		AccountID:          p.AccountID,
		RiskScore:          p.RiskScore,
		RiskLevel:          p.RiskLevel,
		Breakdown:          b,
		Recommendations:    recs,
		CanTradeFreely:     !p.Monitoring.IsRestricted && p.RiskScore < 60,
		RequiresMonitoring: p.Monitoring.IsMonitored || p.RiskScore >= 80,
		NextReview:         p.NextReview,
	}, nil
}
