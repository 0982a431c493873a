package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskgate/internal/logging"
	"github.com/mbd888/riskgate/internal/metrics"
)

// Defaults for a freshly initialized profile.
const (
	initialIPReputation = 50
	initialDeviceTrust  = 50
	initialAMLRisk      = 10
)

// ProfileInput seeds a new profile. Empty fields take conservative defaults.
type ProfileInput struct {
	HolderName        string `json:"holderName"`
	Country           string `json:"country"`
	TradingExperience string `json:"tradingExperience"`
	VerificationLevel string `json:"verificationLevel"`
	KYCStatus         string `json:"kycStatus"`
}

func (in ProfileInput) parse() (Experience, Verification, KYCStatus, error) {
	exp, ver, kyc := ExperienceBeginner, VerificationNone, KYCPending
	var err error
	if in.TradingExperience != "" {
		if exp, err = ParseExperience(in.TradingExperience); err != nil {
			return "", "", "", err
		}
	}
	if in.VerificationLevel != "" {
		if ver, err = ParseVerification(in.VerificationLevel); err != nil {
			return "", "", "", err
		}
	}
	if in.KYCStatus != "" {
		if kyc, err = ParseKYCStatus(in.KYCStatus); err != nil {
			return "", "", "", err
		}
	}
	return exp, ver, kyc, nil
}

// InitializeProfile creates the account's profile, or returns the existing
// one unchanged.
func (s *Service) InitializeProfile(ctx context.Context, accountID string, in ProfileInput) (*Profile, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id required", ErrInvalidInput)
	}
	exp, ver, kyc, err := in.parse()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	p := &Profile{
		AccountID:  accountID,
		HolderName: in.HolderName,
		Country:    in.Country,
		Limits:     s.policy.LimitsFor(ver),
		CurrentUsage: Usage{
			LastReset: now,
		},
		RiskFactors: Factors{
			TradingExperience: exp,
			VerificationLevel: ver,
			KYCStatus:         kyc,
			IPReputation:      initialIPReputation,
			DeviceTrust:       initialDeviceTrust,
			GeographicRisk:    s.policy.GeographicRisk(in.Country),
			AMLRisk:           initialAMLRisk,
		},
		Violations: []Violation{},
		Monitoring: Monitoring{RestrictionLevel: RestrictionNone},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.scorer.Assess(p)

	err = s.storeCall(ctx, func(ctx context.Context) error {
		return s.store.Create(ctx, p)
	})
	if errors.Is(err, ErrProfileExists) {
		return s.loadProfile(ctx, accountID)
	}
	if err != nil {
		return nil, err
	}

	logging.L(ctx).Info("risk profile initialized", "account_id", accountID, "risk_level", p.RiskLevel, "score", p.RiskScore)
	return p, nil
}

// loadOrInit loads the profile, creating it when the policy allows.
func (s *Service) loadOrInit(ctx context.Context, accountID string, in ProfileInput) (*Profile, error) {
	p, err := s.loadProfile(ctx, accountID)
	if errors.Is(err, ErrProfileNotFound) && s.policy.AutoInitializeProfiles {
		return s.InitializeProfile(ctx, accountID, in)
	}
	return p, err
}

// GetProfile returns the stored profile.
func (s *Service) GetProfile(ctx context.Context, accountID string) (*Profile, error) {
	return s.loadProfile(ctx, accountID)
}

// ProfileUpdate carries self-declared profile changes.
type ProfileUpdate struct {
	TradingExperience string          `json:"tradingExperience"`
	AnnualIncome      decimal.Decimal `json:"annualIncome"`
}

var (
	expertIncomeFloor     = decimal.NewFromInt(100000)
	expertDailyTradingCap = decimal.NewFromInt(200000)
	expertSingleTradeCap  = decimal.NewFromInt(100000)
	two                   = decimal.NewFromInt(2)
)

// UpdateProfile applies a self-declared update and reassesses. An expert
// with income above 100,000 gets doubled trading limits, capped.
func (s *Service) UpdateProfile(ctx context.Context, accountID string, upd ProfileUpdate) (*Profile, error) {
	var exp Experience
	if upd.TradingExperience != "" {
		var err error
		if exp, err = ParseExperience(upd.TradingExperience); err != nil {
			return nil, err
		}
	}

	if _, err := s.loadProfile(ctx, accountID); errors.Is(err, ErrProfileNotFound) {
		return s.InitializeProfile(ctx, accountID, ProfileInput{TradingExperience: upd.TradingExperience})
	}

	return s.mutate(ctx, accountID, func(p *Profile, _ time.Time) error {
		if exp != "" {
			p.RiskFactors.TradingExperience = exp
		}
		if exp == ExperienceExpert && upd.AnnualIncome.GreaterThan(expertIncomeFloor) {
			p.Limits.DailyTradingLimit = decimal.Min(expertDailyTradingCap, p.Limits.DailyTradingLimit.Mul(two))
			p.Limits.MaxSingleTradeSize = decimal.Min(expertSingleTradeCap, p.Limits.MaxSingleTradeSize.Mul(two))
		}
		s.scorer.Assess(p)
		return nil
	})
}

// Reassess recomputes account age and the profile score.
func (s *Service) Reassess(ctx context.Context, accountID string) (*Profile, error) {
	return s.mutate(ctx, accountID, func(p *Profile, now time.Time) error {
		p.RiskFactors.AccountAge = daysSince(p.CreatedAt, now)
		s.scorer.Assess(p)
		p.LastReview = &now
		return nil
	})
}

// ReviewDue reassesses up to limit profiles whose review date has passed.
func (s *Service) ReviewDue(ctx context.Context, limit int) (int, error) {
	var due []*Profile
	err := s.storeCall(ctx, func(ctx context.Context) error {
		var err error
		due, err = s.store.ListDueForReview(ctx, s.clock.Now(), limit)
		return err
	})
	if err != nil {
		return 0, err
	}

	reviewed := 0
	for _, p := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Reassess(ctx, p.AccountID); err != nil {
			s.logger.Warn("scheduled reassessment failed", "account_id", p.AccountID, "error", err)
			continue
		}
		metrics.ProfilesReviewed.Inc()
		reviewed++
	}
	return reviewed, nil
}
