// Package risk is the transaction risk and compliance decision engine.
//
// Every deposit, withdrawal and trade is checked against the account's
// RiskProfile before money moves: usage limits, a composite profile score,
// a per-transaction risk contribution, velocity and statistical pattern
// checks, and the compliance gate. The result is a Decision (allow, warn,
// block, escalate). Side effects are alerts and, once the caller reports a
// successful operation, usage updates and a reassessment.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProfileNotFound  = errors.New("risk profile not found")
	ErrProfileExists    = errors.New("risk profile already exists")
	ErrStoreUnavailable = errors.New("risk store unavailable")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrVersionConflict  = errors.New("risk profile was modified concurrently")
	ErrCorruptProfile   = errors.New("risk profile is corrupt")
	ErrInvalidInput     = errors.New("invalid input")

	ErrViolationNotFound = errors.New("violation not found")
	ErrViolationResolved = errors.New("violation already resolved")
)

// Level buckets a profile score.
type Level string

const (
	LevelVeryLow    Level = "very_low"
	LevelLow        Level = "low"
	LevelMedium     Level = "medium"
	LevelHigh       Level = "high"
	LevelVeryHigh   Level = "very_high"
	LevelRestricted Level = "restricted"
)

// Experience is the self-declared trading experience tier.
type Experience string

const (
	ExperienceBeginner     Experience = "beginner"
	ExperienceIntermediate Experience = "intermediate"
	ExperienceAdvanced     Experience = "advanced"
	ExperienceExpert       Experience = "expert"
)

// ParseExperience validates an experience tier.
func ParseExperience(s string) (Experience, error) {
	switch e := Experience(s); e {
	case ExperienceBeginner, ExperienceIntermediate, ExperienceAdvanced, ExperienceExpert:
		return e, nil
	}
	return "", fmt.Errorf("%w: unknown trading experience %q", ErrInvalidInput, s)
}

// Verification is the identity verification tier.
type Verification string

const (
	VerificationNone          Verification = "none"
	VerificationBasic         Verification = "basic"
	VerificationEnhanced      Verification = "enhanced"
	VerificationInstitutional Verification = "institutional"
)

// ParseVerification validates a verification tier.
func ParseVerification(s string) (Verification, error) {
	switch v := Verification(s); v {
	case VerificationNone, VerificationBasic, VerificationEnhanced, VerificationInstitutional:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown verification level %q", ErrInvalidInput, s)
}

// KYCStatus is the state of the account's identity review.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCApproved KYCStatus = "approved"
	KYCRejected KYCStatus = "rejected"
	KYCExpired  KYCStatus = "expired"
)

// ParseKYCStatus validates a KYC status.
func ParseKYCStatus(s string) (KYCStatus, error) {
	switch k := KYCStatus(s); k {
	case KYCPending, KYCApproved, KYCRejected, KYCExpired:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown kyc status %q", ErrInvalidInput, s)
}

// RestrictionLevel describes how far an account is locked down.
type RestrictionLevel string

const (
	RestrictionNone                 RestrictionLevel = "none"
	RestrictionTradingSuspended     RestrictionLevel = "trading_suspended"
	RestrictionWithdrawalsSuspended RestrictionLevel = "withdrawals_suspended"
	RestrictionAccountFrozen        RestrictionLevel = "account_frozen"
)

// ParseRestrictionLevel validates a restriction level other than none.
func ParseRestrictionLevel(s string) (RestrictionLevel, error) {
	switch r := RestrictionLevel(s); r {
	case RestrictionTradingSuspended, RestrictionWithdrawalsSuspended, RestrictionAccountFrozen:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown restriction level %q", ErrInvalidInput, s)
}

// ViolationType classifies a recorded violation.
type ViolationType string

const (
	ViolationLimitBreach        ViolationType = "limit_breach"
	ViolationSuspiciousActivity ViolationType = "suspicious_activity"
	ViolationPolicy             ViolationType = "policy_violation"
	ViolationManualFlag         ViolationType = "manual_flag"
)

// ViolationSeverity grades a violation.
type ViolationSeverity string

const (
	ViolationLow      ViolationSeverity = "low"
	ViolationMedium   ViolationSeverity = "medium"
	ViolationHigh     ViolationSeverity = "high"
	ViolationCritical ViolationSeverity = "critical"
)

// monitoringViolationCount unresolved violations put an account under monitoring.
const monitoringViolationCount = 3

// Limits are per-account ceilings. Money values are USD.
type Limits struct {
	DailyTradingLimit     decimal.Decimal `json:"dailyTradingLimit" yaml:"daily_trading_limit"`
	DailyWithdrawalLimit  decimal.Decimal `json:"dailyWithdrawalLimit" yaml:"daily_withdrawal_limit"`
	DailyDepositLimit     decimal.Decimal `json:"dailyDepositLimit" yaml:"daily_deposit_limit"`
	MaxPositionSize       decimal.Decimal `json:"maxPositionSize" yaml:"max_position_size"`
	MaxOpenPositions      int             `json:"maxOpenPositions" yaml:"max_open_positions"`
	MaxLeverage           int             `json:"maxLeverage" yaml:"max_leverage"`
	MaxDailyLoss          decimal.Decimal `json:"maxDailyLoss" yaml:"max_daily_loss"`
	MaxWeeklyLoss         decimal.Decimal `json:"maxWeeklyLoss" yaml:"max_weekly_loss"`
	MaxMonthlyLoss        decimal.Decimal `json:"maxMonthlyLoss" yaml:"max_monthly_loss"`
	MaxAssetConcentration int             `json:"maxAssetConcentration" yaml:"max_asset_concentration"` // percent of portfolio
	MaxSingleTradeSize    decimal.Decimal `json:"maxSingleTradeSize" yaml:"max_single_trade_size"`
}

// Usage holds the rolling counters checked against Limits.
type Usage struct {
	DailyTrading     decimal.Decimal `json:"dailyTrading"`
	DailyWithdrawals decimal.Decimal `json:"dailyWithdrawals"`
	DailyDeposits    decimal.Decimal `json:"dailyDeposits"`
	DailyLoss        decimal.Decimal `json:"dailyLoss"`
	WeeklyLoss       decimal.Decimal `json:"weeklyLoss"`
	MonthlyLoss      decimal.Decimal `json:"monthlyLoss"`
	OpenPositions    int             `json:"openPositions"`
	LastReset        time.Time       `json:"lastReset"`
}

// Factors are the inputs to the profile score.
type Factors struct {
	AccountAge        int          `json:"accountAge"` // days
	TradingExperience Experience   `json:"tradingExperience"`
	VerificationLevel Verification `json:"verificationLevel"`
	KYCStatus         KYCStatus    `json:"kycStatus"`

	TradingFrequency float64         `json:"tradingFrequency"` // trades per day
	AverageTradeSize decimal.Decimal `json:"averageTradeSize"`
	WinRate          float64         `json:"winRate"` // percent
	ProfitLossRatio  float64         `json:"profitLossRatio"`

	IPReputation   int `json:"ipReputation"`   // 0-100, higher is better
	DeviceTrust    int `json:"deviceTrust"`    // 0-100, higher is better
	GeographicRisk int `json:"geographicRisk"` // 0-100

	AMLRisk        int  `json:"amlRisk"`        // 0-100
	SanctionsCheck bool `json:"sanctionsCheck"` // a sanctions hit has been recorded
	PEPCheck       bool `json:"pepCheck"`       // politically exposed person
}

// Violation is one entry in a profile's violation history.
type Violation struct {
	ID          string            `json:"id"`
	Type        ViolationType     `json:"type"`
	Description string            `json:"description"`
	Severity    ViolationSeverity `json:"severity"`
	Date        time.Time         `json:"date"`
	Resolved    bool              `json:"resolved"`
	ResolvedAt  *time.Time        `json:"resolvedAt,omitempty"`
	ResolvedBy  string            `json:"resolvedBy,omitempty"`
	Actions     []string          `json:"actions,omitempty"`
}

// Monitoring flags set by reviewers or by repeated violations.
type Monitoring struct {
	IsMonitored       bool             `json:"isMonitored"`
	MonitoringReason  string           `json:"monitoringReason,omitempty"`
	MonitoringStarted *time.Time       `json:"monitoringStarted,omitempty"`
	IsRestricted      bool             `json:"isRestricted"`
	RestrictionReason string           `json:"restrictionReason,omitempty"`
	RestrictionLevel  RestrictionLevel `json:"restrictionLevel"`
}

// Profile is the persistent per-account risk state. One per account, never
// deleted.
type Profile struct {
	AccountID  string `json:"accountId"`
	HolderName string `json:"holderName,omitempty"`
	Country    string `json:"country,omitempty"`

	RiskLevel      Level      `json:"riskLevel"`
	RiskScore      int        `json:"riskScore"`
	LastAssessment time.Time  `json:"lastAssessment"`
	LastReview     *time.Time `json:"lastReview,omitempty"`
	NextReview     time.Time  `json:"nextReview"`

	Limits       Limits      `json:"limits"`
	CurrentUsage Usage       `json:"currentUsage"`
	RiskFactors  Factors     `json:"riskFactors"`
	Violations   []Violation `json:"violations"`
	Monitoring   Monitoring  `json:"monitoring"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the invariants every persisted profile must hold.
func (p *Profile) Validate() error {
	if p.AccountID == "" {
		return fmt.Errorf("%w: missing account id", ErrCorruptProfile)
	}
	if p.RiskScore < 0 || p.RiskScore > 100 {
		return fmt.Errorf("%w: score %d out of range", ErrCorruptProfile, p.RiskScore)
	}
	if want := LevelForScore(p.RiskScore); p.RiskLevel != want {
		return fmt.Errorf("%w: level %q does not match score %d (want %q)", ErrCorruptProfile, p.RiskLevel, p.RiskScore, want)
	}
	u := p.CurrentUsage
	for _, v := range []decimal.Decimal{u.DailyTrading, u.DailyWithdrawals, u.DailyDeposits, u.DailyLoss, u.WeeklyLoss, u.MonthlyLoss} {
		if v.IsNegative() {
			return fmt.Errorf("%w: negative usage counter", ErrCorruptProfile)
		}
	}
	if u.OpenPositions < 0 {
		return fmt.Errorf("%w: negative open positions", ErrCorruptProfile)
	}
	if n := p.UnresolvedViolations(); n >= monitoringViolationCount && !p.Monitoring.IsMonitored {
		return fmt.Errorf("%w: %d unresolved violations but not monitored", ErrCorruptProfile, n)
	}
	return nil
}

// UnresolvedViolations counts violations not yet resolved.
func (p *Profile) UnresolvedViolations() int {
	n := 0
	for _, v := range p.Violations {
		if !v.Resolved {
			n++
		}
	}
	return n
}

// unresolvedSince counts unresolved violations dated after t.
func (p *Profile) unresolvedSince(t time.Time) int {
	n := 0
	for _, v := range p.Violations {
		if !v.Resolved && v.Date.After(t) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	cp := *p
	if p.LastReview != nil {
		t := *p.LastReview
		cp.LastReview = &t
	}
	if p.Monitoring.MonitoringStarted != nil {
		t := *p.Monitoring.MonitoringStarted
		cp.Monitoring.MonitoringStarted = &t
	}
	if p.Violations != nil {
		cp.Violations = make([]Violation, len(p.Violations))
		for i, v := range p.Violations {
			if v.ResolvedAt != nil {
				t := *v.ResolvedAt
				v.ResolvedAt = &t
			}
			if v.Actions != nil {
				v.Actions = append([]string(nil), v.Actions...)
			}
			cp.Violations[i] = v
		}
	}
	return &cp
}

// Clock is the engine's time source.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Store persists risk profiles with optimistic concurrency.
type Store interface {
	// Get returns ErrProfileNotFound for unknown accounts.
	Get(ctx context.Context, accountID string) (*Profile, error)
	// Create inserts a new profile at version 1; ErrProfileExists if present.
	Create(ctx context.Context, p *Profile) error
	// Save writes p if the stored version still equals p.Version, then
	// increments p.Version. A mismatch returns ErrVersionConflict.
	Save(ctx context.Context, p *Profile) error
	// ListDueForReview returns profiles whose NextReview is at or before t.
	ListDueForReview(ctx context.Context, t time.Time, limit int) ([]*Profile, error)
}
