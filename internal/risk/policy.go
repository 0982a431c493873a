package risk

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mbd888/riskgate/internal/compliance"
	"github.com/mbd888/riskgate/internal/txn"
)

// OperationThresholds configure per-operation amount and velocity checks.
type OperationThresholds struct {
	SingleLarge decimal.Decimal `yaml:"single_large"`
	Velocity    int             `yaml:"velocity"` // completed/processing per trailing hour
}

// TierLimits override the default limits for a verification tier.
type TierLimits struct {
	DailyTradingLimit    decimal.Decimal `yaml:"daily_trading_limit"`
	DailyWithdrawalLimit decimal.Decimal `yaml:"daily_withdrawal_limit"`
	MaxSingleTradeSize   decimal.Decimal `yaml:"max_single_trade_size"`
}

// PatternConfig tunes the statistical anomaly check.
type PatternConfig struct {
	MinSamples         int             `yaml:"min_samples"`
	LookbackDays       int             `yaml:"lookback_days"`
	MeanMultiplier     decimal.Decimal `yaml:"mean_multiplier"`
	MaxMultiplier      decimal.Decimal `yaml:"max_multiplier"`
	RoundUnit          decimal.Decimal `yaml:"round_unit"`
	RoundMinimum       decimal.Decimal `yaml:"round_minimum"`
	NearThresholdRatio decimal.Decimal `yaml:"near_threshold_ratio"`
}

// Policy is the static configuration loaded at startup.
type Policy struct {
	// AutoInitializeProfiles creates a default profile on first check
	// instead of blocking with risk_profile_not_found.
	AutoInitializeProfiles bool `yaml:"auto_initialize_profiles"`
	// Timezone used for the off-hours check. Empty means the server's zone.
	Timezone        string `yaml:"timezone"`
	EscalationQueue string `yaml:"escalation_queue"`

	DefaultLimits Limits                                `yaml:"default_limits"`
	TierLimits    map[Verification]TierLimits           `yaml:"tier_limits"`
	Operations    map[txn.Operation]OperationThresholds `yaml:"operations"`

	HighRiskCountries   []string `yaml:"high_risk_countries"`
	MediumRiskCountries []string `yaml:"medium_risk_countries"`

	ReviewIntervals map[Level]time.Duration `yaml:"review_intervals"`
	Pattern         PatternConfig           `yaml:"pattern"`
	Compliance      compliance.Config       `yaml:"compliance"`
}

func usd(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		AutoInitializeProfiles: true,
		EscalationQueue:        "risk_team",
		DefaultLimits: Limits{
			DailyTradingLimit:     usd(50000),
			DailyWithdrawalLimit:  usd(10000),
			DailyDepositLimit:     usd(25000),
			MaxPositionSize:       usd(100000),
			MaxOpenPositions:      20,
			MaxLeverage:           1,
			MaxDailyLoss:          usd(5000),
			MaxWeeklyLoss:         usd(15000),
			MaxMonthlyLoss:        usd(50000),
			MaxAssetConcentration: 50,
			MaxSingleTradeSize:    usd(10000),
		},
		TierLimits: map[Verification]TierLimits{
			VerificationNone:          {DailyTradingLimit: usd(1000), DailyWithdrawalLimit: usd(500), MaxSingleTradeSize: usd(1000)},
			VerificationBasic:         {DailyTradingLimit: usd(10000), DailyWithdrawalLimit: usd(5000), MaxSingleTradeSize: usd(5000)},
			VerificationEnhanced:      {DailyTradingLimit: usd(100000), DailyWithdrawalLimit: usd(25000), MaxSingleTradeSize: usd(50000)},
			VerificationInstitutional: {DailyTradingLimit: usd(1000000), DailyWithdrawalLimit: usd(100000), MaxSingleTradeSize: usd(500000)},
		},
		Operations: map[txn.Operation]OperationThresholds{
			txn.OpDeposit:    {SingleLarge: usd(25000), Velocity: 10},
			txn.OpWithdrawal: {SingleLarge: usd(10000), Velocity: 5},
			txn.OpTrade:      {SingleLarge: usd(100000), Velocity: 100},
		},
		HighRiskCountries:   []string{"AF", "IR", "KP", "MM", "SY"},
		MediumRiskCountries: []string{"BD", "BO", "KH", "EC", "GH", "LA", "MZ", "NP", "PK", "UG", "YE", "ZW"},
		ReviewIntervals: map[Level]time.Duration{
			LevelVeryLow:  90 * 24 * time.Hour,
			LevelLow:      60 * 24 * time.Hour,
			LevelMedium:   30 * 24 * time.Hour,
			LevelHigh:     14 * 24 * time.Hour,
			LevelVeryHigh: 7 * 24 * time.Hour,
		},
		Pattern: PatternConfig{
			MinSamples:         5,
			LookbackDays:       30,
			MeanMultiplier:     decimal.NewFromInt(3),
			MaxMultiplier:      decimal.RequireFromString("1.5"),
			RoundUnit:          usd(1000),
			RoundMinimum:       usd(5000),
			NearThresholdRatio: decimal.RequireFromString("0.9"),
		},
		Compliance: compliance.DefaultConfig(),
	}
}

// LoadPolicy reads a YAML policy file over DefaultPolicy. Keys missing from
// the file keep their defaults; a map entry present in the file replaces the
// default entry as a whole.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// Validate rejects policies the engine cannot run with.
func (p Policy) Validate() error {
	var errs []error
	for _, op := range []txn.Operation{txn.OpDeposit, txn.OpWithdrawal, txn.OpTrade} {
		th, ok := p.Operations[op]
		if !ok {
			errs = append(errs, fmt.Errorf("operations.%s missing", op))
			continue
		}
		if !th.SingleLarge.IsPositive() {
			errs = append(errs, fmt.Errorf("operations.%s.single_large must be positive", op))
		}
		if th.Velocity <= 0 {
			errs = append(errs, fmt.Errorf("operations.%s.velocity must be positive", op))
		}
	}
	for _, v := range []Verification{VerificationNone, VerificationBasic, VerificationEnhanced, VerificationInstitutional} {
		if _, ok := p.TierLimits[v]; !ok {
			errs = append(errs, fmt.Errorf("tier_limits.%s missing", v))
		}
	}
	if p.Pattern.MinSamples < 1 || p.Pattern.LookbackDays < 1 {
		errs = append(errs, errors.New("pattern.min_samples and pattern.lookback_days must be positive"))
	}
	if p.Compliance.Timeout <= 0 {
		errs = append(errs, errors.New("compliance.timeout must be positive"))
	}
	if p.Compliance.BasicKYCThreshold.GreaterThan(p.Compliance.EnhancedKYCThreshold) {
		errs = append(errs, errors.New("compliance.basic_kyc_threshold exceeds enhanced_kyc_threshold"))
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

// location resolves Timezone, falling back to the server zone.
func (p Policy) location() *time.Location {
	if p.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// GeographicRisk maps an ISO country code to a 0-100 risk score.
func (p Policy) GeographicRisk(country string) int {
	switch {
	case p.IsHighRiskCountry(country):
		return 80
	case slices.Contains(p.MediumRiskCountries, strings.ToUpper(country)):
		return 50
	default:
		return 20
	}
}

// IsHighRiskCountry reports whether country is on the high-risk list.
func (p Policy) IsHighRiskCountry(country string) bool {
	return country != "" && slices.Contains(p.HighRiskCountries, strings.ToUpper(country))
}

// LimitsFor returns the default limits with the tier's overrides applied.
func (p Policy) LimitsFor(v Verification) Limits {
	l := p.DefaultLimits
	if t, ok := p.TierLimits[v]; ok {
		l.DailyTradingLimit = t.DailyTradingLimit
		l.DailyWithdrawalLimit = t.DailyWithdrawalLimit
		l.MaxSingleTradeSize = t.MaxSingleTradeSize
	}
	return l
}

// reviewInterval falls back to 30 days for unconfigured levels.
func (p Policy) reviewInterval(l Level) time.Duration {
	if d, ok := p.ReviewIntervals[l]; ok && d > 0 {
		return d
	}
	return 30 * 24 * time.Hour
}
