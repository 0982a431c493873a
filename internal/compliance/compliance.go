// Package compliance decides when an operation needs identity verification
// (KYC) and runs a deterministic anti-money-laundering (AML) screen:
// amount, recent activity, PEP status and a sanctions-list name check.
package compliance

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrComplianceTimeout is reported when screening exceeds its deadline.
	ErrComplianceTimeout = errors.New("compliance check timed out")
)

// KYC levels an operation can require.
const (
	LevelBasic    = "basic"
	LevelEnhanced = "enhanced"
)

// AMLStatus is the outcome of an AML screen.
type AMLStatus string

const (
	AMLPassed       AMLStatus = "passed"
	AMLManualReview AMLStatus = "manual_review"
	AMLFailed       AMLStatus = "failed"
)

// Subject carries the account facts screening needs.
type Subject struct {
	AccountID         string
	Name              string
	Country           string
	VerificationLevel string // none, basic, enhanced, institutional
	KYCStatus         string // pending, approved, rejected, expired
	PEP               bool
	SanctionsFlagged  bool // a prior screen already recorded a hit
}

// KYCRequirement says whether (and which) verification an amount needs.
type KYCRequirement struct {
	Required bool   `json:"required"`
	Level    string `json:"level,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// AMLResult is the outcome of ScreenAML.
type AMLResult struct {
	Status     AMLStatus       `json:"status"`
	Score      int             `json:"score"`
	Reasons    []string        `json:"reasons,omitempty"`
	Sanctions  *SanctionsMatch `json:"sanctionsMatch,omitempty"`
	Degraded   bool            `json:"degraded,omitempty"` // screening could not complete
	ScreenedAt time.Time       `json:"screenedAt"`
}

// Config holds the thresholds and weights used by the gate. Amounts are USD.
type Config struct {
	BasicKYCThreshold    decimal.Decimal `yaml:"basic_kyc_threshold"`
	EnhancedKYCThreshold decimal.Decimal `yaml:"enhanced_kyc_threshold"`
	ScreeningThreshold   decimal.Decimal `yaml:"screening_threshold"`
	LargeAmount          decimal.Decimal `yaml:"large_amount"`
	HighFrequencyCount   int             `yaml:"high_frequency_count"`

	LargeAmountWeight   int `yaml:"large_amount_weight"`
	HighFrequencyWeight int `yaml:"high_frequency_weight"`
	PEPWeight           int `yaml:"pep_weight"`
	SanctionsWeight     int `yaml:"sanctions_weight"`

	ManualReviewAbove int `yaml:"manual_review_above"`
	FailAbove         int `yaml:"fail_above"`
	DegradedScore     int `yaml:"degraded_score"`

	Timeout time.Duration `yaml:"timeout"`

	SanctionsMatchThreshold float64  `yaml:"sanctions_match_threshold"`
	SanctionsList           []string `yaml:"sanctions_list"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		BasicKYCThreshold:       decimal.NewFromInt(2000),
		EnhancedKYCThreshold:    decimal.NewFromInt(10000),
		ScreeningThreshold:      decimal.NewFromInt(10000),
		LargeAmount:             decimal.NewFromInt(50000),
		HighFrequencyCount:      10,
		LargeAmountWeight:       20,
		HighFrequencyWeight:     25,
		PEPWeight:               30,
		SanctionsWeight:         100,
		ManualReviewAbove:       50,
		FailAbove:               80,
		DegradedScore:           80,
		Timeout:                 2 * time.Second,
		SanctionsMatchThreshold: 0.9,
	}
}

// classify maps an AML score to a status.
func (c Config) classify(score int) AMLStatus {
	switch {
	case score > c.FailAbove:
		return AMLFailed
	case score > c.ManualReviewAbove:
		return AMLManualReview
	default:
		return AMLPassed
	}
}
