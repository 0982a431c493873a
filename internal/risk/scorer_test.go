package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestScorer_ScenarioA(t *testing.T) {
	s := NewScorer(DefaultPolicy(), nil)
	f := Factors{
		AccountAge:        100,
		TradingExperience: ExperienceBeginner,
		VerificationLevel: VerificationNone,
		KYCStatus:         KYCPending,
		WinRate:           50,
		IPReputation:      100,
		DeviceTrust:       100,
		GeographicRisk:    0,
		AMLRisk:           20,
	}

	b := s.Breakdown(f)
	assert.Equal(t, 85, b.Total)
	assert.Equal(t, 20.0, b.Experience)
	assert.Equal(t, 30.0, b.Verification)
	assert.Equal(t, 35.0, b.Compliance)
	assert.Equal(t, 0.0, b.Behavioral)
	assert.Equal(t, LevelVeryHigh, LevelForScore(b.Total))
}

func TestScorer_FractionalWeights(t *testing.T) {
	s := NewScorer(DefaultPolicy(), nil)
	f := Factors{
		AccountAge:        45,
		TradingExperience: ExperienceExpert,
		VerificationLevel: VerificationInstitutional,
		KYCStatus:         KYCApproved,
		WinRate:           60,
		IPReputation:      75,
		DeviceTrust:       100,
		GeographicRisk:    20,
		AMLRisk:           10,
	}

	b := s.Breakdown(f)
	assert.Equal(t, 10.0, b.AccountAge)
	assert.Equal(t, 5.0, b.IPReputation)
	assert.Equal(t, 6.0, b.Geographic)
	assert.Equal(t, 5.0, b.Compliance)
	assert.Equal(t, 26, b.Total)
}

func TestScorer_Bounds(t *testing.T) {
	s := NewScorer(DefaultPolicy(), nil)

	worst := Factors{
		TradingExperience: ExperienceBeginner,
		VerificationLevel: VerificationNone,
		KYCStatus:         KYCRejected,
		IPReputation:      -40,
		DeviceTrust:       0,
		GeographicRisk:    400,
		AMLRisk:           100,
		PEPCheck:          true,
		TradingFrequency:  80,
		AverageTradeSize:  decimal.NewFromInt(75000),
	}
	assert.Equal(t, 100, s.Score(worst))

	best := Factors{
		AccountAge:        365,
		TradingExperience: ExperienceExpert,
		VerificationLevel: VerificationInstitutional,
		KYCStatus:         KYCApproved,
		WinRate:           55,
		IPReputation:      150,
		DeviceTrust:       100,
		GeographicRisk:    -10,
	}
	assert.Equal(t, 0, s.Score(best))
}

func TestScorer_UnknownEnumsScoreAsWorst(t *testing.T) {
	s := NewScorer(DefaultPolicy(), nil)
	b := s.Breakdown(Factors{TradingExperience: "guru", VerificationLevel: "gold"})
	assert.Equal(t, 20.0, b.Experience)
	assert.Equal(t, 30.0, b.Verification)
}

func TestLevelForScore(t *testing.T) {
	tests := []struct {
		score int
		want  Level
	}{
		{0, LevelVeryLow},
		{19, LevelVeryLow},
		{20, LevelLow},
		{39, LevelLow},
		{40, LevelMedium},
		{59, LevelMedium},
		{60, LevelHigh},
		{79, LevelHigh},
		{80, LevelVeryHigh},
		{100, LevelVeryHigh},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, LevelForScore(tc.score), "score %d", tc.score)
	}
}

func TestScorer_AssessSchedulesReview(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := NewScorer(DefaultPolicy(), ClockFunc(func() time.Time { return now }))

	p := &Profile{RiskFactors: Factors{
		AccountAge:        100,
		TradingExperience: ExperienceBeginner,
		VerificationLevel: VerificationNone,
		KYCStatus:         KYCPending,
		WinRate:           50,
		IPReputation:      100,
		DeviceTrust:       100,
		AMLRisk:           20,
	}}
	s.Assess(p)

	assert.Equal(t, 85, p.RiskScore)
	assert.Equal(t, LevelVeryHigh, p.RiskLevel)
	assert.Equal(t, now, p.LastAssessment)
	assert.Equal(t, now.Add(7*24*time.Hour), p.NextReview)
	assert.NotEqual(t, LevelRestricted, p.RiskLevel)
}
