package risk

import (
	"github.com/shopspring/decimal"
)

// Contributions are kept in tenths of a point so the fractional weights
// (0.2, 0.3, 0.5) stay exact and the result is reproducible.
const tenth = 10

var (
	experiencePoints = map[Experience]int{
		ExperienceBeginner:     20,
		ExperienceIntermediate: 10,
		ExperienceAdvanced:     5,
		ExperienceExpert:       0,
	}
	verificationPoints = map[Verification]int{
		VerificationNone:          30,
		VerificationBasic:         15,
		VerificationEnhanced:      5,
		VerificationInstitutional: 0,
	}
	largeAverageTrade = decimal.NewFromInt(50000)
)

// Breakdown is the per-factor contribution to a profile score, in points.
type Breakdown struct {
	AccountAge   float64 `json:"accountAge"`
	Experience   float64 `json:"experience"`
	Verification float64 `json:"verification"`
	IPReputation float64 `json:"ipReputation"`
	DeviceTrust  float64 `json:"deviceTrust"`
	Geographic   float64 `json:"geographic"`
	Behavioral   float64 `json:"behavioral"`
	Compliance   float64 `json:"compliance"`
	Total        int     `json:"total"`
}

// Scorer computes the static profile score.
type Scorer struct {
	policy Policy
	clock  Clock
}

// NewScorer creates a scorer. A nil clock uses the system clock.
func NewScorer(policy Policy, clock Clock) *Scorer {
	if clock == nil {
		clock = SystemClock
	}
	return &Scorer{policy: policy, clock: clock}
}

// Score returns the clamped 0-100 score for f.
func (s *Scorer) Score(f Factors) int {
	return s.Breakdown(f).Total
}

// Breakdown returns the individual contributions and the clamped total.
func (s *Scorer) Breakdown(f Factors) Breakdown {
	var age, exp, ver, ip, dev, geo, behavior, comp int

	switch {
	case f.AccountAge < 30:
		age = 20 * tenth
	case f.AccountAge < 90:
		age = 10 * tenth
	}

	if pts, ok := experiencePoints[f.TradingExperience]; ok {
		exp = pts * tenth
	} else {
		exp = 20 * tenth
	}
	if pts, ok := verificationPoints[f.VerificationLevel]; ok {
		ver = pts * tenth
	} else {
		ver = 30 * tenth
	}

	ip = (100 - clampPct(f.IPReputation)) * 2
	dev = (100 - clampPct(f.DeviceTrust)) * 2
	geo = clampPct(f.GeographicRisk) * 3

	if f.WinRate < 30 {
		behavior += 15 * tenth
	}
	if f.AverageTradeSize.GreaterThan(largeAverageTrade) {
		behavior += 10 * tenth
	}
	if f.TradingFrequency > 50 {
		behavior += 15 * tenth
	}

	if f.KYCStatus != KYCApproved {
		comp += 25 * tenth
	}
	comp += clampPct(f.AMLRisk) * 5
	if f.PEPCheck {
		comp += 20 * tenth
	}

	total := age + exp + ver + ip + dev + geo + behavior + comp
	total = min(max(total, 0), 100*tenth)

	pts := func(t int) float64 { return float64(t) / tenth }
	return Breakdown{
		AccountAge:   pts(age),
		Experience:   pts(exp),
		Verification: pts(ver),
		IPReputation: pts(ip),
		DeviceTrust:  pts(dev),
		Geographic:   pts(geo),
		Behavioral:   pts(behavior),
		Compliance:   pts(comp),
		// round half up; total is non-negative
		Total: (total + tenth/2) / tenth,
	}
}

// Assess recomputes p's score, level and review schedule in place.
func (s *Scorer) Assess(p *Profile) {
	now := s.clock.Now()
	p.RiskScore = s.Score(p.RiskFactors)
	p.RiskLevel = LevelForScore(p.RiskScore)
	p.LastAssessment = now
	p.NextReview = now.Add(s.policy.reviewInterval(p.RiskLevel))
}

// LevelForScore maps a score to its level. Upper bounds are exclusive.
func LevelForScore(score int) Level {
	switch {
	case score < 20:
		return LevelVeryLow
	case score < 40:
		return LevelLow
	case score < 60:
		return LevelMedium
	case score < 80:
		return LevelHigh
	default:
		return LevelVeryHigh
	}
}

func clampPct(v int) int {
	return min(max(v, 0), 100)
}

func clampScore(v int) int {
	return min(max(v, 0), 100)
}
