// Package scoring computes per-strategy suitability scores for a user. It is
// a stateless transform: profile + signal vector + strategy definitions in,
// scores out. Eligibility is a hard gate evaluated before any scoring;
// ineligible strategies stay in the output with a recorded reason so the
// decision is auditable, but they carry score 0 and are excluded from
// ranking downstream.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yourorg/strategy-advisor/internal/model"
)

// FamilyCalibration shapes the sigmoid that squashes a family's raw scores
// into [0, 1].
type FamilyCalibration struct {
	// Steepness controls how sharply the sigmoid separates raw scores
	// around the midpoint.
	Steepness float64 `yaml:"steepness"`

	// Midpoint is the raw score mapped to 0.5.
	Midpoint float64 `yaml:"midpoint"`
}

// Calibration holds the tunable parts of the scoring formula. The affinity
// distance formula is deliberately configuration, not code constants.
type Calibration struct {
	// AffinityFloor is the lowest value the affinity multiplier can take.
	// It must be positive: an eligible strategy is never annihilated by
	// affinity alone.
	AffinityFloor float64 `yaml:"affinity_floor"`

	// Families maps family name to its squash calibration. DefaultFamily
	// is used for families without an entry.
	Families map[string]FamilyCalibration `yaml:"families"`

	// DefaultFamily is the fallback squash calibration.
	DefaultFamily FamilyCalibration `yaml:"default_family"`
}

// Validate checks calibration invariants.
func (c Calibration) Validate() error {
	if c.AffinityFloor <= 0 || c.AffinityFloor > 1 {
		return fmt.Errorf("affinity_floor must be in (0, 1], got %.3f", c.AffinityFloor)
	}
	if c.DefaultFamily.Steepness <= 0 {
		return fmt.Errorf("default_family.steepness must be positive, got %.3f", c.DefaultFamily.Steepness)
	}
	for name, fam := range c.Families {
		if fam.Steepness <= 0 {
			return fmt.Errorf("families.%s.steepness must be positive, got %.3f", name, fam.Steepness)
		}
	}
	return nil
}

func (c Calibration) family(name string) FamilyCalibration {
	if fam, ok := c.Families[name]; ok {
		return fam
	}
	return c.DefaultFamily
}

// maxRiskDistance is the widest possible gap on the risk tolerance axis
// (conservative to speculative).
const maxRiskDistance = float64(model.RiskSpeculative - model.RiskConservative)

// maxGoalDistance is the widest possible gap on the goal axis.
const maxGoalDistance = 3.0

// Score evaluates every strategy for one user against one signal vector.
// The output is deterministically ordered: score descending, then lower
// minimum risk first (conservative preference on ties), then ID.
func Score(p model.UserProfile, vector model.SignalVector, defs []model.StrategyDefinition, calib Calibration) []model.SuitabilityScore {
	now := time.Now().UTC()
	seqs := map[string]int64{vector.Instrument: vector.Seq}

	scores := make([]model.SuitabilityScore, 0, len(defs))
	for _, def := range defs {
		sc := model.SuitabilityScore{
			UserID:           p.UserID,
			StrategyID:       def.ID,
			Family:           def.Family,
			MinRiskTolerance: def.MinRiskTolerance,
			ComputedAt:       now,
			ProfileRevision:  p.Revision,
			SignalSeqs:       seqs,
		}

		if reason := ineligibleReason(p, vector, def); reason != "" {
			sc.Eligible = false
			sc.IneligibleReason = reason
			scores = append(scores, sc)
			continue
		}

		raw := rawScore(vector, def)
		squashed := squash(raw, calib.family(def.Family))
		affinity := affinityMultiplier(p, def, calib.AffinityFloor)

		sc.Eligible = true
		sc.RawScore = raw
		sc.Score = clamp01(squashed * affinity)
		scores = append(scores, sc)
	}

	Sort(scores)
	return scores
}

// ineligibleReason evaluates the hard eligibility gate. Empty string means
// eligible.
func ineligibleReason(p model.UserProfile, vector model.SignalVector, def model.StrategyDefinition) string {
	if !p.RiskTolerance.AtLeast(def.MinRiskTolerance) {
		return fmt.Sprintf("risk tolerance %s below required %s", p.RiskTolerance, def.MinRiskTolerance)
	}
	if !def.AppliesToGoal(p.Goal) {
		return fmt.Sprintf("goal %s not served by strategy", p.Goal)
	}
	if !vector.Has(def.RequiredFeatures...) {
		return "required features missing from signal vector"
	}
	return ""
}

// rawScore is the strategy's linear scoring function applied to the relevant
// signal sub-vector.
func rawScore(vector model.SignalVector, def model.StrategyDefinition) float64 {
	raw := def.ScoringBias
	for name, weight := range def.ScoringWeights {
		if value, ok := vector.Feature(name); ok {
			raw += weight * value
		}
	}
	return raw
}

// squash maps a raw score onto [0, 1] with a monotonic sigmoid.
func squash(raw float64, fam FamilyCalibration) float64 {
	return 1.0 / (1.0 + math.Exp(-fam.Steepness*(raw-fam.Midpoint)))
}

// affinityMultiplier decays from 1 toward the floor as the user's risk/goal
// pair moves away from the strategy's declared target pair. The floor is
// never crossed.
func affinityMultiplier(p model.UserProfile, def model.StrategyDefinition, floor float64) float64 {
	riskDist := math.Abs(float64(p.RiskTolerance-def.TargetRisk)) / maxRiskDistance
	goalDist := math.Abs(float64(p.Goal.Ordinal()-def.TargetGoal.Ordinal())) / maxGoalDistance
	dist := (riskDist + goalDist) / 2

	return floor + (1-floor)*(1-dist)
}

// Sort orders scores for ranking: score descending, lower minimum risk
// first on ties, then ID for full determinism.
func Sort(scores []model.SuitabilityScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		if scores[i].MinRiskTolerance != scores[j].MinRiskTolerance {
			return scores[i].MinRiskTolerance < scores[j].MinRiskTolerance
		}
		return scores[i].StrategyID < scores[j].StrategyID
	})
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
