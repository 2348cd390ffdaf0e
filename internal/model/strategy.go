package model

import "time"

// StrategyDefinition describes one tradable strategy in the catalog. The
// scoring function is a linear combination of normalized features; weights
// live in the catalog so strategies can be retuned without a rebuild.
type StrategyDefinition struct {
	ID         string `json:"id" yaml:"id"`
	Family     string `json:"family" yaml:"family"`
	Instrument string `json:"instrument" yaml:"instrument"`

	// MinRiskTolerance is the hard eligibility floor: users below it never
	// see this strategy.
	MinRiskTolerance RiskTolerance    `json:"min_risk_tolerance" yaml:"-"`
	ApplicableGoals  []InvestmentGoal `json:"applicable_goals" yaml:"-"`

	// RequiredFeatures must all be present in the signal vector for the
	// strategy to be scored.
	RequiredFeatures []string `json:"required_features" yaml:"required_features"`

	// ScoringWeights and ScoringBias define the raw score as
	// sum(weight * feature) + bias over the signal sub-vector.
	ScoringWeights map[string]float64 `json:"scoring_weights" yaml:"scoring_weights"`
	ScoringBias    float64            `json:"scoring_bias" yaml:"scoring_bias"`

	// TargetRisk and TargetGoal describe the profile this strategy was
	// designed for; the affinity multiplier decays with distance from them.
	TargetRisk RiskTolerance  `json:"target_risk" yaml:"-"`
	TargetGoal InvestmentGoal `json:"target_goal" yaml:"-"`

	// MaxAllocationFraction caps how much of a portfolio this single
	// strategy may take, in (0, 1].
	MaxAllocationFraction float64 `json:"max_allocation_fraction" yaml:"max_allocation_fraction"`

	// LockupDays is how long capital is committed once allocated.
	LockupDays int `json:"lockup_days" yaml:"lockup_days"`
}

// Validate checks the definition's internal invariants. Called on catalog
// load so a broken catalog entry never reaches the scorer.
func (s StrategyDefinition) Validate() error {
	if s.ID == "" {
		return invalid("strategy.id", "must not be empty")
	}
	if s.Family == "" {
		return invalid("strategy.family", "must not be empty for %s", s.ID)
	}
	if s.Instrument == "" {
		return invalid("strategy.instrument", "must not be empty for %s", s.ID)
	}
	if !s.MinRiskTolerance.Valid() {
		return invalid("strategy.min_risk_tolerance", "unknown level %d for %s", int(s.MinRiskTolerance), s.ID)
	}
	if len(s.ApplicableGoals) == 0 {
		return invalid("strategy.applicable_goals", "must list at least one goal for %s", s.ID)
	}
	for _, g := range s.ApplicableGoals {
		if !g.Valid() {
			return invalid("strategy.applicable_goals", "unknown goal %q for %s", string(g), s.ID)
		}
	}
	if len(s.RequiredFeatures) == 0 {
		return invalid("strategy.required_features", "must list at least one feature for %s", s.ID)
	}
	if !s.TargetRisk.Valid() {
		return invalid("strategy.target_risk", "unknown level %d for %s", int(s.TargetRisk), s.ID)
	}
	if !s.TargetGoal.Valid() {
		return invalid("strategy.target_goal", "unknown goal %q for %s", string(s.TargetGoal), s.ID)
	}
	if s.MaxAllocationFraction <= 0 || s.MaxAllocationFraction > 1 {
		return invalid("strategy.max_allocation_fraction", "must be in (0, 1] for %s, got %.3f", s.ID, s.MaxAllocationFraction)
	}
	if s.LockupDays < 0 {
		return invalid("strategy.lockup_days", "must not be negative for %s, got %d", s.ID, s.LockupDays)
	}
	return nil
}

// AppliesToGoal reports whether the strategy serves the given goal.
func (s StrategyDefinition) AppliesToGoal(goal InvestmentGoal) bool {
	for _, g := range s.ApplicableGoals {
		if g == goal {
			return true
		}
	}
	return false
}

// SuitabilityScore is the scored (user, strategy) pair. A score is only
// usable for ranking while ProfileRevision and every entry of SignalSeqs are
// still the latest known inputs; otherwise it is stale.
type SuitabilityScore struct {
	UserID           string           `json:"user_id"`
	StrategyID       string           `json:"strategy_id"`
	Family           string           `json:"family"`
	MinRiskTolerance RiskTolerance    `json:"min_risk_tolerance"`
	Score            float64          `json:"score"`
	RawScore         float64          `json:"raw_score"`
	Eligible         bool             `json:"eligible"`
	IneligibleReason string           `json:"ineligible_reason,omitempty"`
	ComputedAt       time.Time        `json:"computed_at"`
	ProfileRevision  int64            `json:"profile_revision"`
	SignalSeqs       map[string]int64 `json:"signal_seqs"`
}

// Allocation is one slice of a user's existing portfolio, used by the
// selector's concentration constraints.
type Allocation struct {
	StrategyID string  `json:"strategy_id"`
	Family     string  `json:"family"`
	Fraction   float64 `json:"fraction"`
}
