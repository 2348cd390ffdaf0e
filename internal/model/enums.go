// Package model defines the core data structures for the strategy advisor.
// Everything in this package is either immutable once produced or replaced
// as a whole record, never mutated in place.
package model

import "fmt"

// RiskTolerance classifies how much risk a user accepts. The integer values
// define a total order: Conservative < Moderate < Aggressive < Speculative.
// Ordinal comparison is done on the integer value, never on the string form.
type RiskTolerance int

const (
	RiskConservative RiskTolerance = 1
	RiskModerate     RiskTolerance = 2
	RiskAggressive   RiskTolerance = 3
	RiskSpeculative  RiskTolerance = 4
)

// riskToleranceNames maps levels to their wire/storage names.
var riskToleranceNames = map[RiskTolerance]string{
	RiskConservative: "conservative",
	RiskModerate:     "moderate",
	RiskAggressive:   "aggressive",
	RiskSpeculative:  "speculative",
}

// String returns the storage name of the level, or "unknown" for
// out-of-range values.
func (r RiskTolerance) String() string {
	if name, ok := riskToleranceNames[r]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether the level is one of the defined constants.
func (r RiskTolerance) Valid() bool {
	_, ok := riskToleranceNames[r]
	return ok
}

// AtLeast reports whether this level meets or exceeds the given minimum.
func (r RiskTolerance) AtLeast(min RiskTolerance) bool {
	return r >= min
}

// ParseRiskTolerance converts a storage name back into a level.
func ParseRiskTolerance(s string) (RiskTolerance, error) {
	for level, name := range riskToleranceNames {
		if name == s {
			return level, nil
		}
	}
	return 0, fmt.Errorf("unknown risk tolerance %q", s)
}

// InvestmentGoal categorizes what the user wants out of trading.
type InvestmentGoal string

const (
	GoalCapitalPreservation InvestmentGoal = "capital_preservation"
	GoalIncomeGeneration    InvestmentGoal = "income_generation"
	GoalCapitalGrowth       InvestmentGoal = "capital_growth"
	GoalSpeculativeGains    InvestmentGoal = "speculative_gains"
)

// goalOrder assigns each goal a position on the preservation-to-speculation
// axis, used by the scorer's affinity distance.
var goalOrder = map[InvestmentGoal]int{
	GoalCapitalPreservation: 0,
	GoalIncomeGeneration:    1,
	GoalCapitalGrowth:       2,
	GoalSpeculativeGains:    3,
}

// Valid reports whether the goal is one of the defined constants.
func (g InvestmentGoal) Valid() bool {
	_, ok := goalOrder[g]
	return ok
}

// Ordinal returns the goal's position on the preservation-to-speculation axis.
func (g InvestmentGoal) Ordinal() int {
	return goalOrder[g]
}

// TradingExperience classifies how long a user has been trading.
type TradingExperience string

const (
	ExperienceBeginner     TradingExperience = "beginner"
	ExperienceIntermediate TradingExperience = "intermediate"
	ExperienceAdvanced     TradingExperience = "advanced"
	ExperienceProfessional TradingExperience = "professional"
)

// Valid reports whether the experience level is one of the defined constants.
func (e TradingExperience) Valid() bool {
	switch e {
	case ExperienceBeginner, ExperienceIntermediate, ExperienceAdvanced, ExperienceProfessional:
		return true
	}
	return false
}
