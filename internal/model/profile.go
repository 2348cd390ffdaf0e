package model

import (
	"strings"
	"time"
)

// RiskAssessment holds the quantitative risk metrics collected during
// onboarding.
type RiskAssessment struct {
	// MaxDrawdownTolerance is the largest peak-to-trough loss the user
	// accepts, as a percentage in (0, 100].
	MaxDrawdownTolerance float64 `json:"max_drawdown_tolerance"`

	// VolatilityTolerance is the accepted annualized volatility percentage.
	VolatilityTolerance float64 `json:"volatility_tolerance"`

	// LossAversionScore is on a 0-1 scale, 1 being most loss-averse.
	LossAversionScore float64 `json:"loss_aversion_score"`

	// TimeHorizonYears is the investment horizon, must be positive.
	TimeHorizonYears int `json:"time_horizon_years"`

	// LiquidityNeeds is the monthly liquidity requirement.
	LiquidityNeeds float64 `json:"liquidity_needs"`
}

// UserProfile is the complete trading personalization record for one user.
// Profiles are replaced as a whole on update; Revision is assigned by the
// profile store and increases monotonically per user.
type UserProfile struct {
	UserID         string            `json:"user_id"`
	Email          string            `json:"email"`
	RiskTolerance  RiskTolerance     `json:"risk_tolerance"`
	Goal           InvestmentGoal    `json:"investment_goal"`
	Experience     TradingExperience `json:"trading_experience"`
	RiskAssessment RiskAssessment    `json:"risk_assessment"`
	Revision       int64             `json:"revision"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// toleranceEnvelope bounds the assessment metrics allowed at each risk
// tolerance level. A conservative user cannot declare a 60% drawdown
// tolerance; a speculative user cannot claim maximal loss aversion. The
// ceilings grow monotonically with the level so raising the level never
// invalidates a previously acceptable assessment.
type toleranceEnvelope struct {
	maxDrawdown       float64
	maxVolatility     float64
	minLossAversion   float64
	maxLossAversion   float64
}

var toleranceEnvelopes = map[RiskTolerance]toleranceEnvelope{
	RiskConservative: {maxDrawdown: 15, maxVolatility: 12, minLossAversion: 0.6, maxLossAversion: 1.0},
	RiskModerate:     {maxDrawdown: 30, maxVolatility: 25, minLossAversion: 0.3, maxLossAversion: 1.0},
	RiskAggressive:   {maxDrawdown: 60, maxVolatility: 45, minLossAversion: 0.1, maxLossAversion: 0.8},
	RiskSpeculative:  {maxDrawdown: 100, maxVolatility: 100, minLossAversion: 0.0, maxLossAversion: 0.6},
}

// NewUserProfile builds a validated profile. It returns a *ValidationError
// when any field is out of range or the risk tolerance level is inconsistent
// with the assessment metrics. Inconsistent records are rejected outright,
// never clamped.
func NewUserProfile(userID, email string, tolerance RiskTolerance, goal InvestmentGoal,
	experience TradingExperience, assessment RiskAssessment) (UserProfile, error) {

	if strings.TrimSpace(userID) == "" {
		return UserProfile{}, invalid("user_id", "must not be empty")
	}
	if email != "" && !strings.Contains(email, "@") {
		return UserProfile{}, invalid("email", "malformed address %q", email)
	}
	if !tolerance.Valid() {
		return UserProfile{}, invalid("risk_tolerance", "unknown level %d", int(tolerance))
	}
	if !goal.Valid() {
		return UserProfile{}, invalid("investment_goal", "unknown goal %q", string(goal))
	}
	if !experience.Valid() {
		return UserProfile{}, invalid("trading_experience", "unknown level %q", string(experience))
	}
	if err := validateAssessment(assessment); err != nil {
		return UserProfile{}, err
	}
	if err := validateConsistency(tolerance, assessment); err != nil {
		return UserProfile{}, err
	}

	now := time.Now().UTC()
	return UserProfile{
		UserID:         userID,
		Email:          email,
		RiskTolerance:  tolerance,
		Goal:           goal,
		Experience:     experience,
		RiskAssessment: assessment,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Validate re-checks all construction invariants. The profile store calls
// this on every put so records decoded from storage or the wire get the same
// treatment as constructed ones.
func (p UserProfile) Validate() error {
	_, err := NewUserProfile(p.UserID, p.Email, p.RiskTolerance, p.Goal, p.Experience, p.RiskAssessment)
	return err
}

func validateAssessment(a RiskAssessment) error {
	if a.MaxDrawdownTolerance <= 0 || a.MaxDrawdownTolerance > 100 {
		return invalid("risk_assessment.max_drawdown_tolerance", "must be in (0, 100], got %.2f", a.MaxDrawdownTolerance)
	}
	if a.VolatilityTolerance < 0 {
		return invalid("risk_assessment.volatility_tolerance", "must not be negative, got %.2f", a.VolatilityTolerance)
	}
	if a.LossAversionScore < 0 || a.LossAversionScore > 1 {
		return invalid("risk_assessment.loss_aversion_score", "must be in [0, 1], got %.2f", a.LossAversionScore)
	}
	if a.TimeHorizonYears <= 0 {
		return invalid("risk_assessment.time_horizon_years", "must be positive, got %d", a.TimeHorizonYears)
	}
	if a.LiquidityNeeds < 0 {
		return invalid("risk_assessment.liquidity_needs", "must not be negative, got %.2f", a.LiquidityNeeds)
	}
	return nil
}

func validateConsistency(tolerance RiskTolerance, a RiskAssessment) error {
	env := toleranceEnvelopes[tolerance]
	if a.MaxDrawdownTolerance > env.maxDrawdown {
		return invalid("risk_assessment.max_drawdown_tolerance",
			"%.1f%% exceeds the %.1f%% ceiling for %s profiles", a.MaxDrawdownTolerance, env.maxDrawdown, tolerance)
	}
	if a.VolatilityTolerance > env.maxVolatility {
		return invalid("risk_assessment.volatility_tolerance",
			"%.1f%% exceeds the %.1f%% ceiling for %s profiles", a.VolatilityTolerance, env.maxVolatility, tolerance)
	}
	if a.LossAversionScore < env.minLossAversion {
		return invalid("risk_assessment.loss_aversion_score",
			"%.2f is below the %.2f floor for %s profiles", a.LossAversionScore, env.minLossAversion, tolerance)
	}
	if a.LossAversionScore > env.maxLossAversion {
		return invalid("risk_assessment.loss_aversion_score",
			"%.2f is above the %.2f ceiling for %s profiles", a.LossAversionScore, env.maxLossAversion, tolerance)
	}
	return nil
}
