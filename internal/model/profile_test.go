package model

import (
	"errors"
	"testing"
)

func baseAssessment() RiskAssessment {
	return RiskAssessment{
		MaxDrawdownTolerance: 10,
		VolatilityTolerance:  8,
		LossAversionScore:    0.8,
		TimeHorizonYears:     5,
		LiquidityNeeds:       1000,
	}
}

func TestNewUserProfile(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		email      string
		tolerance  RiskTolerance
		goal       InvestmentGoal
		experience TradingExperience
		assessment RiskAssessment
		wantField  string // empty means valid
	}{
		{
			name:       "valid conservative",
			userID:     "user-1",
			email:      "a@example.com",
			tolerance:  RiskConservative,
			goal:       GoalCapitalPreservation,
			experience: ExperienceBeginner,
			assessment: baseAssessment(),
		},
		{
			name:       "empty user id",
			userID:     "  ",
			tolerance:  RiskConservative,
			goal:       GoalCapitalPreservation,
			experience: ExperienceBeginner,
			assessment: baseAssessment(),
			wantField:  "user_id",
		},
		{
			name:       "malformed email",
			userID:     "user-1",
			email:      "not-an-address",
			tolerance:  RiskConservative,
			goal:       GoalCapitalPreservation,
			experience: ExperienceBeginner,
			assessment: baseAssessment(),
			wantField:  "email",
		},
		{
			name:       "unknown risk tolerance",
			userID:     "user-1",
			tolerance:  RiskTolerance(9),
			goal:       GoalCapitalPreservation,
			experience: ExperienceBeginner,
			assessment: baseAssessment(),
			wantField:  "risk_tolerance",
		},
		{
			name:       "unknown goal",
			userID:     "user-1",
			tolerance:  RiskConservative,
			goal:       InvestmentGoal("get_rich"),
			experience: ExperienceBeginner,
			assessment: baseAssessment(),
			wantField:  "investment_goal",
		},
		{
			name:       "unknown experience",
			userID:     "user-1",
			tolerance:  RiskConservative,
			goal:       GoalCapitalPreservation,
			experience: TradingExperience("guru"),
			assessment: baseAssessment(),
			wantField:  "trading_experience",
		},
		{
			name:       "zero drawdown tolerance",
			userID:     "user-1",
			tolerance:  RiskConservative,
			goal:       GoalCapitalPreservation,
			experience: ExperienceBeginner,
			assessment: RiskAssessment{
				MaxDrawdownTolerance: 0,
				LossAversionScore:    0.8,
				TimeHorizonYears:     5,
			},
			wantField: "risk_assessment.max_drawdown_tolerance",
		},
		{
			name:       "conservative cannot declare 60 percent drawdown",
			userID:     "user-1",
			tolerance:  RiskConservative,
			goal:       GoalCapitalPreservation,
			experience: ExperienceBeginner,
			assessment: RiskAssessment{
				MaxDrawdownTolerance: 60,
				VolatilityTolerance:  8,
				LossAversionScore:    0.8,
				TimeHorizonYears:     5,
			},
			wantField: "risk_assessment.max_drawdown_tolerance",
		},
		{
			name:       "conservative volatility over ceiling",
			userID:     "user-1",
			tolerance:  RiskConservative,
			goal:       GoalCapitalPreservation,
			experience: ExperienceBeginner,
			assessment: RiskAssessment{
				MaxDrawdownTolerance: 10,
				VolatilityTolerance:  30,
				LossAversionScore:    0.8,
				TimeHorizonYears:     5,
			},
			wantField: "risk_assessment.volatility_tolerance",
		},
		{
			name:       "speculative cannot claim maximal loss aversion",
			userID:     "user-1",
			tolerance:  RiskSpeculative,
			goal:       GoalSpeculativeGains,
			experience: ExperienceProfessional,
			assessment: RiskAssessment{
				MaxDrawdownTolerance: 80,
				VolatilityTolerance:  60,
				LossAversionScore:    0.9,
				TimeHorizonYears:     2,
			},
			wantField: "risk_assessment.loss_aversion_score",
		},
		{
			name:       "aggressive with compatible assessment",
			userID:     "user-1",
			tolerance:  RiskAggressive,
			goal:       GoalCapitalGrowth,
			experience: ExperienceAdvanced,
			assessment: RiskAssessment{
				MaxDrawdownTolerance: 45,
				VolatilityTolerance:  40,
				LossAversionScore:    0.3,
				TimeHorizonYears:     10,
			},
		},
		{
			name:       "aggressive below loss aversion floor",
			userID:     "user-1",
			tolerance:  RiskAggressive,
			goal:       GoalCapitalGrowth,
			experience: ExperienceAdvanced,
			assessment: RiskAssessment{
				MaxDrawdownTolerance: 45,
				VolatilityTolerance:  40,
				LossAversionScore:    0.05,
				TimeHorizonYears:     10,
			},
			wantField: "risk_assessment.loss_aversion_score",
		},
		{
			name:       "negative time horizon",
			userID:     "user-1",
			tolerance:  RiskModerate,
			goal:       GoalCapitalGrowth,
			experience: ExperienceIntermediate,
			assessment: RiskAssessment{
				MaxDrawdownTolerance: 20,
				VolatilityTolerance:  15,
				LossAversionScore:    0.5,
				TimeHorizonYears:     -1,
			},
			wantField: "risk_assessment.time_horizon_years",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewUserProfile(tt.userID, tt.email, tt.tolerance, tt.goal, tt.experience, tt.assessment)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("NewUserProfile() unexpected error: %v", err)
				}
				if p.UserID != tt.userID {
					t.Errorf("UserID got = %v, want %v", p.UserID, tt.userID)
				}
				if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
					t.Error("timestamps not set")
				}
				return
			}

			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("NewUserProfile() error = %v, want *ValidationError", err)
			}
			if vErr.Field != tt.wantField {
				t.Errorf("ValidationError.Field got = %v, want %v", vErr.Field, tt.wantField)
			}
		})
	}
}

func TestValidateMatchesConstructor(t *testing.T) {
	p, err := NewUserProfile("user-1", "a@b.com", RiskModerate, GoalIncomeGeneration,
		ExperienceIntermediate, baseAssessment())
	if err != nil {
		t.Fatalf("NewUserProfile() error: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() on constructed profile: %v", err)
	}

	p.RiskAssessment.MaxDrawdownTolerance = 90
	if err := p.Validate(); err == nil {
		t.Error("Validate() accepted moderate profile with 90% drawdown tolerance")
	}
}

func TestRiskToleranceOrder(t *testing.T) {
	levels := []RiskTolerance{RiskConservative, RiskModerate, RiskAggressive, RiskSpeculative}
	for i, lower := range levels {
		for j, higher := range levels {
			got := higher.AtLeast(lower)
			want := j >= i
			if got != want {
				t.Errorf("%s.AtLeast(%s) = %v, want %v", higher, lower, got, want)
			}
		}
	}
}

func TestParseRiskTolerance(t *testing.T) {
	for _, level := range []RiskTolerance{RiskConservative, RiskModerate, RiskAggressive, RiskSpeculative} {
		parsed, err := ParseRiskTolerance(level.String())
		if err != nil {
			t.Fatalf("ParseRiskTolerance(%q) error: %v", level.String(), err)
		}
		if parsed != level {
			t.Errorf("round trip got = %v, want %v", parsed, level)
		}
	}

	if _, err := ParseRiskTolerance("reckless"); err == nil {
		t.Error("ParseRiskTolerance accepted unknown name")
	}
}

func TestInvestmentGoalOrdinal(t *testing.T) {
	if GoalCapitalPreservation.Ordinal() >= GoalSpeculativeGains.Ordinal() {
		t.Error("goal axis ordering broken")
	}
	if !GoalIncomeGeneration.Valid() || InvestmentGoal("moon").Valid() {
		t.Error("goal validity check broken")
	}
}
