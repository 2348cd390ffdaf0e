package scoring

import (
	"strings"
	"testing"
	"time"

	"github.com/yourorg/strategy-advisor/internal/model"
)

func testCalibration() Calibration {
	return Calibration{
		AffinityFloor: 0.25,
		DefaultFamily: FamilyCalibration{Steepness: 2.0, Midpoint: 0},
	}
}

func testVector(features map[string]float64) model.SignalVector {
	return model.NewSignalVector("BTC-USD", "core", "test", 1, time.Now().UTC(), features)
}

func moderateGrowthProfile() model.UserProfile {
	return model.UserProfile{
		UserID:        "u1",
		RiskTolerance: model.RiskModerate,
		Goal:          model.GoalCapitalGrowth,
		Experience:    model.ExperienceIntermediate,
		Revision:      1,
	}
}

func TestScoreEligibilityGate(t *testing.T) {
	vector := testVector(map[string]float64{"momentum": 0.5})

	tests := []struct {
		name       string
		profile    model.UserProfile
		def        model.StrategyDefinition
		eligible   bool
		reasonPart string
	}{
		{
			name:    "eligible",
			profile: moderateGrowthProfile(),
			def: model.StrategyDefinition{
				ID: "s1", Family: "momentum", Instrument: "BTC-USD",
				MinRiskTolerance: model.RiskModerate,
				ApplicableGoals:  []model.InvestmentGoal{model.GoalCapitalGrowth},
				RequiredFeatures: []string{"momentum"},
				ScoringWeights:   map[string]float64{"momentum": 1},
				TargetRisk:       model.RiskModerate,
				TargetGoal:       model.GoalCapitalGrowth,
			},
			eligible: true,
		},
		{
			name:    "risk tolerance below minimum",
			profile: moderateGrowthProfile(),
			def: model.StrategyDefinition{
				ID: "s2", Family: "momentum", Instrument: "BTC-USD",
				MinRiskTolerance: model.RiskAggressive,
				ApplicableGoals:  []model.InvestmentGoal{model.GoalCapitalGrowth},
				RequiredFeatures: []string{"momentum"},
				TargetRisk:       model.RiskAggressive,
				TargetGoal:       model.GoalCapitalGrowth,
			},
			reasonPart: "risk tolerance",
		},
		{
			name:    "goal not served",
			profile: moderateGrowthProfile(),
			def: model.StrategyDefinition{
				ID: "s3", Family: "yield", Instrument: "BTC-USD",
				MinRiskTolerance: model.RiskConservative,
				ApplicableGoals:  []model.InvestmentGoal{model.GoalCapitalPreservation},
				RequiredFeatures: []string{"momentum"},
				TargetRisk:       model.RiskConservative,
				TargetGoal:       model.GoalCapitalPreservation,
			},
			reasonPart: "goal",
		},
		{
			name:    "required feature missing",
			profile: moderateGrowthProfile(),
			def: model.StrategyDefinition{
				ID: "s4", Family: "carry", Instrument: "BTC-USD",
				MinRiskTolerance: model.RiskModerate,
				ApplicableGoals:  []model.InvestmentGoal{model.GoalCapitalGrowth},
				RequiredFeatures: []string{"funding_rate"},
				TargetRisk:       model.RiskModerate,
				TargetGoal:       model.GoalCapitalGrowth,
			},
			reasonPart: "features missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := Score(tt.profile, vector, []model.StrategyDefinition{tt.def}, testCalibration())
			if len(scores) != 1 {
				t.Fatalf("Score() returned %d scores, want 1", len(scores))
			}
			sc := scores[0]
			if sc.Eligible != tt.eligible {
				t.Errorf("Eligible = %v, want %v (reason %q)", sc.Eligible, tt.eligible, sc.IneligibleReason)
			}
			if tt.eligible {
				if sc.Score <= 0 || sc.Score > 1 {
					t.Errorf("Score = %v, want in (0, 1]", sc.Score)
				}
				return
			}
			if sc.Score != 0 {
				t.Errorf("ineligible Score = %v, want 0", sc.Score)
			}
			if !strings.Contains(sc.IneligibleReason, tt.reasonPart) {
				t.Errorf("IneligibleReason %q does not mention %q", sc.IneligibleReason, tt.reasonPart)
			}
		})
	}
}

func TestScoreHigherToleranceNeverLosesEligibility(t *testing.T) {
	def := model.StrategyDefinition{
		ID: "s1", Family: "momentum", Instrument: "BTC-USD",
		MinRiskTolerance: model.RiskModerate,
		ApplicableGoals: []model.InvestmentGoal{
			model.GoalCapitalPreservation, model.GoalIncomeGeneration,
			model.GoalCapitalGrowth, model.GoalSpeculativeGains,
		},
		RequiredFeatures: []string{"momentum"},
		ScoringWeights:   map[string]float64{"momentum": 1},
		TargetRisk:       model.RiskModerate,
		TargetGoal:       model.GoalCapitalGrowth,
	}
	vector := testVector(map[string]float64{"momentum": 0.5})

	prevEligible := false
	for _, tol := range []model.RiskTolerance{
		model.RiskConservative, model.RiskModerate, model.RiskAggressive, model.RiskSpeculative,
	} {
		p := moderateGrowthProfile()
		p.RiskTolerance = tol
		scores := Score(p, vector, []model.StrategyDefinition{def}, testCalibration())
		if prevEligible && !scores[0].Eligible {
			t.Errorf("raising tolerance to %s lost eligibility", tol)
		}
		prevEligible = prevEligible || scores[0].Eligible
	}
	if !prevEligible {
		t.Error("no tolerance level was eligible")
	}
}

func TestScoreAffinityDecay(t *testing.T) {
	// Same strategy, increasingly distant profiles: the score must decay
	// monotonically but never below floor * squashed.
	def := model.StrategyDefinition{
		ID: "s1", Family: "momentum", Instrument: "BTC-USD",
		MinRiskTolerance: model.RiskConservative,
		ApplicableGoals: []model.InvestmentGoal{
			model.GoalCapitalPreservation, model.GoalIncomeGeneration,
			model.GoalCapitalGrowth, model.GoalSpeculativeGains,
		},
		RequiredFeatures: []string{"momentum"},
		ScoringWeights:   map[string]float64{"momentum": 1},
		TargetRisk:       model.RiskConservative,
		TargetGoal:       model.GoalCapitalPreservation,
	}
	vector := testVector(map[string]float64{"momentum": 0.5})
	calib := testCalibration()

	profiles := []model.UserProfile{
		{UserID: "u", RiskTolerance: model.RiskConservative, Goal: model.GoalCapitalPreservation},
		{UserID: "u", RiskTolerance: model.RiskModerate, Goal: model.GoalIncomeGeneration},
		{UserID: "u", RiskTolerance: model.RiskAggressive, Goal: model.GoalCapitalGrowth},
		{UserID: "u", RiskTolerance: model.RiskSpeculative, Goal: model.GoalSpeculativeGains},
	}

	var prev float64 = 2
	for _, p := range profiles {
		sc := Score(p, vector, []model.StrategyDefinition{def}, calib)[0]
		if !sc.Eligible {
			t.Fatalf("profile %s/%s unexpectedly ineligible", p.RiskTolerance, p.Goal)
		}
		if sc.Score >= prev {
			t.Errorf("score %v did not decay (previous %v) for %s/%s", sc.Score, prev, p.RiskTolerance, p.Goal)
		}
		squashed := squash(sc.RawScore, calib.DefaultFamily)
		if sc.Score < calib.AffinityFloor*squashed-1e-9 {
			t.Errorf("score %v fell below affinity floor bound %v", sc.Score, calib.AffinityFloor*squashed)
		}
		prev = sc.Score
	}
}

func TestScoreConservativeScenario(t *testing.T) {
	// A conservative preservation-minded user sees the aggressive strategy
	// recorded as ineligible and only the stable one scored.
	defs := []model.StrategyDefinition{
		{
			ID: "aggressive-momentum", Family: "momentum", Instrument: "BTC-USD",
			MinRiskTolerance: model.RiskAggressive,
			ApplicableGoals:  []model.InvestmentGoal{model.GoalSpeculativeGains},
			RequiredFeatures: []string{"momentum"},
			ScoringWeights:   map[string]float64{"momentum": 1.2},
			TargetRisk:       model.RiskSpeculative,
			TargetGoal:       model.GoalSpeculativeGains,
		},
		{
			ID: "stable-yield", Family: "yield", Instrument: "BTC-USD",
			MinRiskTolerance: model.RiskConservative,
			ApplicableGoals:  []model.InvestmentGoal{model.GoalCapitalPreservation},
			RequiredFeatures: []string{"volatility"},
			ScoringWeights:   map[string]float64{"volatility": -0.8},
			ScoringBias:      0.3,
			TargetRisk:       model.RiskConservative,
			TargetGoal:       model.GoalCapitalPreservation,
		},
	}
	p := model.UserProfile{
		UserID:        "u1",
		RiskTolerance: model.RiskConservative,
		Goal:          model.GoalCapitalPreservation,
	}
	vector := testVector(map[string]float64{"momentum": 0.9, "volatility": 0.2})

	scores := Score(p, vector, defs, testCalibration())
	if len(scores) != 2 {
		t.Fatalf("Score() returned %d scores, want 2", len(scores))
	}

	byID := map[string]model.SuitabilityScore{}
	for _, sc := range scores {
		byID[sc.StrategyID] = sc
	}
	if byID["aggressive-momentum"].Eligible {
		t.Error("aggressive strategy eligible for conservative user")
	}
	if !byID["stable-yield"].Eligible {
		t.Errorf("stable strategy ineligible: %s", byID["stable-yield"].IneligibleReason)
	}
	if scores[0].StrategyID != "stable-yield" {
		t.Errorf("ranking order = %s first, want stable-yield", scores[0].StrategyID)
	}
}

func TestSortDeterministicTieBreaks(t *testing.T) {
	scores := []model.SuitabilityScore{
		{StrategyID: "c", Score: 0.5, MinRiskTolerance: model.RiskAggressive, Eligible: true},
		{StrategyID: "b", Score: 0.5, MinRiskTolerance: model.RiskConservative, Eligible: true},
		{StrategyID: "a", Score: 0.5, MinRiskTolerance: model.RiskAggressive, Eligible: true},
		{StrategyID: "d", Score: 0.9, MinRiskTolerance: model.RiskSpeculative, Eligible: true},
	}
	Sort(scores)

	wantOrder := []string{"d", "b", "a", "c"}
	for i, want := range wantOrder {
		if scores[i].StrategyID != want {
			t.Errorf("position %d = %s, want %s", i, scores[i].StrategyID, want)
		}
	}
}

func TestCalibrationValidate(t *testing.T) {
	tests := []struct {
		name    string
		calib   Calibration
		wantErr bool
	}{
		{name: "valid", calib: testCalibration()},
		{
			name:    "zero affinity floor",
			calib:   Calibration{AffinityFloor: 0, DefaultFamily: FamilyCalibration{Steepness: 1}},
			wantErr: true,
		},
		{
			name:    "floor above one",
			calib:   Calibration{AffinityFloor: 1.5, DefaultFamily: FamilyCalibration{Steepness: 1}},
			wantErr: true,
		},
		{
			name: "family with zero steepness",
			calib: Calibration{
				AffinityFloor: 0.25,
				DefaultFamily: FamilyCalibration{Steepness: 1},
				Families:      map[string]FamilyCalibration{"bad": {Steepness: 0}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.calib.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
