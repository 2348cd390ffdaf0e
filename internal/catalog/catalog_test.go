package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yourorg/strategy-advisor/internal/model"
)

const minimalCatalog = `
calibration:
  affinity_floor: 0.3
  default_family:
    steepness: 2.0
selection:
  max_recommendations: 3
  portfolio_cap: 0.6
  family_cap: 0.3
strategies:
  - id: s1
    family: momentum
    instrument: BTC-USD
    min_risk_tolerance: moderate
    applicable_goals: [capital_growth]
    required_features: [momentum]
    scoring_weights:
      momentum: 1.0
    max_allocation_fraction: 0.3
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestLoadCatalog(t *testing.T) {
	cat, err := Load(writeCatalog(t, minimalCatalog))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	snap := cat.Current()
	if len(snap.Definitions) != 1 {
		t.Fatalf("Definitions = %d, want 1", len(snap.Definitions))
	}
	def := snap.Definitions[0]
	if def.MinRiskTolerance != model.RiskModerate {
		t.Errorf("MinRiskTolerance = %v, want moderate", def.MinRiskTolerance)
	}
	// Omitted targets fall back to the minimum risk and first goal.
	if def.TargetRisk != model.RiskModerate || def.TargetGoal != model.GoalCapitalGrowth {
		t.Errorf("targets = %v/%v", def.TargetRisk, def.TargetGoal)
	}
	if snap.Calibration.AffinityFloor != 0.3 {
		t.Errorf("AffinityFloor = %v, want 0.3", snap.Calibration.AffinityFloor)
	}
	if snap.Constraints.MaxRecommendations != 3 {
		t.Errorf("MaxRecommendations = %v, want 3", snap.Constraints.MaxRecommendations)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	// Calibration and selection sections omitted entirely.
	cat, err := Load(writeCatalog(t, `
strategies:
  - id: s1
    family: momentum
    instrument: BTC-USD
    min_risk_tolerance: conservative
    applicable_goals: [capital_preservation]
    required_features: [momentum]
    scoring_weights:
      momentum: 1.0
    max_allocation_fraction: 0.3
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	snap := cat.Current()
	if snap.Calibration.AffinityFloor != 0.25 {
		t.Errorf("default AffinityFloor = %v", snap.Calibration.AffinityFloor)
	}
	if snap.Calibration.DefaultFamily.Steepness != 2.0 {
		t.Errorf("default Steepness = %v", snap.Calibration.DefaultFamily.Steepness)
	}
	if snap.Constraints.MaxRecommendations != 5 || snap.Constraints.PortfolioCap != 0.8 || snap.Constraints.FamilyCap != 0.4 {
		t.Errorf("default constraints = %+v", snap.Constraints)
	}
}

func TestLoadRejectsBadCatalogs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty strategies", content: "strategies: []\n"},
		{
			name: "unknown risk tolerance",
			content: `
strategies:
  - id: s1
    family: f
    instrument: BTC-USD
    min_risk_tolerance: reckless
    applicable_goals: [capital_growth]
    required_features: [momentum]
    scoring_weights: {momentum: 1.0}
    max_allocation_fraction: 0.3
`,
		},
		{
			name: "duplicate strategy ids",
			content: `
strategies:
  - id: s1
    family: f
    instrument: BTC-USD
    min_risk_tolerance: moderate
    applicable_goals: [capital_growth]
    required_features: [momentum]
    scoring_weights: {momentum: 1.0}
    max_allocation_fraction: 0.3
  - id: s1
    family: f
    instrument: ETH-USD
    min_risk_tolerance: moderate
    applicable_goals: [capital_growth]
    required_features: [momentum]
    scoring_weights: {momentum: 1.0}
    max_allocation_fraction: 0.3
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeCatalog(t, tt.content)); err == nil {
				t.Error("Load() accepted a bad catalog")
			}
		})
	}
}

func TestReload(t *testing.T) {
	path := writeCatalog(t, minimalCatalog)
	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Unchanged content: no change reported.
	changed, err := cat.Reload()
	if err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if changed {
		t.Error("Reload() reported change for identical content")
	}

	// New content installs a new snapshot.
	if err := os.WriteFile(path, []byte(minimalCatalog+`
  - id: s2
    family: yield
    instrument: ETH-USD
    min_risk_tolerance: conservative
    applicable_goals: [capital_preservation]
    required_features: [volatility]
    scoring_weights:
      volatility: -0.5
    max_allocation_fraction: 0.2
`), 0o644); err != nil {
		t.Fatalf("rewrite catalog: %v", err)
	}
	changed, err = cat.Reload()
	if err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if !changed || len(cat.Current().Definitions) != 2 {
		t.Errorf("Reload() changed = %v, definitions = %d", changed, len(cat.Current().Definitions))
	}

	// A broken rewrite keeps the previous snapshot in service.
	if err := os.WriteFile(path, []byte("strategies: []\n"), 0o644); err != nil {
		t.Fatalf("rewrite catalog: %v", err)
	}
	if _, err := cat.Reload(); err == nil {
		t.Error("Reload() accepted an empty catalog")
	}
	if len(cat.Current().Definitions) != 2 {
		t.Errorf("failed reload replaced the snapshot, definitions = %d", len(cat.Current().Definitions))
	}
}
