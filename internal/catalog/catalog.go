// Package catalog loads the strategy catalog and scoring calibration from a
// YAML file. The catalog is a slowly-changing external input: the engine
// reads a consistent snapshot by reference on each pass, and a periodic
// reload detects content changes.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/strategy-advisor/internal/model"
	"github.com/yourorg/strategy-advisor/internal/scoring"
	"github.com/yourorg/strategy-advisor/internal/selection"
)

// Snapshot is one immutable, validated catalog state.
type Snapshot struct {
	Definitions []model.StrategyDefinition
	Calibration scoring.Calibration
	Constraints selection.Constraints

	hash string
}

// ByID returns the definitions keyed by strategy ID.
func (s *Snapshot) ByID() map[string]model.StrategyDefinition {
	byID := make(map[string]model.StrategyDefinition, len(s.Definitions))
	for _, def := range s.Definitions {
		byID[def.ID] = def
	}
	return byID
}

// ForInstrument returns the definitions trading the given instrument.
func (s *Snapshot) ForInstrument(instrument string) []model.StrategyDefinition {
	var defs []model.StrategyDefinition
	for _, def := range s.Definitions {
		if def.Instrument == instrument {
			defs = append(defs, def)
		}
	}
	return defs
}

// Catalog serves the current snapshot and supports reloading.
type Catalog struct {
	path string
	log  *logrus.Entry

	mu   sync.RWMutex
	snap *Snapshot
}

// Load reads, validates, and installs the catalog from path.
func Load(path string) (*Catalog, error) {
	snap, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		path: path,
		log:  logrus.WithField("component", "catalog"),
		snap: snap,
	}
	c.log.WithFields(logrus.Fields{
		"strategies": len(snap.Definitions),
		"hash":       snap.hash[:12],
	}).Info("strategy catalog loaded")
	return c, nil
}

// Current returns the installed snapshot. The snapshot is immutable; passes
// hold it by reference for their whole duration.
func (c *Catalog) Current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Reload re-reads the file and reports whether the content changed. A parse
// or validation failure leaves the installed snapshot untouched.
func (c *Catalog) Reload() (bool, error) {
	snap, err := loadSnapshot(c.path)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.hash == c.snap.hash {
		return false, nil
	}
	c.snap = snap
	c.log.WithFields(logrus.Fields{
		"strategies": len(snap.Definitions),
		"hash":       snap.hash[:12],
	}).Info("strategy catalog reloaded")
	return true, nil
}

// catalogFile is the on-disk shape. Enum-valued fields come in as strings
// and are parsed into their typed forms during conversion.
type catalogFile struct {
	Calibration scoring.Calibration   `yaml:"calibration"`
	Selection   selection.Constraints `yaml:"selection"`
	Strategies  []strategyEntry       `yaml:"strategies"`
}

type strategyEntry struct {
	ID                    string             `yaml:"id"`
	Family                string             `yaml:"family"`
	Instrument            string             `yaml:"instrument"`
	MinRiskTolerance      string             `yaml:"min_risk_tolerance"`
	ApplicableGoals       []string           `yaml:"applicable_goals"`
	RequiredFeatures      []string           `yaml:"required_features"`
	ScoringWeights        map[string]float64 `yaml:"scoring_weights"`
	ScoringBias           float64            `yaml:"scoring_bias"`
	TargetRisk            string             `yaml:"target_risk"`
	TargetGoal            string             `yaml:"target_goal"`
	MaxAllocationFraction float64            `yaml:"max_allocation_fraction"`
	LockupDays            int                `yaml:"lockup_days"`
}

func loadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	applyDefaults(&file)
	if err := file.Calibration.Validate(); err != nil {
		return nil, fmt.Errorf("catalog calibration: %w", err)
	}
	if err := file.Selection.Validate(); err != nil {
		return nil, fmt.Errorf("catalog selection constraints: %w", err)
	}

	defs := make([]model.StrategyDefinition, 0, len(file.Strategies))
	seen := make(map[string]bool, len(file.Strategies))
	for _, entry := range file.Strategies {
		def, err := entry.toDefinition()
		if err != nil {
			return nil, err
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("catalog strategy %s: %w", def.ID, err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate strategy id %s", def.ID)
		}
		seen[def.ID] = true
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("catalog contains no strategies")
	}

	sum := sha256.Sum256(data)
	return &Snapshot{
		Definitions: defs,
		Calibration: file.Calibration,
		Constraints: file.Selection,
		hash:        hex.EncodeToString(sum[:]),
	}, nil
}

func applyDefaults(file *catalogFile) {
	if file.Calibration.AffinityFloor == 0 {
		file.Calibration.AffinityFloor = 0.25
	}
	if file.Calibration.DefaultFamily.Steepness == 0 {
		file.Calibration.DefaultFamily.Steepness = 2.0
	}
	if file.Selection.MaxRecommendations == 0 {
		file.Selection.MaxRecommendations = 5
	}
	if file.Selection.PortfolioCap == 0 {
		file.Selection.PortfolioCap = 0.8
	}
	if file.Selection.FamilyCap == 0 {
		file.Selection.FamilyCap = 0.4
	}
}

func (e strategyEntry) toDefinition() (model.StrategyDefinition, error) {
	minRisk, err := model.ParseRiskTolerance(e.MinRiskTolerance)
	if err != nil {
		return model.StrategyDefinition{}, fmt.Errorf("strategy %s: min_risk_tolerance: %w", e.ID, err)
	}
	targetRisk := minRisk
	if e.TargetRisk != "" {
		targetRisk, err = model.ParseRiskTolerance(e.TargetRisk)
		if err != nil {
			return model.StrategyDefinition{}, fmt.Errorf("strategy %s: target_risk: %w", e.ID, err)
		}
	}

	goals := make([]model.InvestmentGoal, 0, len(e.ApplicableGoals))
	for _, g := range e.ApplicableGoals {
		goals = append(goals, model.InvestmentGoal(g))
	}
	targetGoal := model.InvestmentGoal(e.TargetGoal)
	if e.TargetGoal == "" && len(goals) > 0 {
		targetGoal = goals[0]
	}

	return model.StrategyDefinition{
		ID:                    e.ID,
		Family:                e.Family,
		Instrument:            e.Instrument,
		MinRiskTolerance:      minRisk,
		ApplicableGoals:       goals,
		RequiredFeatures:      e.RequiredFeatures,
		ScoringWeights:        e.ScoringWeights,
		ScoringBias:           e.ScoringBias,
		TargetRisk:            targetRisk,
		TargetGoal:            targetGoal,
		MaxAllocationFraction: e.MaxAllocationFraction,
		LockupDays:            e.LockupDays,
	}, nil
}
