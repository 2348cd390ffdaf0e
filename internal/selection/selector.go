// Package selection turns ranked suitability scores into a bounded
// recommendation set under portfolio constraints. Like scoring it is a
// stateless transform; the recompute engine owns the result.
package selection

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/strategy-advisor/internal/model"
	"github.com/yourorg/strategy-advisor/internal/scoring"
)

// ErrEmptyEligibleSet signals that no strategy passed the eligibility gate.
// It is a terminal, non-fatal result: the caller shows "no suitable
// strategies" rather than treating it as a failure.
var ErrEmptyEligibleSet = errors.New("no eligible strategies for user")

// Constraints bound what the selector may admit.
type Constraints struct {
	// MaxRecommendations caps the number of entries (K).
	MaxRecommendations int `yaml:"max_recommendations"`

	// PortfolioCap bounds the cumulative max-allocation fraction across
	// admitted strategies.
	PortfolioCap float64 `yaml:"portfolio_cap"`

	// FamilyCap bounds any single family's share, counting existing
	// allocations plus newly admitted sizing.
	FamilyCap float64 `yaml:"family_cap"`
}

// Validate checks constraint invariants.
func (c Constraints) Validate() error {
	if c.MaxRecommendations <= 0 {
		return fmt.Errorf("max_recommendations must be positive, got %d", c.MaxRecommendations)
	}
	if c.PortfolioCap <= 0 || c.PortfolioCap > 1 {
		return fmt.Errorf("portfolio_cap must be in (0, 1], got %.3f", c.PortfolioCap)
	}
	if c.FamilyCap <= 0 || c.FamilyCap > 1 {
		return fmt.Errorf("family_cap must be in (0, 1], got %.3f", c.FamilyCap)
	}
	return nil
}

// Select greedily admits the highest-scored eligible strategies while
// enforcing the portfolio cap, the per-family concentration cap, and the K
// limit. Strategies skipped for a constraint are recorded, not retried; the
// pass is single-shot so the outcome is deterministic and auditable.
//
// The sizing hint for an admitted strategy is
// min(remaining headroom, its own max allocation fraction) * score.
func Select(scores []model.SuitabilityScore, defs map[string]model.StrategyDefinition,
	existing []model.Allocation, constraints Constraints) (model.RecommendationSet, []model.SkipRecord, error) {

	eligible := make([]model.SuitabilityScore, 0, len(scores))
	for _, sc := range scores {
		if sc.Eligible {
			eligible = append(eligible, sc)
		}
	}
	if len(eligible) == 0 {
		return model.RecommendationSet{}, nil, ErrEmptyEligibleSet
	}
	scoring.Sort(eligible)

	familyLoad := make(map[string]float64)
	for _, alloc := range existing {
		familyLoad[alloc.Family] += alloc.Fraction
	}

	var (
		entries   []model.RecommendationEntry
		skipped   []model.SkipRecord
		committed float64
	)

	for _, sc := range eligible {
		if len(entries) >= constraints.MaxRecommendations {
			break
		}

		def, ok := defs[sc.StrategyID]
		if !ok {
			// The catalog changed between scoring and selection; the score
			// is stale and the engine will recompute.
			skipped = append(skipped, model.SkipRecord{
				StrategyID: sc.StrategyID,
				Family:     sc.Family,
				Score:      sc.Score,
				Reason:     "strategy no longer in catalog",
			})
			continue
		}

		// The portfolio cap is checked against the strategy's full
		// max-allocation fraction, not the (score-discounted) sizing hint:
		// admitting a strategy reserves its whole fraction.
		if committed+def.MaxAllocationFraction > constraints.PortfolioCap {
			skipped = append(skipped, skipForConstraint(sc, "would exceed portfolio cap"))
			continue
		}

		headroom := constraints.PortfolioCap - committed
		sizing := minFloat(headroom, def.MaxAllocationFraction) * sc.Score
		if sizing <= 0 {
			skipped = append(skipped, skipForConstraint(sc, "zero sizing"))
			continue
		}
		if familyLoad[def.Family]+sizing > constraints.FamilyCap {
			skipped = append(skipped, skipForConstraint(sc,
				fmt.Sprintf("family %s concentration cap", def.Family)))
			continue
		}

		entries = append(entries, model.RecommendationEntry{
			StrategyID: def.ID,
			Family:     def.Family,
			Score:      sc.Score,
			SizingHint: sizing,
		})
		committed += def.MaxAllocationFraction
		familyLoad[def.Family] += sizing
	}

	set := model.RecommendationSet{
		SetID:                  uuid.NewString(),
		UserID:                 eligible[0].UserID,
		Entries:                entries,
		GeneratedAt:            time.Now().UTC(),
		BasedOnProfileRevision: eligible[0].ProfileRevision,
		BasedOnSignalSeqs:      eligible[0].SignalSeqs,
	}
	return set, skipped, nil
}

func skipForConstraint(sc model.SuitabilityScore, reason string) model.SkipRecord {
	return model.SkipRecord{
		StrategyID: sc.StrategyID,
		Family:     sc.Family,
		Score:      sc.Score,
		Reason:     "skipped_for_constraint: " + reason,
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
