package model

import "time"

// RecommendationEntry is one admitted strategy with its sizing hint, a
// fraction of the portfolio in [0, MaxAllocationFraction].
type RecommendationEntry struct {
	StrategyID string  `json:"strategy_id"`
	Family     string  `json:"family"`
	Score      float64 `json:"score"`
	SizingHint float64 `json:"sizing_hint"`
}

// RecommendationSet is the published, ranked output for one user. Sets are
// replaced atomically per user; BasedOnProfileRevision and BasedOnSignalSeqs
// record exactly which inputs produced it.
type RecommendationSet struct {
	SetID                  string                `json:"set_id"`
	UserID                 string                `json:"user_id"`
	Entries                []RecommendationEntry `json:"entries"`
	GeneratedAt            time.Time             `json:"generated_at"`
	BasedOnProfileRevision int64                 `json:"based_on_profile_revision"`
	BasedOnSignalSeqs      map[string]int64      `json:"based_on_signal_seqs"`
}

// SkipRecord documents a strategy that scored well enough to be admitted but
// was rejected by a selection constraint. Returned alongside the set so the
// decision stays auditable.
type SkipRecord struct {
	StrategyID string  `json:"strategy_id"`
	Family     string  `json:"family"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
}
