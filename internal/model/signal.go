package model

import (
	"encoding/json"
	"sort"
	"time"
)

// RawBatch is an unnormalized set of feature observations for one instrument,
// as delivered by a signal source. Values carry whatever units the source
// uses; the normalizer is responsible for bringing them into declared ranges.
type RawBatch struct {
	Instrument string             `json:"instrument"`
	FeatureSet string             `json:"feature_set"`
	Source     string             `json:"source"`
	ObservedAt time.Time          `json:"observed_at"`
	Values     map[string]float64 `json:"values"`
}

// SignalVector is a normalized, immutable feature snapshot for one
// (instrument, feature-set) key. A newer vector supersedes an older one by
// carrying a higher Seq; vectors are never edited after production.
type SignalVector struct {
	Instrument string    `json:"instrument"`
	FeatureSet string    `json:"feature_set"`
	Source     string    `json:"source"`
	Seq        int64     `json:"seq"`
	ProducedAt time.Time `json:"produced_at"`

	features map[string]float64
}

// NewSignalVector copies the feature map so later mutation of the input
// cannot reach the vector.
func NewSignalVector(instrument, featureSet, source string, seq int64, producedAt time.Time, features map[string]float64) SignalVector {
	copied := make(map[string]float64, len(features))
	for k, v := range features {
		copied[k] = v
	}
	return SignalVector{
		Instrument: instrument,
		FeatureSet: featureSet,
		Source:     source,
		Seq:        seq,
		ProducedAt: producedAt,
		features:   copied,
	}
}

// Feature returns a normalized feature value and whether it is present.
func (v SignalVector) Feature(name string) (float64, bool) {
	val, ok := v.features[name]
	return val, ok
}

// Has reports whether every named feature is present in the vector.
func (v SignalVector) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := v.features[n]; !ok {
			return false
		}
	}
	return true
}

// FeatureNames returns the sorted feature keys in the vector.
func (v SignalVector) FeatureNames() []string {
	names := make([]string, 0, len(v.features))
	for n := range v.features {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Features returns a copy of the feature map.
func (v SignalVector) Features() map[string]float64 {
	out := make(map[string]float64, len(v.features))
	for k, val := range v.features {
		out[k] = val
	}
	return out
}

// Len returns the number of features in the vector.
func (v SignalVector) Len() int {
	return len(v.features)
}

type signalVectorJSON struct {
	Instrument string             `json:"instrument"`
	FeatureSet string             `json:"feature_set"`
	Source     string             `json:"source"`
	Seq        int64              `json:"seq"`
	ProducedAt time.Time          `json:"produced_at"`
	Features   map[string]float64 `json:"features"`
}

// MarshalJSON includes the private feature map so vectors survive
// persistence.
func (v SignalVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(signalVectorJSON{
		Instrument: v.Instrument,
		FeatureSet: v.FeatureSet,
		Source:     v.Source,
		Seq:        v.Seq,
		ProducedAt: v.ProducedAt,
		Features:   v.Features(),
	})
}

// UnmarshalJSON restores a vector, copying the decoded feature map.
func (v *SignalVector) UnmarshalJSON(data []byte) error {
	var raw signalVectorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = NewSignalVector(raw.Instrument, raw.FeatureSet, raw.Source, raw.Seq, raw.ProducedAt, raw.Features)
	return nil
}
