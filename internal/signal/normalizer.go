// Package signal converts heterogeneous raw market and predictive signals
// into normalized feature vectors with stable units and bounds. One
// Normalize call produces one immutable SignalVector; earlier vectors are
// superseded by sequence number, never edited.
package signal

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/strategy-advisor/internal/model"
)

// Transform selects how a raw value is scaled into the target range.
type Transform string

const (
	// TransformMinMax scales linearly from [RawMin, RawMax] onto the target
	// range.
	TransformMinMax Transform = "minmax"

	// TransformZScore standardizes against (Mean, StdDev), clips at
	// ClipStdDevs, and scales the clipped z-score onto the target range.
	TransformZScore Transform = "zscore"
)

// MissingPolicy decides what happens when a declared feature is absent from
// a raw batch.
type MissingPolicy string

const (
	// MissingReject fails normalization with *IncompleteSignalError.
	MissingReject MissingPolicy = "reject"

	// MissingImputeNeutral substitutes the feature's declared neutral value.
	MissingImputeNeutral MissingPolicy = "impute_neutral"
)

// IncompleteSignalError reports required features absent from a raw batch
// under the reject policy. Recompute passes for affected users are deferred,
// not failed permanently; the next signal arrival retries.
type IncompleteSignalError struct {
	Instrument string
	Missing    []string
}

func (e *IncompleteSignalError) Error() string {
	return fmt.Sprintf("incomplete signal for %s: missing %s",
		e.Instrument, strings.Join(e.Missing, ", "))
}

// FeatureSpec declares how one named feature is normalized.
type FeatureSpec struct {
	Name      string    `yaml:"name"`
	Transform Transform `yaml:"transform"`

	// Min-max parameters.
	RawMin float64 `yaml:"raw_min"`
	RawMax float64 `yaml:"raw_max"`

	// Z-score parameters.
	Mean        float64 `yaml:"mean"`
	StdDev      float64 `yaml:"std_dev"`
	ClipStdDevs float64 `yaml:"clip_std_devs"`

	// ClipLow/ClipHigh hard-limit raw values before scaling. Zero values for
	// both mean no pre-clip.
	ClipLow  float64 `yaml:"clip_low"`
	ClipHigh float64 `yaml:"clip_high"`

	// TargetLow/TargetHigh declare the output range, [-1,1] or [0,1].
	TargetLow  float64 `yaml:"target_low"`
	TargetHigh float64 `yaml:"target_high"`

	// Neutral is substituted under the impute_neutral policy. It must lie
	// inside the target range.
	Neutral float64 `yaml:"neutral"`

	MissingPolicy MissingPolicy `yaml:"missing_policy"`
}

// Validate checks the spec's internal consistency.
func (f FeatureSpec) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("feature spec with empty name")
	}
	switch f.Transform {
	case TransformMinMax:
		if f.RawMax <= f.RawMin {
			return fmt.Errorf("feature %s: raw_max must exceed raw_min", f.Name)
		}
	case TransformZScore:
		if f.StdDev <= 0 {
			return fmt.Errorf("feature %s: std_dev must be positive", f.Name)
		}
		if f.ClipStdDevs <= 0 {
			return fmt.Errorf("feature %s: clip_std_devs must be positive", f.Name)
		}
	default:
		return fmt.Errorf("feature %s: unknown transform %q", f.Name, f.Transform)
	}
	if f.TargetHigh <= f.TargetLow {
		return fmt.Errorf("feature %s: target_high must exceed target_low", f.Name)
	}
	if f.Neutral < f.TargetLow || f.Neutral > f.TargetHigh {
		return fmt.Errorf("feature %s: neutral %.3f outside target range [%.1f, %.1f]",
			f.Name, f.Neutral, f.TargetLow, f.TargetHigh)
	}
	switch f.MissingPolicy {
	case MissingReject, MissingImputeNeutral:
	default:
		return fmt.Errorf("feature %s: unknown missing policy %q", f.Name, f.MissingPolicy)
	}
	return nil
}

// normalize applies the spec's transform to one raw value.
func (f FeatureSpec) normalize(raw float64) float64 {
	if f.ClipHigh > f.ClipLow {
		raw = math.Min(math.Max(raw, f.ClipLow), f.ClipHigh)
	}

	var unit float64 // position in [0, 1]
	switch f.Transform {
	case TransformMinMax:
		clipped := math.Min(math.Max(raw, f.RawMin), f.RawMax)
		unit = (clipped - f.RawMin) / (f.RawMax - f.RawMin)
	case TransformZScore:
		z := (raw - f.Mean) / f.StdDev
		z = math.Min(math.Max(z, -f.ClipStdDevs), f.ClipStdDevs)
		unit = (z + f.ClipStdDevs) / (2 * f.ClipStdDevs)
	}

	return f.TargetLow + unit*(f.TargetHigh-f.TargetLow)
}

// Normalizer turns raw batches into signal vectors according to its feature
// specs. It owns sequence assignment per (instrument, feature-set) key so
// supersession order is total even when sources race.
type Normalizer struct {
	specs map[string]FeatureSpec
	log   *logrus.Entry

	mu   sync.Mutex
	seqs map[string]int64
}

// NewNormalizer validates the specs and builds a normalizer.
func NewNormalizer(specs []FeatureSpec) (*Normalizer, error) {
	byName := make(map[string]FeatureSpec, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate feature spec %s", spec.Name)
		}
		byName[spec.Name] = spec
	}
	if len(byName) == 0 {
		return nil, fmt.Errorf("no feature specs configured")
	}
	return &Normalizer{
		specs: byName,
		log:   logrus.WithField("component", "normalizer"),
		seqs:  make(map[string]int64),
	}, nil
}

// FeatureNames returns the sorted names of all configured features.
func (n *Normalizer) FeatureNames() []string {
	names := make([]string, 0, len(n.specs))
	for name := range n.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Normalize produces a fresh immutable vector from a raw batch. Declared
// features missing from the batch are handled per their missing policy; raw
// values the batch carries for undeclared features are dropped with a debug
// log rather than passed through unnormalized.
func (n *Normalizer) Normalize(batch model.RawBatch) (model.SignalVector, error) {
	if batch.Instrument == "" {
		return model.SignalVector{}, fmt.Errorf("raw batch without instrument")
	}

	features := make(map[string]float64, len(n.specs))
	var missing []string

	for name, spec := range n.specs {
		raw, ok := batch.Values[name]
		if !ok {
			switch spec.MissingPolicy {
			case MissingImputeNeutral:
				features[name] = spec.Neutral
			default:
				missing = append(missing, name)
			}
			continue
		}
		if math.IsNaN(raw) || math.IsInf(raw, 0) {
			missing = append(missing, name)
			continue
		}
		features[name] = spec.normalize(raw)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return model.SignalVector{}, &IncompleteSignalError{Instrument: batch.Instrument, Missing: missing}
	}

	for name := range batch.Values {
		if _, declared := n.specs[name]; !declared {
			n.log.WithFields(logrus.Fields{
				"instrument": batch.Instrument,
				"feature":    name,
			}).Debug("dropping undeclared feature")
		}
	}

	producedAt := batch.ObservedAt
	if producedAt.IsZero() {
		producedAt = time.Now().UTC()
	}

	return model.NewSignalVector(batch.Instrument, batch.FeatureSet, batch.Source,
		n.nextSeq(batch.Instrument, batch.FeatureSet), producedAt, features), nil
}

func (n *Normalizer) nextSeq(instrument, featureSet string) int64 {
	key := instrument + "|" + featureSet
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seqs[key]++
	return n.seqs[key]
}
