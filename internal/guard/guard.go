// Package guard protects the pipeline from erroneous or extreme signal data
// with a circuit breaker over raw batches. A tripped instrument serves its
// last known good batch while the breaker cools down, so one misbehaving
// source cannot poison downstream scores.
package guard

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/strategy-advisor/internal/model"
)

// State represents the breaker state for one instrument.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // tripped, batches rejected
	StateHalfOpen              // testing recovery
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is wrapped into Check errors while an instrument's circuit is open.
var ErrOpen = errors.New("signal circuit open")

// Thresholds defines the limits that trip the breaker.
type Thresholds struct {
	// MaxAbsValue bounds plausible raw magnitudes; any value beyond it
	// trips immediately.
	MaxAbsValue float64

	// MaxJumpRatio bounds the relative change of a feature between
	// consecutive batches for the same instrument.
	MaxJumpRatio float64

	// MinFeatures is the smallest batch considered usable.
	MinFeatures int
}

// Breaker tracks per-instrument circuit state.
type Breaker struct {
	thresholds       Thresholds
	resetDelay       time.Duration
	successThreshold int
	onTrip           func(instrument, reason string)
	log              *logrus.Entry

	mu          sync.Mutex
	instruments map[string]*circuit
}

type circuit struct {
	state        State
	lastTrip     time.Time
	successCount int
	lastGood     model.RawBatch
	hasLastGood  bool
}

// New creates a breaker with the given thresholds.
func New(t Thresholds) *Breaker {
	return &Breaker{
		thresholds:       t,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
		log:              logrus.WithField("component", "signal_guard"),
		instruments:      make(map[string]*circuit),
	}
}

// WithResetDelay sets the cooldown before a half-open recovery attempt.
func (b *Breaker) WithResetDelay(delay time.Duration) *Breaker {
	b.resetDelay = delay
	return b
}

// WithSuccessThreshold sets how many clean batches close a half-open circuit.
func (b *Breaker) WithSuccessThreshold(n int) *Breaker {
	b.successThreshold = n
	return b
}

// WithTripCallback registers a callback invoked whenever a circuit trips.
func (b *Breaker) WithTripCallback(fn func(instrument, reason string)) *Breaker {
	b.onTrip = fn
	return b
}

// Check evaluates a raw batch. It returns an error when the batch violates a
// threshold (tripping the circuit) or while the circuit is open. On success
// the batch becomes the instrument's last known good.
func (b *Breaker) Check(batch model.RawBatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.instruments[batch.Instrument]
	if !ok {
		c = &circuit{state: StateClosed}
		b.instruments[batch.Instrument] = c
	}

	if c.state == StateOpen {
		if time.Since(c.lastTrip) <= b.resetDelay {
			return fmt.Errorf("%w for %s", ErrOpen, batch.Instrument)
		}
		c.state = StateHalfOpen
		c.successCount = 0
		b.log.WithField("instrument", batch.Instrument).Info("signal circuit half-open")
	}

	if reason := b.violation(c, batch); reason != "" {
		b.trip(c, batch.Instrument, reason)
		return errors.New(reason)
	}

	c.lastGood = batch
	c.hasLastGood = true
	if c.state == StateHalfOpen {
		c.successCount++
		if c.successCount >= b.successThreshold {
			c.state = StateClosed
			c.successCount = 0
			b.log.WithField("instrument", batch.Instrument).Info("signal circuit closed")
		}
	}
	return nil
}

func (b *Breaker) violation(c *circuit, batch model.RawBatch) string {
	if len(batch.Values) < b.thresholds.MinFeatures {
		return fmt.Sprintf("batch for %s has %d features, need %d",
			batch.Instrument, len(batch.Values), b.thresholds.MinFeatures)
	}

	for name, value := range batch.Values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Sprintf("non-finite value for %s.%s", batch.Instrument, name)
		}
		if b.thresholds.MaxAbsValue > 0 && math.Abs(value) > b.thresholds.MaxAbsValue {
			return fmt.Sprintf("value %.4g for %s.%s beyond plausible magnitude %.4g",
				value, batch.Instrument, name, b.thresholds.MaxAbsValue)
		}
	}

	if b.thresholds.MaxJumpRatio > 0 && c.hasLastGood {
		for name, value := range batch.Values {
			prev, ok := c.lastGood.Values[name]
			if !ok || math.Abs(prev) < 1e-9 {
				continue
			}
			ratio := math.Abs(value-prev) / math.Abs(prev)
			if ratio > b.thresholds.MaxJumpRatio {
				return fmt.Sprintf("feature %s.%s jumped %.1f%% between batches (limit %.1f%%)",
					batch.Instrument, name, ratio*100, b.thresholds.MaxJumpRatio*100)
			}
		}
	}
	return ""
}

func (b *Breaker) trip(c *circuit, instrument, reason string) {
	c.state = StateOpen
	c.lastTrip = time.Now()
	b.log.WithFields(logrus.Fields{
		"instrument": instrument,
		"reason":     reason,
	}).Warn("signal circuit tripped")

	if b.onTrip != nil {
		go b.onTrip(instrument, reason)
	}
}

// LastGood returns the instrument's most recent accepted batch, for use as a
// fallback while the circuit is open.
func (b *Breaker) LastGood(instrument string) (model.RawBatch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.instruments[instrument]
	if !ok || !c.hasLastGood {
		return model.RawBatch{}, false
	}
	return c.lastGood, true
}

// State returns the instrument's circuit state.
func (b *Breaker) State(instrument string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.instruments[instrument]; ok {
		return c.state
	}
	return StateClosed
}

// States returns a snapshot of every tracked instrument's state, for the
// status endpoint.
func (b *Breaker) States() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.instruments))
	for instrument, c := range b.instruments {
		out[instrument] = c.state.String()
	}
	return out
}

// Reset forces an instrument's circuit back to closed.
func (b *Breaker) Reset(instrument string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.instruments[instrument]; ok {
		c.state = StateClosed
		c.successCount = 0
		b.log.WithField("instrument", instrument).Info("signal circuit manually reset")
	}
}
