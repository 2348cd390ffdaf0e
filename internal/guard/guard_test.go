package guard

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/yourorg/strategy-advisor/internal/model"
)

func testThresholds() Thresholds {
	return Thresholds{MaxAbsValue: 1000, MaxJumpRatio: 2.0, MinFeatures: 2}
}

func batch(instrument string, values map[string]float64) model.RawBatch {
	return model.RawBatch{
		Instrument: instrument,
		Source:     "test",
		ObservedAt: time.Now().UTC(),
		Values:     values,
	}
}

func TestCheckViolations(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]float64
		wantErr bool
	}{
		{name: "clean batch", values: map[string]float64{"a": 1, "b": 2}},
		{name: "too few features", values: map[string]float64{"a": 1}, wantErr: true},
		{name: "value beyond magnitude", values: map[string]float64{"a": 1, "b": 5000}, wantErr: true},
		{name: "nan value", values: map[string]float64{"a": 1, "b": math.NaN()}, wantErr: true},
		{name: "infinite value", values: map[string]float64{"a": 1, "b": math.Inf(1)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(testThresholds())
			err := b.Check(batch("BTC-USD", tt.values))
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			wantState := StateClosed
			if tt.wantErr {
				wantState = StateOpen
			}
			if got := b.State("BTC-USD"); got != wantState {
				t.Errorf("State() = %v, want %v", got, wantState)
			}
		})
	}
}

func TestCheckJumpRatio(t *testing.T) {
	b := New(testThresholds())

	if err := b.Check(batch("BTC-USD", map[string]float64{"a": 10, "b": 1})); err != nil {
		t.Fatalf("first Check() error: %v", err)
	}
	// 10 -> 25 is a 150% move, within the 200% limit.
	if err := b.Check(batch("BTC-USD", map[string]float64{"a": 25, "b": 1})); err != nil {
		t.Fatalf("moderate jump rejected: %v", err)
	}
	// 25 -> 100 is a 300% move: trips.
	if err := b.Check(batch("BTC-USD", map[string]float64{"a": 100, "b": 1})); err == nil {
		t.Fatal("extreme jump accepted")
	}
	if b.State("BTC-USD") != StateOpen {
		t.Errorf("State() = %v, want open", b.State("BTC-USD"))
	}

	// While open, even clean batches are rejected with ErrOpen.
	err := b.Check(batch("BTC-USD", map[string]float64{"a": 25, "b": 1}))
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Check() while open = %v, want ErrOpen", err)
	}

	// Other instruments are independent circuits.
	if err := b.Check(batch("ETH-USD", map[string]float64{"a": 1, "b": 2})); err != nil {
		t.Errorf("independent instrument rejected: %v", err)
	}
}

func TestLastGoodSurvivesTrip(t *testing.T) {
	b := New(testThresholds())

	good := batch("BTC-USD", map[string]float64{"a": 10, "b": 1})
	if err := b.Check(good); err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if err := b.Check(batch("BTC-USD", map[string]float64{"a": 100, "b": 1})); err == nil {
		t.Fatal("jump accepted")
	}

	last, ok := b.LastGood("BTC-USD")
	if !ok {
		t.Fatal("LastGood() missing after trip")
	}
	if last.Values["a"] != 10 {
		t.Errorf("LastGood() a = %v, want 10", last.Values["a"])
	}

	if _, ok := b.LastGood("ETH-USD"); ok {
		t.Error("LastGood() for untracked instrument")
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	b := New(testThresholds()).WithResetDelay(0).WithSuccessThreshold(2)

	if err := b.Check(batch("BTC-USD", map[string]float64{"a": 1})); err == nil {
		t.Fatal("undersized batch accepted")
	}
	if b.State("BTC-USD") != StateOpen {
		t.Fatalf("State() = %v, want open", b.State("BTC-USD"))
	}

	// Reset delay elapsed: next clean batch moves to half-open.
	time.Sleep(5 * time.Millisecond)
	if err := b.Check(batch("BTC-USD", map[string]float64{"a": 1, "b": 2})); err != nil {
		t.Fatalf("half-open probe rejected: %v", err)
	}
	if b.State("BTC-USD") != StateHalfOpen {
		t.Errorf("State() = %v, want half-open", b.State("BTC-USD"))
	}

	// Second clean batch closes the circuit.
	if err := b.Check(batch("BTC-USD", map[string]float64{"a": 1, "b": 2})); err != nil {
		t.Fatalf("second probe rejected: %v", err)
	}
	if b.State("BTC-USD") != StateClosed {
		t.Errorf("State() = %v, want closed", b.State("BTC-USD"))
	}
}

func TestManualReset(t *testing.T) {
	b := New(testThresholds())

	if err := b.Check(batch("BTC-USD", map[string]float64{"a": 1})); err == nil {
		t.Fatal("undersized batch accepted")
	}
	b.Reset("BTC-USD")
	if b.State("BTC-USD") != StateClosed {
		t.Errorf("State() after Reset = %v, want closed", b.State("BTC-USD"))
	}
	if err := b.Check(batch("BTC-USD", map[string]float64{"a": 1, "b": 2})); err != nil {
		t.Errorf("Check() after Reset error: %v", err)
	}
}

func TestStatesSnapshot(t *testing.T) {
	b := New(testThresholds())

	if err := b.Check(batch("BTC-USD", map[string]float64{"a": 1, "b": 2})); err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if err := b.Check(batch("ETH-USD", map[string]float64{"a": 1})); err == nil {
		t.Fatal("undersized batch accepted")
	}

	states := b.States()
	if states["BTC-USD"] != "closed" || states["ETH-USD"] != "open" {
		t.Errorf("States() = %v", states)
	}
}
