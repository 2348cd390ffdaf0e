package engine

import (
	"fmt"
	"sync"
	"testing"
)

func TestDepIndexRegisterAndAffected(t *testing.T) {
	idx := newDepIndex()

	idx.Register("u1", []string{depKey("BTC-USD", "momentum"), depKey("BTC-USD", "volatility")})
	idx.Register("u2", []string{depKey("BTC-USD", "momentum"), depKey("ETH-USD", "funding")})

	affected := idx.Affected([]string{depKey("BTC-USD", "momentum")})
	if len(affected) != 2 {
		t.Errorf("Affected(momentum) = %v, want u1 and u2", affected)
	}

	affected = idx.Affected([]string{depKey("ETH-USD", "funding")})
	if _, ok := affected["u2"]; !ok || len(affected) != 1 {
		t.Errorf("Affected(funding) = %v, want only u2", affected)
	}

	if affected = idx.Affected([]string{depKey("SOL-USD", "momentum")}); len(affected) != 0 {
		t.Errorf("Affected(unregistered) = %v, want empty", affected)
	}
}

func TestDepIndexReRegisterReplacesKeys(t *testing.T) {
	idx := newDepIndex()

	idx.Register("u1", []string{depKey("BTC-USD", "momentum")})
	idx.Register("u1", []string{depKey("ETH-USD", "funding")})

	if affected := idx.Affected([]string{depKey("BTC-USD", "momentum")}); len(affected) != 0 {
		t.Errorf("stale key still maps to user: %v", affected)
	}
	if affected := idx.Affected([]string{depKey("ETH-USD", "funding")}); len(affected) != 1 {
		t.Errorf("new key not registered: %v", affected)
	}
}

func TestDepIndexRemoveUser(t *testing.T) {
	idx := newDepIndex()

	idx.Register("u1", []string{depKey("BTC-USD", "momentum")})
	idx.RemoveUser("u1")

	if affected := idx.Affected([]string{depKey("BTC-USD", "momentum")}); len(affected) != 0 {
		t.Errorf("removed user still indexed: %v", affected)
	}
}

func TestDepIndexConcurrentRegistration(t *testing.T) {
	idx := newDepIndex()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", n)
			idx.Register(userID, []string{depKey("BTC-USD", "momentum")})
		}(i)
	}
	wg.Wait()

	if affected := idx.Affected([]string{depKey("BTC-USD", "momentum")}); len(affected) != 32 {
		t.Errorf("Affected = %d users, want 32", len(affected))
	}
}
