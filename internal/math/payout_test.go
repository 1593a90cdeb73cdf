package math_test

import (
	stdmath "math"
	"testing"

	lmath "MarketLedger/internal/math"
)

// ============================================================================
// Test: Payout
// ============================================================================

func TestPayout_SoleWinnerTakesWholePool(t *testing.T) {
	// One winner staked 100, pool total 300: the winner collects everything.
	got, err := lmath.Payout(100, 300, 100)
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if got != 300 {
		t.Errorf("got %d, want 300", got)
	}
}

func TestPayout_ProportionalSplit(t *testing.T) {
	// Winning pool 150 of total 300; a 50 stake collects a third of 300.
	got, err := lmath.Payout(50, 300, 150)
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if got != 100 {
		t.Errorf("got %d, want 100", got)
	}
}

func TestPayout_FloorsTowardZero(t *testing.T) {
	// 3 winners of 1 each, total pool 10: floor(1*10/3) = 3 per winner.
	got, err := lmath.Payout(1, 10, 3)
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if got != 3 {
		t.Errorf("got %d, want 3 (floor of 10/3)", got)
	}
}

func TestPayout_FloorSumNeverExceedsPool(t *testing.T) {
	// The floor division leaves dust in the pool but can never overpay.
	cases := []struct {
		stakes    []uint64
		totalPool uint64
	}{
		{[]uint64{1, 1, 1}, 10},
		{[]uint64{3, 5, 7}, 100},
		{[]uint64{1, 999_999}, 2_000_001},
	}

	for _, tc := range cases {
		var winningPool uint64
		for _, s := range tc.stakes {
			winningPool += s
		}

		var paid uint64
		for _, s := range tc.stakes {
			p, err := lmath.Payout(s, tc.totalPool, winningPool)
			if err != nil {
				t.Fatalf("payout(%d, %d, %d): %v", s, tc.totalPool, winningPool, err)
			}
			paid += p
		}

		if paid > tc.totalPool {
			t.Errorf("stakes %v: paid %d exceeds pool %d", tc.stakes, paid, tc.totalPool)
		}
	}
}

func TestPayout_LargeValuesNoOverflow(t *testing.T) {
	// amount * totalPool overflows 64 bits; the 128-bit intermediate must not.
	amount := uint64(1) << 62
	totalPool := uint64(1)<<62 + uint64(1)<<61
	winningPool := uint64(1) << 62

	got, err := lmath.Payout(amount, totalPool, winningPool)
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if got != totalPool {
		t.Errorf("got %d, want %d", got, totalPool)
	}
}

func TestPayout_MaxUint64Stake(t *testing.T) {
	// Sole bettor at the top of the range: payout equals the stake.
	max := uint64(stdmath.MaxUint64)
	got, err := lmath.Payout(max, max, max)
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if got != max {
		t.Errorf("got %d, want %d", got, max)
	}
}

func TestPayout_ZeroWinningPoolRejected(t *testing.T) {
	if _, err := lmath.Payout(10, 100, 0); err == nil {
		t.Error("expected error for zero winning pool")
	}
}

func TestPayout_QuotientOverflowRejected(t *testing.T) {
	// amount > winningPool cannot happen for a real claim, but the guard must
	// reject it instead of letting bits.Div64 panic.
	max := uint64(stdmath.MaxUint64)
	if _, err := lmath.Payout(max, max, 2); err == nil {
		t.Error("expected quotient overflow error")
	}
}

// ============================================================================
// Test: AddPool
// ============================================================================

func TestAddPool_Sum(t *testing.T) {
	got, err := lmath.AddPool(100, 250)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got != 350 {
		t.Errorf("got %d, want 350", got)
	}
}

func TestAddPool_OverflowRejected(t *testing.T) {
	if _, err := lmath.AddPool(stdmath.MaxUint64, 1); err == nil {
		t.Error("expected overflow error")
	}
	if _, err := lmath.AddPool(stdmath.MaxUint64, stdmath.MaxUint64); err == nil {
		t.Error("expected overflow error")
	}
}

func TestAddPool_MaxExact(t *testing.T) {
	got, err := lmath.AddPool(stdmath.MaxUint64-5, 5)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got != stdmath.MaxUint64 {
		t.Errorf("got %d, want MaxUint64", got)
	}
}
