package market_test

import (
	"testing"
	"time"

	"MarketLedger/internal/market"
)

// ============================================================================
// Test: Status lifecycle
// ============================================================================

func TestStatus_TransitionsOneWay(t *testing.T) {
	cases := []struct {
		from, to market.Status
		allowed  bool
	}{
		{market.StatusOpen, market.StatusClosed, true},
		{market.StatusClosed, market.StatusResolved, true},
		{market.StatusOpen, market.StatusResolved, false}, // No skipping
		{market.StatusClosed, market.StatusOpen, false},   // No reversal
		{market.StatusResolved, market.StatusOpen, false},
		{market.StatusResolved, market.StatusClosed, false},
		{market.StatusOpen, market.StatusOpen, false},
		{market.StatusResolved, market.StatusResolved, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestSide_Valid(t *testing.T) {
	if market.SideNone.Valid() {
		t.Error("SideNone should not be valid")
	}
	if !market.SideA.Valid() || !market.SideB.Valid() {
		t.Error("SideA and SideB should be valid")
	}
	if market.Side(7).Valid() {
		t.Error("out-of-range side should not be valid")
	}
}

// ============================================================================
// Test: Market
// ============================================================================

func TestMarket_CloneIndependence(t *testing.T) {
	m := &market.Market{
		ID:          1,
		Description: []byte("original"),
		LabelA:      []byte("yes"),
		LabelB:      []byte("no"),
		Status:      market.StatusOpen,
		PoolA:       10,
		TotalPool:   10,
		Version:     1,
	}

	c := m.Clone()
	c.PoolA = 99
	c.Description[0] = 'X'
	c.Version = 2

	if m.PoolA != 10 {
		t.Errorf("clone mutation leaked into original: PoolA=%d", m.PoolA)
	}
	if string(m.Description) != "original" {
		t.Errorf("clone shares description slice: %q", m.Description)
	}
	if m.Version != 1 {
		t.Errorf("clone mutation leaked into original: Version=%d", m.Version)
	}
}

func TestMarket_Pool(t *testing.T) {
	m := &market.Market{PoolA: 5, PoolB: 7, TotalPool: 12}
	if m.Pool(market.SideA) != 5 {
		t.Errorf("PoolA: got %d", m.Pool(market.SideA))
	}
	if m.Pool(market.SideB) != 7 {
		t.Errorf("PoolB: got %d", m.Pool(market.SideB))
	}
	if m.Pool(market.SideNone) != 0 {
		t.Errorf("Pool(none): got %d", m.Pool(market.SideNone))
	}
}

func TestMarket_CheckPools(t *testing.T) {
	good := &market.Market{ID: 1, PoolA: 5, PoolB: 7, TotalPool: 12, Status: market.StatusOpen}
	if err := good.CheckPools(); err != nil {
		t.Errorf("balanced pools rejected: %v", err)
	}

	bad := &market.Market{ID: 1, PoolA: 5, PoolB: 7, TotalPool: 13, Status: market.StatusOpen}
	if err := bad.CheckPools(); err == nil {
		t.Error("unbalanced pools accepted")
	}

	// Resolved must carry a winning side, and only resolved may.
	unresolved := &market.Market{ID: 1, Status: market.StatusOpen, WinningSide: market.SideA}
	if err := unresolved.CheckPools(); err == nil {
		t.Error("open market with winning side accepted")
	}
	resolvedNoWinner := &market.Market{ID: 1, Status: market.StatusResolved, WinningSide: market.SideNone}
	if err := resolvedNoWinner.CheckPools(); err == nil {
		t.Error("resolved market without winning side accepted")
	}
}

// ============================================================================
// Test: Store
// ============================================================================

func TestStore_PutGetMarket(t *testing.T) {
	s := market.NewStore()
	if s.GetMarket(1) != nil {
		t.Error("empty store returned a market")
	}

	s.PutMarket(&market.Market{ID: 1, Version: 1})
	got := s.GetMarket(1)
	if got == nil || got.Version != 1 {
		t.Fatalf("market not stored: %+v", got)
	}

	// Wholesale replacement
	s.PutMarket(&market.Market{ID: 1, Version: 2})
	if s.GetMarket(1).Version != 2 {
		t.Error("replacement did not take effect")
	}
	if s.MarketCount() != 1 {
		t.Errorf("replacement changed count: %d", s.MarketCount())
	}
}

func TestStore_BetKeyedByMarketAndBettor(t *testing.T) {
	s := market.NewStore()
	s.PutBet(&market.Bet{MarketID: 1, Bettor: "alice", Amount: 10})
	s.PutBet(&market.Bet{MarketID: 1, Bettor: "bob", Amount: 20})
	s.PutBet(&market.Bet{MarketID: 2, Bettor: "alice", Amount: 30})

	if got := s.GetBet(1, "alice"); got == nil || got.Amount != 10 {
		t.Errorf("bet (1, alice): %+v", got)
	}
	if got := s.GetBet(2, "alice"); got == nil || got.Amount != 30 {
		t.Errorf("bet (2, alice): %+v", got)
	}
	if s.GetBet(2, "bob") != nil {
		t.Error("nonexistent bet returned")
	}
	if s.BetCount() != 3 {
		t.Errorf("bet count: %d", s.BetCount())
	}
}

func TestStore_EnumerationInInsertionOrder(t *testing.T) {
	s := market.NewStore()
	s.PutMarket(&market.Market{ID: 3})
	s.PutMarket(&market.Market{ID: 1})
	s.PutMarket(&market.Market{ID: 2})

	ids := []int64{}
	for _, m := range s.AllMarkets() {
		ids = append(ids, m.ID)
	}
	want := []int64{3, 1, 2}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order: got %v, want %v", ids, want)
		}
	}
}

func TestStore_BetsForMarket(t *testing.T) {
	s := market.NewStore()
	now := time.Now()
	s.PutBet(&market.Bet{MarketID: 1, Bettor: "alice", PlacedAt: now})
	s.PutBet(&market.Bet{MarketID: 2, Bettor: "bob", PlacedAt: now})
	s.PutBet(&market.Bet{MarketID: 1, Bettor: "carol", PlacedAt: now})

	bets := s.BetsForMarket(1)
	if len(bets) != 2 {
		t.Fatalf("got %d bets, want 2", len(bets))
	}
	if bets[0].Bettor != "alice" || bets[1].Bettor != "carol" {
		t.Errorf("order: %s, %s", bets[0].Bettor, bets[1].Bettor)
	}
}

func TestBet_Clone(t *testing.T) {
	b := &market.Bet{MarketID: 1, Bettor: "alice", Amount: 10, Claimed: false, Version: 1}
	c := b.Clone()
	c.Claimed = true
	c.Version = 2

	if b.Claimed {
		t.Error("clone mutation leaked into original")
	}
	if b.Key() != c.Key() {
		t.Error("clone changed identity")
	}
}
