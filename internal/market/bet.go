package market

import "time"

// BetKey uniquely identifies a position: at most one Bet ever exists per key.
type BetKey struct {
	MarketID int64
	Bettor   Address
}

// Bet is one participant's irrevocable stake on one outcome of one market.
// It is created exactly once and mutated exactly once (claimed flag).
type Bet struct {
	MarketID int64
	Bettor   Address
	Side     Side
	Amount   uint64 // Always > 0
	Claimed  bool
	PlacedAt time.Time
	Version  int64
}

func (b *Bet) Key() BetKey {
	return BetKey{MarketID: b.MarketID, Bettor: b.Bettor}
}

func (b *Bet) Clone() *Bet {
	c := *b
	return &c
}
