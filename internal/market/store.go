package market

// Store holds the ledger state: markets and bets, keyed and retrievable by
// identifier. Not thread-safe — it is exclusively owned by the single-threaded
// engine and mutated only through the ledger operations.
//
// Values returned by getters are the live records; callers must treat them as
// read-only and replace them wholesale via PutMarket/PutBet.
type Store struct {
	markets     map[int64]*Market
	marketOrder []int64 // Insertion order, for enumeration only
	bets        map[BetKey]*Bet
	betOrder    []BetKey
}

func NewStore() *Store {
	return &Store{
		markets: make(map[int64]*Market),
		bets:    make(map[BetKey]*Bet),
	}
}

// GetMarket returns the market or nil.
func (s *Store) GetMarket(id int64) *Market {
	return s.markets[id]
}

// PutMarket inserts or replaces a market record wholesale.
func (s *Store) PutMarket(m *Market) {
	if _, exists := s.markets[m.ID]; !exists {
		s.marketOrder = append(s.marketOrder, m.ID)
	}
	s.markets[m.ID] = m
}

// GetBet returns the bet for (marketID, bettor) or nil.
func (s *Store) GetBet(marketID int64, bettor Address) *Bet {
	return s.bets[BetKey{MarketID: marketID, Bettor: bettor}]
}

// PutBet inserts or replaces a bet record wholesale.
func (s *Store) PutBet(b *Bet) {
	key := b.Key()
	if _, exists := s.bets[key]; !exists {
		s.betOrder = append(s.betOrder, key)
	}
	s.bets[key] = b
}

// AllMarkets returns every market in insertion order. The order carries no
// semantic meaning; it exists for enumeration and deterministic testing.
func (s *Store) AllMarkets() []*Market {
	out := make([]*Market, 0, len(s.marketOrder))
	for _, id := range s.marketOrder {
		out = append(out, s.markets[id])
	}
	return out
}

// AllBets returns every bet in insertion order.
func (s *Store) AllBets() []*Bet {
	out := make([]*Bet, 0, len(s.betOrder))
	for _, key := range s.betOrder {
		out = append(out, s.bets[key])
	}
	return out
}

// BetsForMarket returns the bets on one market in insertion order.
func (s *Store) BetsForMarket(marketID int64) []*Bet {
	var out []*Bet
	for _, key := range s.betOrder {
		if key.MarketID == marketID {
			out = append(out, s.bets[key])
		}
	}
	return out
}

// MarketCount returns the number of markets.
func (s *Store) MarketCount() int {
	return len(s.markets)
}

// BetCount returns the number of bets.
func (s *Store) BetCount() int {
	return len(s.bets)
}
