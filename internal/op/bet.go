package op

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"MarketLedger/internal/market"
)

// PlaceBet stakes an amount on one side of an open market. Open to any
// identity; at most one bet per (market, caller) ever succeeds.
type PlaceBet struct {
	OpID       uuid.UUID
	From       market.Address
	Market     int64
	Side       market.Side
	Amount     uint64
	ReceivedAt time.Time
}

func (p *PlaceBet) IdempotencyKey() string {
	return fmt.Sprintf("bet:%s", p.OpID)
}

func (p *PlaceBet) Kind() Kind {
	return KindPlaceBet
}

func (p *PlaceBet) MarketID() int64 {
	return p.Market
}

func (p *PlaceBet) Caller() market.Address {
	return p.From
}

func (p *PlaceBet) Timestamp() time.Time {
	return p.ReceivedAt
}
