package op

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"MarketLedger/internal/market"
)

// CloseMarket transitions an open market to closed. Owner-only.
// Closing is independent of the stake deadline.
type CloseMarket struct {
	OpID       uuid.UUID
	From       market.Address
	Market     int64
	ReceivedAt time.Time
}

func (c *CloseMarket) IdempotencyKey() string {
	return fmt.Sprintf("close:%s", c.OpID)
}

func (c *CloseMarket) Kind() Kind {
	return KindCloseMarket
}

func (c *CloseMarket) MarketID() int64 {
	return c.Market
}

func (c *CloseMarket) Caller() market.Address {
	return c.From
}

func (c *CloseMarket) Timestamp() time.Time {
	return c.ReceivedAt
}

// DecideWinner resolves a closed market to one side. Owner-only, irreversible.
type DecideWinner struct {
	OpID        uuid.UUID
	From        market.Address
	Market      int64
	WinningSide market.Side
	ReceivedAt  time.Time
}

func (d *DecideWinner) IdempotencyKey() string {
	return fmt.Sprintf("decide:%s", d.OpID)
}

func (d *DecideWinner) Kind() Kind {
	return KindDecideWinner
}

func (d *DecideWinner) MarketID() int64 {
	return d.Market
}

func (d *DecideWinner) Caller() market.Address {
	return d.From
}

func (d *DecideWinner) Timestamp() time.Time {
	return d.ReceivedAt
}
