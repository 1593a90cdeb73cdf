package op

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"MarketLedger/internal/market"
)

// CreateMarket opens a new binary market. Owner-only.
// Idempotency key: kind-prefixed OpID.
type CreateMarket struct {
	OpID        uuid.UUID
	From        market.Address
	Market      int64
	Description []byte
	LabelA      []byte
	LabelB      []byte
	EndTime     time.Time // Stake deadline; must be strictly after ReceivedAt
	ReceivedAt  time.Time // Versioned processing timestamp (NOT wall-clock)
}

func (c *CreateMarket) IdempotencyKey() string {
	return fmt.Sprintf("create:%s", c.OpID)
}

func (c *CreateMarket) Kind() Kind {
	return KindCreateMarket
}

func (c *CreateMarket) MarketID() int64 {
	return c.Market
}

func (c *CreateMarket) Caller() market.Address {
	return c.From
}

func (c *CreateMarket) Timestamp() time.Time {
	return c.ReceivedAt
}
