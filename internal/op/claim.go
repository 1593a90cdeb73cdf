package op

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"MarketLedger/internal/market"
)

// ClaimReward collects the payout for a winning bet on a resolved market.
// Open to any identity holding an unclaimed winning bet.
type ClaimReward struct {
	OpID       uuid.UUID
	From       market.Address
	Market     int64
	ReceivedAt time.Time
}

func (c *ClaimReward) IdempotencyKey() string {
	return fmt.Sprintf("claim:%s", c.OpID)
}

func (c *ClaimReward) Kind() Kind {
	return KindClaimReward
}

func (c *ClaimReward) MarketID() int64 {
	return c.Market
}

func (c *ClaimReward) Caller() market.Address {
	return c.From
}

func (c *ClaimReward) Timestamp() time.Time {
	return c.ReceivedAt
}
