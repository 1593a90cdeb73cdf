package op

import (
	"time"

	"MarketLedger/internal/market"
)

// Kind discriminator for operation payloads
type Kind int32

const (
	KindUnknown Kind = iota
	KindCreateMarket
	KindPlaceBet
	KindCloseMarket
	KindDecideWinner
	KindClaimReward
)

// Envelope wraps every applied operation in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key ("kind:opID")
	IdempotencyKey string

	// Operation kind discriminator
	Kind Kind

	// Market the operation targets
	MarketID int64

	// Identity that submitted the operation
	Caller market.Address

	// Versioned processing timestamp (NOT wall-clock; assigned at ingestion)
	Timestamp time.Time

	// JSON-encoded operation payload
	Payload []byte

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous operation's state hash (chain integrity)
	PrevHash [32]byte
}

// Operation is the interface all operation payloads implement.
// The set of implementations is closed: dispatch in the engine is an
// exhaustive type switch and an unknown payload is an error.
type Operation interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// Kind returns the discriminator
	Kind() Kind

	// MarketID returns the market the operation targets
	MarketID() int64

	// Caller returns the submitting identity
	Caller() market.Address

	// Timestamp returns the versioned processing timestamp
	Timestamp() time.Time
}

func (k Kind) String() string {
	switch k {
	case KindCreateMarket:
		return "CreateMarket"
	case KindPlaceBet:
		return "PlaceBet"
	case KindCloseMarket:
		return "CloseMarket"
	case KindDecideWinner:
		return "DecideWinner"
	case KindClaimReward:
		return "ClaimReward"
	default:
		return "Unknown"
	}
}
