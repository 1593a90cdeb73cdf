package query

import "time"

// MarketResponse represents a market for API queries.
type MarketResponse struct {
	MarketID    int64     `json:"market_id"`
	Description string    `json:"description"`
	LabelA      string    `json:"label_a"`
	LabelB      string    `json:"label_b"`
	EndTime     time.Time `json:"end_time"`
	Status      string    `json:"status"`
	PoolA       uint64    `json:"pool_a"`
	PoolB       uint64    `json:"pool_b"`
	TotalPool   uint64    `json:"total_pool"`
	WinningSide string    `json:"winning_side"`
	CreatedAt   time.Time `json:"created_at"`
	Version     int64     `json:"version"`

	// Last applied sequence reflected in this response
	AsOfSequence int64 `json:"as_of_sequence"`
}

// BetResponse represents a bet for API queries.
type BetResponse struct {
	MarketID     int64     `json:"market_id"`
	Bettor       string    `json:"bettor"`
	Side         string    `json:"side"`
	Amount       uint64    `json:"amount"`
	Claimed      bool      `json:"claimed"`
	PlacedAt     time.Time `json:"placed_at"`
	Version      int64     `json:"version"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// TransferResponse represents an issued payout for API queries.
type TransferResponse struct {
	TransferID string    `json:"transfer_id"`
	Sequence   int64     `json:"sequence"`
	MarketID   int64     `json:"market_id"`
	Recipient  string    `json:"recipient"`
	Amount     uint64    `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}
