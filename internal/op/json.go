package op

import "encoding/json"

// Operations marshal to the same wire format the ingestion parser reads, so a
// payload stored in the operation log can be re-parsed during replay. The
// processing timestamp is not part of the payload; it travels in the envelope
// and is re-attached at replay.

func (c *CreateMarket) MarshalJSON() ([]byte, error) {
	// Description and labels are opaque bytes; they travel base64-encoded
	// so arbitrary (non-UTF-8) payloads survive the round trip.
	return json.Marshal(struct {
		OpID        string `json:"op_id"`
		From        string `json:"from"`
		MarketID    int64  `json:"market_id"`
		Description []byte `json:"description"`
		LabelA      []byte `json:"label_a"`
		LabelB      []byte `json:"label_b"`
		EndTimeUs   int64  `json:"end_time_us"`
	}{
		OpID:        c.OpID.String(),
		From:        string(c.From),
		MarketID:    c.Market,
		Description: c.Description,
		LabelA:      c.LabelA,
		LabelB:      c.LabelB,
		EndTimeUs:   c.EndTime.UnixMicro(),
	})
}

func (p *PlaceBet) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OpID     string `json:"op_id"`
		From     string `json:"from"`
		MarketID int64  `json:"market_id"`
		Side     string `json:"side"`
		Amount   uint64 `json:"amount"`
	}{
		OpID:     p.OpID.String(),
		From:     string(p.From),
		MarketID: p.Market,
		Side:     p.Side.String(),
		Amount:   p.Amount,
	})
}

func (c *CloseMarket) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OpID     string `json:"op_id"`
		From     string `json:"from"`
		MarketID int64  `json:"market_id"`
	}{
		OpID:     c.OpID.String(),
		From:     string(c.From),
		MarketID: c.Market,
	})
}

func (d *DecideWinner) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OpID        string `json:"op_id"`
		From        string `json:"from"`
		MarketID    int64  `json:"market_id"`
		WinningSide string `json:"winning_side"`
	}{
		OpID:        d.OpID.String(),
		From:        string(d.From),
		MarketID:    d.Market,
		WinningSide: d.WinningSide.String(),
	})
}

func (c *ClaimReward) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OpID     string `json:"op_id"`
		From     string `json:"from"`
		MarketID int64  `json:"market_id"`
	}{
		OpID:     c.OpID.String(),
		From:     string(c.From),
		MarketID: c.Market,
	})
}
