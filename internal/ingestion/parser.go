package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"MarketLedger/internal/market"
	"MarketLedger/internal/op"
)

// ParseRawOp converts a RawOp (JSON bytes + kind string) into a typed
// op.Operation. The ingestion shell validates, parses, and timestamps
// operations before handing them to the engine; the engine itself never
// calls time.Now().
func ParseRawOp(raw RawOp, kind string) (op.Operation, error) {
	switch kind {
	case "CreateMarket":
		return parseCreateMarket(raw.Data, raw.ReceivedAt)
	case "PlaceBet":
		return parsePlaceBet(raw.Data, raw.ReceivedAt)
	case "CloseMarket":
		return parseCloseMarket(raw.Data, raw.ReceivedAt)
	case "DecideWinner":
		return parseDecideWinner(raw.Data, raw.ReceivedAt)
	case "ClaimReward":
		return parseClaimReward(raw.Data, raw.ReceivedAt)
	default:
		return nil, fmt.Errorf("unknown operation kind: %s", kind)
	}
}

// KindForSubject maps a NATS subject back to an operation kind.
func KindForSubject(subject string) (string, bool) {
	for _, cfg := range DefaultSubjects() {
		if cfg.Subject == subject {
			return cfg.Kind, true
		}
	}
	return "", false
}

// SubjectForKind is the inverse mapping. The HTTP API uses it to stamp
// submissions with the subject the ingestion loop routes on.
func SubjectForKind(kind string) (string, bool) {
	for _, cfg := range DefaultSubjects() {
		if cfg.Kind == kind {
			return cfg.Subject, true
		}
	}
	return "", false
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS and the HTTP
// API. Field names use snake_case to match upstream producers.

// Description and labels are opaque bytes, base64-encoded on the wire per
// the encoding/json []byte convention.
type createMarketJSON struct {
	OpID        string `json:"op_id"`
	From        string `json:"from"`
	MarketID    int64  `json:"market_id"`
	Description []byte `json:"description"`
	LabelA      []byte `json:"label_a"`
	LabelB      []byte `json:"label_b"`
	EndTimeUs   int64  `json:"end_time_us"`
}

func parseCreateMarket(data []byte, receivedAt time.Time) (*op.CreateMarket, error) {
	var j createMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateMarket: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	if j.From == "" {
		return nil, fmt.Errorf("parse CreateMarket: empty from")
	}

	return &op.CreateMarket{
		OpID:        opID,
		From:        market.Address(j.From),
		Market:      j.MarketID,
		Description: j.Description,
		LabelA:      j.LabelA,
		LabelB:      j.LabelB,
		EndTime:     time.UnixMicro(j.EndTimeUs),
		ReceivedAt:  receivedAt,
	}, nil
}

type placeBetJSON struct {
	OpID     string `json:"op_id"`
	From     string `json:"from"`
	MarketID int64  `json:"market_id"`
	Side     string `json:"side"` // "A" or "B"
	Amount   uint64 `json:"amount"`
}

func parsePlaceBet(data []byte, receivedAt time.Time) (*op.PlaceBet, error) {
	var j placeBetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PlaceBet: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	if j.From == "" {
		return nil, fmt.Errorf("parse PlaceBet: empty from")
	}

	return &op.PlaceBet{
		OpID:       opID,
		From:       market.Address(j.From),
		Market:     j.MarketID,
		Side:       parseSide(j.Side),
		Amount:     j.Amount,
		ReceivedAt: receivedAt,
	}, nil
}

type closeMarketJSON struct {
	OpID     string `json:"op_id"`
	From     string `json:"from"`
	MarketID int64  `json:"market_id"`
}

func parseCloseMarket(data []byte, receivedAt time.Time) (*op.CloseMarket, error) {
	var j closeMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CloseMarket: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	if j.From == "" {
		return nil, fmt.Errorf("parse CloseMarket: empty from")
	}

	return &op.CloseMarket{
		OpID:       opID,
		From:       market.Address(j.From),
		Market:     j.MarketID,
		ReceivedAt: receivedAt,
	}, nil
}

type decideWinnerJSON struct {
	OpID        string `json:"op_id"`
	From        string `json:"from"`
	MarketID    int64  `json:"market_id"`
	WinningSide string `json:"winning_side"` // "A" or "B"
}

func parseDecideWinner(data []byte, receivedAt time.Time) (*op.DecideWinner, error) {
	var j decideWinnerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DecideWinner: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	if j.From == "" {
		return nil, fmt.Errorf("parse DecideWinner: empty from")
	}

	return &op.DecideWinner{
		OpID:        opID,
		From:        market.Address(j.From),
		Market:      j.MarketID,
		WinningSide: parseSide(j.WinningSide),
		ReceivedAt:  receivedAt,
	}, nil
}

type claimRewardJSON struct {
	OpID     string `json:"op_id"`
	From     string `json:"from"`
	MarketID int64  `json:"market_id"`
}

func parseClaimReward(data []byte, receivedAt time.Time) (*op.ClaimReward, error) {
	var j claimRewardJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimReward: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	if j.From == "" {
		return nil, fmt.Errorf("parse ClaimReward: empty from")
	}

	return &op.ClaimReward{
		OpID:       opID,
		From:       market.Address(j.From),
		Market:     j.MarketID,
		ReceivedAt: receivedAt,
	}, nil
}

// parseSide maps a wire side label to the internal value. Unknown labels map
// to SideNone; the engine rejects those as invalid parameters.
func parseSide(s string) market.Side {
	switch s {
	case "A", "a", "1":
		return market.SideA
	case "B", "b", "2":
		return market.SideB
	default:
		return market.SideNone
	}
}
