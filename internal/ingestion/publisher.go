package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes ledger results to NATS for downstream
// consumers. Applied-operation events are published after persistence has
// accepted the state change; transfer instructions in particular are never
// published before the claimed flag is on its way to durable storage.
//
// Subjects:
//
//	market.ledger.events.{kind}.{market_id}  applied operations
//	market.ledger.transfers                  payout transfer instructions
//	market.ledger.rejected                   rejection results
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan Publishable
}

// Publishable is a ledger result ready for outbound publishing. Exactly one
// of Event, Transfer, Rejection is set.
type Publishable struct {
	Event     *AppliedEvent
	Transfer  *TransferEvent
	Rejection *RejectionEvent
}

// AppliedEvent describes an operation applied by the engine.
type AppliedEvent struct {
	Sequence       int64       `json:"sequence"`
	Kind           string      `json:"kind"`
	IdempotencyKey string      `json:"idempotency_key"`
	MarketID       int64       `json:"market_id"`
	Caller         string      `json:"caller"`
	Payload        interface{} `json:"payload"`
	StateHash      []byte      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

// TransferEvent is an outbound payout instruction.
type TransferEvent struct {
	TransferID string    `json:"transfer_id"`
	Sequence   int64     `json:"sequence"`
	MarketID   int64     `json:"market_id"`
	Recipient  string    `json:"recipient"`
	Amount     uint64    `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

// RejectionEvent reports a rejected operation back to submitters.
type RejectionEvent struct {
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotency_key"`
	MarketID       int64     `json:"market_id"`
	Caller         string    `json:"caller"`
	Code           string    `json:"code"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan Publishable) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (p *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, msg); err != nil {
				log.Printf("WARN: outbound publish failed: %v", err)
				// Non-fatal: downstream consumers can read the operation log
			}
		}
	}
}

func (p *OutboundPublisher) publish(ctx context.Context, msg Publishable) error {
	var (
		subject string
		body    interface{}
	)

	switch {
	case msg.Event != nil:
		subject = fmt.Sprintf("market.ledger.events.%s.%d", msg.Event.Kind, msg.Event.MarketID)
		body = msg.Event
	case msg.Transfer != nil:
		subject = "market.ledger.transfers"
		body = msg.Transfer
	case msg.Rejection != nil:
		subject = "market.ledger.rejected"
		body = msg.Rejection
	default:
		return fmt.Errorf("empty publishable")
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal outbound: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound results stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "MARKET_LEDGER",
		Subjects:  []string{"market.ledger.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream MARKET_LEDGER")
	return nil
}
