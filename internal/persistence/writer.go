package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// OpLogWriter writes applied operations and payout transfers to Postgres
// using multi-row INSERT. All writes are idempotent via ON CONFLICT DO
// NOTHING, so a retried batch never double-records.
type OpLogWriter struct {
	db *sql.DB
}

// OpRow represents a row in ledger_log.operations
type OpRow struct {
	Sequence       int64
	Kind           string
	IdempotencyKey string
	MarketID       int64
	Caller         string
	Payload        []byte // JSON-encoded operation payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// TransferRow represents a row in ledger_log.transfers
type TransferRow struct {
	TransferID string
	Sequence   int64
	MarketID   int64
	Recipient  string
	Amount     uint64
	Timestamp  time.Time
}

func NewOpLogWriter(db *sql.DB) *OpLogWriter {
	return &OpLogWriter{db: db}
}

// WriteOpBatch writes a batch of operations inside the given transaction.
func (w *OpLogWriter) WriteOpBatch(ctx context.Context, tx *sql.Tx, ops []OpRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO ledger_log.operations
		(sequence, kind, idempotency_key, market_id, caller, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*9)

	for i, o := range ops {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			o.Sequence, o.Kind, o.IdempotencyKey, o.MarketID,
			o.Caller, o.Payload, o.StateHash, o.PrevHash, o.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteTransferBatch writes a batch of payout transfers inside the given
// transaction.
func (w *OpLogWriter) WriteTransferBatch(ctx context.Context, tx *sql.Tx, transfers []TransferRow) error {
	if len(transfers) == 0 {
		return nil
	}

	query := `INSERT INTO ledger_log.transfers
		(transfer_id, sequence, market_id, recipient, amount, timestamp)
		VALUES `

	values := make([]string, 0, len(transfers))
	args := make([]interface{}, 0, len(transfers)*6)

	for i, t := range transfers {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			t.TransferID, t.Sequence, t.MarketID, t.Recipient,
			// Postgres has no unsigned 64-bit type; amounts are stored as
			// numeric and never exceed the uint64 range.
			fmt.Sprintf("%d", t.Amount), t.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (transfer_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
