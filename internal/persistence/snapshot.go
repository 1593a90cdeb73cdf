package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots contain markets, bets, the owner identity, the idempotency LRU
// contents, the sequence counter, and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64            `json:"sequence"`
	StateHash       []byte           `json:"state_hash"`
	Owner           string           `json:"owner"`
	Markets         []MarketSnapshot `json:"markets"`
	Bets            []BetSnapshot    `json:"bets"`
	IdempotencyKeys []string         `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time        `json:"created_at"`
}

// MarketSnapshot is a serializable market.
type MarketSnapshot struct {
	ID          int64     `json:"id"`
	Description []byte    `json:"description"`
	LabelA      []byte    `json:"label_a"`
	LabelB      []byte    `json:"label_b"`
	EndTime     time.Time `json:"end_time"`
	Status      int32     `json:"status"`
	PoolA       uint64    `json:"pool_a"`
	PoolB       uint64    `json:"pool_b"`
	TotalPool   uint64    `json:"total_pool"`
	WinningSide int32     `json:"winning_side"`
	CreatedAt   time.Time `json:"created_at"`
	Version     int64     `json:"version"`
}

// BetSnapshot is a serializable bet.
type BetSnapshot struct {
	MarketID int64     `json:"market_id"`
	Bettor   string    `json:"bettor"`
	Side     int32     `json:"side"`
	Amount   uint64    `json:"amount"`
	Claimed  bool      `json:"claimed"`
	PlacedAt time.Time `json:"placed_at"`
	Version  int64     `json:"version"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by checking the state-hash chain against the
// operation log.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO ledger_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart, the caller restores it and replays operations from
// snapshot.Sequence+1. Returns nil on cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM ledger_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE ledger_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadOpsFrom loads operations from a given sequence for replay. Used for
// both warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadOpsFrom(ctx context.Context, fromSequence int64, limit int) ([]OpRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, kind, idempotency_key, market_id, caller, payload,
		       state_hash, prev_hash, timestamp
		FROM ledger_log.operations
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OpRow
	for rows.Next() {
		var o OpRow
		if err := rows.Scan(
			&o.Sequence, &o.Kind, &o.IdempotencyKey, &o.MarketID,
			&o.Caller, &o.Payload, &o.StateHash, &o.PrevHash, &o.Timestamp,
		); err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}

	return ops, rows.Err()
}

// GetLatestSequence returns the highest sequence in the operation log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM ledger_log.operations
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty operation log
	}
	return seq.Int64, nil
}

// EnsureOwner persists the owner identity on first initialization and
// verifies it on every restart. The owner is ledger state, not configuration:
// a mismatch with the configured owner is an operator error and fatal.
func (sm *SnapshotManager) EnsureOwner(ctx context.Context, owner string) error {
	var stored string
	err := sm.db.QueryRowContext(ctx, `
		SELECT owner FROM ledger_log.instance WHERE id = 1
	`).Scan(&stored)

	if err == sql.ErrNoRows {
		_, err = sm.db.ExecContext(ctx, `
			INSERT INTO ledger_log.instance (id, owner, initialized_at)
			VALUES (1, $1, NOW())
		`, owner)
		return err
	}
	if err != nil {
		return fmt.Errorf("load instance owner: %w", err)
	}

	if stored != owner {
		return fmt.Errorf("configured owner %q does not match persisted owner %q", owner, stored)
	}
	return nil
}
