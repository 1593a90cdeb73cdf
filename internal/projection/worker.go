package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// Output mirrors the data needed by the projection worker. The orchestrator
// bridges between core.CoreOutput and this.
type Output struct {
	Sequence int64
	Kind     string
	Market   *MarketRecord
	Bet      *BetRecord
}

// MarketRecord is the post-application market state for projection.
type MarketRecord struct {
	ID          int64
	Description []byte
	LabelA      []byte
	LabelB      []byte
	EndTime     time.Time
	Status      string
	PoolA       uint64
	PoolB       uint64
	TotalPool   uint64
	WinningSide string
	CreatedAt   time.Time
	Version     int64
}

// BetRecord is the post-application bet state for projection.
type BetRecord struct {
	MarketID int64
	Bettor   string
	Side     string
	Amount   uint64
	Claimed  bool
	PlacedAt time.Time
	Version  int64
}

// Invalidator drops cached read-model entries. Implemented by the query
// cache; nil disables invalidation.
type Invalidator interface {
	Invalidate(ctx context.Context, marketID int64)
}

// Worker updates projection tables from applied operations. The projection
// channel is non-blocking with drop: if the worker falls behind, projections
// can be rebuilt from the operation log.
type Worker struct {
	db          *sql.DB
	inputChan   <-chan Output
	invalidator Invalidator
	lastSeq     int64
}

func NewWorker(db *sql.DB, inputChan <-chan Output, invalidator Invalidator) *Worker {
	return &Worker{
		db:          db,
		inputChan:   inputChan,
		invalidator: invalidator,
	}
}

// Run starts the projection worker loop.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the operation log
			} else {
				// Invalidate only after the new row is committed, so a
				// racing read cannot re-cache the state being replaced.
				// A dropped projection output skips this; the cache TTL
				// bounds the staleness in that case.
				pw.invalidate(ctx, output)
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *Worker) invalidate(ctx context.Context, output Output) {
	if pw.invalidator == nil {
		return
	}
	switch {
	case output.Market != nil:
		pw.invalidator.Invalidate(ctx, output.Market.ID)
	case output.Bet != nil:
		pw.invalidator.Invalidate(ctx, output.Bet.MarketID)
	}
}

func (pw *Worker) processOutput(ctx context.Context, output Output) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Market != nil {
		if err := pw.upsertMarket(ctx, tx, output.Sequence, output.Market); err != nil {
			return fmt.Errorf("market projection: %w", err)
		}
	}

	if output.Bet != nil {
		if err := pw.upsertBet(ctx, tx, output.Sequence, output.Bet); err != nil {
			return fmt.Errorf("bet projection: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// upsertMarket replaces the market row, guarded by version so a stale
// delivery never overwrites newer state.
func (pw *Worker) upsertMarket(ctx context.Context, tx *sql.Tx, seq int64, m *MarketRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.markets
			(market_id, description, label_a, label_b, end_time, status,
			 pool_a, pool_b, total_pool, winning_side, created_at, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (market_id) DO UPDATE SET
			status = $6, pool_a = $7, pool_b = $8, total_pool = $9,
			winning_side = $10, version = $12, last_sequence = $13
		WHERE projections.markets.version < $12
	`, m.ID, m.Description, m.LabelA, m.LabelB, m.EndTime, m.Status,
		fmt.Sprintf("%d", m.PoolA), fmt.Sprintf("%d", m.PoolB), fmt.Sprintf("%d", m.TotalPool),
		m.WinningSide, m.CreatedAt, m.Version, seq)
	return err
}

// upsertBet replaces the bet row, guarded by version.
func (pw *Worker) upsertBet(ctx context.Context, tx *sql.Tx, seq int64, b *BetRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.bets
			(market_id, bettor, side, amount, claimed, placed_at, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (market_id, bettor) DO UPDATE SET
			claimed = $5, version = $7, last_sequence = $8
		WHERE projections.bets.version < $7
	`, b.MarketID, b.Bettor, b.Side, fmt.Sprintf("%d", b.Amount),
		b.Claimed, b.PlacedAt, b.Version, seq)
	return err
}

// Rebuild truncates all projection tables. The read models are repopulated by
// replaying the engine's outputs (the orchestrator re-feeds the projection
// channel from the operation log after a rebuild).
func Rebuild(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.markets`,
		`TRUNCATE projections.bets`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	log.Println("INFO: projection tables cleared for rebuild")
	return nil
}
