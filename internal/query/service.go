package query

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// Service provides read-only access to the projection tables. Reads go
// through the Redis cache when one is configured; every response carries
// as_of_sequence (the projection watermark) for freshness semantics.
type Service struct {
	db    *sql.DB
	cache *MarketCache // Optional; nil disables caching
}

func NewService(db *sql.DB, cache *MarketCache) *Service {
	return &Service{db: db, cache: cache}
}

// GetMarket returns one market by id, or nil if unknown.
func (qs *Service) GetMarket(ctx context.Context, marketID int64) (*MarketResponse, error) {
	if qs.cache != nil {
		if m, ok := qs.cache.Get(ctx, marketID); ok {
			return m, nil
		}
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	row := qs.db.QueryRowContext(ctx, `
		SELECT market_id, description, label_a, label_b, end_time, status,
		       pool_a, pool_b, total_pool, winning_side, created_at, version
		FROM projections.markets
		WHERE market_id = $1
	`, marketID)

	m, err := scanMarket(row, asOfSeq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if qs.cache != nil {
		qs.cache.Set(ctx, m)
	}
	return m, nil
}

// ListMarkets returns markets, optionally filtered by status, paginated by
// market id cursor.
func (qs *Service) ListMarkets(ctx context.Context, status string, limit int, afterID int64) ([]MarketResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT market_id, description, label_a, label_b, end_time, status,
		       pool_a, pool_b, total_pool, winning_side, created_at, version
		FROM projections.markets
		WHERE market_id > $1
	`
	args := []interface{}{afterID}
	argIdx := 2

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}

	query += " ORDER BY market_id ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []MarketResponse
	for rows.Next() {
		m, err := scanMarket(rows, asOfSeq)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}

	return markets, rows.Err()
}

// GetBet returns one participant's bet on a market, or nil if none exists.
func (qs *Service) GetBet(ctx context.Context, marketID int64, bettor string) (*BetResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		b         BetResponse
		amountStr string
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT market_id, bettor, side, amount, claimed, placed_at, version
		FROM projections.bets
		WHERE market_id = $1 AND bettor = $2
	`, marketID, bettor).Scan(
		&b.MarketID, &b.Bettor, &b.Side, &amountStr, &b.Claimed, &b.PlacedAt, &b.Version,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	b.Amount, err = strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount for bet %d/%s: %w", marketID, bettor, err)
	}
	b.AsOfSequence = asOfSeq
	return &b, nil
}

// ListBets returns all bets on a market in placement order.
func (qs *Service) ListBets(ctx context.Context, marketID int64, limit int) ([]BetResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT market_id, bettor, side, amount, claimed, placed_at, version
		FROM projections.bets
		WHERE market_id = $1
		ORDER BY placed_at ASC
		LIMIT $2
	`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []BetResponse
	for rows.Next() {
		var (
			b         BetResponse
			amountStr string
		)
		if err := rows.Scan(
			&b.MarketID, &b.Bettor, &b.Side, &amountStr, &b.Claimed, &b.PlacedAt, &b.Version,
		); err != nil {
			return nil, err
		}
		b.Amount, err = strconv.ParseUint(amountStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount for bet on %d: %w", marketID, err)
		}
		b.AsOfSequence = asOfSeq
		bets = append(bets, b)
	}

	return bets, rows.Err()
}

// ListTransfers returns issued payouts for a market from the transfer log.
func (qs *Service) ListTransfers(ctx context.Context, marketID int64, limit int) ([]TransferResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT transfer_id, sequence, market_id, recipient, amount, timestamp
		FROM ledger_log.transfers
		WHERE market_id = $1
		ORDER BY sequence ASC
		LIMIT $2
	`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []TransferResponse
	for rows.Next() {
		var (
			t         TransferResponse
			amountStr string
		)
		if err := rows.Scan(
			&t.TransferID, &t.Sequence, &t.MarketID, &t.Recipient, &amountStr, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		t.Amount, err = strconv.ParseUint(amountStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt transfer amount on %d: %w", marketID, err)
		}
		transfers = append(transfers, t)
	}

	return transfers, rows.Err()
}

// VerifyIntegrity checks hash chain continuity over the operation log.
func (qs *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT o1.sequence
		FROM ledger_log.operations o1
		LEFT JOIN ledger_log.operations o2 ON o2.sequence = o1.sequence - 1
		WHERE o1.sequence > 0 AND o1.prev_hash != COALESCE(o2.state_hash, o1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

// --- helpers ---

func (qs *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMarket(row rowScanner, asOfSeq int64) (*MarketResponse, error) {
	var (
		m                             MarketResponse
		poolAStr, poolBStr, totalStr string
	)
	if err := row.Scan(
		&m.MarketID, &m.Description, &m.LabelA, &m.LabelB, &m.EndTime, &m.Status,
		&poolAStr, &poolBStr, &totalStr, &m.WinningSide, &m.CreatedAt, &m.Version,
	); err != nil {
		return nil, err
	}

	var err error
	if m.PoolA, err = strconv.ParseUint(poolAStr, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt pool_a for market %d: %w", m.MarketID, err)
	}
	if m.PoolB, err = strconv.ParseUint(poolBStr, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt pool_b for market %d: %w", m.MarketID, err)
	}
	if m.TotalPool, err = strconv.ParseUint(totalStr, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt total_pool for market %d: %w", m.MarketID, err)
	}
	m.AsOfSequence = asOfSeq
	return &m, nil
}
