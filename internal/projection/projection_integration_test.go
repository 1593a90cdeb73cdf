package projection_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"MarketLedger/internal/persistence"
	"MarketLedger/internal/projection"
	"MarketLedger/internal/testutil"
)

func setupProjection(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations")
	if err := migrator.Up(ctx); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}

	return db, cleanup
}

func marketRecord(id, version int64) *projection.MarketRecord {
	return &projection.MarketRecord{
		ID:          id,
		Description: []byte("will it rain"),
		LabelA:      []byte("yes"),
		LabelB:      []byte("no"),
		EndTime:     time.Now().UTC().Add(time.Hour),
		Status:      "open",
		PoolA:       100,
		PoolB:       200,
		TotalPool:   300,
		WinningSide: "none",
		CreatedAt:   time.Now().UTC(),
		Version:     version,
	}
}

// checkingInvalidator records the projected row version visible at the moment
// invalidation fires. The cache must only be dropped once the new row is
// committed, otherwise a racing read re-caches the old state.
type checkingInvalidator struct {
	db       *sql.DB
	versions chan int64
}

func (ci *checkingInvalidator) Invalidate(ctx context.Context, marketID int64) {
	var version int64
	err := ci.db.QueryRowContext(ctx,
		`SELECT version FROM projections.markets WHERE market_id = $1`, marketID,
	).Scan(&version)
	if err != nil {
		version = -1
	}
	ci.versions <- version
}

func TestWorker_InvalidatesAfterCommit(t *testing.T) {
	db, cleanup := setupProjection(t)
	defer cleanup()

	ci := &checkingInvalidator{db: db, versions: make(chan int64, 4)}
	input := make(chan projection.Output, 4)
	worker := projection.NewWorker(db, input, ci)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	input <- projection.Output{
		Sequence: 1,
		Kind:     "CreateMarket",
		Market:   marketRecord(7, 1),
	}

	select {
	case version := <-ci.versions:
		if version != 1 {
			t.Errorf("row version at invalidation time: got %d, want 1", version)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("invalidation never fired")
	}

	// A newer version of the same market: invalidation again sees the
	// committed update, never the row it replaced.
	updated := marketRecord(7, 2)
	updated.Status = "closed"
	input <- projection.Output{Sequence: 2, Kind: "CloseMarket", Market: updated}

	select {
	case version := <-ci.versions:
		if version != 2 {
			t.Errorf("row version at invalidation time: got %d, want 2", version)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("invalidation never fired for update")
	}

	cancel()
	<-done
}
