package persistence_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"MarketLedger/internal/persistence"
	"MarketLedger/internal/testutil"
)

// These tests exercise the real Postgres layer: the operation log, transfer
// log, snapshots, owner identity, and the cold-path dedup lookup. They are
// skipped unless INTEGRATION_TEST=1 and the test database is reachable.

func setupPersistence(t *testing.T) (*sql.DB, *persistence.SnapshotManager, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations")
	if err := migrator.Up(ctx); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}

	return db, persistence.NewSnapshotManager(db), cleanup
}

func testOpRow(seq int64, key string) persistence.OpRow {
	return persistence.OpRow{
		Sequence:       seq,
		Kind:           "PlaceBet",
		IdempotencyKey: key,
		MarketID:       1,
		Caller:         "alice",
		Payload:        []byte(`{"op_id":"` + key + `","from":"alice","market_id":1,"side":"A","amount":100}`),
		StateHash:      make([]byte, 32),
		PrevHash:       make([]byte, 32),
		Timestamp:      time.Now().UTC(),
	}
}

func TestOpLog_WriteAndReload(t *testing.T) {
	db, snapMgr, cleanup := setupPersistence(t)
	defer cleanup()

	writer := persistence.NewOpLogWriter(db)
	ctx := context.Background()

	rows := []persistence.OpRow{
		testOpRow(0, uuid.NewString()),
		testOpRow(1, uuid.NewString()),
		testOpRow(2, uuid.NewString()),
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteOpBatch(ctx, tx, rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	loaded, err := snapMgr.LoadOpsFrom(ctx, 0, 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("got %d ops, want 3", len(loaded))
	}
	for i, row := range loaded {
		if row.Sequence != int64(i) {
			t.Errorf("sequence order: got %d at index %d", row.Sequence, i)
		}
	}

	// Re-writing the same sequence is a no-op (ON CONFLICT DO NOTHING), so a
	// retried batch never duplicates rows.
	tx2, _ := db.BeginTx(ctx, nil)
	if err := writer.WriteOpBatch(ctx, tx2, rows[:1]); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	tx2.Commit()

	latest, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != 2 {
		t.Errorf("latest sequence: got %d, want 2", latest)
	}
}

func TestIdempotency_ColdPathLookup(t *testing.T) {
	db, _, cleanup := setupPersistence(t)
	defer cleanup()

	writer := persistence.NewOpLogWriter(db)
	checker := persistence.NewPostgresIdempotencyChecker(db)
	ctx := context.Background()

	key := "bet:" + uuid.NewString()
	tx, _ := db.BeginTx(ctx, nil)
	if err := writer.WriteOpBatch(ctx, tx, []persistence.OpRow{testOpRow(0, key)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	tx.Commit()

	dup, err := checker.IsDuplicate(key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !dup {
		t.Error("persisted key not recognized as duplicate")
	}

	dup, err = checker.IsDuplicate("bet:" + uuid.NewString())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if dup {
		t.Error("fresh key reported as duplicate")
	}

	keys, err := checker.LoadRecentKeys(ctx, 10)
	if err != nil {
		t.Fatalf("recent keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("recent keys: %v", keys)
	}
}

func TestSnapshot_SaveLoadVerify(t *testing.T) {
	_, snapMgr, cleanup := setupPersistence(t)
	defer cleanup()
	ctx := context.Background()

	snap := &persistence.SnapshotData{
		Sequence:  41,
		StateHash: make([]byte, 32),
		Owner:     "owner-1",
		Markets: []persistence.MarketSnapshot{
			{ID: 1, Description: []byte("d"), LabelA: []byte("yes"), LabelB: []byte("no"),
				EndTime: time.Now().UTC(), Status: 0, PoolA: 100, PoolB: 200, TotalPool: 300,
				CreatedAt: time.Now().UTC(), Version: 3},
		},
		Bets: []persistence.BetSnapshot{
			{MarketID: 1, Bettor: "alice", Side: 1, Amount: 100, PlacedAt: time.Now().UTC(), Version: 1},
		},
		IdempotencyKeys: []string{"bet:abc"},
		CreatedAt:       time.Now().UTC(),
	}

	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Unverified snapshots are never loaded.
	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != nil {
		t.Fatal("unverified snapshot loaded")
	}

	if err := snapMgr.MarkVerified(ctx, 41); err != nil {
		t.Fatalf("verify: %v", err)
	}

	loaded, err = snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("verified snapshot not loaded")
	}
	if loaded.Sequence != 41 || loaded.Owner != "owner-1" {
		t.Errorf("snapshot content: seq=%d owner=%s", loaded.Sequence, loaded.Owner)
	}
	if len(loaded.Markets) != 1 || loaded.Markets[0].TotalPool != 300 {
		t.Errorf("markets: %+v", loaded.Markets)
	}
	if len(loaded.Bets) != 1 || loaded.Bets[0].Bettor != "alice" {
		t.Errorf("bets: %+v", loaded.Bets)
	}
}

func TestEnsureOwner_SetOnceThenEnforced(t *testing.T) {
	_, snapMgr, cleanup := setupPersistence(t)
	defer cleanup()
	ctx := context.Background()

	if err := snapMgr.EnsureOwner(ctx, "owner-1"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := snapMgr.EnsureOwner(ctx, "owner-1"); err != nil {
		t.Fatalf("repeat ensure: %v", err)
	}
	if err := snapMgr.EnsureOwner(ctx, "owner-2"); err == nil {
		t.Error("owner change accepted")
	}
}

func TestTransfers_WriteAndRead(t *testing.T) {
	db, _, cleanup := setupPersistence(t)
	defer cleanup()

	writer := persistence.NewOpLogWriter(db)
	ctx := context.Background()

	transfer := persistence.TransferRow{
		TransferID: uuid.NewString(),
		Sequence:   5,
		MarketID:   1,
		Recipient:  "alice",
		Amount:     18_446_744_073_709_551_615, // Full uint64 range survives NUMERIC
		Timestamp:  time.Now().UTC(),
	}

	tx, _ := db.BeginTx(ctx, nil)
	if err := writer.WriteTransferBatch(ctx, tx, []persistence.TransferRow{transfer}); err != nil {
		t.Fatalf("write transfer: %v", err)
	}
	tx.Commit()

	var amountStr string
	err := db.QueryRowContext(ctx, `
		SELECT amount FROM ledger_log.transfers WHERE transfer_id = $1
	`, transfer.TransferID).Scan(&amountStr)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if amountStr != "18446744073709551615" {
		t.Errorf("amount: got %s", amountStr)
	}

	// Duplicate transfer id: ignored, exactly one row survives.
	tx2, _ := db.BeginTx(ctx, nil)
	if err := writer.WriteTransferBatch(ctx, tx2, []persistence.TransferRow{transfer}); err != nil {
		t.Fatalf("rewrite transfer: %v", err)
	}
	tx2.Commit()

	var n int
	db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_log.transfers`).Scan(&n)
	if n != 1 {
		t.Errorf("transfer rows: got %d, want 1", n)
	}
}

func TestWorker_CommitNotifyMeansDurable(t *testing.T) {
	db, _, cleanup := setupPersistence(t)
	defer cleanup()

	input := make(chan persistence.Record, 1)
	// The flush timeout is far beyond the test horizon and the batch never
	// fills, so only the commit-notification path can trigger the write.
	worker := persistence.NewWorker(db, input, 50, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	committed := make(chan struct{})
	key := "claim:" + uuid.NewString()
	input <- persistence.Record{
		Op: testOpRow(0, key),
		Transfers: []persistence.TransferRow{{
			TransferID: uuid.NewString(),
			Sequence:   0,
			MarketID:   1,
			Recipient:  "alice",
			Amount:     300,
			Timestamp:  time.Now().UTC(),
		}},
		Committed: committed,
	}

	select {
	case <-committed:
	case <-time.After(10 * time.Second):
		t.Fatal("commit notification never fired")
	}

	// The notification fires only once the claim row and its transfer are
	// readable in the same committed transaction.
	readCtx := context.Background()
	var ops int
	if err := db.QueryRowContext(readCtx,
		`SELECT COUNT(*) FROM ledger_log.operations WHERE idempotency_key = $1`, key,
	).Scan(&ops); err != nil {
		t.Fatalf("read back op: %v", err)
	}
	if ops != 1 {
		t.Errorf("operation rows at notify time: got %d, want 1", ops)
	}

	var transfers int
	if err := db.QueryRowContext(readCtx,
		`SELECT COUNT(*) FROM ledger_log.transfers`,
	).Scan(&transfers); err != nil {
		t.Fatalf("read back transfer: %v", err)
	}
	if transfers != 1 {
		t.Errorf("transfer rows at notify time: got %d, want 1", transfers)
	}

	cancel()
	<-done
}
