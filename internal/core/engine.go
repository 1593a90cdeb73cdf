package core

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarketLedger/internal/market"
	lmath "MarketLedger/internal/math"
	"MarketLedger/internal/observability"
	"MarketLedger/internal/op"
)

// MarketEngine is the single-threaded operation processor. It owns the store
// exclusively: one goroutine drains the operation channel and calls ProcessOp
// to completion before the next operation is considered. The engine never
// calls time.Now() — every operation carries its processing timestamp,
// assigned at ingestion.
type MarketEngine struct {
	owner       market.Address
	store       *market.Store
	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	log         zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput carries one applied operation downstream: the log envelope, the
// typed payload, the post-application market and bet records (nil when the
// operation did not touch them), and the payout transfer for claims.
type CoreOutput struct {
	Envelope *op.Envelope
	Payload  op.Operation
	Market   *market.Market
	Bet      *market.Bet
	Transfer *Transfer
}

// Transfer is an outbound payout instruction. It is emitted only after the
// claimed state change has been handed to persistence.
type Transfer struct {
	TransferID uuid.UUID
	Market     int64
	To         market.Address
	Amount     uint64
	Sequence   int64
	Timestamp  time.Time
}

func NewMarketEngine(
	owner market.Address,
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *MarketEngine {
	return &MarketEngine{
		owner:          owner,
		store:          market.NewStore(),
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		idempotency:    NewIdempotencyChecker(1_000_000, dbChecker),
		metrics:        metrics,
		log:            observability.NewLogger("engine"),
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Owner returns the ledger owner identity.
func (e *MarketEngine) Owner() market.Address {
	return e.owner
}

// Store exposes the state for read-only inspection (snapshots, tests).
func (e *MarketEngine) Store() *market.Store {
	return e.store
}

// ProcessOp is the main processing pipeline: dedup, dispatch, commit,
// invariant post-check, hash, emit.
func (e *MarketEngine) ProcessOp(operation op.Operation) error {
	start := time.Now()
	kind := operation.Kind().String()
	idempotencyKey := operation.IdempotencyKey()

	// Step 1: Idempotency check (two-tier). Duplicates are acknowledged but
	// not re-applied — safe resubmission.
	if e.idempotency.IsDuplicate(kind, idempotencyKey) {
		if e.metrics != nil {
			e.metrics.CoreOpsRejected.WithLabelValues(kind, "duplicate").Inc()
		}
		return nil
	}

	// Step 2: Dispatch. Handlers validate everything first and mutate only
	// clones, so a rejection leaves the store untouched.
	mkt, bet, transfer, err := e.dispatch(operation)
	if err != nil {
		if e.metrics != nil {
			e.metrics.CoreOpsRejected.WithLabelValues(kind, ErrorCode(err)).Inc()
		}
		return err
	}

	// Step 3: Commit — whole-value replacement, no partial writes observable.
	if mkt != nil {
		e.store.PutMarket(mkt)
	}
	if bet != nil {
		e.store.PutBet(bet)
	}

	// Step 4: Post-checks
	if err := e.postCheckInvariants(mkt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 5: State digest + hash chain
	stateDigest := computeStateDigest(mkt, bet)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)

	payload, err := json.Marshal(operation)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode operation payload: %v", err))
	}

	envelope := &op.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: idempotencyKey,
		Kind:           operation.Kind(),
		MarketID:       operation.MarketID(),
		Caller:         operation.Caller(),
		Timestamp:      operation.Timestamp(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	if transfer != nil {
		transfer.Sequence = e.sequence
	}

	output := CoreOutput{
		Envelope: envelope,
		Payload:  operation,
		Market:   mkt,
		Bet:      bet,
		Transfer: transfer,
	}

	e.sequence++

	// Step 6: Emit. Persistence uses a BLOCKING send (backpressure) — the
	// engine stalls until the persistence worker drains, so no applied
	// operation is ever lost. For claims, the bridge downstream holds the
	// transfer instruction until the persistence worker reports the claim
	// row committed.
	e.persistChan <- output

	// Projections: non-blocking send, drop on full. Projection workers can
	// rebuild from the operation log if they fall behind.
	select {
	case e.projectionChan <- output:
	default:
	}

	// Step 7: Mark as processed (add to LRU)
	e.idempotency.MarkProcessed(idempotencyKey)

	if e.metrics != nil {
		e.metrics.CoreOpsApplied.WithLabelValues(kind).Inc()
		e.metrics.CoreOpDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}

	return nil
}

// ReplayOp re-applies an operation from the log during recovery. State is
// rebuilt but nothing is re-emitted: no persist send, no projection send, no
// transfer re-issue. A rejection here means the log contains an operation
// that was never applied — fatal for the caller.
func (e *MarketEngine) ReplayOp(operation op.Operation) error {
	mkt, bet, _, err := e.dispatch(operation)
	if err != nil {
		return fmt.Errorf("replay of %s (%s) rejected: %w",
			operation.Kind(), operation.IdempotencyKey(), err)
	}

	if mkt != nil {
		e.store.PutMarket(mkt)
	}
	if bet != nil {
		e.store.PutBet(bet)
	}

	stateDigest := computeStateDigest(mkt, bet)
	e.hasher.ComputeHash(e.sequence, stateDigest)
	e.sequence++

	e.idempotency.MarkProcessed(operation.IdempotencyKey())
	return nil
}

// dispatch routes an operation to its handler. The union of operation types
// is closed; an unknown payload is a programming error upstream.
func (e *MarketEngine) dispatch(operation op.Operation) (*market.Market, *market.Bet, *Transfer, error) {
	switch o := operation.(type) {
	case *op.CreateMarket:
		mkt, err := e.handleCreateMarket(o)
		return mkt, nil, nil, err
	case *op.PlaceBet:
		mkt, bet, err := e.handlePlaceBet(o)
		return mkt, bet, nil, err
	case *op.CloseMarket:
		mkt, err := e.handleCloseMarket(o)
		return mkt, nil, nil, err
	case *op.DecideWinner:
		mkt, err := e.handleDecideWinner(o)
		return mkt, nil, nil, err
	case *op.ClaimReward:
		bet, transfer, err := e.handleClaimReward(o)
		return nil, bet, transfer, err
	default:
		return nil, nil, nil, fmt.Errorf("unknown operation type: %T", operation)
	}
}

func (e *MarketEngine) handleCreateMarket(o *op.CreateMarket) (*market.Market, error) {
	if o.From != e.owner {
		return nil, fmt.Errorf("create market %d: %w", o.Market, ErrUnauthorized)
	}
	if e.store.GetMarket(o.Market) != nil {
		return nil, fmt.Errorf("create market %d: %w", o.Market, ErrDuplicateMarket)
	}
	// The deadline must be strictly in the future relative to processing time;
	// a market nobody can ever bet on is a submission mistake.
	if !o.EndTime.After(o.ReceivedAt) {
		return nil, fmt.Errorf("create market %d: end time %s not after %s: %w",
			o.Market, o.EndTime.Format(time.RFC3339), o.ReceivedAt.Format(time.RFC3339), ErrInvalidParameter)
	}

	return &market.Market{
		ID:          o.Market,
		Description: append([]byte(nil), o.Description...),
		LabelA:      append([]byte(nil), o.LabelA...),
		LabelB:      append([]byte(nil), o.LabelB...),
		EndTime:     o.EndTime,
		Status:      market.StatusOpen,
		WinningSide: market.SideNone,
		CreatedAt:   o.ReceivedAt,
		Version:     1,
	}, nil
}

func (e *MarketEngine) handlePlaceBet(o *op.PlaceBet) (*market.Market, *market.Bet, error) {
	mkt := e.store.GetMarket(o.Market)
	if mkt == nil {
		return nil, nil, fmt.Errorf("bet on market %d: %w", o.Market, ErrMarketNotFound)
	}
	if mkt.Status != market.StatusOpen {
		return nil, nil, fmt.Errorf("bet on market %d (status %s): %w", o.Market, mkt.Status, ErrInvalidState)
	}
	// Expiry is checked against the versioned processing timestamp:
	// rejected when processing time >= end time.
	if !o.ReceivedAt.Before(mkt.EndTime) {
		return nil, nil, fmt.Errorf("bet on market %d: %w", o.Market, ErrMarketExpired)
	}
	if !o.Side.Valid() {
		return nil, nil, fmt.Errorf("bet on market %d: side %d: %w", o.Market, o.Side, ErrInvalidParameter)
	}
	if o.Amount == 0 {
		return nil, nil, fmt.Errorf("bet on market %d: zero amount: %w", o.Market, ErrInvalidParameter)
	}
	if e.store.GetBet(o.Market, o.From) != nil {
		return nil, nil, fmt.Errorf("bet on market %d by %s: %w", o.Market, o.From, ErrAlreadyBet)
	}

	updated := mkt.Clone()
	sidePool, err := lmath.AddPool(updated.Pool(o.Side), o.Amount)
	if err != nil {
		return nil, nil, fmt.Errorf("bet on market %d: %v: %w", o.Market, err, ErrInvalidParameter)
	}
	total, err := lmath.AddPool(updated.TotalPool, o.Amount)
	if err != nil {
		return nil, nil, fmt.Errorf("bet on market %d: %v: %w", o.Market, err, ErrInvalidParameter)
	}
	switch o.Side {
	case market.SideA:
		updated.PoolA = sidePool
	case market.SideB:
		updated.PoolB = sidePool
	}
	updated.TotalPool = total
	updated.Version++

	bet := &market.Bet{
		MarketID: o.Market,
		Bettor:   o.From,
		Side:     o.Side,
		Amount:   o.Amount,
		PlacedAt: o.ReceivedAt,
		Version:  1,
	}

	if e.metrics != nil {
		e.metrics.MarketPool.WithLabelValues(fmt.Sprintf("%d", o.Market), o.Side.String()).Set(float64(sidePool))
	}

	return updated, bet, nil
}

func (e *MarketEngine) handleCloseMarket(o *op.CloseMarket) (*market.Market, error) {
	if o.From != e.owner {
		return nil, fmt.Errorf("close market %d: %w", o.Market, ErrUnauthorized)
	}
	mkt := e.store.GetMarket(o.Market)
	if mkt == nil {
		return nil, fmt.Errorf("close market %d: %w", o.Market, ErrMarketNotFound)
	}
	if !mkt.Status.CanTransitionTo(market.StatusClosed) {
		return nil, fmt.Errorf("close market %d (status %s): %w", o.Market, mkt.Status, ErrInvalidState)
	}

	updated := mkt.Clone()
	updated.Status = market.StatusClosed
	updated.Version++
	return updated, nil
}

func (e *MarketEngine) handleDecideWinner(o *op.DecideWinner) (*market.Market, error) {
	if o.From != e.owner {
		return nil, fmt.Errorf("decide market %d: %w", o.Market, ErrUnauthorized)
	}
	mkt := e.store.GetMarket(o.Market)
	if mkt == nil {
		return nil, fmt.Errorf("decide market %d: %w", o.Market, ErrMarketNotFound)
	}
	if !mkt.Status.CanTransitionTo(market.StatusResolved) {
		return nil, fmt.Errorf("decide market %d (status %s): %w", o.Market, mkt.Status, ErrInvalidState)
	}
	if !o.WinningSide.Valid() {
		return nil, fmt.Errorf("decide market %d: side %d: %w", o.Market, o.WinningSide, ErrInvalidParameter)
	}

	updated := mkt.Clone()
	updated.Status = market.StatusResolved
	updated.WinningSide = o.WinningSide
	updated.Version++

	// A market resolved to a side with zero stake strands the whole pool:
	// no claim can ever reach it. Surfaced here, never redistributed.
	if updated.Pool(o.WinningSide) == 0 && updated.TotalPool > 0 {
		e.log.Warn().
			Int64("market_id", o.Market).
			Str("winning_side", o.WinningSide.String()).
			Uint64("stranded_pool", updated.TotalPool).
			Msg("market resolved with zero winning pool")
		if e.metrics != nil {
			e.metrics.StrandedPools.Inc()
		}
	}

	return updated, nil
}

func (e *MarketEngine) handleClaimReward(o *op.ClaimReward) (*market.Bet, *Transfer, error) {
	mkt := e.store.GetMarket(o.Market)
	if mkt == nil {
		return nil, nil, fmt.Errorf("claim on market %d: %w", o.Market, ErrMarketNotFound)
	}
	if mkt.Status != market.StatusResolved {
		return nil, nil, fmt.Errorf("claim on market %d (status %s): %w", o.Market, mkt.Status, ErrInvalidState)
	}
	bet := e.store.GetBet(o.Market, o.From)
	if bet == nil {
		return nil, nil, fmt.Errorf("claim on market %d by %s: %w", o.Market, o.From, ErrBetNotFound)
	}
	if bet.Claimed {
		return nil, nil, fmt.Errorf("claim on market %d by %s: %w", o.Market, o.From, ErrAlreadyClaimed)
	}
	if bet.Side != mkt.WinningSide {
		return nil, nil, fmt.Errorf("claim on market %d by %s (side %s, winner %s): %w",
			o.Market, o.From, bet.Side, mkt.WinningSide, ErrNotAWinner)
	}

	// payout = floor(amount * totalPool / winningPool). The claimant's own
	// stake is part of the winning pool, so the divisor is never zero here.
	payout, err := lmath.Payout(bet.Amount, mkt.TotalPool, mkt.Pool(mkt.WinningSide))
	if err != nil {
		panic(fmt.Sprintf("FATAL: payout computation failed for a winning claim: %v", err))
	}

	updated := bet.Clone()
	updated.Claimed = true
	updated.Version++

	transfer := &Transfer{
		TransferID: uuid.New(),
		Market:     o.Market,
		To:         o.From,
		Amount:     payout,
		Timestamp:  o.ReceivedAt,
	}

	if e.metrics != nil {
		e.metrics.PayoutsIssued.Inc()
		e.metrics.PayoutAmount.Add(float64(payout))
	}

	return updated, transfer, nil
}

// postCheckInvariants validates invariants after commit. The touched market
// is checked on every operation; the full store is swept periodically.
func (e *MarketEngine) postCheckInvariants(touched *market.Market) error {
	if touched != nil {
		if err := e.checkMarket(touched); err != nil {
			return err
		}
	}

	// Periodic global sweep
	if e.sequence > 0 && e.sequence%1000 == 0 {
		for _, mkt := range e.store.AllMarkets() {
			if err := e.checkMarket(mkt); err != nil {
				return fmt.Errorf("global sweep at seq %d: %w", e.sequence, err)
			}
		}
	}

	return nil
}

// checkMarket verifies pool balance and that the per-side bet sums match the
// recorded pools exactly.
func (e *MarketEngine) checkMarket(mkt *market.Market) error {
	if err := mkt.CheckPools(); err != nil {
		return err
	}

	var sumA, sumB uint64
	for _, bet := range e.store.BetsForMarket(mkt.ID) {
		switch bet.Side {
		case market.SideA:
			sumA += bet.Amount
		case market.SideB:
			sumB += bet.Amount
		}
	}
	if sumA != mkt.PoolA || sumB != mkt.PoolB {
		return fmt.Errorf("market %d bet sums diverge from pools: sumA=%d poolA=%d sumB=%d poolB=%d",
			mkt.ID, sumA, mkt.PoolA, sumB, mkt.PoolB)
	}
	return nil
}

// computeStateDigest creates canonical bytes for the state hash from the
// records the operation touched.
func computeStateDigest(mkt *market.Market, bet *market.Bet) []byte {
	digest := make([]byte, 0, 128)

	if mkt != nil {
		digest = append(digest, 'm')
		digest = appendInt64LE(digest, mkt.ID)
		digest = append(digest, byte(mkt.Status))
		digest = appendUint64LE(digest, mkt.PoolA)
		digest = appendUint64LE(digest, mkt.PoolB)
		digest = appendUint64LE(digest, mkt.TotalPool)
		digest = append(digest, byte(mkt.WinningSide))
		digest = appendInt64LE(digest, mkt.Version)
	}

	if bet != nil {
		digest = append(digest, 'b')
		digest = appendInt64LE(digest, bet.MarketID)
		digest = append(digest, byte(len(bet.Bettor)))
		digest = append(digest, []byte(bet.Bettor)...)
		digest = append(digest, byte(bet.Side))
		digest = appendUint64LE(digest, bet.Amount)
		if bet.Claimed {
			digest = append(digest, 1)
		} else {
			digest = append(digest, 0)
		}
		digest = appendInt64LE(digest, bet.Version)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Owner           market.Address
	Markets         []*market.Market
	Bets            []*market.Bet
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the engine's in-memory state. On warm
// restart, the latest snapshot is loaded and the operation log replayed
// from snapshot.Sequence+1 via ReplayOp.
func (e *MarketEngine) RestoreFromSnapshot(snap *SnapshotState) {
	e.sequence = snap.Sequence + 1 // Next sequence to assign
	e.hasher.SetPrevHash(snap.StateHash)

	for _, mkt := range snap.Markets {
		e.store.PutMarket(mkt.Clone())
	}
	for _, bet := range snap.Bets {
		e.store.PutBet(bet.Clone())
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently applied operations.
func (e *MarketEngine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next sequence number to assign.
func (e *MarketEngine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *MarketEngine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *MarketEngine) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        e.sequence - 1, // Last processed sequence
		StateHash:       e.hasher.GetPrevHash(),
		Owner:           e.owner,
		Markets:         e.store.AllMarkets(),
		Bets:            e.store.AllBets(),
		IdempotencyKeys: e.idempotency.lru.GetAllKeys(),
	}
}
