package syncer

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"aptos-mirror/api"
	"aptos-mirror/models"
	"aptos-mirror/storage"
)

// ReplicatorConfig wires one leader to one vault.
type ReplicatorConfig struct {
	LeaderAddress string
	VaultID       string
	RetryDelay    time.Duration // wait between feed session restarts
	Sizing        SizingPolicy
}

// PositionReplicator mirrors one leader's derivatives positions into a
// vault. It subscribes to the leader's account update feed, re-reads the
// on-chain position set on every notification, diffs it against the last
// known snapshot and submits proportionally sized market orders for every
// delta. Each mirrored action is also appended to the vault's trade ledger
// and recorded in the audit store.
type PositionReplicator struct {
	cfg ReplicatorConfig

	market    api.MarketAPI
	submitter api.TransactionSubmitter
	ledger    api.TradeLedger
	dialer    api.StreamDialer
	store     storage.DataStore
	metrics   *Metrics

	// started guards the Start/Stop lifecycle: set in Start, cleared only
	// when the run goroutine is gone. monitoring tracks session liveness
	// and dips to false during the retry wait between sessions.
	mu         sync.Mutex
	started    bool
	monitoring bool
	lastKnown  map[string]models.Position

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPositionReplicator creates a replicator for one leader/vault pair.
func NewPositionReplicator(
	cfg ReplicatorConfig,
	market api.MarketAPI,
	submitter api.TransactionSubmitter,
	ledger api.TradeLedger,
	dialer api.StreamDialer,
	store storage.DataStore,
) *PositionReplicator {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.Sizing.Mode == "" {
		cfg.Sizing.Mode = SizingProportional
	}
	return &PositionReplicator{
		cfg:       cfg,
		market:    market,
		submitter: submitter,
		ledger:    ledger,
		dialer:    dialer,
		store:     store,
		metrics:   &Metrics{},
		lastKnown: make(map[string]models.Position),
	}
}

// Leader returns the mirrored leader's address.
func (r *PositionReplicator) Leader() string {
	return r.cfg.LeaderAddress
}

// VaultID returns the target vault.
func (r *PositionReplicator) VaultID() string {
	return r.cfg.VaultID
}

// Metrics exposes the replicator's counters.
func (r *PositionReplicator) Metrics() *Metrics {
	return r.metrics
}

// IsMonitoring reports whether a feed session is live.
func (r *PositionReplicator) IsMonitoring() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.monitoring
}

// Start launches the monitoring loop in the background. Calling Start on a
// replicator that is already running logs a warning and does nothing; the
// guard holds even while the loop is waiting out a session retry.
func (r *PositionReplicator) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		log.Printf("[Replicator] already monitoring %s, ignoring start", r.cfg.LeaderAddress)
		return
	}
	r.started = true
	r.monitoring = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	log.Printf("[Replicator] starting for leader %s -> vault %s", r.cfg.LeaderAddress, r.cfg.VaultID)

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop ends monitoring and waits for the loop to exit. Safe to call when
// not running, and effective at any point in the loop's lifetime,
// including during the wait between failed sessions.
func (r *PositionReplicator) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		// The loop may be mid-teardown; wait it out regardless.
		r.wg.Wait()
		return
	}
	r.started = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()

	log.Printf("[Replicator] stopped for leader %s", r.cfg.LeaderAddress)
}

// run drives feed sessions until stopped. A session error drops the
// monitoring flag, waits the fixed retry delay and dials again. There is no
// retry cap and no backoff growth.
func (r *PositionReplicator) run(ctx context.Context) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		r.started = false
		r.monitoring = false
		r.mu.Unlock()
	}()

	for {
		err := r.monitorSession(ctx)
		if err == nil {
			// Clean shutdown via Stop or context cancellation.
			return
		}

		r.mu.Lock()
		r.monitoring = false
		r.mu.Unlock()

		log.Printf("[Replicator] session for %s failed: %v, retrying in %s",
			r.cfg.LeaderAddress, err, r.cfg.RetryDelay)
		r.metrics.RecordRestart()

		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-time.After(r.cfg.RetryDelay):
		}

		r.mu.Lock()
		r.monitoring = true
		r.mu.Unlock()
	}
}

// monitorSession runs one feed session to completion. A nil return means a
// deliberate stop; any error means the session should be retried.
func (r *PositionReplicator) monitorSession(ctx context.Context) error {
	session, err := r.dialer.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer session.Close()

	if err := session.Subscribe(r.cfg.LeaderAddress); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// Every session starts from a fresh snapshot so the first update after
	// a reconnect re-baselines instead of replaying stale deltas.
	r.mu.Lock()
	r.lastKnown = make(map[string]models.Position)
	r.mu.Unlock()
	r.syncInitialPositions(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stopCh:
			return nil
		case update, ok := <-session.Updates():
			if !ok {
				if err := session.Err(); err != nil {
					return err
				}
				return fmt.Errorf("account update stream closed")
			}
			r.handleAccountUpdate(ctx, update)
		}
	}
}

// syncInitialPositions seeds the snapshot with the leader's current
// positions so pre-existing exposure is not mirrored as freshly opened.
// A fetch failure leaves the snapshot empty; the next update will then
// treat everything as new, which is the documented re-baseline behavior.
func (r *PositionReplicator) syncInitialPositions(ctx context.Context) {
	positions, err := r.market.GetPositions(ctx, r.cfg.LeaderAddress)
	if err != nil {
		log.Printf("[Replicator] initial position fetch for %s failed: %v", r.cfg.LeaderAddress, err)
		return
	}

	r.mu.Lock()
	r.lastKnown = Snapshot(positions)
	r.mu.Unlock()

	log.Printf("[Replicator] initial sync for %s: %d open positions", r.cfg.LeaderAddress, len(positions))
}

// handleAccountUpdate re-reads the leader's positions, replicates every
// delta and advances the snapshot. Failures of individual actions are
// logged and do not block the rest of the batch; the snapshot always
// advances to what the chain reported.
func (r *PositionReplicator) handleAccountUpdate(ctx context.Context, update models.AccountUpdate) {
	r.metrics.RecordUpdate()

	positions, err := r.market.GetPositions(ctx, r.cfg.LeaderAddress)
	if err != nil {
		log.Printf("[Replicator] position fetch for %s failed: %v", r.cfg.LeaderAddress, err)
		return
	}

	r.mu.Lock()
	prev := r.lastKnown
	r.mu.Unlock()

	diff := DiffPositions(prev, positions)
	if !diff.Empty() {
		log.Printf("[Replicator] %s update (%s): %d opened, %d changed, %d closed",
			r.cfg.LeaderAddress, update.Kind, len(diff.Opened), len(diff.Changed), len(diff.Closed))
		r.metrics.RecordDiff(diff)
	}

	for _, pos := range diff.Opened {
		if err := r.replicatePosition(ctx, pos); err != nil {
			log.Printf("[Replicator] open %s failed: %v", pos.PairType, err)
		}
	}
	for _, change := range diff.Changed {
		if err := r.replicatePositionChange(ctx, change.Old, change.New); err != nil {
			log.Printf("[Replicator] change %s failed: %v", change.New.PairType, err)
		}
	}
	for _, pos := range diff.Closed {
		if err := r.closePosition(ctx, pos); err != nil {
			log.Printf("[Replicator] close %s failed: %v", pos.PairType, err)
		}
	}

	// The snapshot tracks what the leader holds, not what we managed to
	// mirror. Advancing past failed actions keeps one bad pair from being
	// re-attempted forever; the audit trail records the drift.
	r.mu.Lock()
	r.lastKnown = Snapshot(positions)
	r.mu.Unlock()
}

// getVaultTotalValue returns the vault's idle balance plus the value of its
// open trading positions.
func (r *PositionReplicator) getVaultTotalValue(ctx context.Context) (*big.Int, error) {
	balance, err := r.market.GetVaultBalance(ctx, r.cfg.VaultID)
	if err != nil {
		return nil, fmt.Errorf("vault balance: %w", err)
	}
	positionValue, err := r.market.GetAccountValue(ctx, r.submitter.Address())
	if err != nil {
		return nil, fmt.Errorf("vault position value: %w", err)
	}
	return new(big.Int).Add(balance, positionValue), nil
}

// mirrorSize scales one leader-side amount to the vault, reading the
// valuations it needs. Sizes below the configured minimum are rejected.
func (r *PositionReplicator) mirrorSize(ctx context.Context, leaderSize *big.Int) (*big.Int, error) {
	vaultValue, err := r.getVaultTotalValue(ctx)
	if err != nil {
		return nil, err
	}

	var leaderValue *big.Int
	if r.cfg.Sizing.Mode == SizingProportional {
		leaderValue, err = r.market.GetAccountValue(ctx, r.cfg.LeaderAddress)
		if err != nil {
			return nil, fmt.Errorf("leader account value: %w", err)
		}
	}

	size, fellBack := r.cfg.Sizing.MirrorSize(leaderSize, vaultValue, leaderValue)
	if fellBack {
		log.Printf("[Replicator] leader %s account value unavailable, copying size 1:1", r.cfg.LeaderAddress)
	}
	if r.cfg.Sizing.BelowMinimum(size) {
		return nil, fmt.Errorf("scaled size %s below minimum", size.String())
	}
	return size, nil
}

// replicatePosition mirrors a newly opened leader position.
func (r *PositionReplicator) replicatePosition(ctx context.Context, pos models.Position) error {
	size, err := r.mirrorSize(ctx, pos.Size)
	if err != nil {
		r.recordFailure(ctx, pos, models.ActionOpen, true, err)
		return err
	}
	collateral := r.cfg.Sizing.CollateralFor(size, pos.Collateral, pos.Size)

	return r.executeAction(ctx, actionRequest{
		action:     models.ActionOpen,
		pairType:   pos.PairType,
		size:       size,
		collateral: collateral,
		isLong:     pos.IsLong,
		isIncrease: true,
		price:      pos.EntryPrice,
		memo:       "mirror open " + r.cfg.LeaderAddress,
	})
}

// replicatePositionChange mirrors a size change on an existing position.
// The direction of the order follows the sign of the leader's size delta.
func (r *PositionReplicator) replicatePositionChange(ctx context.Context, old, current models.Position) error {
	delta := new(big.Int).Sub(current.Size, old.Size)
	isIncrease := delta.Sign() > 0
	absDelta := new(big.Int).Abs(delta)

	action := models.ActionIncrease
	if !isIncrease {
		action = models.ActionDecrease
	}

	size, err := r.mirrorSize(ctx, absDelta)
	if err != nil {
		r.recordFailure(ctx, current, action, isIncrease, err)
		return err
	}
	collateral := r.cfg.Sizing.CollateralFor(size, current.Collateral, current.Size)

	return r.executeAction(ctx, actionRequest{
		action:     action,
		pairType:   current.PairType,
		size:       size,
		collateral: collateral,
		isLong:     current.IsLong,
		isIncrease: isIncrease,
		price:      current.EntryPrice,
		memo:       fmt.Sprintf("mirror %s %s", action, r.cfg.LeaderAddress),
	})
}

// closePosition unwinds the vault's side of a position the leader closed.
// The amounts come from the locally tracked mirror position when one
// exists; otherwise the leader's final amounts are scaled as a fallback.
func (r *PositionReplicator) closePosition(ctx context.Context, pos models.Position) error {
	size, collateral, err := r.closeAmounts(ctx, pos)
	if err != nil {
		r.recordFailure(ctx, pos, models.ActionClose, false, err)
		return err
	}

	return r.executeAction(ctx, actionRequest{
		action:     models.ActionClose,
		pairType:   pos.PairType,
		size:       size,
		collateral: collateral,
		isLong:     pos.IsLong,
		isIncrease: false,
		price:      pos.EntryPrice,
		memo:       "mirror close " + r.cfg.LeaderAddress,
		clearLocal: true,
	})
}

func (r *PositionReplicator) closeAmounts(ctx context.Context, pos models.Position) (*big.Int, *big.Int, error) {
	mirrored, err := r.store.GetMirrorPosition(ctx, r.cfg.VaultID, pos.PairType)
	if err != nil {
		log.Printf("[Replicator] mirror position lookup for %s failed: %v", pos.PairType, err)
	}
	if mirrored != nil && mirrored.Size.Sign() > 0 {
		return new(big.Int).Set(mirrored.Size), new(big.Int).Set(mirrored.Collateral), nil
	}

	log.Printf("[Replicator] no local record for %s, closing with scaled leader amounts", pos.PairType)
	size, err := r.mirrorSize(ctx, pos.Size)
	if err != nil {
		return nil, nil, err
	}
	return size, r.cfg.Sizing.CollateralFor(size, pos.Collateral, pos.Size), nil
}

// actionRequest carries everything needed to submit and record one
// mirrored trade.
type actionRequest struct {
	action     models.Action
	pairType   string
	size       *big.Int
	collateral *big.Int
	isLong     bool
	isIncrease bool
	price      *big.Int
	memo       string
	clearLocal bool // close actions remove the local mirror record
}

// executeAction submits the market order, appends the ledger record,
// updates the local mirror position and writes the audit row. Ledger and
// bookkeeping failures after a successful order are logged but do not fail
// the action; the order is already on chain.
func (r *PositionReplicator) executeAction(ctx context.Context, req actionRequest) error {
	payload := r.market.BuildMarketOrderPayload(api.MarketOrderRequest{
		PairType:        req.pairType,
		UserAddress:     r.submitter.Address(),
		SizeDelta:       req.size,
		CollateralDelta: req.collateral,
		IsLong:          req.isLong,
		IsIncrease:      req.isIncrease,
	})

	txHash, err := r.submitter.Submit(ctx, payload)
	if err != nil {
		err = fmt.Errorf("submit %s order: %w", req.action, err)
		r.metrics.RecordAction(false)
		r.saveAudit(ctx, req, "", "", err)
		return err
	}

	log.Printf("[Replicator] %s %s size=%s collateral=%s tx=%s",
		req.action, req.pairType, req.size.String(), req.collateral.String(), txHash)

	ledgerHash, err := r.ledger.AppendTradeRecord(ctx, api.TradeRecord{
		VaultID:  r.cfg.VaultID,
		Action:   string(req.action),
		PairType: req.pairType,
		Amount:   req.size,
		Price:    req.price,
		Memo:     req.memo,
	})
	if err != nil {
		log.Printf("[Replicator] ledger append for %s %s failed: %v", req.action, req.pairType, err)
		ledgerHash = ""
	}

	if req.clearLocal {
		if err := r.store.ClearMirrorPosition(ctx, r.cfg.VaultID, req.pairType); err != nil {
			log.Printf("[Replicator] clearing mirror position %s failed: %v", req.pairType, err)
		}
	} else {
		signedSize := new(big.Int).Set(req.size)
		signedCollateral := new(big.Int).Set(req.collateral)
		if !req.isIncrease {
			signedSize.Neg(signedSize)
			signedCollateral.Neg(signedCollateral)
		}
		if err := r.store.UpdateMirrorPosition(ctx, models.MirrorPosition{
			LeaderAddress: r.cfg.LeaderAddress,
			VaultID:       r.cfg.VaultID,
			PairType:      req.pairType,
			Size:          signedSize,
			Collateral:    signedCollateral,
			IsLong:        req.isLong,
		}); err != nil {
			log.Printf("[Replicator] updating mirror position %s failed: %v", req.pairType, err)
		}
	}

	r.metrics.RecordAction(true)
	r.saveAudit(ctx, actionRequest{
		action:     req.action,
		pairType:   req.pairType,
		size:       req.size,
		collateral: req.collateral,
		isLong:     req.isLong,
		isIncrease: req.isIncrease,
		price:      req.price,
	}, txHash, ledgerHash, nil)
	return nil
}

// recordFailure writes an audit row for an action that failed before any
// order was built.
func (r *PositionReplicator) recordFailure(ctx context.Context, pos models.Position, action models.Action, isIncrease bool, cause error) {
	r.metrics.RecordAction(false)
	r.saveAudit(ctx, actionRequest{
		action:     action,
		pairType:   pos.PairType,
		size:       big.NewInt(0),
		collateral: big.NewInt(0),
		isLong:     pos.IsLong,
		isIncrease: isIncrease,
		price:      pos.EntryPrice,
	}, "", "", cause)
}

func (r *PositionReplicator) saveAudit(ctx context.Context, req actionRequest, txHash, ledgerHash string, cause error) {
	record := models.MirrorAction{
		LeaderAddress:   r.cfg.LeaderAddress,
		VaultID:         r.cfg.VaultID,
		PairType:        req.pairType,
		Action:          req.action,
		SizeDelta:       req.size,
		CollateralDelta: req.collateral,
		IsLong:          req.isLong,
		IsIncrease:      req.isIncrease,
		Price:           req.price,
		TxHash:          txHash,
		LedgerTxHash:    ledgerHash,
		Status:          "executed",
	}
	if cause != nil {
		record.Status = "failed"
		record.ErrorReason = cause.Error()
	}
	if err := r.store.SaveMirrorAction(ctx, record); err != nil {
		log.Printf("[Replicator] saving audit record for %s failed: %v", req.pairType, err)
	}
}
