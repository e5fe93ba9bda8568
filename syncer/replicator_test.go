package syncer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"aptos-mirror/api"
	"aptos-mirror/models"
	"aptos-mirror/storage"
)

const (
	testLeader = "0x1eade5"
	testVault  = "vault-1"
	testBTC    = "0xabc::pair_types::BTC_USD"
	testETH    = "0xabc::pair_types::ETH_USD"
)

type fixture struct {
	market     *api.MockMarketClient
	submitter  *api.MockSubmitter
	ledger     *api.MockLedger
	dialer     *api.MockStreamDialer
	store      *storage.MockStore
	replicator *PositionReplicator
}

// newFixture wires a replicator against mocks. The vault holds a tenth of
// the leader's account value, so proportional sizing divides by ten.
func newFixture() *fixture {
	f := &fixture{
		market:    api.NewMockMarketClient(),
		submitter: api.NewMockSubmitter(),
		ledger:    api.NewMockLedger(),
		dialer:    api.NewMockStreamDialer(),
		store:     storage.NewMockStore(),
	}
	f.market.VaultValue = big.NewInt(1000)
	f.market.AccountValues[f.submitter.Address()] = big.NewInt(0)
	f.market.AccountValues[testLeader] = big.NewInt(10000)

	f.replicator = NewPositionReplicator(ReplicatorConfig{
		LeaderAddress: testLeader,
		VaultID:       testVault,
		RetryDelay:    10 * time.Millisecond,
		Sizing: SizingPolicy{
			Mode:             SizingProportional,
			CollateralBps:    1000,
			PreserveLeverage: true,
		},
	}, f.market, f.submitter, f.ledger, f.dialer, f.store)
	return f
}

func update() models.AccountUpdate {
	return models.AccountUpdate{
		Address:   testLeader,
		Kind:      "position_event",
		Timestamp: time.Now().UTC(),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInitialSyncDoesNotMirrorExistingPositions(t *testing.T) {
	f := newFixture()
	f.market.SetPositions([]models.Position{pos(testBTC, 500000000, 50000000, 67000, true)})

	f.replicator.syncInitialPositions(context.Background())
	f.replicator.handleAccountUpdate(context.Background(), update())

	if f.submitter.Calls != 0 {
		t.Errorf("submitted %d orders for pre-existing positions, want 0", f.submitter.Calls)
	}
}

func TestOpenPositionIsMirroredProportionally(t *testing.T) {
	f := newFixture()
	f.market.SetPositions([]models.Position{pos(testBTC, 500000000, 50000000, 67000, true)})

	f.replicator.handleAccountUpdate(context.Background(), update())

	submitted := f.submitter.SubmittedPayloads()
	if len(submitted) != 1 {
		t.Fatalf("submitted %d orders, want 1", len(submitted))
	}
	payload := submitted[0]
	if payload.TypeArguments[0] != testBTC {
		t.Errorf("pair = %s, want %s", payload.TypeArguments[0], testBTC)
	}
	// 500000000 * 1000 / 10000, with the leader's 10x leverage preserved.
	if got := payload.Arguments[1]; got != "50000000" {
		t.Errorf("size = %v, want 50000000", got)
	}
	if got := payload.Arguments[2]; got != "5000000" {
		t.Errorf("collateral = %v, want 5000000", got)
	}
	if got := payload.Arguments[4]; got != true {
		t.Error("order should be an increase")
	}

	if actions := f.ledger.RecordedActions(); len(actions) != 1 || actions[0] != "open" {
		t.Errorf("ledger actions = %v, want [open]", actions)
	}

	mirrored, _ := f.store.GetMirrorPosition(context.Background(), testVault, testBTC)
	if mirrored == nil || mirrored.Size.Int64() != 50000000 {
		t.Errorf("mirror position = %+v, want size 50000000", mirrored)
	}

	if len(f.store.Actions) != 1 || f.store.Actions[0].Status != "executed" {
		t.Fatalf("audit trail = %+v, want one executed row", f.store.Actions)
	}
	if f.store.Actions[0].TxHash == "" {
		t.Error("audit row missing tx hash")
	}
}

func TestIncreaseMirrorsScaledDelta(t *testing.T) {
	f := newFixture()
	f.market.SetPositions([]models.Position{pos(testBTC, 500000000, 50000000, 67000, true)})
	f.replicator.syncInitialPositions(context.Background())

	f.market.SetPositions([]models.Position{pos(testBTC, 750000000, 75000000, 67000, true)})
	f.replicator.handleAccountUpdate(context.Background(), update())

	submitted := f.submitter.SubmittedPayloads()
	if len(submitted) != 1 {
		t.Fatalf("submitted %d orders, want 1", len(submitted))
	}
	// Delta of 250000000, scaled by a tenth.
	if got := submitted[0].Arguments[1]; got != "25000000" {
		t.Errorf("size = %v, want 25000000", got)
	}
	if got := submitted[0].Arguments[4]; got != true {
		t.Error("order should be an increase")
	}
	if actions := f.ledger.RecordedActions(); len(actions) != 1 || actions[0] != "increase" {
		t.Errorf("ledger actions = %v, want [increase]", actions)
	}
}

func TestDecreaseMirrorsScaledDelta(t *testing.T) {
	f := newFixture()
	f.market.SetPositions([]models.Position{pos(testBTC, 750000000, 75000000, 67000, true)})
	f.replicator.syncInitialPositions(context.Background())

	f.market.SetPositions([]models.Position{pos(testBTC, 500000000, 50000000, 67000, true)})
	f.replicator.handleAccountUpdate(context.Background(), update())

	submitted := f.submitter.SubmittedPayloads()
	if len(submitted) != 1 {
		t.Fatalf("submitted %d orders, want 1", len(submitted))
	}
	if got := submitted[0].Arguments[1]; got != "25000000" {
		t.Errorf("size = %v, want 25000000", got)
	}
	if got := submitted[0].Arguments[4]; got != false {
		t.Error("order should be a decrease")
	}
	if actions := f.ledger.RecordedActions(); len(actions) != 1 || actions[0] != "decrease" {
		t.Errorf("ledger actions = %v, want [decrease]", actions)
	}
}

func TestCloseUsesStoredMirrorAmounts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.store.UpdateMirrorPosition(ctx, models.MirrorPosition{
		LeaderAddress: testLeader,
		VaultID:       testVault,
		PairType:      testBTC,
		Size:          big.NewInt(42),
		Collateral:    big.NewInt(7),
		IsLong:        true,
	})
	f.market.SetPositions([]models.Position{pos(testBTC, 500000000, 50000000, 67000, true)})
	f.replicator.syncInitialPositions(ctx)

	f.market.SetPositions(nil)
	f.replicator.handleAccountUpdate(ctx, update())

	submitted := f.submitter.SubmittedPayloads()
	if len(submitted) != 1 {
		t.Fatalf("submitted %d orders, want 1", len(submitted))
	}
	// Closes unwind what the vault actually holds, not the leader's size.
	if got := submitted[0].Arguments[1]; got != "42" {
		t.Errorf("size = %v, want 42", got)
	}
	if got := submitted[0].Arguments[2]; got != "7" {
		t.Errorf("collateral = %v, want 7", got)
	}
	if got := submitted[0].Arguments[4]; got != false {
		t.Error("close must not be an increase")
	}

	if mirrored, _ := f.store.GetMirrorPosition(ctx, testVault, testBTC); mirrored != nil {
		t.Errorf("mirror position not cleared after close: %+v", mirrored)
	}
	if actions := f.ledger.RecordedActions(); len(actions) != 1 || actions[0] != "close" {
		t.Errorf("ledger actions = %v, want [close]", actions)
	}
}

func TestCloseFallsBackToScaledLeaderAmounts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.market.SetPositions([]models.Position{pos(testBTC, 500000000, 50000000, 67000, true)})
	f.replicator.syncInitialPositions(ctx)

	f.market.SetPositions(nil)
	f.replicator.handleAccountUpdate(ctx, update())

	submitted := f.submitter.SubmittedPayloads()
	if len(submitted) != 1 {
		t.Fatalf("submitted %d orders, want 1", len(submitted))
	}
	if got := submitted[0].Arguments[1]; got != "50000000" {
		t.Errorf("size = %v, want 50000000", got)
	}
}

func TestLedgerFailureDoesNotFailAction(t *testing.T) {
	f := newFixture()
	f.ledger.ErrorOnNext = context.DeadlineExceeded
	f.market.SetPositions([]models.Position{pos(testBTC, 500000000, 50000000, 67000, true)})

	f.replicator.handleAccountUpdate(context.Background(), update())

	if len(f.store.Actions) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(f.store.Actions))
	}
	row := f.store.Actions[0]
	if row.Status != "executed" {
		t.Errorf("status = %s, want executed", row.Status)
	}
	if row.LedgerTxHash != "" {
		t.Errorf("ledger hash = %s, want empty after ledger failure", row.LedgerTxHash)
	}
}

func TestDuplicateStartIgnored(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.replicator.Start(ctx)
	defer f.replicator.Stop()
	waitFor(t, "first session", func() bool { return f.dialer.Connects() == 1 })

	f.replicator.Start(ctx)
	time.Sleep(30 * time.Millisecond)

	if got := f.dialer.Connects(); got != 1 {
		t.Errorf("connects = %d, want 1 after duplicate start", got)
	}
}

func TestStopEndsMonitoring(t *testing.T) {
	f := newFixture()

	f.replicator.Start(context.Background())
	waitFor(t, "monitoring", func() bool { return f.replicator.IsMonitoring() })

	f.replicator.Stop()
	if f.replicator.IsMonitoring() {
		t.Error("still monitoring after Stop")
	}

	// Stop is idempotent.
	f.replicator.Stop()
}

func TestStopDuringRetryWindow(t *testing.T) {
	f := newFixture()
	f.replicator.cfg.RetryDelay = 200 * time.Millisecond
	first := api.NewMockStreamSession()
	f.dialer.Queue = []api.ConnectResult{{Session: first}}

	f.replicator.Start(context.Background())
	waitFor(t, "first session", func() bool { return f.dialer.Connects() == 1 })

	first.Fail(context.DeadlineExceeded)
	waitFor(t, "retry window", func() bool { return !f.replicator.IsMonitoring() })

	// Stop lands while the loop is waiting out the retry delay. It must
	// still tear the loop down instead of letting it redial.
	f.replicator.Stop()

	time.Sleep(300 * time.Millisecond)
	if got := f.dialer.Connects(); got != 1 {
		t.Errorf("connects = %d after Stop, want 1 (no redial)", got)
	}
}

func TestStartDuringRetryWindowIgnored(t *testing.T) {
	f := newFixture()
	f.replicator.cfg.RetryDelay = 200 * time.Millisecond
	first := api.NewMockStreamSession()
	f.dialer.Queue = []api.ConnectResult{{Session: first}}

	f.replicator.Start(context.Background())
	defer f.replicator.Stop()
	waitFor(t, "first session", func() bool { return f.dialer.Connects() == 1 })

	first.Fail(context.DeadlineExceeded)
	waitFor(t, "retry window", func() bool { return !f.replicator.IsMonitoring() })

	// A Start during the retry wait must not spawn a second monitor loop.
	f.replicator.Start(context.Background())

	time.Sleep(400 * time.Millisecond)
	if got := f.dialer.Connects(); got != 2 {
		t.Errorf("connects = %d, want 2 (one redial from the original loop)", got)
	}
}

func TestSessionFailureTriggersRetry(t *testing.T) {
	f := newFixture()
	first := api.NewMockStreamSession()
	second := api.NewMockStreamSession()
	f.dialer.Queue = []api.ConnectResult{{Session: first}, {Session: second}}

	f.replicator.Start(context.Background())
	defer f.replicator.Stop()
	waitFor(t, "first subscribe", func() bool { return f.dialer.Connects() == 1 })

	first.Fail(context.DeadlineExceeded)

	waitFor(t, "reconnect", func() bool { return f.dialer.Connects() == 2 })
	waitFor(t, "resubscribe", func() bool {
		subs := second.SubscribedTo()
		return len(subs) == 1 && subs[0] == testLeader
	})

	// The redial waits out the configured delay instead of spinning.
	elapsed := time.Duration(f.dialer.ConnectTimes[1] - f.dialer.ConnectTimes[0])
	if elapsed < 10*time.Millisecond {
		t.Errorf("reconnected after %s, want at least the 10ms retry delay", elapsed)
	}
}
