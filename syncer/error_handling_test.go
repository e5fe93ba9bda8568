package syncer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"aptos-mirror/models"
)

func TestFailedActionDoesNotBlockOthers(t *testing.T) {
	f := newFixture()
	f.submitter.FailOnPair[testBTC] = errors.New("insufficient gas")
	f.market.SetPositions([]models.Position{
		pos(testBTC, 500000000, 50000000, 67000, true),
		pos(testETH, 200000000, 20000000, 3500, false),
	})

	f.replicator.handleAccountUpdate(context.Background(), update())

	submitted := f.submitter.SubmittedPayloads()
	if len(submitted) != 1 {
		t.Fatalf("submitted %d orders, want 1", len(submitted))
	}
	if submitted[0].TypeArguments[0] != testETH {
		t.Errorf("surviving order pair = %s, want %s", submitted[0].TypeArguments[0], testETH)
	}

	if len(f.store.Actions) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(f.store.Actions))
	}
	byPair := make(map[string]string)
	for _, a := range f.store.Actions {
		byPair[a.PairType] = a.Status
	}
	if byPair[testBTC] != "failed" {
		t.Errorf("BTC status = %s, want failed", byPair[testBTC])
	}
	if byPair[testETH] != "executed" {
		t.Errorf("ETH status = %s, want executed", byPair[testETH])
	}
}

func TestSnapshotAdvancesPastFailedAction(t *testing.T) {
	f := newFixture()
	f.submitter.ErrorOnNext = errors.New("sequence number too old")
	positions := []models.Position{pos(testBTC, 500000000, 50000000, 67000, true)}
	f.market.SetPositions(positions)

	f.replicator.handleAccountUpdate(context.Background(), update())
	if f.submitter.Calls != 1 {
		t.Fatalf("first update submitted %d orders, want 1 attempt", f.submitter.Calls)
	}

	// The snapshot now matches what the leader holds; the failed open is
	// not retried on the next notification.
	f.replicator.handleAccountUpdate(context.Background(), update())
	if f.submitter.Calls != 1 {
		t.Errorf("failed open was retried, submit calls = %d", f.submitter.Calls)
	}
}

func TestClosedPairLeavesSnapshotEvenWhenCloseFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.market.SetPositions([]models.Position{pos(testBTC, 500000000, 50000000, 67000, true)})
	f.replicator.syncInitialPositions(ctx)

	f.submitter.ErrorOnNext = errors.New("market paused")
	f.market.SetPositions(nil)
	f.replicator.handleAccountUpdate(ctx, update())

	if len(f.store.Actions) != 1 || f.store.Actions[0].Status != "failed" {
		t.Fatalf("audit trail = %+v, want one failed close", f.store.Actions)
	}

	// No second attempt: the pair is gone from the snapshot.
	f.replicator.handleAccountUpdate(ctx, update())
	if got := f.submitter.Calls; got != 1 {
		t.Errorf("close was retried, submit calls = %d", got)
	}
}

func TestVaultValuationFailureFailsAction(t *testing.T) {
	f := newFixture()
	f.market.ErrorOnNext["GetVaultBalance"] = errors.New("fullnode 503")
	f.market.SetPositions([]models.Position{pos(testBTC, 500000000, 50000000, 67000, true)})

	f.replicator.handleAccountUpdate(context.Background(), update())

	if f.submitter.Calls != 0 {
		t.Errorf("submitted %d orders with an unknown vault value, want 0", f.submitter.Calls)
	}
	if len(f.store.Actions) != 1 || f.store.Actions[0].Status != "failed" {
		t.Fatalf("audit trail = %+v, want one failed row", f.store.Actions)
	}
	if f.store.Actions[0].ErrorReason == "" {
		t.Error("failed audit row missing error reason")
	}
}

func TestAccountValuationFailureFailsAction(t *testing.T) {
	f := newFixture()
	f.market.SetPositions([]models.Position{pos(testBTC, 500000000, 50000000, 67000, true)})
	f.market.ErrorOnNext["GetAccountValue"] = errors.New("fullnode 503")

	f.replicator.handleAccountUpdate(context.Background(), update())

	if f.submitter.Calls != 0 {
		t.Errorf("submitted %d orders, want 0", f.submitter.Calls)
	}
	if len(f.store.Actions) != 1 || f.store.Actions[0].Status != "failed" {
		t.Fatalf("audit trail = %+v, want one failed row", f.store.Actions)
	}
}

func TestPositionFetchFailureSkipsUpdate(t *testing.T) {
	f := newFixture()
	f.market.ErrorOnNext["GetPositions"] = errors.New("connection reset")

	f.replicator.handleAccountUpdate(context.Background(), update())

	if f.submitter.Calls != 0 {
		t.Errorf("submitted %d orders after a failed fetch, want 0", f.submitter.Calls)
	}
	if len(f.store.Actions) != 0 {
		t.Errorf("audit rows = %d, want 0", len(f.store.Actions))
	}
}

func TestSizeBelowMinimumIsRejected(t *testing.T) {
	f := newFixture()
	f.replicator.cfg.Sizing.MinSize = big.NewInt(100000000)
	f.market.SetPositions([]models.Position{pos(testBTC, 500000000, 50000000, 67000, true)})

	f.replicator.handleAccountUpdate(context.Background(), update())

	// 500000000 scales to 50000000, under the 100000000 floor.
	if f.submitter.Calls != 0 {
		t.Errorf("submitted %d orders below the minimum size, want 0", f.submitter.Calls)
	}
	if len(f.store.Actions) != 1 || f.store.Actions[0].Status != "failed" {
		t.Fatalf("audit trail = %+v, want one failed row", f.store.Actions)
	}
}
