package storage

import (
	"context"
	"math/big"
	"os"
	"testing"

	"aptos-mirror/models"
)

// Integration test against a real PostgreSQL and Redis. Needs the
// POSTGRES_* and REDIS_* environment configured; skipped in short mode.
func TestPostgresRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("POSTGRES_HOST") == "" {
		t.Skip("POSTGRES_HOST not set")
	}

	store, err := NewPostgres()
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	pair := "0xtest::pair_types::IT_USD"
	vault := "it-vault"

	t.Cleanup(func() {
		store.ClearMirrorPosition(ctx, vault, pair)
	})

	if err := store.UpdateMirrorPosition(ctx, models.MirrorPosition{
		LeaderAddress: "0xtestleader",
		VaultID:       vault,
		PairType:      pair,
		Size:          big.NewInt(123456789),
		Collateral:    big.NewInt(9876),
		IsLong:        true,
	}); err != nil {
		t.Fatalf("UpdateMirrorPosition: %v", err)
	}

	pos, err := store.GetMirrorPosition(ctx, vault, pair)
	if err != nil {
		t.Fatalf("GetMirrorPosition: %v", err)
	}
	if pos == nil || pos.Size.Int64() != 123456789 {
		t.Fatalf("position = %+v, want size 123456789", pos)
	}

	if err := store.SaveMirrorAction(ctx, models.MirrorAction{
		LeaderAddress:   "0xtestleader",
		VaultID:         vault,
		PairType:        pair,
		Action:          models.ActionOpen,
		SizeDelta:       big.NewInt(123456789),
		CollateralDelta: big.NewInt(9876),
		IsLong:          true,
		IsIncrease:      true,
		Price:           big.NewInt(67000),
		TxHash:          "0xtesttx",
		Status:          "executed",
	}); err != nil {
		t.Fatalf("SaveMirrorAction: %v", err)
	}

	actions, err := store.ListMirrorActions(ctx, "0xtestleader", 1)
	if err != nil {
		t.Fatalf("ListMirrorActions: %v", err)
	}
	if len(actions) != 1 || actions[0].SizeDelta.Int64() != 123456789 {
		t.Fatalf("actions = %+v", actions)
	}
}
