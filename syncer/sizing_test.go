package syncer

import (
	"math/big"
	"testing"

	"aptos-mirror/config"
)

func TestMirrorSizeProportional(t *testing.T) {
	policy := SizingPolicy{Mode: SizingProportional, CollateralBps: 1000}

	tests := []struct {
		name         string
		leaderSize   int64
		vaultValue   int64
		leaderValue  int64
		want         int64
		wantFallback bool
	}{
		{
			name:       "vault a tenth of the leader",
			leaderSize: 250000000, vaultValue: 1000, leaderValue: 10000,
			want: 25000000,
		},
		{
			name:       "vault larger than leader",
			leaderSize: 100, vaultValue: 3000, leaderValue: 1000,
			want: 300,
		},
		{
			name:       "rounds down",
			leaderSize: 10, vaultValue: 1, leaderValue: 3,
			want: 3,
		},
		{
			name:       "zero leader value copies 1:1",
			leaderSize: 100, vaultValue: 1000, leaderValue: 0,
			want: 100, wantFallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fellBack := policy.MirrorSize(
				big.NewInt(tt.leaderSize), big.NewInt(tt.vaultValue), big.NewInt(tt.leaderValue))
			if got.Int64() != tt.want {
				t.Errorf("size = %s, want %d", got, tt.want)
			}
			if fellBack != tt.wantFallback {
				t.Errorf("fallback = %v, want %v", fellBack, tt.wantFallback)
			}
		})
	}
}

func TestMirrorSizeFixed(t *testing.T) {
	policy := SizingPolicy{Mode: SizingFixed}

	got, fellBack := policy.MirrorSize(big.NewInt(500), big.NewInt(1), big.NewInt(1000000))
	if got.Int64() != 500 {
		t.Errorf("size = %s, want 500", got)
	}
	if fellBack {
		t.Error("fixed mode reported a fallback")
	}
}

func TestMirrorSizeDoesNotMutateInputs(t *testing.T) {
	policy := SizingPolicy{Mode: SizingProportional}
	leaderSize := big.NewInt(100)

	got, _ := policy.MirrorSize(leaderSize, big.NewInt(50), big.NewInt(100))
	got.SetInt64(0)

	if leaderSize.Int64() != 100 {
		t.Error("MirrorSize mutated the leader size")
	}
}

func TestCollateralFor(t *testing.T) {
	tests := []struct {
		name             string
		preserveLeverage bool
		bps              int
		size             int64
		leaderCollateral int64
		leaderSize       int64
		want             int64
	}{
		{
			name:             "preserves leader leverage",
			preserveLeverage: true, bps: 1000,
			size: 1000, leaderCollateral: 50, leaderSize: 500,
			want: 100, // leader runs 10x, so does the vault
		},
		{
			name:             "bps fallback when ratio unknown",
			preserveLeverage: true, bps: 1000,
			size: 1000, leaderCollateral: 0, leaderSize: 500,
			want: 100, // 10% of size
		},
		{
			name: "bps mode",
			bps:  2500,
			size: 1000, leaderCollateral: 50, leaderSize: 500,
			want: 250,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := SizingPolicy{
				Mode:             SizingProportional,
				CollateralBps:    tt.bps,
				PreserveLeverage: tt.preserveLeverage,
			}
			got := policy.CollateralFor(
				big.NewInt(tt.size), big.NewInt(tt.leaderCollateral), big.NewInt(tt.leaderSize))
			if got.Int64() != tt.want {
				t.Errorf("collateral = %s, want %d", got, tt.want)
			}
		})
	}
}

func TestBelowMinimum(t *testing.T) {
	policy := SizingPolicy{MinSize: big.NewInt(100)}

	if !policy.BelowMinimum(big.NewInt(0)) {
		t.Error("zero size should be below minimum")
	}
	if !policy.BelowMinimum(big.NewInt(99)) {
		t.Error("99 should be below a minimum of 100")
	}
	if policy.BelowMinimum(big.NewInt(100)) {
		t.Error("100 should pass a minimum of 100")
	}
}

func TestPolicyFromConfig(t *testing.T) {
	policy := PolicyFromConfig(config.ReplicatorConfig{
		SizingMode:       "proportional",
		CollateralBps:    1000,
		PreserveLeverage: true,
		MinSizeBaseUnits: "1000000",
	})

	if policy.Mode != SizingProportional {
		t.Errorf("mode = %q", policy.Mode)
	}
	if policy.MinSize.Int64() != 1000000 {
		t.Errorf("min size = %s, want 1000000", policy.MinSize)
	}

	// Unparseable minimum degrades to zero instead of failing.
	policy = PolicyFromConfig(config.ReplicatorConfig{SizingMode: "fixed", MinSizeBaseUnits: "bogus"})
	if policy.MinSize.Sign() != 0 {
		t.Errorf("min size = %s, want 0", policy.MinSize)
	}
}
