package syncer

import (
	"math/big"

	"aptos-mirror/config"
	"aptos-mirror/models"
)

// Sizing modes.
const (
	SizingProportional = "proportional"
	SizingFixed        = "fixed"
)

var bpsDenominator = big.NewInt(10000)

// SizingPolicy decides how large the vault-side order is relative to the
// leader's. All arithmetic is integer; results round down.
type SizingPolicy struct {
	Mode             string
	CollateralBps    int
	PreserveLeverage bool
	MinSize          *big.Int
}

// PolicyFromConfig builds a SizingPolicy from the replicator config section.
// An unparseable min size is treated as zero; config validation catches the
// mode before this runs.
func PolicyFromConfig(cfg config.ReplicatorConfig) SizingPolicy {
	minSize, err := models.ParseAmount(cfg.MinSizeBaseUnits)
	if err != nil {
		minSize = big.NewInt(0)
	}
	return SizingPolicy{
		Mode:             cfg.SizingMode,
		CollateralBps:    cfg.CollateralBps,
		PreserveLeverage: cfg.PreserveLeverage,
		MinSize:          minSize,
	}
}

// MirrorSize scales a leader-side size to the vault. In proportional mode
// the result is leaderSize * vaultValue / leaderValue, rounded down. When
// the leader's account value is unknown or zero the size is copied 1:1 and
// the second return value reports the fallback so the caller can log it.
// Fixed mode always copies 1:1.
func (p SizingPolicy) MirrorSize(leaderSize, vaultValue, leaderValue *big.Int) (*big.Int, bool) {
	if p.Mode != SizingProportional {
		return new(big.Int).Set(leaderSize), false
	}
	if leaderValue == nil || leaderValue.Sign() <= 0 {
		return new(big.Int).Set(leaderSize), true
	}

	scaled := new(big.Int).Mul(leaderSize, vaultValue)
	scaled.Quo(scaled, leaderValue)
	return scaled, false
}

// CollateralFor picks the collateral to post alongside a vault-side size.
// When leverage preservation is on and the leader's ratio is known, the
// leader's collateral/size ratio is applied; otherwise collateral is a
// flat basis-point fraction of the size.
func (p SizingPolicy) CollateralFor(size, leaderCollateral, leaderSize *big.Int) *big.Int {
	if p.PreserveLeverage && leaderSize != nil && leaderSize.Sign() > 0 && leaderCollateral != nil && leaderCollateral.Sign() > 0 {
		collateral := new(big.Int).Mul(size, leaderCollateral)
		collateral.Quo(collateral, leaderSize)
		return collateral
	}

	collateral := new(big.Int).Mul(size, big.NewInt(int64(p.CollateralBps)))
	collateral.Quo(collateral, bpsDenominator)
	return collateral
}

// BelowMinimum reports whether a computed size is too small to submit.
func (p SizingPolicy) BelowMinimum(size *big.Int) bool {
	if size.Sign() <= 0 {
		return true
	}
	if p.MinSize != nil && size.Cmp(p.MinSize) < 0 {
		return true
	}
	return false
}
