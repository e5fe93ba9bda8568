package syncer

import (
	"sort"

	"aptos-mirror/models"
)

// PositionChange pairs the previous and current snapshot of one position
// whose size moved.
type PositionChange struct {
	Old models.Position
	New models.Position
}

// PositionDiff classifies everything that changed between two snapshots of
// a leader's account.
type PositionDiff struct {
	Opened  []models.Position
	Changed []PositionChange
	Closed  []models.Position
}

// Empty reports whether the diff carries no work.
func (d PositionDiff) Empty() bool {
	return len(d.Opened) == 0 && len(d.Changed) == 0 && len(d.Closed) == 0
}

// DiffPositions compares the last known snapshot against a freshly fetched
// position set. A pair absent from the snapshot is opened; a pair present in
// both with a different size is changed; a pair present in the snapshot but
// absent from the fetch is closed. Sizes are compared exactly.
//
// Results are ordered by pair type so replication is deterministic.
func DiffPositions(prev map[string]models.Position, current []models.Position) PositionDiff {
	var diff PositionDiff

	seen := make(map[string]bool, len(current))
	for _, pos := range current {
		seen[pos.PairType] = true

		old, known := prev[pos.PairType]
		if !known {
			diff.Opened = append(diff.Opened, pos.Clone())
			continue
		}
		if old.Size.Cmp(pos.Size) != 0 {
			diff.Changed = append(diff.Changed, PositionChange{
				Old: old.Clone(),
				New: pos.Clone(),
			})
		}
	}

	closedPairs := make([]string, 0)
	for pair := range prev {
		if !seen[pair] {
			closedPairs = append(closedPairs, pair)
		}
	}
	sort.Strings(closedPairs)
	for _, pair := range closedPairs {
		diff.Closed = append(diff.Closed, prev[pair].Clone())
	}

	sort.Slice(diff.Opened, func(i, j int) bool {
		return diff.Opened[i].PairType < diff.Opened[j].PairType
	})
	sort.Slice(diff.Changed, func(i, j int) bool {
		return diff.Changed[i].New.PairType < diff.Changed[j].New.PairType
	})

	return diff
}

// Snapshot rebuilds a pair-keyed snapshot map from a fetched position set.
func Snapshot(positions []models.Position) map[string]models.Position {
	snap := make(map[string]models.Position, len(positions))
	for _, pos := range positions {
		snap[pos.PairType] = pos.Clone()
	}
	return snap
}
