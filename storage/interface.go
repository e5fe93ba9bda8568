package storage

import (
	"context"

	"aptos-mirror/models"
)

// DataStore defines the interface for storage backends
type DataStore interface {
	Close() error

	// Mirror action audit trail
	SaveMirrorAction(ctx context.Context, action models.MirrorAction) error
	ListMirrorActions(ctx context.Context, leaderAddress string, limit int) ([]models.MirrorAction, error)
	GetMirrorStats(ctx context.Context) (map[string]interface{}, error)

	// Mirrored vault positions. UpdateMirrorPosition accumulates signed
	// deltas; Clear removes the row entirely.
	UpdateMirrorPosition(ctx context.Context, pos models.MirrorPosition) error
	GetMirrorPosition(ctx context.Context, vaultID, pairType string) (*models.MirrorPosition, error)
	ClearMirrorPosition(ctx context.Context, vaultID, pairType string) error

	// Leader registry
	GetLeaders(ctx context.Context) ([]models.Leader, error)
	SaveLeader(ctx context.Context, leader models.Leader) error
	DeleteLeader(ctx context.Context, address string) error
}

// Ensure both implementations satisfy the interface
var _ DataStore = (*PostgresStore)(nil)
var _ DataStore = (*MockStore)(nil)
