package storage

import (
	"context"
	"math/big"
	"sync"
	"time"

	"aptos-mirror/models"
)

// MockStore is an in-memory DataStore for testing
type MockStore struct {
	mu sync.Mutex

	Actions   []models.MirrorAction
	Positions map[string]models.MirrorPosition // keyed by vaultID|pairType
	Leaders   map[string]models.Leader

	// Call tracking
	Calls map[string]int

	// Error injection (one-shot, keyed by method name)
	ErrorOnNext map[string]error
}

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		Positions:   make(map[string]models.MirrorPosition),
		Leaders:     make(map[string]models.Leader),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockStore) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

func posKey(vaultID, pairType string) string {
	return vaultID + "|" + pairType
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) SaveMirrorAction(ctx context.Context, action models.MirrorAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SaveMirrorAction"); err != nil {
		return err
	}
	action.ID = int64(len(m.Actions) + 1)
	action.CreatedAt = time.Now().UTC()
	m.Actions = append(m.Actions, action)
	return nil
}

func (m *MockStore) ListMirrorActions(ctx context.Context, leaderAddress string, limit int) ([]models.MirrorAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("ListMirrorActions"); err != nil {
		return nil, err
	}
	var out []models.MirrorAction
	for i := len(m.Actions) - 1; i >= 0; i-- {
		if leaderAddress != "" && m.Actions[i].LeaderAddress != leaderAddress {
			continue
		}
		out = append(out, m.Actions[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockStore) GetMirrorStats(ctx context.Context) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetMirrorStats"); err != nil {
		return nil, err
	}
	executed, failed := 0, 0
	byAction := make(map[string]int)
	for _, a := range m.Actions {
		if a.Status == "executed" {
			executed++
		} else {
			failed++
		}
		byAction[string(a.Action)]++
	}
	return map[string]interface{}{
		"total_actions": len(m.Actions),
		"executed":      executed,
		"failed":        failed,
		"by_action":     byAction,
	}, nil
}

func (m *MockStore) UpdateMirrorPosition(ctx context.Context, pos models.MirrorPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("UpdateMirrorPosition"); err != nil {
		return err
	}

	key := posKey(pos.VaultID, pos.PairType)
	existing, ok := m.Positions[key]
	if !ok {
		existing = models.MirrorPosition{
			VaultID:       pos.VaultID,
			PairType:      pos.PairType,
			LeaderAddress: pos.LeaderAddress,
			Size:          big.NewInt(0),
			Collateral:    big.NewInt(0),
		}
	}
	existing.Size = new(big.Int).Add(existing.Size, pos.Size)
	existing.Collateral = new(big.Int).Add(existing.Collateral, pos.Collateral)
	if existing.Size.Sign() < 0 {
		existing.Size = big.NewInt(0)
	}
	if existing.Collateral.Sign() < 0 {
		existing.Collateral = big.NewInt(0)
	}
	existing.IsLong = pos.IsLong
	existing.LeaderAddress = pos.LeaderAddress
	existing.UpdatedAt = time.Now().UTC()
	m.Positions[key] = existing
	return nil
}

func (m *MockStore) GetMirrorPosition(ctx context.Context, vaultID, pairType string) (*models.MirrorPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetMirrorPosition"); err != nil {
		return nil, err
	}
	pos, ok := m.Positions[posKey(vaultID, pairType)]
	if !ok {
		return nil, nil
	}
	clone := pos
	clone.Size = new(big.Int).Set(pos.Size)
	clone.Collateral = new(big.Int).Set(pos.Collateral)
	return &clone, nil
}

func (m *MockStore) ClearMirrorPosition(ctx context.Context, vaultID, pairType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("ClearMirrorPosition"); err != nil {
		return err
	}
	delete(m.Positions, posKey(vaultID, pairType))
	return nil
}

func (m *MockStore) GetLeaders(ctx context.Context) ([]models.Leader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetLeaders"); err != nil {
		return nil, err
	}
	out := make([]models.Leader, 0, len(m.Leaders))
	for _, l := range m.Leaders {
		out = append(out, l)
	}
	return out, nil
}

func (m *MockStore) SaveLeader(ctx context.Context, leader models.Leader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SaveLeader"); err != nil {
		return err
	}
	if leader.AddedAt.IsZero() {
		leader.AddedAt = time.Now().UTC()
	}
	m.Leaders[leader.Address] = leader
	return nil
}

func (m *MockStore) DeleteLeader(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("DeleteLeader"); err != nil {
		return err
	}
	delete(m.Leaders, address)
	return nil
}

