package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"aptos-mirror/api"
	"aptos-mirror/models"
	"aptos-mirror/storage"
)

// Manager runs one PositionReplicator per followed leader and owns their
// lifecycle. All replicators share the market client, the vault operator's
// submitter, the ledger client and the stream dialer.
type Manager struct {
	base ReplicatorConfig // LeaderAddress/VaultID filled per leader

	market       api.MarketAPI
	submitter    api.TransactionSubmitter
	ledger       api.TradeLedger
	dialer       api.StreamDialer
	store        storage.DataStore
	metricsStore *MetricsStore

	mu          sync.Mutex
	replicators map[string]*PositionReplicator

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// LeaderStatus describes one followed leader for the API.
type LeaderStatus struct {
	Leader     string          `json:"leader"`
	VaultID    string          `json:"vault_id"`
	Monitoring bool            `json:"monitoring"`
	Metrics    MetricsSnapshot `json:"metrics"`
}

// NewManager creates an empty manager.
func NewManager(
	base ReplicatorConfig,
	market api.MarketAPI,
	submitter api.TransactionSubmitter,
	ledger api.TradeLedger,
	dialer api.StreamDialer,
	store storage.DataStore,
	metricsStore *MetricsStore,
) *Manager {
	return &Manager{
		base:         base,
		market:       market,
		submitter:    submitter,
		ledger:       ledger,
		dialer:       dialer,
		store:        store,
		metricsStore: metricsStore,
		replicators:  make(map[string]*PositionReplicator),
		stopCh:       make(chan struct{}),
	}
}

// Follow starts mirroring a leader and persists it in the leader registry.
func (m *Manager) Follow(ctx context.Context, leader models.Leader) error {
	if leader.Address == "" || leader.VaultID == "" {
		return fmt.Errorf("manager: leader needs address and vault_id")
	}

	m.mu.Lock()
	if _, exists := m.replicators[leader.Address]; exists {
		m.mu.Unlock()
		return fmt.Errorf("manager: already following %s", leader.Address)
	}

	cfg := m.base
	cfg.LeaderAddress = leader.Address
	cfg.VaultID = leader.VaultID
	replicator := NewPositionReplicator(cfg, m.market, m.submitter, m.ledger, m.dialer, m.store)
	m.replicators[leader.Address] = replicator
	m.mu.Unlock()

	leader.Enabled = true
	if err := m.store.SaveLeader(ctx, leader); err != nil {
		log.Printf("[Manager] persisting leader %s failed: %v", leader.Address, err)
	}

	replicator.Start(ctx)
	return nil
}

// Unfollow stops mirroring a leader and removes it from the registry.
func (m *Manager) Unfollow(ctx context.Context, address string) error {
	m.mu.Lock()
	replicator, exists := m.replicators[address]
	if exists {
		delete(m.replicators, address)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("manager: not following %s", address)
	}

	replicator.Stop()
	if err := m.store.DeleteLeader(ctx, address); err != nil {
		log.Printf("[Manager] removing leader %s failed: %v", address, err)
	}
	return nil
}

// Resume starts replicators for every enabled leader in the registry. Used
// at process startup.
func (m *Manager) Resume(ctx context.Context) error {
	leaders, err := m.store.GetLeaders(ctx)
	if err != nil {
		return fmt.Errorf("manager: loading leaders: %w", err)
	}

	for _, leader := range leaders {
		if !leader.Enabled {
			continue
		}
		m.mu.Lock()
		_, running := m.replicators[leader.Address]
		m.mu.Unlock()
		if running {
			continue
		}
		if err := m.Follow(ctx, leader); err != nil {
			log.Printf("[Manager] resuming %s failed: %v", leader.Address, err)
		}
	}
	return nil
}

// Status returns the current state of every replicator.
func (m *Manager) Status() []LeaderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LeaderStatus, 0, len(m.replicators))
	for _, r := range m.replicators {
		out = append(out, LeaderStatus{
			Leader:     r.Leader(),
			VaultID:    r.VaultID(),
			Monitoring: r.IsMonitoring(),
			Metrics:    r.Metrics().Snapshot(),
		})
	}
	return out
}

// SystemMetrics aggregates every replicator's counters.
func (m *Manager) SystemMetrics() SystemMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := SystemMetrics{
		Replicators: make(map[string]MetricsSnapshot, len(m.replicators)),
		UpdatedAt:   time.Now().UTC(),
	}
	for addr, r := range m.replicators {
		metrics.Replicators[addr] = r.Metrics().Snapshot()
	}
	return metrics
}

// StartMetricsLoop periodically persists aggregated metrics to Redis so
// they survive restarts. No-op when no metrics store is wired.
func (m *Manager) StartMetricsLoop(ctx context.Context, interval time.Duration) {
	if m.metricsStore == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				if err := m.metricsStore.Save(ctx, m.SystemMetrics()); err != nil {
					log.Printf("[Manager] persisting metrics failed: %v", err)
				}
			}
		}
	}()
}

// Stop shuts down every replicator and the metrics loop.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	replicators := make([]*PositionReplicator, 0, len(m.replicators))
	for _, r := range m.replicators {
		replicators = append(replicators, r)
	}
	m.mu.Unlock()

	for _, r := range replicators {
		r.Stop()
	}
	log.Printf("[Manager] stopped %d replicators", len(replicators))
}
