package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const metricsRedisKey = "mirror:metrics"

// Metrics counts what one replicator has done since it was created.
// All methods are safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	updatesReceived int64
	actionsMirrored int64
	actionsFailed   int64
	opened          int64
	changed         int64
	closed          int64
	sessionRestarts int64
	lastUpdateAt    time.Time
	lastActionAt    time.Time
}

// MetricsSnapshot is a point-in-time copy of a replicator's counters.
type MetricsSnapshot struct {
	UpdatesReceived int64     `json:"updates_received"`
	ActionsMirrored int64     `json:"actions_mirrored"`
	ActionsFailed   int64     `json:"actions_failed"`
	Opened          int64     `json:"opened"`
	Changed         int64     `json:"changed"`
	Closed          int64     `json:"closed"`
	SessionRestarts int64     `json:"session_restarts"`
	LastUpdateAt    time.Time `json:"last_update_at"`
	LastActionAt    time.Time `json:"last_action_at"`
}

func (m *Metrics) RecordUpdate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatesReceived++
	m.lastUpdateAt = time.Now().UTC()
}

func (m *Metrics) RecordAction(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.actionsMirrored++
	} else {
		m.actionsFailed++
	}
	m.lastActionAt = time.Now().UTC()
}

func (m *Metrics) RecordDiff(diff PositionDiff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened += int64(len(diff.Opened))
	m.changed += int64(len(diff.Changed))
	m.closed += int64(len(diff.Closed))
}

func (m *Metrics) RecordRestart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionRestarts++
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		UpdatesReceived: m.updatesReceived,
		ActionsMirrored: m.actionsMirrored,
		ActionsFailed:   m.actionsFailed,
		Opened:          m.opened,
		Changed:         m.changed,
		Closed:          m.closed,
		SessionRestarts: m.sessionRestarts,
		LastUpdateAt:    m.lastUpdateAt,
		LastActionAt:    m.lastActionAt,
	}
}

// SystemMetrics aggregates every replicator's counters for the API and for
// persistence across restarts.
type SystemMetrics struct {
	Replicators map[string]MetricsSnapshot `json:"replicators"` // keyed by leader address
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// MetricsStore persists aggregated metrics in Redis so they survive worker
// restarts and are visible to the API process.
type MetricsStore struct {
	rdb *redis.Client
}

// NewMetricsStore wraps a Redis client. A nil client disables persistence.
func NewMetricsStore(rdb *redis.Client) *MetricsStore {
	return &MetricsStore{rdb: rdb}
}

// Save writes the aggregated metrics under a well-known key.
func (s *MetricsStore) Save(ctx context.Context, metrics SystemMetrics) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	metrics.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("metrics: marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, metricsRedisKey, data, 0).Err(); err != nil {
		return fmt.Errorf("metrics: save: %w", err)
	}
	return nil
}

// Load reads the last persisted metrics. Returns an empty set when nothing
// has been saved yet.
func (s *MetricsStore) Load(ctx context.Context) (SystemMetrics, error) {
	empty := SystemMetrics{Replicators: make(map[string]MetricsSnapshot)}
	if s == nil || s.rdb == nil {
		return empty, nil
	}
	data, err := s.rdb.Get(ctx, metricsRedisKey).Result()
	if err == redis.Nil {
		return empty, nil
	}
	if err != nil {
		return empty, fmt.Errorf("metrics: load: %w", err)
	}
	var metrics SystemMetrics
	if err := json.Unmarshal([]byte(data), &metrics); err != nil {
		return empty, fmt.Errorf("metrics: unmarshal: %w", err)
	}
	if metrics.Replicators == nil {
		metrics.Replicators = make(map[string]MetricsSnapshot)
	}
	return metrics, nil
}
