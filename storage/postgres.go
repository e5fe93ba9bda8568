package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"aptos-mirror/models"
)

// PostgresStore wraps PostgreSQL persistence with Redis caching
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewPostgres creates a new PostgreSQL store with connection pooling and Redis cache
func NewPostgres() (*PostgresStore, error) {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "mirror")
	password := getEnv("POSTGRES_PASSWORD", "mirror123")
	dbname := getEnv("POSTGRES_DB", "aptosmirror")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?pool_max_conns=20&pool_min_conns=4",
		user, password, host, port, dbname)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 4
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	// Keep slow queries from holding up replication
	config.ConnConfig.RuntimeParams["statement_timeout"] = "30000"
	config.ConnConfig.RuntimeParams["lock_timeout"] = "10000"

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", redisHost, redisPort),
		Password:     redisPassword,
		DB:           0,
		PoolSize:     50,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	store := &PostgresStore{
		pool:  pool,
		redis: rdb,
	}

	if err := store.ensureSchema(context.Background()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS mirror_actions (
	id BIGSERIAL PRIMARY KEY,
	leader_address TEXT NOT NULL,
	vault_id TEXT NOT NULL,
	pair_type TEXT NOT NULL,
	action TEXT NOT NULL,
	size_delta NUMERIC NOT NULL,
	collateral_delta NUMERIC NOT NULL,
	is_long BOOLEAN NOT NULL,
	is_increase BOOLEAN NOT NULL,
	price NUMERIC NOT NULL,
	tx_hash TEXT NOT NULL DEFAULT '',
	ledger_tx_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_mirror_actions_leader ON mirror_actions (leader_address, created_at DESC);

CREATE TABLE IF NOT EXISTS mirror_positions (
	vault_id TEXT NOT NULL,
	pair_type TEXT NOT NULL,
	leader_address TEXT NOT NULL,
	size NUMERIC NOT NULL,
	collateral NUMERIC NOT NULL,
	is_long BOOLEAN NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (vault_id, pair_type)
);

CREATE TABLE IF NOT EXISTS leaders (
	address TEXT PRIMARY KEY,
	vault_id TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT true,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// Close releases database connections
func (s *PostgresStore) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Redis exposes the shared Redis client for metrics storage.
func (s *PostgresStore) Redis() *redis.Client {
	return s.redis
}

// SaveMirrorAction appends one audit row for a replicated trade attempt.
func (s *PostgresStore) SaveMirrorAction(ctx context.Context, action models.MirrorAction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mirror_actions
			(leader_address, vault_id, pair_type, action, size_delta, collateral_delta,
			 is_long, is_increase, price, tx_hash, ledger_tx_hash, status, error_reason)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9::numeric, $10, $11, $12, $13)`,
		action.LeaderAddress, action.VaultID, action.PairType, string(action.Action),
		bigString(action.SizeDelta), bigString(action.CollateralDelta),
		action.IsLong, action.IsIncrease, bigString(action.Price),
		action.TxHash, action.LedgerTxHash, action.Status, action.ErrorReason)
	if err != nil {
		return fmt.Errorf("postgres: save mirror action: %w", err)
	}
	return nil
}

// ListMirrorActions returns recent audit rows, newest first. Empty leader
// address returns actions for all leaders.
func (s *PostgresStore) ListMirrorActions(ctx context.Context, leaderAddress string, limit int) ([]models.MirrorAction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, leader_address, vault_id, pair_type, action,
		       size_delta::text, collateral_delta::text, is_long, is_increase,
		       price::text, tx_hash, ledger_tx_hash, status, error_reason, created_at
		FROM mirror_actions`
	args := []any{}
	if leaderAddress != "" {
		query += ` WHERE leader_address = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, leaderAddress, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list mirror actions: %w", err)
	}
	defer rows.Close()

	var actions []models.MirrorAction
	for rows.Next() {
		var a models.MirrorAction
		var action, sizeDelta, collateralDelta, price string
		if err := rows.Scan(&a.ID, &a.LeaderAddress, &a.VaultID, &a.PairType, &action,
			&sizeDelta, &collateralDelta, &a.IsLong, &a.IsIncrease,
			&price, &a.TxHash, &a.LedgerTxHash, &a.Status, &a.ErrorReason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan mirror action: %w", err)
		}
		a.Action = models.Action(action)
		if a.SizeDelta, err = models.ParseAmount(sizeDelta); err != nil {
			return nil, fmt.Errorf("postgres: action %d size: %w", a.ID, err)
		}
		if a.CollateralDelta, err = models.ParseAmount(collateralDelta); err != nil {
			return nil, fmt.Errorf("postgres: action %d collateral: %w", a.ID, err)
		}
		if a.Price, err = models.ParseAmount(price); err != nil {
			return nil, fmt.Errorf("postgres: action %d price: %w", a.ID, err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// GetMirrorStats returns aggregate replication counters.
func (s *PostgresStore) GetMirrorStats(ctx context.Context) (map[string]interface{}, error) {
	var total, executed, failed int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'executed'),
		       count(*) FILTER (WHERE status = 'failed')
		FROM mirror_actions`).Scan(&total, &executed, &failed)
	if err != nil {
		return nil, fmt.Errorf("postgres: mirror stats: %w", err)
	}

	byAction := make(map[string]int)
	rows, err := s.pool.Query(ctx, `SELECT action, count(*) FROM mirror_actions GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("postgres: mirror stats by action: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		byAction[action] = count
	}

	return map[string]interface{}{
		"total_actions": total,
		"executed":      executed,
		"failed":        failed,
		"by_action":     byAction,
	}, rows.Err()
}

// UpdateMirrorPosition accumulates a signed delta into the vault's mirrored
// position for a pair. Negative deltas reduce the stored exposure.
func (s *PostgresStore) UpdateMirrorPosition(ctx context.Context, pos models.MirrorPosition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mirror_positions (vault_id, pair_type, leader_address, size, collateral, is_long, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, now())
		ON CONFLICT (vault_id, pair_type) DO UPDATE SET
			size = GREATEST(mirror_positions.size + EXCLUDED.size, 0),
			collateral = GREATEST(mirror_positions.collateral + EXCLUDED.collateral, 0),
			is_long = EXCLUDED.is_long,
			leader_address = EXCLUDED.leader_address,
			updated_at = now()`,
		pos.VaultID, pos.PairType, pos.LeaderAddress,
		pos.Size.String(), pos.Collateral.String(), pos.IsLong)
	if err != nil {
		return fmt.Errorf("postgres: update mirror position: %w", err)
	}
	return nil
}

// GetMirrorPosition returns the stored mirrored position, or nil when none
// exists.
func (s *PostgresStore) GetMirrorPosition(ctx context.Context, vaultID, pairType string) (*models.MirrorPosition, error) {
	var pos models.MirrorPosition
	var size, collateral string
	err := s.pool.QueryRow(ctx, `
		SELECT vault_id, pair_type, leader_address, size::text, collateral::text, is_long, updated_at
		FROM mirror_positions WHERE vault_id = $1 AND pair_type = $2`,
		vaultID, pairType).Scan(&pos.VaultID, &pos.PairType, &pos.LeaderAddress,
		&size, &collateral, &pos.IsLong, &pos.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get mirror position: %w", err)
	}
	if pos.Size, err = models.ParseAmount(size); err != nil {
		return nil, fmt.Errorf("postgres: mirror position size: %w", err)
	}
	if pos.Collateral, err = models.ParseAmount(collateral); err != nil {
		return nil, fmt.Errorf("postgres: mirror position collateral: %w", err)
	}
	return &pos, nil
}

// ClearMirrorPosition removes the stored mirrored position after a close.
func (s *PostgresStore) ClearMirrorPosition(ctx context.Context, vaultID, pairType string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM mirror_positions WHERE vault_id = $1 AND pair_type = $2`,
		vaultID, pairType)
	if err != nil {
		return fmt.Errorf("postgres: clear mirror position: %w", err)
	}
	return nil
}

// GetLeaders lists all registered lead traders.
func (s *PostgresStore) GetLeaders(ctx context.Context) ([]models.Leader, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, vault_id, enabled, added_at FROM leaders ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get leaders: %w", err)
	}
	defer rows.Close()

	var leaders []models.Leader
	for rows.Next() {
		var l models.Leader
		if err := rows.Scan(&l.Address, &l.VaultID, &l.Enabled, &l.AddedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan leader: %w", err)
		}
		leaders = append(leaders, l)
	}
	return leaders, rows.Err()
}

// SaveLeader upserts a leader registration.
func (s *PostgresStore) SaveLeader(ctx context.Context, leader models.Leader) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leaders (address, vault_id, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET vault_id = EXCLUDED.vault_id, enabled = EXCLUDED.enabled`,
		leader.Address, leader.VaultID, leader.Enabled)
	if err != nil {
		return fmt.Errorf("postgres: save leader: %w", err)
	}
	return nil
}

// DeleteLeader removes a leader registration.
func (s *PostgresStore) DeleteLeader(ctx context.Context, address string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM leaders WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("postgres: delete leader: %w", err)
	}
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
