// Package postgres is the reference store.Store implementation backed
// by pgxpool.Pool. Every logical "table" the engine addresses
// (workflows, tasks, workItems, auditTraces, auditSpans,
// auditWorkflowSnapshots, auditContexts, plus host-defined aggregate
// tables) maps to one Postgres table of shape
// (id text primary key, data jsonb not null), with the index names
// the engine passes to QueryByIndex/Unique corresponding to jsonb
// field names extracted via expression indexes — see schema.sql.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowforge/flowforge/engine/core"
	"github.com/flowforge/flowforge/engine/store"
	"github.com/flowforge/flowforge/pkg/logger"
)

// Store is the concrete PostgreSQL driver backed by pgxpool.Pool. It
// intentionally does not leak pgx types through its public API.
type Store struct {
	pool    *pgxpool.Pool
	metrics *poolMetrics
}

// NewStore initializes the pgx pool using the provided config and
// performs a health check.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("postgres: config is required")
	}
	log := logger.FromContext(ctx)
	poolCfg, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	metricsTracker := newPoolMetrics()
	maxConns := int32(20)
	if cfg.MaxOpenConns > 0 {
		maxConns = clampIntToInt32WithLimit(cfg.MaxOpenConns, math.MaxInt32)
	}
	minConns := int32(2)
	if cfg.MaxIdleConns > 0 {
		if candidate := clampIntToInt32WithLimit(cfg.MaxIdleConns, maxConns); candidate > 0 {
			minConns = candidate
		}
	}
	poolCfg.MaxConns = maxConns
	poolCfg.MinConns = minConns
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	metricsTracker.attach(pool)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		metricsTracker.unregister()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	log.With("store_driver", "postgres", "host", cfg.Host, "port", cfg.Port, "db_name", cfg.DBName).
		Info("store initialized")
	return &Store{pool: pool, metrics: metricsTracker}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close(ctx context.Context) error {
	s.metrics.unregister()
	s.pool.Close()
	logger.FromContext(ctx).Info("postgres store closed")
	return nil
}

// Pool exposes the internal pool for driver-local usage.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// HealthCheck verifies the connection is alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.pool.Ping(hctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

func clampIntToInt32WithLimit(value int, limit int32) int32 {
	if value <= 0 {
		return 0
	}
	if value >= int(limit) {
		return limit
	}
	if value > int(math.MaxInt32) {
		return math.MaxInt32
	}
	return int32(value)
}

func (s *Store) Insert(ctx context.Context, table string, row store.Row) (core.ID, error) {
	id := core.MustNewID()
	withId := make(store.Row, len(row)+1)
	for k, v := range row {
		withId[k] = v
	}
	// The row id is embedded in data (not just the id column) so
	// callers that read a row back via QueryByIndex/Unique can address
	// a later Patch/Delete by row["id"] without a second round trip.
	withId["id"] = id.String()
	data, err := json.Marshal(withId)
	if err != nil {
		return "", fmt.Errorf("postgres: marshal row: %w", err)
	}
	sql := fmt.Sprintf(`INSERT INTO %q (id, data) VALUES ($1, $2)`, table)
	if _, err := s.pool.Exec(ctx, sql, id.String(), data); err != nil {
		return "", fmt.Errorf("postgres: insert %s: %w", table, err)
	}
	return id, nil
}

func (s *Store) Patch(ctx context.Context, table string, id core.ID, partial store.Row) error {
	data, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("postgres: marshal patch: %w", err)
	}
	sql := fmt.Sprintf(`UPDATE %q SET data = data || $2::jsonb WHERE id = $1`, table)
	tag, err := s.pool.Exec(ctx, sql, id.String(), data)
	if err != nil {
		return fmt.Errorf("postgres: patch %s/%s: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: patch %s/%s: not found", table, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table string, id core.ID) error {
	sql := fmt.Sprintf(`DELETE FROM %q WHERE id = $1`, table)
	if _, err := s.pool.Exec(ctx, sql, id.String()); err != nil {
		return fmt.Errorf("postgres: delete %s/%s: %w", table, id, err)
	}
	return nil
}

type rowsIterator struct {
	rows pgx.Rows
}

func (it *rowsIterator) Next(_ context.Context) (store.Row, bool, error) {
	if !it.rows.Next() {
		return nil, false, it.rows.Err()
	}
	var raw []byte
	if err := it.rows.Scan(&raw); err != nil {
		return nil, false, fmt.Errorf("postgres: scan row: %w", err)
	}
	var row store.Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, false, fmt.Errorf("postgres: unmarshal row: %w", err)
	}
	return row, true, nil
}

func (it *rowsIterator) Close() error {
	it.rows.Close()
	return nil
}

func (s *Store) QueryByIndex(ctx context.Context, table, index string, r store.Range) (store.Iterator, error) {
	sql := fmt.Sprintf(`SELECT data FROM %q WHERE ($2::text IS NULL OR data->>$1::text >= $2)
		AND ($3::text IS NULL OR data->>$1::text <= $3) ORDER BY data->>$1::text`, table)
	args := []any{index, toTextOrNil(r.From), toTextOrNil(r.To)}
	if r.Limit > 0 {
		sql += " LIMIT $4"
		args = append(args, r.Limit)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query %s by %s: %w", table, index, err)
	}
	return &rowsIterator{rows: rows}, nil
}

func (s *Store) Unique(ctx context.Context, table, index string, key any) (store.Row, bool, error) {
	sql := fmt.Sprintf(`SELECT data FROM %q WHERE data->>$1::text = $2 LIMIT 1`, table)
	row := s.pool.QueryRow(ctx, sql, index, fmt.Sprint(key))
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("postgres: unique %s/%s: %w", table, index, err)
	}
	var out store.Row
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("postgres: unmarshal unique row: %w", err)
	}
	return out, true, nil
}

func toTextOrNil(v any) any {
	if v == nil {
		return nil
	}
	return fmt.Sprint(v)
}
