// Package postgres provides a Postgres-backed snapshot store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawl-frontier/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "frontier_snapshots"

// Config controls the Postgres connection pool used for snapshots.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// SnapshotStore keeps one row per crawl run and loads the most recent.
type SnapshotStore struct {
	pool  pool
	table string
}

// New connects to Postgres and ensures the snapshot table exists.
func New(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*SnapshotStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SnapshotStore{pool: p, table: table}, nil
}

// EnsureSchema creates the snapshot table if it is missing.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT PRIMARY KEY,
	taken_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveSnapshot upserts the snapshot row for its run.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap storage.Snapshot) error {
	if snap.RunID == "" {
		return fmt.Errorf("snapshot run id is required")
	}
	payload, err := storage.Encode(snap)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, taken_at, payload)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO UPDATE
SET taken_at = EXCLUDED.taken_at, payload = EXCLUDED.payload`, s.table)
	if _, err := s.pool.Exec(ctx, query, snap.RunID, snap.TakenAt, payload); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the most recently taken snapshot across runs.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context) (storage.Snapshot, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s ORDER BY taken_at DESC LIMIT 1`, s.table)
	var payload []byte
	if err := s.pool.QueryRow(ctx, query).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.Snapshot{}, storage.ErrNotFound
		}
		return storage.Snapshot{}, fmt.Errorf("select snapshot: %w", err)
	}
	return storage.Decode(payload)
}
