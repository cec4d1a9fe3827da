// Package sqlite stores frontier work queues in a single SQLite table so pending
// items outlive the process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/JakeFAU/crawl-frontier/internal/queue"
)

const schema = `
CREATE TABLE IF NOT EXISTS frontier_items (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	queue_key TEXT NOT NULL,
	priority INTEGER NOT NULL,
	payload BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_frontier_items_head ON frontier_items(queue_key, priority, seq);
`

// Log is a queue.Log backed by SQLite.
type Log struct {
	db *sqlx.DB
}

type itemRow struct {
	Seq      int64  `db:"seq"`
	Priority int    `db:"priority"`
	Payload  []byte `db:"payload"`
}

func (r itemRow) entry() queue.Entry {
	return queue.Entry{Seq: r.Seq, Priority: r.Priority, Data: r.Payload}
}

var _ queue.Log = (*Log)(nil)

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*Log, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open item log: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create item log schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Append inserts a row for key.
func (l *Log) Append(ctx context.Context, key string, priority int, data []byte) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO frontier_items (queue_key, priority, payload) VALUES (?, ?, ?)`,
		key, priority, data)
	if err != nil {
		return 0, fmt.Errorf("append item: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read item seq: %w", err)
	}
	return seq, nil
}

// Head returns the lowest (priority, seq) row for key.
func (l *Log) Head(ctx context.Context, key string) (queue.Entry, bool, error) {
	var row itemRow
	err := l.db.GetContext(ctx, &row,
		`SELECT seq, priority, payload FROM frontier_items
		 WHERE queue_key = ? ORDER BY priority, seq LIMIT 1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Entry{}, false, nil
		}
		return queue.Entry{}, false, fmt.Errorf("read head item: %w", err)
	}
	return row.entry(), true, nil
}

// Update rewrites one row's payload.
func (l *Log) Update(ctx context.Context, key string, seq int64, data []byte) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE frontier_items SET payload = ? WHERE queue_key = ? AND seq = ?`, data, key, seq)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update item %d: %w", seq, queue.ErrNotFound)
	}
	return nil
}

// Remove deletes one row.
func (l *Log) Remove(ctx context.Context, key string, seq int64) error {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM frontier_items WHERE queue_key = ? AND seq = ?`, key, seq)
	if err != nil {
		return fmt.Errorf("remove item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove item: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("remove item %d: %w", seq, queue.ErrNotFound)
	}
	return nil
}

// Len counts the rows stored for key.
func (l *Log) Len(ctx context.Context, key string) (int64, error) {
	var n int64
	if err := l.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM frontier_items WHERE queue_key = ?`, key); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// Scan streams key's rows in service order. Rows are loaded before fn runs so
// fn may call back into the log over the single connection.
func (l *Log) Scan(ctx context.Context, key string, fn func(queue.Entry) bool) error {
	var rows []itemRow
	if err := l.db.SelectContext(ctx, &rows,
		`SELECT seq, priority, payload FROM frontier_items
		 WHERE queue_key = ? ORDER BY priority, seq`, key); err != nil {
		return fmt.Errorf("scan items: %w", err)
	}
	for _, r := range rows {
		if !fn(r.entry()) {
			return nil
		}
	}
	return nil
}

// Keys lists the distinct queue keys with pending rows.
func (l *Log) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := l.db.SelectContext(ctx, &keys,
		`SELECT DISTINCT queue_key FROM frontier_items ORDER BY queue_key`); err != nil {
		return nil, fmt.Errorf("list queue keys: %w", err)
	}
	return keys, nil
}

// Close closes the database.
func (l *Log) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close item log: %w", err)
	}
	return nil
}
