// Package queue provides the SQLite-backed durable operation queue: an
// append-only log of mutations awaiting replay against the remote store.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/pitchside/teamsync"
	syncErrors "github.com/pitchside/teamsync/errors"
	"github.com/pitchside/teamsync/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Custom errors for better error handling
var (
	ErrQueueClosed       = errors.New("operation queue is closed")
	ErrOperationNotFound = errors.New("operation not found")
)

// Config holds configuration options for the SQLiteQueue.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:teamsync.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// TableName is the name of the table holding queued operations.
	// Defaults to "sync_queue" if empty.
	TableName string

	// MaxRetries is the retry ceiling before an operation is considered
	// terminally failed. Defaults to teamsync.MaxRetries.
	MaxRetries int

	// Connection pool settings.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "sync_queue"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = teamsync.MaxRetries
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// SQLiteQueue implements the teamsync.OperationQueue interface on SQLite.
type SQLiteQueue struct {
	db         *sql.DB
	mu         stdSync.RWMutex
	closed     bool
	tableName  string
	maxRetries int
	now        func() time.Time
}

// Compile-time check to ensure SQLiteQueue satisfies the OperationQueue interface
var _ teamsync.OperationQueue = (*SQLiteQueue)(nil)

// New creates a new SQLiteQueue from a Config.
func New(config *Config) (*SQLiteQueue, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("queue"))
	logger.Debug("opening operation queue",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	q := &SQLiteQueue{
		db:         db,
		tableName:  config.TableName,
		maxRetries: config.MaxRetries,
		now:        time.Now,
	}

	if err := q.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup queue schema: %w", err)
	}

	return q, nil
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*SQLiteQueue, error) {
	return New(DefaultConfig(dataSourceName))
}

// setupSchema creates the queue table if it doesn't exist.
func (q *SQLiteQueue) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %[1]s (
        id           INTEGER PRIMARY KEY AUTOINCREMENT,
        tbl          TEXT NOT NULL,
        op           TEXT NOT NULL,
        record_id    TEXT NOT NULL,
        data         TEXT,
        ts           INTEGER NOT NULL,
        synced       INTEGER NOT NULL DEFAULT 0,
        error        TEXT NOT NULL DEFAULT '',
        retry_count  INTEGER NOT NULL DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS idx_%[1]s_synced ON %[1]s (synced, ts);
    `, q.tableName)
	_, err := q.db.Exec(query)
	return err
}

// Enqueue persists a new pending operation. It never touches the network;
// a failure here means local storage itself failed and is surfaced as fatal.
func (q *SQLiteQueue) Enqueue(ctx context.Context, table string, op teamsync.OpType, recordID string, data teamsync.Record) (*teamsync.SyncOperation, error) {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	q.mu.RUnlock()

	if table == "" {
		return nil, syncErrors.NewValidationError(syncErrors.OpEnqueue, fmt.Errorf("table is required"))
	}
	switch op {
	case teamsync.OpInsert, teamsync.OpUpdate, teamsync.OpDelete:
	default:
		return nil, syncErrors.NewValidationError(syncErrors.OpEnqueue, fmt.Errorf("unknown operation type %q", op))
	}

	var dataJSON []byte
	if data != nil {
		var err error
		dataJSON, err = json.Marshal(data)
		if err != nil {
			return nil, syncErrors.WrapOpComponent(err, syncErrors.OpEnqueue, "queue")
		}
	}

	ts := q.now().UnixMilli()
	query := fmt.Sprintf(`INSERT INTO %s (tbl, op, record_id, data, ts) VALUES (?, ?, ?, ?, ?)`, q.tableName)
	res, err := q.db.ExecContext(ctx, query, table, string(op), recordID, string(dataJSON), ts)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpEnqueue, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpEnqueue, err)
	}

	return &teamsync.SyncOperation{
		ID:        id,
		Table:     table,
		Op:        op,
		RecordID:  recordID,
		Data:      data,
		Timestamp: ts,
	}, nil
}

// ListPending returns unsynced operations still below the retry ceiling,
// ordered ascending by timestamp. Terminally failed operations stay in the
// table but are not offered for replay again.
func (q *SQLiteQueue) ListPending(ctx context.Context) ([]teamsync.SyncOperation, error) {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	q.mu.RUnlock()

	query := fmt.Sprintf(
		`SELECT id, tbl, op, record_id, data, ts, synced, error, retry_count
		 FROM %s WHERE synced = 0 AND retry_count < ? ORDER BY ts ASC, id ASC`, q.tableName)
	rows, err := q.db.QueryContext(ctx, query, q.maxRetries)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// ListFailed returns operations that hit the retry ceiling. They remain in
// the queue for visibility and manual intervention.
func (q *SQLiteQueue) ListFailed(ctx context.Context) ([]teamsync.SyncOperation, error) {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	q.mu.RUnlock()

	query := fmt.Sprintf(
		`SELECT id, tbl, op, record_id, data, ts, synced, error, retry_count
		 FROM %s WHERE synced = 0 AND retry_count >= ? ORDER BY ts ASC, id ASC`, q.tableName)
	rows, err := q.db.QueryContext(ctx, query, q.maxRetries)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// MarkSynced sets synced = true and clears the error. Idempotent: a second
// call on the same id changes nothing.
func (q *SQLiteQueue) MarkSynced(ctx context.Context, id int64) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	query := fmt.Sprintf(`UPDATE %s SET synced = 1, error = '' WHERE id = ?`, q.tableName)
	_, err := q.db.ExecContext(ctx, query, id)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// MarkFailed increments the retry count and records the failure message.
// Operations at the ceiling stay in the queue unsynced; they are never
// dropped automatically.
func (q *SQLiteQueue) MarkFailed(ctx context.Context, id int64, msg string) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	query := fmt.Sprintf(`UPDATE %s SET retry_count = retry_count + 1, error = ? WHERE id = ? AND synced = 0`, q.tableName)
	res, err := q.db.ExecContext(ctx, query, msg, id)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	if affected == 0 {
		return ErrOperationNotFound
	}
	return nil
}

// ClearSynced deletes all operations with synced = true. Pure maintenance;
// unsynced rows, including terminally failed ones, are untouched.
func (q *SQLiteQueue) ClearSynced(ctx context.Context) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	query := fmt.Sprintf(`DELETE FROM %s WHERE synced = 1`, q.tableName)
	_, err := q.db.ExecContext(ctx, query)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// Stats counts pending, synced and terminally failed operations.
func (q *SQLiteQueue) Stats(ctx context.Context) (teamsync.SyncStats, error) {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return teamsync.SyncStats{}, ErrQueueClosed
	}
	q.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT
			COALESCE(SUM(CASE WHEN synced = 0 AND retry_count < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN synced = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN synced = 0 AND retry_count >= ? THEN 1 ELSE 0 END), 0)
		FROM %s`, q.tableName)

	var stats teamsync.SyncStats
	err := q.db.QueryRowContext(ctx, query, q.maxRetries, q.maxRetries).
		Scan(&stats.Pending, &stats.Synced, &stats.Failed)
	if err != nil {
		return teamsync.SyncStats{}, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return stats, nil
}

// Close closes the database connection.
func (q *SQLiteQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	return q.db.Close()
}

// scanOperations is a helper to scan sql.Rows into SyncOperations.
func scanOperations(rows *sql.Rows) ([]teamsync.SyncOperation, error) {
	var ops []teamsync.SyncOperation
	for rows.Next() {
		var op teamsync.SyncOperation
		var opType string
		var data sql.NullString
		var synced int

		if err := rows.Scan(&op.ID, &op.Table, &opType, &op.RecordID, &data, &op.Timestamp, &synced, &op.Error, &op.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan operation row: %w", err)
		}

		op.Op = teamsync.OpType(opType)
		op.Synced = synced != 0
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &op.Data); err != nil {
				return nil, fmt.Errorf("failed to decode operation payload: %w", err)
			}
		}

		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return ops, nil
}
