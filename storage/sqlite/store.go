// Package sqlite provides the SQLite implementation of the teamsync
// LocalStore: document-style table storage acting as the offline cache and
// write-ahead buffer for domain records.
package sqlite

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

var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the LocalStore.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	EnableWAL bool

	// TableName is the name of the table holding records.
	// Defaults to "records" if empty.
	TableName string

	// Connection pool settings.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "records"
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

// LocalStore stores domain records as JSON documents keyed by
// (collection, id). The updated_at column is extracted on write so pull
// reconciliation can compare instants without decoding payloads.
type LocalStore struct {
	db        *sql.DB
	mu        stdSync.RWMutex
	closed    bool
	tableName string
}

// Compile-time check to ensure LocalStore satisfies the interface
var _ teamsync.LocalStore = (*LocalStore)(nil)

// New creates a new LocalStore from a Config.
func New(config *Config) (*LocalStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("local-store"))
	logger.Debug("opening local store",
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

	store := &LocalStore{
		db:        db,
		tableName: config.TableName,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup store schema: %w", err)
	}

	return store, nil
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*LocalStore, error) {
	return New(DefaultConfig(dataSourceName))
}

func (s *LocalStore) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %[1]s (
        collection  TEXT NOT NULL,
        id          TEXT NOT NULL,
        data        TEXT NOT NULL,
        updated_at  TEXT,
        deleted_at  TEXT,
        PRIMARY KEY (collection, id)
    );
    CREATE INDEX IF NOT EXISTS idx_%[1]s_updated ON %[1]s (collection, updated_at);
    `, s.tableName)
	_, err := s.db.Exec(query)
	return err
}

// Upsert inserts or replaces a record. The record must carry an "id" field.
func (s *LocalStore) Upsert(ctx context.Context, collection string, record teamsync.Record) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	id, ok := record["id"].(string)
	if !ok || id == "" {
		return syncErrors.NewValidationError(syncErrors.OpStore, fmt.Errorf("record is missing a string id"))
	}

	dataJSON, err := json.Marshal(record)
	if err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpStore, "storage/sqlite")
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (collection, id, data, updated_at, deleted_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data,
			updated_at = excluded.updated_at, deleted_at = excluded.deleted_at`, s.tableName)
	_, err = s.db.ExecContext(ctx, query, collection, id, string(dataJSON),
		timestampColumn(record[teamsync.UpdatedAtField]), timestampColumn(record["deleted_at"]))
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// Patch applies a partial update to an existing record.
func (s *LocalStore) Patch(ctx context.Context, collection, id string, patch teamsync.Record) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var raw string
	query := fmt.Sprintf(`SELECT data FROM %s WHERE collection = ? AND id = ?`, s.tableName)
	err = tx.QueryRowContext(ctx, query, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		err = teamsync.ErrRecordNotFound
		return err
	}
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}

	var record teamsync.Record
	if err = json.Unmarshal([]byte(raw), &record); err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpStore, "storage/sqlite")
	}
	for k, v := range patch {
		record[k] = v
	}

	var dataJSON []byte
	dataJSON, err = json.Marshal(record)
	if err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpStore, "storage/sqlite")
	}

	query = fmt.Sprintf(`UPDATE %s SET data = ?, updated_at = ?, deleted_at = ? WHERE collection = ? AND id = ?`, s.tableName)
	_, err = tx.ExecContext(ctx, query, string(dataJSON),
		timestampColumn(record[teamsync.UpdatedAtField]), timestampColumn(record["deleted_at"]),
		collection, id)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// Get returns a single record by id, or teamsync.ErrRecordNotFound.
func (s *LocalStore) Get(ctx context.Context, collection, id string) (teamsync.Record, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	var raw string
	query := fmt.Sprintf(`SELECT data FROM %s WHERE collection = ? AND id = ?`, s.tableName)
	err := s.db.QueryRowContext(ctx, query, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, teamsync.ErrRecordNotFound
	}
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}

	var record teamsync.Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, syncErrors.WrapOpComponent(err, syncErrors.OpLoad, "storage/sqlite")
	}
	return record, nil
}

// List returns all records in a collection ordered by id.
func (s *LocalStore) List(ctx context.Context, collection string) ([]teamsync.Record, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(`SELECT data FROM %s WHERE collection = ? ORDER BY id ASC`, s.tableName)
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FindByField returns records whose decoded field equals value. Matching is
// done on the JSON document, mirroring the where(field).equals(value) reads
// the feature services rely on.
func (s *LocalStore) FindByField(ctx context.Context, collection, field string, value any) ([]teamsync.Record, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(
		`SELECT data FROM %s WHERE collection = ? AND json_extract(data, ?) = ? ORDER BY id ASC`,
		s.tableName)
	rows, err := s.db.QueryContext(ctx, query, collection, "$."+field, value)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Delete removes a record. Feature services normally soft-delete by setting
// deleted_at through Patch; this hard delete backs maintenance flows.
func (s *LocalStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(`DELETE FROM %s WHERE collection = ? AND id = ?`, s.tableName)
	_, err := s.db.ExecContext(ctx, query, collection, id)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// timestampColumn renders an updated_at/deleted_at value for the indexed
// column, or NULL when absent.
func timestampColumn(v any) any {
	t, ok := teamsync.ParseUpdatedAt(v)
	if !ok {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func scanRecords(rows *sql.Rows) ([]teamsync.Record, error) {
	var records []teamsync.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		var record teamsync.Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return records, nil
}
