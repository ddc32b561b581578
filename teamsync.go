// Package teamsync provides the offline-first synchronization core for a
// team-management application: a durable operation queue, a background
// replay engine with last-write-wins conflict resolution, and a pull path
// that reconciles remote changes into the local store.
package teamsync

import (
	"context"
	"time"
)

// OpType identifies the kind of mutation a queued operation replays.
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Record is an opaque mapping of column name to value. Both the local and
// remote stores exchange rows in this shape.
type Record = map[string]any

// MaxRetries is the fixed retry ceiling for a queued operation. Once an
// operation has failed this many times it is never replayed automatically
// again; it stays in the queue as failed until cleared manually.
const MaxRetries = 3

// SyncOperation is a single pending mutation awaiting replay against the
// remote store.
type SyncOperation struct {
	// ID is a locally assigned, monotonically increasing surrogate key.
	ID int64

	// Table names the target remote collection.
	Table string

	// Op is the mutation kind to replay.
	Op OpType

	// RecordID identifies the affected domain record. Client-generated
	// for inserts.
	RecordID string

	// Data is the payload to replay. Ignored for deletes.
	Data Record

	// Timestamp is the creation time in milliseconds since epoch. Replay
	// order follows ascending Timestamp.
	Timestamp int64

	// Synced is true once the operation was successfully replayed.
	Synced bool

	// Error holds the last failure message, if any.
	Error string

	// RetryCount is the number of failed replay attempts so far.
	RetryCount int
}

// Status is the aggregate sync status of the engine.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// SyncState is the process-wide aggregate sync status. It is recomputed by
// the engine on every drain cycle and never persisted.
type SyncState struct {
	Status       Status
	LastSyncTime *time.Time
	PendingCount int
	Err          string
}

// SyncStats summarizes the queue contents.
type SyncStats struct {
	// Pending counts unsynced operations still eligible for replay.
	Pending int

	// Synced counts operations that were replayed successfully.
	Synced int

	// Failed counts operations that hit the retry ceiling.
	Failed int
}

// OperationQueue is the durable, ordered log of pending mutations.
type OperationQueue interface {
	// Enqueue persists a new operation with timestamp = now. It must not
	// touch the network; a failure here means local storage itself failed.
	Enqueue(ctx context.Context, table string, op OpType, recordID string, data Record) (*SyncOperation, error)

	// ListPending returns unsynced operations below the retry ceiling,
	// ordered ascending by timestamp. The read is stable absent a
	// concurrent enqueue.
	ListPending(ctx context.Context) ([]SyncOperation, error)

	// MarkSynced flags an operation as replayed and clears its error.
	// Calling it twice is a no-op the second time.
	MarkSynced(ctx context.Context, id int64) error

	// MarkFailed increments the retry count and records the failure
	// message. At the ceiling the operation becomes terminally failed but
	// is never dropped.
	MarkFailed(ctx context.Context, id int64, msg string) error

	// ClearSynced deletes only operations with synced = true.
	ClearSynced(ctx context.Context) error

	// Stats counts pending, synced and terminally failed operations.
	Stats(ctx context.Context) (SyncStats, error)

	// Close releases the underlying storage.
	Close() error
}

// RemoteStore is a network client capable of CRUD against named remote
// tables. Implementations signal failure through the returned error only.
type RemoteStore interface {
	Insert(ctx context.Context, table string, data Record) error
	Update(ctx context.Context, table, id string, patch Record) error
	Delete(ctx context.Context, table, id string) error

	// Select fetches rows from a table. A non-empty updatedAfter restricts
	// the result to rows with updated_at strictly greater than it.
	Select(ctx context.Context, table, updatedAfter string) ([]Record, error)

	Close() error
}

// LocalStore is the on-device durable table storage acting as the offline
// cache and write-ahead buffer. Every call is atomic and durable on return.
type LocalStore interface {
	Upsert(ctx context.Context, collection string, record Record) error
	Patch(ctx context.Context, collection, id string, patch Record) error
	Get(ctx context.Context, collection, id string) (Record, error)
	List(ctx context.Context, collection string) ([]Record, error)
	FindByField(ctx context.Context, collection, field string, value any) ([]Record, error)
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

// Monitor exposes network reachability: the current state plus transition
// events. Handlers receive edge-triggered online/offline changes.
type Monitor interface {
	Online() bool
	Subscribe(handler func(online bool))
}

// Resolver decides the winning version between a local and a remote copy of
// the same logical record.
type Resolver interface {
	Resolve(local, remote Record) Record
}

// ErrRecordNotFound is returned by LocalStore.Get when no record with the
// given id exists in the collection.
var ErrRecordNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "record not found" }
