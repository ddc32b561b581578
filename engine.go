package teamsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	syncErrors "github.com/pitchside/teamsync/errors"
	"github.com/pitchside/teamsync/logging"
)

// DefaultCallTimeout bounds a single remote replay or pull call so a hung
// network request cannot stall a drain cycle indefinitely.
const DefaultCallTimeout = 15 * time.Second

// Engine drives queue drainage and owns the SyncState transitions.
// At most one drain cycle runs at a time; a drain request arriving while one
// is in flight is dropped, not queued.
type Engine struct {
	queue   OperationQueue
	remote  RemoteStore
	monitor Monitor

	resolver    Resolver
	logger      *logging.Logger
	callTimeout time.Duration

	mu          sync.Mutex
	state       SyncState
	syncing     bool
	closed      bool
	subscribers []func(SyncState)

	now func() time.Time
}

// EngineOption configures an Engine using the functional options pattern
type EngineOption func(*Engine)

// WithResolver sets the conflict resolver. Defaults to LastWriteWins.
func WithResolver(r Resolver) EngineOption {
	return func(e *Engine) { e.resolver = r }
}

// WithLogger sets a custom logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithCallTimeout bounds each individual remote call during a drain or pull.
func WithCallTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.callTimeout = d }
}

// NewEngine creates a sync engine over the given queue, remote client and
// connectivity monitor. The initial state is {pending, nil, 0, ""}.
func NewEngine(queue OperationQueue, remote RemoteStore, monitor Monitor, opts ...EngineOption) *Engine {
	e := &Engine{
		queue:       queue,
		remote:      remote,
		monitor:     monitor,
		resolver:    LastWriteWins{},
		callTimeout: DefaultCallTimeout,
		state:       SyncState{Status: StatusPending},
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logging.WithComponent(logging.Component("engine"))
	}

	return e
}

// Start wires the engine to connectivity transitions and, when the network
// is already reachable, kicks off an initial drain.
func (e *Engine) Start(ctx context.Context) {
	if e.monitor != nil {
		e.monitor.Subscribe(func(online bool) {
			if !online {
				return
			}
			e.logger.Debug("connectivity restored, draining queue")
			if err := e.ProcessQueue(ctx); err != nil {
				e.logger.LogError(ctx, err, "drain after reconnect failed")
			}
		})
	}

	if e.online() {
		if err := e.ProcessQueue(ctx); err != nil {
			e.logger.LogError(ctx, err, "startup drain failed")
		}
	}
}

// State returns a snapshot of the current aggregate sync state.
func (e *Engine) State() SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers a handler invoked on every state transition. Handlers
// run outside the engine lock; a panicking handler is isolated.
func (e *Engine) Subscribe(handler func(SyncState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, handler)
}

// QueueOperation appends a mutation to the durable queue and, when online,
// immediately attempts a drain. Safe to call while a drain is in flight.
func (e *Engine) QueueOperation(ctx context.Context, table string, op OpType, recordID string, data Record) error {
	if _, err := e.queue.Enqueue(ctx, table, op, recordID, data); err != nil {
		return err
	}

	e.transition(func(s *SyncState) {
		s.PendingCount++
	})

	if e.online() {
		return e.ProcessQueue(ctx)
	}
	return nil
}

// ProcessQueue runs one drain cycle: replays every pending operation in
// timestamp order against the remote store. Idempotent and safe to call
// repeatedly; a call while a drain is already running returns immediately.
// Offline it is a silent no-op. Per-operation replay failures are recorded
// on the operation and never returned; only engine-level failures (the
// queue itself unreadable) produce an error.
func (e *Engine) ProcessQueue(ctx context.Context) error {
	if !e.online() {
		return nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return syncErrors.New(syncErrors.OpDrain, fmt.Errorf("engine is closed"))
	}
	if e.syncing {
		e.mu.Unlock()
		return nil
	}
	e.syncing = true
	e.mu.Unlock()

	// Released on every exit path: success, per-operation failure and
	// engine-level failure alike.
	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	e.transition(func(s *SyncState) {
		s.Status = StatusSyncing
	})

	ops, err := e.queue.ListPending(ctx)
	if err != nil {
		wrapped := syncErrors.WrapOpComponent(err, syncErrors.OpDrain, "queue")
		e.transition(func(s *SyncState) {
			s.Status = StatusError
			s.Err = wrapped.Error()
		})
		return wrapped
	}

	for _, op := range ops {
		if replayErr := e.replay(ctx, op); replayErr != nil {
			e.logger.LogError(ctx, replayErr, "operation replay failed",
				slog.Int64("op_id", op.ID),
				slog.String("table", op.Table),
				slog.String("op", string(op.Op)),
				slog.Int("retry_count", op.RetryCount),
			)
			if err := e.queue.MarkFailed(ctx, op.ID, replayErr.Error()); err != nil {
				e.logger.LogError(ctx, err, "failed to record operation failure", slog.Int64("op_id", op.ID))
			}
			continue
		}
		if err := e.queue.MarkSynced(ctx, op.ID); err != nil {
			e.logger.LogError(ctx, err, "failed to mark operation synced", slog.Int64("op_id", op.ID))
		}
	}

	stats, err := e.queue.Stats(ctx)
	if err != nil {
		wrapped := syncErrors.WrapOpComponent(err, syncErrors.OpDrain, "queue")
		e.transition(func(s *SyncState) {
			s.Status = StatusError
			s.Err = wrapped.Error()
		})
		return wrapped
	}

	finished := e.now()
	e.transition(func(s *SyncState) {
		s.Status = StatusSynced
		s.LastSyncTime = &finished
		s.PendingCount = stats.Pending
		s.Err = ""
	})

	e.logger.Debug("drain cycle completed",
		slog.Int("attempted", len(ops)),
		slog.Int("pending", stats.Pending),
		slog.Int("failed", stats.Failed),
	)
	return nil
}

// ManualSync triggers a drain cycle on demand.
func (e *Engine) ManualSync(ctx context.Context) error {
	return e.ProcessQueue(ctx)
}

// replay dispatches a single queued operation against the remote store.
func (e *Engine) replay(ctx context.Context, op SyncOperation) error {
	callCtx, cancel := e.withCallTimeout(ctx)
	defer cancel()

	switch op.Op {
	case OpInsert:
		return e.remote.Insert(callCtx, op.Table, op.Data)
	case OpUpdate:
		return e.remote.Update(callCtx, op.Table, op.RecordID, op.Data)
	case OpDelete:
		return e.remote.Delete(callCtx, op.Table, op.RecordID)
	default:
		return syncErrors.NewValidationError(syncErrors.OpReplay, fmt.Errorf("unknown operation type %q", op.Op))
	}
}

// PullChanges fetches remote rows changed since the given checkpoint.
// Offline it returns an empty result with no error: pulling is best-effort,
// not a failure condition. The caller is responsible for folding results
// into the local store and resolving conflicts per record.
func (e *Engine) PullChanges(ctx context.Context, table string, since *time.Time) ([]Record, error) {
	if !e.online() {
		return nil, nil
	}

	var updatedAfter string
	if since != nil {
		updatedAfter = since.UTC().Format(time.RFC3339Nano)
	}

	callCtx, cancel := e.withCallTimeout(ctx)
	defer cancel()

	records, err := e.remote.Select(callCtx, table, updatedAfter)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, syncErrors.OpPull, "remote")
	}
	return records, nil
}

// ResolveConflict returns the winner between a local and remote copy of the
// same record, using the configured resolver.
func (e *Engine) ResolveConflict(local, remote Record) Record {
	return e.resolver.Resolve(local, remote)
}

// Stats reports pending, synced and failed operation counts.
func (e *Engine) Stats(ctx context.Context) (SyncStats, error) {
	return e.queue.Stats(ctx)
}

// ClearSyncedOperations removes already-replayed operations from the queue.
func (e *Engine) ClearSyncedOperations(ctx context.Context) error {
	return e.queue.ClearSynced(ctx)
}

// Close marks the engine closed. Subsequent drains are rejected. The queue,
// remote client and monitor are owned by the caller and closed separately.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Engine) online() bool {
	return e.monitor == nil || e.monitor.Online()
}

func (e *Engine) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout > 0 {
		return context.WithTimeout(ctx, e.callTimeout)
	}
	return context.WithCancel(ctx)
}

// transition mutates the state under the lock and notifies subscribers with
// the resulting snapshot. Handlers run without the lock held.
func (e *Engine) transition(mutate func(*SyncState)) {
	e.mu.Lock()
	mutate(&e.state)
	snapshot := e.state
	subscribers := make([]func(SyncState), len(e.subscribers))
	copy(subscribers, e.subscribers)
	e.mu.Unlock()

	for _, handler := range subscribers {
		func(h func(SyncState)) {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn("state subscriber panicked", slog.Any("panic", r))
				}
			}()
			h(snapshot)
		}(handler)
	}
}
