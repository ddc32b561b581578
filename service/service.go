// Package service implements the shared offline-first write protocol used
// by every feature area: local write first, then either an immediate remote
// mutation when online or a queued operation for later replay when offline.
package service

import (
	"context"
	"fmt"
	"log/slog"
	stdSync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitchside/teamsync"
	syncErrors "github.com/pitchside/teamsync/errors"
	"github.com/pitchside/teamsync/logging"
)

// Deps carries the collaborators every entity service shares.
type Deps struct {
	Local   teamsync.LocalStore
	Remote  teamsync.RemoteStore
	Queue   teamsync.OperationQueue
	Monitor teamsync.Monitor

	// Resolver decides pull-side conflicts. Defaults to LastWriteWins.
	Resolver teamsync.Resolver
}

// Service is a feature-level data service for one entity table. All writes
// follow the same invariant protocol:
//
//  1. apply the mutation to the local store first, unconditionally
//  2. refresh the in-memory projection
//  3. online: attempt the remote mutation synchronously; a remote failure
//     is propagated to the caller and the local write is NOT rolled back
//  4. offline: enqueue the equivalent operation for later replay
type Service struct {
	table        string
	deps         Deps
	deletedField string
	logger       *logging.Logger
	now          func() time.Time

	mu         stdSync.RWMutex
	projection []teamsync.Record
	watchers   []func([]teamsync.Record)
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithDeletedField overrides the soft-delete marker column. Entities that
// cancel rather than delete point this at their status column's tombstone.
func WithDeletedField(field string) ServiceOption {
	return func(s *Service) { s.deletedField = field }
}

// New creates a service for the named entity table.
func New(table string, deps Deps, opts ...ServiceOption) *Service {
	s := &Service{
		table:        table,
		deps:         deps,
		deletedField: "deleted_at",
		logger:       logging.WithComponent(logging.Component("service." + table)),
		now:          time.Now,
	}
	if s.deps.Resolver == nil {
		s.deps.Resolver = teamsync.LastWriteWins{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Table returns the entity table this service writes to.
func (s *Service) Table() string { return s.table }

// Watch registers a handler invoked with the full projection after every
// local mutation or pull.
func (s *Service) Watch(handler func([]teamsync.Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, handler)
}

// Projection returns the current in-memory view of the entity list.
func (s *Service) Projection() []teamsync.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]teamsync.Record, len(s.projection))
	copy(out, s.projection)
	return out
}

// Create inserts a new record. A missing id is generated client-side so the
// insert can replay later under the same identity.
func (s *Service) Create(ctx context.Context, record teamsync.Record) (teamsync.Record, error) {
	if record == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpStore, fmt.Errorf("record is required"))
	}

	if id, _ := record["id"].(string); id == "" {
		record["id"] = uuid.NewString()
	}
	record[teamsync.UpdatedAtField] = s.timestamp()

	if err := s.deps.Local.Upsert(ctx, s.table, record); err != nil {
		return nil, err
	}
	s.refresh(ctx)

	id := record["id"].(string)
	if s.online() {
		if err := s.deps.Remote.Insert(ctx, s.table, record); err != nil {
			// The local write stands; the caller decides how to retry.
			return record, err
		}
		return record, nil
	}

	if _, err := s.deps.Queue.Enqueue(ctx, s.table, teamsync.OpInsert, id, record); err != nil {
		return nil, err
	}
	s.logger.Debug("queued offline insert", slog.String("id", id))
	return record, nil
}

// Update applies a partial update to an existing record.
func (s *Service) Update(ctx context.Context, id string, patch teamsync.Record) error {
	if patch == nil {
		patch = teamsync.Record{}
	}
	patch[teamsync.UpdatedAtField] = s.timestamp()

	if err := s.deps.Local.Patch(ctx, s.table, id, patch); err != nil {
		return err
	}
	s.refresh(ctx)

	if s.online() {
		return s.deps.Remote.Update(ctx, s.table, id, patch)
	}

	if _, err := s.deps.Queue.Enqueue(ctx, s.table, teamsync.OpUpdate, id, patch); err != nil {
		return err
	}
	s.logger.Debug("queued offline update", slog.String("id", id))
	return nil
}

// SoftDelete marks a record deleted without removing it, preserving
// undo semantics.
func (s *Service) SoftDelete(ctx context.Context, id string) error {
	return s.Update(ctx, id, teamsync.Record{s.deletedField: s.timestamp()})
}

// Restore clears the soft-delete marker.
func (s *Service) Restore(ctx context.Context, id string) error {
	return s.Update(ctx, id, teamsync.Record{s.deletedField: nil})
}

// HardDelete permanently removes a record locally and remotely.
func (s *Service) HardDelete(ctx context.Context, id string) error {
	if err := s.deps.Local.Delete(ctx, s.table, id); err != nil {
		return err
	}
	s.refresh(ctx)

	if s.online() {
		return s.deps.Remote.Delete(ctx, s.table, id)
	}

	if _, err := s.deps.Queue.Enqueue(ctx, s.table, teamsync.OpDelete, id, nil); err != nil {
		return err
	}
	s.logger.Debug("queued offline delete", slog.String("id", id))
	return nil
}

// Get returns a single record from the local store.
func (s *Service) Get(ctx context.Context, id string) (teamsync.Record, error) {
	return s.deps.Local.Get(ctx, s.table, id)
}

// List returns all local records including soft-deleted ones.
func (s *Service) List(ctx context.Context) ([]teamsync.Record, error) {
	return s.deps.Local.List(ctx, s.table)
}

// ListActive returns local records without a soft-delete marker.
func (s *Service) ListActive(ctx context.Context) ([]teamsync.Record, error) {
	records, err := s.deps.Local.List(ctx, s.table)
	if err != nil {
		return nil, err
	}
	active := make([]teamsync.Record, 0, len(records))
	for _, r := range records {
		if r[s.deletedField] == nil {
			active = append(active, r)
		}
	}
	return active, nil
}

// Pull fetches remote changes since the checkpoint and folds them into the
// local store. When a locally queued, not-yet-replayed version of the same
// record exists, the conflict resolver decides which whole record survives.
// Offline the call is a silent no-op.
func (s *Service) Pull(ctx context.Context, since *time.Time) (int, error) {
	if !s.online() {
		return 0, nil
	}

	var updatedAfter string
	if since != nil {
		updatedAfter = since.UTC().Format(time.RFC3339Nano)
	}

	rows, err := s.deps.Remote.Select(ctx, s.table, updatedAfter)
	if err != nil {
		return 0, syncErrors.WrapOpComponent(err, syncErrors.OpPull, "remote")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	dirty, err := s.pendingRecordIDs(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, remote := range rows {
		id, _ := remote["id"].(string)
		if id == "" {
			s.logger.Warn("skipping remote row without id")
			continue
		}

		winner := remote
		if dirty[id] {
			local, err := s.deps.Local.Get(ctx, s.table, id)
			if err == nil {
				winner = s.deps.Resolver.Resolve(local, remote)
			} else if err != teamsync.ErrRecordNotFound {
				return applied, err
			}
		}

		if err := s.deps.Local.Upsert(ctx, s.table, winner); err != nil {
			return applied, err
		}
		applied++
	}

	s.refresh(ctx)
	s.logger.Debug("pull applied", slog.Int("rows", applied), slog.String("since", updatedAfter))
	return applied, nil
}

// pendingRecordIDs returns the ids of this table's records that still have
// unreplayed queue entries; those local copies carry unacknowledged intent.
func (s *Service) pendingRecordIDs(ctx context.Context) (map[string]bool, error) {
	ops, err := s.deps.Queue.ListPending(ctx)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, syncErrors.OpPull, "queue")
	}
	dirty := make(map[string]bool)
	for _, op := range ops {
		if op.Table == s.table {
			dirty[op.RecordID] = true
		}
	}
	return dirty, nil
}

// refresh rebuilds the in-memory projection from the local store and
// notifies watchers. A read failure leaves the previous projection intact.
func (s *Service) refresh(ctx context.Context) {
	records, err := s.deps.Local.List(ctx, s.table)
	if err != nil {
		s.logger.LogError(ctx, err, "projection refresh failed")
		return
	}

	s.mu.Lock()
	s.projection = records
	watchers := make([]func([]teamsync.Record), len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, w := range watchers {
		w(records)
	}
}

func (s *Service) online() bool {
	return s.deps.Monitor == nil || s.deps.Monitor.Online()
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}
