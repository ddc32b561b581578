package teamsync

import (
	"context"
	"sort"
	"sync"
)

// fakeQueue is an in-memory OperationQueue with the same retry-ceiling
// semantics as the SQLite implementation.
type fakeQueue struct {
	mu         sync.Mutex
	ops        []*SyncOperation
	nextID     int64
	nextTS     int64
	maxRetries int

	listErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{maxRetries: MaxRetries}
}

func (q *fakeQueue) Enqueue(_ context.Context, table string, op OpType, recordID string, data Record) (*SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.nextTS++
	o := &SyncOperation{
		ID:        q.nextID,
		Table:     table,
		Op:        op,
		RecordID:  recordID,
		Data:      data,
		Timestamp: q.nextTS,
	}
	q.ops = append(q.ops, o)
	return o, nil
}

func (q *fakeQueue) ListPending(context.Context) ([]SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.listErr != nil {
		return nil, q.listErr
	}
	var out []SyncOperation
	for _, o := range q.ops {
		if !o.Synced && o.RetryCount < q.maxRetries {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (q *fakeQueue) MarkSynced(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, o := range q.ops {
		if o.ID == id {
			o.Synced = true
			o.Error = ""
		}
	}
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id int64, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, o := range q.ops {
		if o.ID == id && !o.Synced {
			o.RetryCount++
			o.Error = msg
		}
	}
	return nil
}

func (q *fakeQueue) ClearSynced(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.ops[:0]
	for _, o := range q.ops {
		if !o.Synced {
			kept = append(kept, o)
		}
	}
	q.ops = kept
	return nil
}

func (q *fakeQueue) Stats(context.Context) (SyncStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var stats SyncStats
	for _, o := range q.ops {
		switch {
		case o.Synced:
			stats.Synced++
		case o.RetryCount >= q.maxRetries:
			stats.Failed++
		default:
			stats.Pending++
		}
	}
	return stats, nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) byID(id int64) *SyncOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, o := range q.ops {
		if o.ID == id {
			cp := *o
			return &cp
		}
	}
	return nil
}

// remoteCall records one replayed mutation in arrival order.
type remoteCall struct {
	Method   string
	Table    string
	RecordID string
	Data     Record
}

// fakeRemote records calls and fails on demand, keyed by record id.
type fakeRemote struct {
	mu       sync.Mutex
	calls    []remoteCall
	failIDs  map[string]error
	rows     []Record
	selects  []string
	blocking chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{failIDs: map[string]error{}}
}

func (r *fakeRemote) failWith(recordID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failIDs[recordID] = err
}

func (r *fakeRemote) record(method, table, id string, data Record) error {
	if r.blocking != nil {
		<-r.blocking
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, remoteCall{Method: method, Table: table, RecordID: id, Data: data})
	if err, ok := r.failIDs[id]; ok {
		return err
	}
	return nil
}

func (r *fakeRemote) Insert(_ context.Context, table string, data Record) error {
	id, _ := data["id"].(string)
	return r.record("insert", table, id, data)
}

func (r *fakeRemote) Update(_ context.Context, table, id string, patch Record) error {
	return r.record("update", table, id, patch)
}

func (r *fakeRemote) Delete(_ context.Context, table, id string) error {
	return r.record("delete", table, id, nil)
}

func (r *fakeRemote) Select(_ context.Context, table, updatedAfter string) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selects = append(r.selects, table+"|"+updatedAfter)
	return r.rows, nil
}

func (r *fakeRemote) Close() error { return nil }

func (r *fakeRemote) callLog() []remoteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]remoteCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// fakeMonitor is a settable connectivity signal.
type fakeMonitor struct {
	mu       sync.Mutex
	online   bool
	handlers []func(bool)
}

func (m *fakeMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *fakeMonitor) Subscribe(handler func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

func (m *fakeMonitor) set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	handlers := make([]func(bool), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()
	for _, h := range handlers {
		h(online)
	}
}
