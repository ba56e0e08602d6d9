package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"offbeat/internal/ports"
)

// DefaultQueryLimit caps scans when a filter sets no limit.
const DefaultQueryLimit = 100

// Memory is an in-process DocumentStore with optimistic transactions.
// Versions come from a store-wide counter so a recreated document never reuses one.
type Memory struct {
	mu       sync.Mutex
	docs     map[string]*memDoc
	seq      uint64
	hub      *Hub
	attempts int
	now      func() time.Time

	// beforeCommit runs between a transaction body and its commit.
	beforeCommit func(attempt int)
}

type memDoc struct {
	data    []byte
	version uint64
	updated time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMaxAttempts sets how many times a conflicting transaction is retried.
func WithMaxAttempts(n int) MemoryOption {
	return func(m *Memory) { m.attempts = n }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		docs:     map[string]*memDoc{},
		hub:      NewHub(IncreasingVersion),
		attempts: DefaultMaxAttempts,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) snapshotLocked(id string) (ports.Snapshot, error) {
	d, ok := m.docs[id]
	if !ok {
		return ports.Snapshot{ID: id}, nil
	}
	data, err := Decode(d.data)
	if err != nil {
		return ports.Snapshot{}, fmt.Errorf("decode %s: %w", id, err)
	}
	return ports.Snapshot{ID: id, Exists: true, Data: data, Version: FormatVersion(d.version), UpdatedAt: d.updated}, nil
}

func (m *Memory) writeLocked(id string, data map[string]any) error {
	raw, err := Encode(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	m.seq++
	m.docs[id] = &memDoc{data: raw, version: m.seq, updated: m.now().UTC()}
	return m.publishLocked(id)
}

func (m *Memory) deleteLocked(id string) error {
	if _, ok := m.docs[id]; !ok {
		return nil
	}
	delete(m.docs, id)
	return m.publishLocked(id)
}

func (m *Memory) publishLocked(id string) error {
	snap, err := m.snapshotLocked(id)
	if err != nil {
		return err
	}
	m.hub.Publish(snap)
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (ports.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, err := m.snapshotLocked(id)
	if err != nil {
		return ports.Snapshot{}, err
	}
	if !snap.Exists {
		return snap, ports.ErrNotFound
	}
	return snap, nil
}

func (m *Memory) Create(ctx context.Context, id string, data map[string]any) error {
	doc, err := Clone(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; ok {
		return ports.ErrAlreadyExists
	}
	return m.writeLocked(id, doc)
}

func (m *Memory) Update(ctx context.Context, id string, updates ...ports.FieldUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, err := m.snapshotLocked(id)
	if err != nil {
		return err
	}
	if !snap.Exists {
		return ports.ErrNotFound
	}
	if err := ApplyUpdates(snap.Data, updates); err != nil {
		return err
	}
	return m.writeLocked(id, snap.Data)
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) load(ctx context.Context, id string) (ports.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(id)
}

func (m *Memory) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	return Retry(ctx, m.attempts, func(attempt int) error {
		buf := NewBuffer(m.load)
		if err := fn(ctx, buf); err != nil {
			return err
		}
		if m.beforeCommit != nil {
			m.beforeCommit(attempt)
		}
		return m.commit(buf)
	})
}

func (m *Memory) commit(buf *Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range buf.Touched() {
		var current uint64
		if d, ok := m.docs[s.ID]; ok {
			current = d.version
		}
		if current != ParseVersion(s.Read.Version) {
			return fmt.Errorf("document %s changed: %w", s.ID, ports.ErrConflict)
		}
	}
	for _, s := range buf.Writes() {
		var err error
		if s.Exists {
			err = m.writeLocked(s.ID, s.Data)
		} else {
			err = m.deleteLocked(s.ID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, f ports.Filter) ([]ports.Snapshot, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []ports.Snapshot
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		snap, err := m.snapshotLocked(id)
		if err != nil {
			return nil, err
		}
		if Matches(snap.Data, f.Conditions) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (m *Memory) Subscribe(ctx context.Context, id string) (<-chan ports.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, err := m.snapshotLocked(id)
	if err != nil {
		return nil, err
	}
	return m.hub.Subscribe(ctx, id, snap), nil
}

var _ ports.DocumentStore = (*Memory)(nil)
