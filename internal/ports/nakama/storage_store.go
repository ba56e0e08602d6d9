package nakama

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offbeat/internal/docstore"
	"offbeat/internal/ports"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
)

// StorageStore implements ports.DocumentStore on Nakama's storage engine.
// Games are system-owned objects in one collection; the storage object version
// is the optimistic concurrency token and MultiUpdate commits a transaction's
// writes and deletes atomically.
type StorageStore struct {
	nk         runtime.NakamaModule
	logger     runtime.Logger
	collection string
	attempts   int
	pollEvery  time.Duration
	hub        *docstore.Hub

	// onChange receives every snapshot this store commits.
	onChange func(ports.Snapshot)
}

// StorageOption configures a StorageStore.
type StorageOption func(*StorageStore)

// WithCollection overrides the storage collection.
func WithCollection(name string) StorageOption {
	return func(s *StorageStore) { s.collection = name }
}

// WithTransactionAttempts bounds optimistic retries.
func WithTransactionAttempts(n int) StorageOption {
	return func(s *StorageStore) { s.attempts = n }
}

// WithPollInterval sets how often subscriptions re-read their document.
func WithPollInterval(d time.Duration) StorageOption {
	return func(s *StorageStore) { s.pollEvery = d }
}

// WithChangeListener registers fn to run after every committed change.
func WithChangeListener(fn func(ports.Snapshot)) StorageOption {
	return func(s *StorageStore) { s.onChange = fn }
}

// NewStorageStore creates a store over nk.
func NewStorageStore(nk runtime.NakamaModule, logger runtime.Logger, opts ...StorageOption) *StorageStore {
	s := &StorageStore{
		nk:         nk,
		logger:     logger,
		collection: GameCollection,
		attempts:   docstore.DefaultMaxAttempts,
		pollEvery:  500 * time.Millisecond,
		hub:        docstore.NewHub(freshestVersion),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// freshestVersion delivers changed versions and drops snapshots older than the
// one already delivered, so a slow poll cannot undo a newer commit.
func freshestVersion(prev, next ports.Snapshot) bool {
	if prev.Exists && next.Exists && next.UpdatedAt.Before(prev.UpdatedAt) {
		return false
	}
	return docstore.ChangedVersion(prev, next)
}

func (s *StorageStore) toSnapshot(id string, obj *api.StorageObject) (ports.Snapshot, error) {
	data, err := docstore.Decode([]byte(obj.GetValue()))
	if err != nil {
		return ports.Snapshot{}, fmt.Errorf("decode %s: %w", id, err)
	}
	snap := ports.Snapshot{ID: id, Exists: true, Data: data, Version: obj.GetVersion()}
	if ts := obj.GetUpdateTime(); ts != nil {
		snap.UpdatedAt = ts.AsTime()
	}
	return snap, nil
}

// load reads the committed document; a missing one is Exists=false.
func (s *StorageStore) load(ctx context.Context, id string) (ports.Snapshot, error) {
	objects, err := s.nk.StorageRead(ctx, []*runtime.StorageRead{{
		Collection: s.collection,
		Key:        id,
		UserID:     SystemUserID,
	}})
	if err != nil {
		return ports.Snapshot{}, fmt.Errorf("storage read %s: %w", id, err)
	}
	for _, obj := range objects {
		if obj.GetKey() == id {
			return s.toSnapshot(id, obj)
		}
	}
	return ports.Snapshot{ID: id}, nil
}

func (s *StorageStore) write(id string, data map[string]any, version string) (*runtime.StorageWrite, error) {
	raw, err := docstore.Encode(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", id, err)
	}
	return &runtime.StorageWrite{
		Collection:      s.collection,
		Key:             id,
		UserID:          SystemUserID,
		Value:           string(raw),
		Version:         version,
		PermissionRead:  runtime.STORAGE_PERMISSION_PUBLIC_READ,
		PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
	}, nil
}

func (s *StorageStore) changed(snap ports.Snapshot) {
	s.hub.Publish(snap)
	if s.onChange != nil {
		s.onChange(snap)
	}
}

func (s *StorageStore) Get(ctx context.Context, id string) (ports.Snapshot, error) {
	snap, err := s.load(ctx, id)
	if err != nil {
		return ports.Snapshot{}, err
	}
	if !snap.Exists {
		return snap, ports.ErrNotFound
	}
	return snap, nil
}

func (s *StorageStore) Create(ctx context.Context, id string, data map[string]any) error {
	w, err := s.write(id, data, versionMustNotExist)
	if err != nil {
		return err
	}
	acks, err := s.nk.StorageWrite(ctx, []*runtime.StorageWrite{w})
	if err != nil {
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return ports.ErrAlreadyExists
		}
		return fmt.Errorf("storage create %s: %w", id, err)
	}
	for _, ack := range acks {
		s.committed(ctx, id, ack.GetVersion())
	}
	return nil
}

// Update is a read-modify-write transaction; Nakama storage has no field-level operations.
func (s *StorageStore) Update(ctx context.Context, id string, updates ...ports.FieldUpdate) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.Update(ctx, id, updates...)
	})
}

func (s *StorageStore) Delete(ctx context.Context, id string) error {
	err := s.nk.StorageDelete(ctx, []*runtime.StorageDelete{{
		Collection: s.collection,
		Key:        id,
		UserID:     SystemUserID,
	}})
	if err != nil {
		return fmt.Errorf("storage delete %s: %w", id, err)
	}
	s.changed(ports.Snapshot{ID: id})
	return nil
}

func (s *StorageStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	return docstore.Retry(ctx, s.attempts, func(attempt int) error {
		buf := docstore.NewBuffer(s.load)
		if err := fn(ctx, buf); err != nil {
			return err
		}
		return s.commit(ctx, buf)
	})
}

// commit turns staged documents into one MultiUpdate. Every touched document
// carries the version it was read at; documents that were only read are
// rewritten unchanged so the batch still fails if they moved.
func (s *StorageStore) commit(ctx context.Context, buf *docstore.Buffer) error {
	if len(buf.Writes()) == 0 {
		return nil
	}

	var (
		writes  []*runtime.StorageWrite
		deletes []*runtime.StorageDelete
		gone    []string
	)
	for _, st := range buf.Touched() {
		version := st.Read.Version
		if !st.Read.Exists {
			version = versionMustNotExist
		}
		switch {
		case st.Dirty && !st.Exists:
			if !st.Read.Exists {
				continue
			}
			deletes = append(deletes, &runtime.StorageDelete{
				Collection: s.collection,
				Key:        st.ID,
				UserID:     SystemUserID,
				Version:    version,
			})
			gone = append(gone, st.ID)
		case st.Dirty:
			w, err := s.write(st.ID, st.Data, version)
			if err != nil {
				return err
			}
			writes = append(writes, w)
		case st.Read.Exists:
			w, err := s.write(st.ID, st.Read.Data, version)
			if err != nil {
				return err
			}
			writes = append(writes, w)
		}
	}

	acks, _, err := s.nk.MultiUpdate(ctx, nil, writes, deletes, nil, false)
	if err != nil {
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return fmt.Errorf("storage commit: %w", ports.ErrConflict)
		}
		return fmt.Errorf("storage commit: %w", err)
	}
	for _, id := range gone {
		s.changed(ports.Snapshot{ID: id})
	}
	for _, ack := range acks {
		s.committed(ctx, ack.GetKey(), ack.GetVersion())
	}
	return nil
}

// committed re-reads acknowledged documents so listeners get whole snapshots.
func (s *StorageStore) committed(ctx context.Context, id, version string) {
	if s.onChange == nil && s.hub.Subscribers(id) == 0 {
		return
	}
	snap, err := s.load(ctx, id)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("StorageStore: re-read of %s after commit failed: %v", id, err)
		}
		return
	}
	if snap.Exists && snap.Version != version {
		// A later write already landed; its own commit reports it.
		return
	}
	s.changed(snap)
}

// Query scans the collection and filters in process. Nakama storage listing
// has no value predicates.
func (s *StorageStore) Query(ctx context.Context, f ports.Filter) ([]ports.Snapshot, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = docstore.DefaultQueryLimit
	}

	var (
		out    []ports.Snapshot
		cursor string
	)
	scanned := 0
	for scanned < limit {
		page := limit - scanned
		if page > maxListPage {
			page = maxListPage
		}
		objects, next, err := s.nk.StorageList(ctx, SystemUserID, SystemUserID, s.collection, page, cursor)
		if err != nil {
			return nil, fmt.Errorf("storage list: %w", err)
		}
		for _, obj := range objects {
			scanned++
			snap, err := s.toSnapshot(obj.GetKey(), obj)
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("StorageStore: skipping undecodable %s: %v", obj.GetKey(), err)
				}
				continue
			}
			if docstore.Matches(snap.Data, f.Conditions) {
				out = append(out, snap)
			}
		}
		if next == "" || len(objects) == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

// Subscribe combines this store's own commits with a poll of the document for
// writes made by other nodes. Polling stops with ctx or once the document is gone.
func (s *StorageStore) Subscribe(ctx context.Context, id string) (<-chan ports.Snapshot, error) {
	snap, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ch := s.hub.Subscribe(ctx, id, snap)
	go s.poll(ctx, id)
	return ch, nil
}

func (s *StorageStore) poll(ctx context.Context, id string) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.load(ctx, id)
			if err != nil {
				if ctx.Err() == nil && s.logger != nil {
					s.logger.Warn("StorageStore: poll of %s failed: %v", id, err)
				}
				continue
			}
			s.hub.Publish(snap)
			if !snap.Exists {
				return
			}
		}
	}
}

var _ ports.DocumentStore = (*StorageStore)(nil)
