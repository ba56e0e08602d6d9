package nakama

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// noopLogger implements runtime.Logger for tests that only need to satisfy the interface.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) WithField(string, interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) WithFields(map[string]interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) Fields() map[string]interface{} {
	return nil
}

type storedObject struct {
	value   string
	version string
	updated time.Time
}

type streamSend struct {
	mode    uint8
	subject string
	data    string
}

type streamMember struct {
	mode      uint8
	subject   string
	userID    string
	sessionID string
}

type profileUpdate struct {
	userID, username, displayName string
}

// fakeNakama is an in-memory stand-in for the storage, stream and account
// parts of runtime.NakamaModule. Any other method panics through the nil
// embedded interface.
type fakeNakama struct {
	runtime.NakamaModule

	mu      sync.Mutex
	objects map[string]map[string]storedObject // collection -> key
	seq     int
	clock   time.Time

	members []streamMember
	sends   []streamSend
	updates []profileUpdate

	// beforeMultiUpdate runs before each MultiUpdate with the lock released.
	beforeMultiUpdate func()
	accountErr        error
}

func newFakeNakama() *fakeNakama {
	return &fakeNakama{
		objects: map[string]map[string]storedObject{},
		clock:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeNakama) nextVersionLocked() (string, time.Time) {
	f.seq++
	f.clock = f.clock.Add(time.Millisecond)
	return fmt.Sprintf("%08x", f.seq*2654435761), f.clock
}

func (f *fakeNakama) checkWriteLocked(w *runtime.StorageWrite) error {
	cur, ok := f.objects[w.Collection][w.Key]
	switch {
	case w.Version == "":
		return nil
	case w.Version == versionMustNotExist:
		if ok {
			return runtime.ErrStorageRejectedVersion
		}
	case !ok || cur.version != w.Version:
		return runtime.ErrStorageRejectedVersion
	}
	return nil
}

func (f *fakeNakama) checkDeleteLocked(d *runtime.StorageDelete) error {
	if d.Version == "" {
		return nil
	}
	cur, ok := f.objects[d.Collection][d.Key]
	if !ok || cur.version != d.Version {
		return runtime.ErrStorageRejectedVersion
	}
	return nil
}

func (f *fakeNakama) applyWriteLocked(w *runtime.StorageWrite) *api.StorageObjectAck {
	version, at := f.nextVersionLocked()
	if f.objects[w.Collection] == nil {
		f.objects[w.Collection] = map[string]storedObject{}
	}
	f.objects[w.Collection][w.Key] = storedObject{value: w.Value, version: version, updated: at}
	return &api.StorageObjectAck{
		Collection: w.Collection,
		Key:        w.Key,
		Version:    version,
		UserId:     w.UserID,
		UpdateTime: timestamppb.New(at),
	}
}

func (f *fakeNakama) object(collection, key string, o storedObject) *api.StorageObject {
	return &api.StorageObject{
		Collection: collection,
		Key:        key,
		Value:      o.value,
		Version:    o.version,
		UpdateTime: timestamppb.New(o.updated),
	}
}

func (f *fakeNakama) StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*api.StorageObject
	for _, r := range reads {
		if o, ok := f.objects[r.Collection][r.Key]; ok {
			out = append(out, f.object(r.Collection, r.Key, o))
		}
	}
	return out, nil
}

func (f *fakeNakama) StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range writes {
		if err := f.checkWriteLocked(w); err != nil {
			return nil, err
		}
	}
	acks := make([]*api.StorageObjectAck, 0, len(writes))
	for _, w := range writes {
		acks = append(acks, f.applyWriteLocked(w))
	}
	return acks, nil
}

func (f *fakeNakama) StorageDelete(ctx context.Context, deletes []*runtime.StorageDelete) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range deletes {
		if err := f.checkDeleteLocked(d); err != nil {
			return err
		}
	}
	for _, d := range deletes {
		delete(f.objects[d.Collection], d.Key)
	}
	return nil
}

func (f *fakeNakama) StorageList(ctx context.Context, callerID, userID, collection string, limit int, cursor string) ([]*api.StorageObject, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects[collection]))
	for k := range f.objects[collection] {
		if k > cursor {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	next := ""
	if len(keys) > limit {
		keys = keys[:limit]
		next = keys[limit-1]
	}
	out := make([]*api.StorageObject, 0, len(keys))
	for _, k := range keys {
		out = append(out, f.object(collection, k, f.objects[collection][k]))
	}
	return out, next, nil
}

func (f *fakeNakama) MultiUpdate(ctx context.Context, accountUpdates []*runtime.AccountUpdate, storageWrites []*runtime.StorageWrite, storageDeletes []*runtime.StorageDelete, walletUpdates []*runtime.WalletUpdate, updateLedger bool) ([]*api.StorageObjectAck, []*runtime.WalletUpdateResult, error) {
	if f.beforeMultiUpdate != nil {
		f.beforeMultiUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range storageWrites {
		if err := f.checkWriteLocked(w); err != nil {
			return nil, nil, err
		}
	}
	for _, d := range storageDeletes {
		if err := f.checkDeleteLocked(d); err != nil {
			return nil, nil, err
		}
	}
	acks := make([]*api.StorageObjectAck, 0, len(storageWrites))
	for _, w := range storageWrites {
		acks = append(acks, f.applyWriteLocked(w))
	}
	for _, d := range storageDeletes {
		delete(f.objects[d.Collection], d.Key)
	}
	return acks, nil, nil
}

func (f *fakeNakama) StreamUserJoin(mode uint8, subject, subcontext, label, userID, sessionID string, hidden, persistence bool, status string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.mode == mode && m.subject == subject && m.sessionID == sessionID {
			return false, nil
		}
	}
	f.members = append(f.members, streamMember{mode: mode, subject: subject, userID: userID, sessionID: sessionID})
	return true, nil
}

func (f *fakeNakama) StreamUserLeave(mode uint8, subject, subcontext, label, userID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.members[:0]
	for _, m := range f.members {
		if !(m.mode == mode && m.subject == subject && m.sessionID == sessionID) {
			kept = append(kept, m)
		}
	}
	f.members = kept
	return nil
}

func (f *fakeNakama) StreamSend(mode uint8, subject, subcontext, label, data string, presences []runtime.Presence, reliable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, streamSend{mode: mode, subject: subject, data: data})
	return nil
}

func (f *fakeNakama) AccountUpdateId(ctx context.Context, userID, username string, metadata map[string]interface{}, displayName, timezone, location, langTag, avatarUrl string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return f.accountErr
	}
	f.updates = append(f.updates, profileUpdate{userID: userID, username: username, displayName: displayName})
	return nil
}

func (f *fakeNakama) AccountGetId(ctx context.Context, userID string) (*api.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := &api.User{Id: userID}
	for _, u := range f.updates {
		if u.userID == userID {
			user.Username, user.DisplayName = u.username, u.displayName
		}
	}
	return &api.Account{User: user}, nil
}

func (f *fakeNakama) sent() []streamSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]streamSend(nil), f.sends...)
}

func (f *fakeNakama) streamMembers() []streamMember {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]streamMember(nil), f.members...)
}

// fakeInitializer captures registered RPCs and hooks.
type fakeInitializer struct {
	runtime.Initializer

	rpcs      map[string]func(context.Context, runtime.Logger, *sql.DB, runtime.NakamaModule, string) (string, error)
	afterAuth func(context.Context, runtime.Logger, *sql.DB, runtime.NakamaModule, *api.Session, *api.AuthenticateDeviceRequest) error
}

func newFakeInitializer() *fakeInitializer {
	return &fakeInitializer{rpcs: map[string]func(context.Context, runtime.Logger, *sql.DB, runtime.NakamaModule, string) (string, error){}}
}

func (i *fakeInitializer) RegisterRpc(id string, fn func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error)) error {
	i.rpcs[id] = fn
	return nil
}

func (i *fakeInitializer) RegisterAfterAuthenticateDevice(fn func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, out *api.Session, in *api.AuthenticateDeviceRequest) error) error {
	i.afterAuth = fn
	return nil
}
