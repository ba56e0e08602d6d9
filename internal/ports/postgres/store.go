package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"offbeat/internal/docstore"
	"offbeat/internal/ports"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Logger is the printf-style logger the store reports background failures to.
type Logger interface {
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Store implements ports.DocumentStore on a Postgres JSONB table. Writes from
// other processes reach local subscribers through the Notifier.
type Store struct {
	db       *gorm.DB
	notifier Notifier
	hub      *docstore.Hub
	attempts int
	logger   Logger
	onChange func(ports.Snapshot)
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier fans change notifications out to other processes.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithAttempts bounds optimistic retries.
func WithAttempts(n int) Option {
	return func(s *Store) { s.attempts = n }
}

// WithLogger sets the logger for background failures.
func WithLogger(l Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithChangeListener registers fn to run for every change this process observes.
func WithChangeListener(fn func(ports.Snapshot)) Option {
	return func(s *Store) { s.onChange = fn }
}

// Open connects to dsn with the gorm postgres driver.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// NewStore migrates the document table and returns a store over db.
func NewStore(db *gorm.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:       db,
		hub:      docstore.NewHub(docstore.IncreasingVersion),
		attempts: docstore.DefaultMaxAttempts,
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.AutoMigrate(&GameDocument{}); err != nil {
		return nil, fmt.Errorf("migrate game documents: %w", err)
	}
	return s, nil
}

func toSnapshot(doc *GameDocument) (ports.Snapshot, error) {
	data, err := docstore.Decode(doc.Data)
	if err != nil {
		return ports.Snapshot{}, fmt.Errorf("decode %s: %w", doc.ID, err)
	}
	return ports.Snapshot{
		ID:        doc.ID,
		Exists:    true,
		Data:      data,
		Version:   strconv.FormatInt(doc.Version, 10),
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// clock stamps the first version of every document.
var clock = time.Now

// initialVersion starts a document's version at the creation time in
// nanoseconds. A deleted and recreated game therefore starts above every
// version its previous incarnation reached, so subscribers that never saw
// the deletion still accept it.
func initialVersion() int64 {
	return clock().UnixNano()
}

func readVersion(snap ports.Snapshot) int64 {
	return int64(docstore.ParseVersion(snap.Version))
}

func (s *Store) load(ctx context.Context, id string) (ports.Snapshot, error) {
	return loadWith(s.db.WithContext(ctx), id)
}

func loadWith(db *gorm.DB, id string) (ports.Snapshot, error) {
	var doc GameDocument
	err := db.Where("id = ?", id).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ports.Snapshot{ID: id}, nil
	}
	if err != nil {
		return ports.Snapshot{}, fmt.Errorf("load %s: %w", id, err)
	}
	return toSnapshot(&doc)
}

// changed publishes the current state of ids locally and to other processes.
func (s *Store) changed(ctx context.Context, ids ...string) {
	for _, id := range ids {
		s.refresh(ctx, id)
		if s.notifier != nil {
			if err := s.notifier.Notify(ctx, id); err != nil {
				s.logger.Warn("postgres store: notify %s: %v", id, err)
			}
		}
	}
}

func (s *Store) refresh(ctx context.Context, id string) {
	if s.onChange == nil && s.hub.Subscribers(id) == 0 {
		return
	}
	snap, err := s.load(ctx, id)
	if err != nil {
		s.logger.Warn("postgres store: refresh %s: %v", id, err)
		return
	}
	s.hub.Publish(snap)
	if s.onChange != nil {
		s.onChange(snap)
	}
}

func (s *Store) Get(ctx context.Context, id string) (ports.Snapshot, error) {
	snap, err := s.load(ctx, id)
	if err != nil {
		return ports.Snapshot{}, err
	}
	if !snap.Exists {
		return snap, ports.ErrNotFound
	}
	return snap, nil
}

func (s *Store) Create(ctx context.Context, id string, data map[string]any) error {
	raw, err := docstore.Encode(data)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&GameDocument{ID: id, Data: datatypes.JSON(raw), Version: initialVersion()})
	if res.Error != nil {
		return fmt.Errorf("create %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ports.ErrAlreadyExists
	}
	s.changed(ctx, id)
	return nil
}

func (s *Store) Update(ctx context.Context, id string, updates ...ports.FieldUpdate) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.Update(ctx, id, updates...)
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&GameDocument{})
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		s.changed(ctx, id)
	}
	return nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	return docstore.Retry(ctx, s.attempts, func(attempt int) error {
		buf := docstore.NewBuffer(s.load)
		if err := fn(ctx, buf); err != nil {
			return err
		}
		writes := buf.Writes()
		if len(writes) == 0 {
			return nil
		}
		if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return commit(tx, buf)
		}); err != nil {
			return err
		}
		ids := make([]string, len(writes))
		for i, w := range writes {
			ids[i] = w.ID
		}
		s.changed(ctx, ids...)
		return nil
	})
}

// commit applies staged documents with version-guarded statements. Any
// statement that matches no row means a concurrent writer won.
func commit(tx *gorm.DB, buf *docstore.Buffer) error {
	conflict := func(id string) error {
		return fmt.Errorf("document %s changed: %w", id, ports.ErrConflict)
	}
	for _, st := range buf.Touched() {
		version := readVersion(st.Read)
		switch {
		case st.Read.Exists && st.Dirty && st.Exists:
			raw, err := docstore.Encode(st.Data)
			if err != nil {
				return err
			}
			res := tx.Model(&GameDocument{}).
				Where("id = ? AND version = ?", st.ID, version).
				Updates(map[string]interface{}{
					"data":       datatypes.JSON(raw),
					"version":    gorm.Expr("version + 1"),
					"updated_at": time.Now().UTC(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return conflict(st.ID)
			}
		case st.Read.Exists && st.Dirty:
			res := tx.Where("id = ? AND version = ?", st.ID, version).Delete(&GameDocument{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return conflict(st.ID)
			}
		case st.Read.Exists:
			var doc GameDocument
			err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
				Select("id").
				Where("id = ? AND version = ?", st.ID, version).
				Take(&doc).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return conflict(st.ID)
			}
			if err != nil {
				return err
			}
		case st.Dirty && st.Exists:
			raw, err := docstore.Encode(st.Data)
			if err != nil {
				return err
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&GameDocument{ID: st.ID, Data: datatypes.JSON(raw), Version: initialVersion()})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return conflict(st.ID)
			}
		default:
			var n int64
			if err := tx.Model(&GameDocument{}).Where("id = ?", st.ID).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return conflict(st.ID)
			}
		}
	}
	return nil
}

// Query narrows candidates in SQL with JSON path equality and re-checks them
// in process, so type differences between SQL text and JSON values cannot
// produce false matches.
func (s *Store) Query(ctx context.Context, f ports.Filter) ([]ports.Snapshot, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = docstore.DefaultQueryLimit
	}
	q := s.db.WithContext(ctx).Model(&GameDocument{})
	for _, c := range f.Conditions {
		if _, ok := c.Value.(string); ok {
			q = q.Where(datatypes.JSONQuery("data").Equals(c.Value, strings.Split(c.Path, ".")...))
		}
	}

	var docs []GameDocument
	if err := q.Order("id").Limit(limit).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	var out []ports.Snapshot
	for i := range docs {
		snap, err := toSnapshot(&docs[i])
		if err != nil {
			s.logger.Warn("postgres store: skipping %s: %v", docs[i].ID, err)
			continue
		}
		if docstore.Matches(snap.Data, f.Conditions) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, id string) (<-chan ports.Snapshot, error) {
	snap, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, id, snap), nil
}

// Watch applies change notifications from other processes until ctx is done.
// Without a notifier it returns immediately.
func (s *Store) Watch(ctx context.Context) error {
	if s.notifier == nil {
		return nil
	}
	ids, err := s.notifier.Listen(ctx)
	if err != nil {
		return err
	}
	go func() {
		for id := range ids {
			s.refresh(ctx, id)
		}
	}()
	return nil
}

var _ ports.DocumentStore = (*Store)(nil)
