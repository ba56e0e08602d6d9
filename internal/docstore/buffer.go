package docstore

import (
	"context"
	"fmt"

	"offbeat/internal/ports"
)

// Loader reads the committed state of a document. A missing document is a
// snapshot with Exists=false, not an error.
type Loader func(ctx context.Context, id string) (ports.Snapshot, error)

// Staged is one document touched by a transaction.
type Staged struct {
	ID     string
	Read   ports.Snapshot
	Data   map[string]any
	Exists bool
	Dirty  bool
}

// Buffer stages transaction reads and writes until commit. It implements ports.Tx.
type Buffer struct {
	load  Loader
	docs  map[string]*Staged
	order []string
}

// NewBuffer creates an empty transaction buffer reading through load.
func NewBuffer(load Loader) *Buffer {
	return &Buffer{load: load, docs: map[string]*Staged{}}
}

func (b *Buffer) entry(ctx context.Context, id string) (*Staged, error) {
	if s, ok := b.docs[id]; ok {
		return s, nil
	}
	snap, err := b.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s := &Staged{ID: id, Read: snap, Exists: snap.Exists}
	if snap.Exists {
		if s.Data, err = Clone(snap.Data); err != nil {
			return nil, fmt.Errorf("clone %s: %w", id, err)
		}
	}
	b.docs[id] = s
	b.order = append(b.order, id)
	return s, nil
}

func (b *Buffer) Get(ctx context.Context, id string) (ports.Snapshot, error) {
	s, err := b.entry(ctx, id)
	if err != nil {
		return ports.Snapshot{}, err
	}
	if !s.Exists {
		return ports.Snapshot{ID: id}, ports.ErrNotFound
	}
	data, err := Clone(s.Data)
	if err != nil {
		return ports.Snapshot{}, err
	}
	return ports.Snapshot{ID: id, Exists: true, Data: data, Version: s.Read.Version, UpdatedAt: s.Read.UpdatedAt}, nil
}

func (b *Buffer) Create(ctx context.Context, id string, data map[string]any) error {
	s, err := b.entry(ctx, id)
	if err != nil {
		return err
	}
	if s.Exists {
		return ports.ErrAlreadyExists
	}
	if s.Data, err = Clone(data); err != nil {
		return err
	}
	s.Exists, s.Dirty = true, true
	return nil
}

func (b *Buffer) Update(ctx context.Context, id string, updates ...ports.FieldUpdate) error {
	s, err := b.entry(ctx, id)
	if err != nil {
		return err
	}
	if !s.Exists {
		return ports.ErrNotFound
	}
	if err := ApplyUpdates(s.Data, updates); err != nil {
		return err
	}
	s.Dirty = true
	return nil
}

func (b *Buffer) Delete(ctx context.Context, id string) error {
	s, err := b.entry(ctx, id)
	if err != nil {
		return err
	}
	s.Data, s.Exists, s.Dirty = nil, false, true
	return nil
}

// Touched returns every document read or written, in first-access order.
func (b *Buffer) Touched() []*Staged {
	out := make([]*Staged, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.docs[id])
	}
	return out
}

// Writes returns only the documents with staged changes.
func (b *Buffer) Writes() []*Staged {
	var out []*Staged
	for _, s := range b.Touched() {
		if s.Dirty {
			out = append(out, s)
		}
	}
	return out
}

var _ ports.Tx = (*Buffer)(nil)
