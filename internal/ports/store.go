package ports

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrConflict is returned when a transaction lost every optimistic retry.
	ErrConflict = errors.New("write conflict")
)

// Snapshot is a whole-document read at a point in time.
// Data is a JSON-shaped tree: maps, slices, strings, float64, bool and nil.
type Snapshot struct {
	ID        string
	Exists    bool
	Data      map[string]any
	Version   string
	UpdatedAt time.Time
}

// UpdateOp identifies a field-path mutation.
type UpdateOp int

const (
	OpSet UpdateOp = iota
	OpDelete
	OpArrayUnion
	OpArrayRemove
	OpIncrement
)

func (o UpdateOp) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpArrayUnion:
		return "array_union"
	case OpArrayRemove:
		return "array_remove"
	case OpIncrement:
		return "increment"
	default:
		return "unknown"
	}
}

// FieldUpdate mutates a single dot-separated field path.
type FieldUpdate struct {
	Path   string
	Op     UpdateOp
	Value  any
	Values []any
}

// Set replaces the value at path, creating intermediate maps.
func Set(path string, value any) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpSet, Value: value}
}

// DeleteField removes path from the document.
func DeleteField(path string) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpDelete}
}

// ArrayUnion appends each value not already present in the array at path.
func ArrayUnion(path string, values ...any) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpArrayUnion, Values: values}
}

// ArrayRemove removes every element equal to one of values from the array at path.
func ArrayRemove(path string, values ...any) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpArrayRemove, Values: values}
}

// Increment adds delta to the number at path. A missing field counts as zero.
func Increment(path string, delta int64) FieldUpdate {
	return FieldUpdate{Path: path, Op: OpIncrement, Value: delta}
}

// Condition matches documents where the value at Path equals Value.
type Condition struct {
	Path  string
	Value any
}

// Where builds an equality condition.
func Where(path string, value any) Condition {
	return Condition{Path: path, Value: value}
}

// Filter is a conjunction of equality conditions.
type Filter struct {
	Conditions []Condition
	// Limit caps the number of scanned documents; zero means the backend default.
	Limit int
}

// Tx is a unit of optimistic work. Reads observe the transaction's own staged writes.
type Tx interface {
	Get(ctx context.Context, id string) (Snapshot, error)
	Create(ctx context.Context, id string, data map[string]any) error
	Update(ctx context.Context, id string, updates ...FieldUpdate) error
	Delete(ctx context.Context, id string) error
}

// DocumentStore is the shared, subscribable document database all game state lives in.
type DocumentStore interface {
	// Get reads a document. Missing documents return ErrNotFound.
	Get(ctx context.Context, id string) (Snapshot, error)
	// Create writes a new document and fails with ErrAlreadyExists when id is taken.
	Create(ctx context.Context, id string, data map[string]any) error
	// Update applies field updates atomically. Missing documents return ErrNotFound.
	Update(ctx context.Context, id string, updates ...FieldUpdate) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, id string) error
	// RunTransaction runs fn and commits its writes only if nothing it read changed.
	// fn is retried on conflict; its non-conflict errors abort without writing.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Query returns documents matching every condition of f.
	Query(ctx context.Context, f Filter) ([]Snapshot, error)
	// Subscribe delivers the current document and then every later change until ctx is done.
	// A deleted document is delivered as a snapshot with Exists=false.
	Subscribe(ctx context.Context, id string) (<-chan Snapshot, error)
}
