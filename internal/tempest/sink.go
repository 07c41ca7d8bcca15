package tempest

import (
	"context"
	"fmt"
	"strings"
)

// Column is a single named value of a Row.
type Column struct {
	Name  string
	Value any
}

// Row is an ordered list of columns as written to a table.
type Row []Column

// Names returns the column names in order.
func (r Row) Names() []string {
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = c.Name
	}
	return out
}

// Values returns the column values in order.
func (r Row) Values() []any {
	out := make([]any, len(r))
	for i, c := range r {
		out[i] = c.Value
	}
	return out
}

// Get returns the value of the named column.
func (r Row) Get(name string) (any, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Value, true
		}
	}
	return nil, false
}

// KeyOf renders the values of the given columns as a stable string key.
// Pointer values are dereferenced so equal readings produce equal keys.
func (r Row) KeyOf(columns []string) string {
	parts := make([]string, 0, len(columns))
	for _, name := range columns {
		v, _ := r.Get(name)
		parts = append(parts, fmt.Sprint(deref(v)))
	}
	return strings.Join(parts, "|")
}

func deref(v any) any {
	switch x := v.(type) {
	case *float64:
		if x != nil {
			return *x
		}
		return nil
	case *int:
		if x != nil {
			return *x
		}
		return nil
	case *bool:
		if x != nil {
			return *x
		}
		return nil
	}
	return v
}

// Outcome is the result of a single sink write.
type Outcome int

const (
	// OutcomeFailed means the backend rejected the write for a reason other
	// than a uniqueness conflict. The accompanying error carries the reason.
	OutcomeFailed Outcome = iota
	// OutcomeStored means a new row was written.
	OutcomeStored
	// OutcomeDuplicate means the row's natural key already existed.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// Sink is the contract every storage backend must satisfy.
type Sink interface {
	// Insert writes row into table. A uniqueness conflict is reported as
	// OutcomeDuplicate with a nil error.
	Insert(ctx context.Context, table string, row Row) (Outcome, error)
	// Upsert writes row into table, replacing the existing row that shares
	// the conflict key columns.
	Upsert(ctx context.Context, table string, row Row, conflictKey ...string) (Outcome, error)
}

// DeviceLister reads back stored device metadata, ordered by station then
// device id.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]Device, error)
}

// Store writes a decoded record to its own table.
func Store(ctx context.Context, sink Sink, rec Record) (Outcome, error) {
	return sink.Insert(ctx, rec.Table(), rec.Row())
}
