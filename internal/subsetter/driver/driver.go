// Package driver defines the pluggable database-driver capability set
// (§4.6): schema introspection, row fetching, and insertion. Dialect
// quirks (random-order SQL, sequence advance, identifier quoting) live
// entirely behind this boundary; the rest of the engine never branches on
// dialect name.
package driver

import (
	"context"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
)

// Kind identifies a driver implementation registered with Register.
type Kind string

const (
	KindPostgres Kind = "postgres"
	KindMySQL    Kind = "mysql"
)

// ChildFetch describes "fetch up to Limit rows of a child table whose
// constrained columns equal the given parent key values", used for both
// child expansion (§4.4 step 4) and the selector's targeted child lookup.
type ChildFetch struct {
	Table       dbmodel.TableKey
	Columns     []string // constrained (FK) columns in the child table
	ParentValue dbmodel.KeyTuple
	Limit       int
}

// Driver is the capability set a source or target database must expose.
// A single implementation may serve as both source (read-only use) and
// target (write use); the coordinator decides which methods it calls on
// which instance.
type Driver interface {
	// Introspect builds the schema model for the requested schemas
	// (defaulting to the driver's default schema when schemas is empty),
	// discovering tables, columns, primary keys, and real (catalog) foreign
	// keys. Tables are returned unselected; the caller applies
	// include/exclude rules and merges logical FKs afterward.
	Introspect(ctx context.Context, schemas []string) (*dbmodel.Model, error)

	// RowCount returns the current row count for a table in the source.
	RowCount(ctx context.Context, table dbmodel.TableKey) (int64, error)

	// NumericPKRange returns the [min, max] of a single numeric primary-key
	// column, used by the selector's range-sampling optimization. ok is
	// false if the table's PK isn't a single numeric column or the table
	// is empty.
	NumericPKRange(ctx context.Context, table dbmodel.TableKey, pkColumn string) (min, max int64, ok bool, err error)

	// FetchByPKValues returns up to len(values) rows from table whose single
	// numeric PK column equals one of values. Used by the selector's
	// range-sampling retry loop; misses are simply absent from the result.
	FetchByPKValues(ctx context.Context, table dbmodel.TableKey, pkColumn string, values []int64) ([]dbmodel.Row, error)

	// FetchRandomOrder returns up to limit rows of table in the driver's
	// native random order (e.g. ORDER BY random()), used for composite or
	// non-numeric PKs, or as the scan-degradation path for small/sparse
	// numeric-PK tables.
	FetchRandomOrder(ctx context.Context, table dbmodel.TableKey, limit int) ([]dbmodel.Row, error)

	// FetchOrderedScan returns up to limit rows starting at offset, ordered
	// by PK — the LIMIT/OFFSET degradation path.
	FetchOrderedScan(ctx context.Context, table dbmodel.TableKey, offset, limit int) ([]dbmodel.Row, error)

	// FetchByKey returns the single row matching the given PK tuple, or
	// ok=false if no such row exists.
	FetchByKey(ctx context.Context, table dbmodel.TableKey, pkColumns []string, key dbmodel.KeyTuple) (row dbmodel.Row, ok bool, err error)

	// FetchChildren returns up to fetch.Limit rows of fetch.Table whose
	// fetch.Columns equal fetch.ParentValue, in unspecified order.
	FetchChildren(ctx context.Context, fetch ChildFetch) ([]dbmodel.Row, error)

	// InsertBatch bulk-inserts rows into table on the target, preserving
	// column order and NULLs. Returns the first error encountered; callers
	// isolate offending rows by retrying row-by-row on failure (§4.4).
	InsertBatch(ctx context.Context, table dbmodel.TableKey, columns []string, rows []dbmodel.Row) error

	// AdvanceSequence advances the named sequence/auto-increment source for
	// column on table so its next value is at least min (I4). Implementations
	// no-op when the column isn't sequence-backed.
	AdvanceSequence(ctx context.Context, table dbmodel.TableKey, column Column, min int64) error

	// QuoteIdentifier quotes a (possibly schema-qualified) identifier in
	// the driver's dialect.
	QuoteIdentifier(name string) string

	// Close releases the underlying connection.
	Close() error
}

// Column is the minimal per-column information AdvanceSequence needs,
// mirroring dbmodel.Column's sequence metadata without importing the whole
// type graph into every call site.
type Column = dbmodel.Column

// Factory constructs a Driver from a DSN-style connection URL.
type Factory func(ctx context.Context, url string) (Driver, error)

var factories = make(map[Kind]Factory)

// Register registers a driver factory under kind. Driver packages call this
// from an init() func, mirroring the teacher's storage.Register pattern.
func Register(kind Kind, factory Factory) {
	factories[kind] = factory
}

// Open opens a driver connection for the given URL, dispatching on kind.
func Open(ctx context.Context, kind Kind, url string) (Driver, error) {
	factory, ok := factories[kind]
	if !ok {
		return nil, &UnsupportedKindError{Kind: kind}
	}
	return factory(ctx, url)
}

// SupportedKinds lists every registered driver kind.
func SupportedKinds() []Kind {
	kinds := make([]Kind, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	return kinds
}

// UnsupportedKindError is returned by Open for an unregistered Kind.
type UnsupportedKindError struct{ Kind Kind }

func (e *UnsupportedKindError) Error() string {
	return "driver: unsupported kind: " + string(e.Kind)
}
