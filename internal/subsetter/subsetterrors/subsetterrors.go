// Package subsetterrors defines the sentinel error kinds of §7, wrapped
// with call-site context via fmt.Errorf's %w, mirroring the teacher's
// storage.Err* sentinel convention (internal/storage/storage.go).
package subsetterrors

import "errors"

var (
	// ErrConfiguration marks a fatal startup error: malformed config,
	// unknown table named in --force/--full-table, a composite PK used
	// with --force, or include/exclude patterns matching nothing.
	ErrConfiguration = errors.New("subsetter: configuration error")

	// ErrConnection marks a fatal startup error: a source or target driver
	// could not connect.
	ErrConnection = errors.New("subsetter: connection error")

	// ErrSchemaMismatch marks a fatal error discovered at the first
	// offending table: a source column missing from the target, or a type
	// incompatible at first insert.
	ErrSchemaMismatch = errors.New("subsetter: schema mismatch")

	// ErrMissingParent marks a non-fatal, per-row condition: a child
	// references a parent PK the source no longer contains.
	ErrMissingParent = errors.New("subsetter: missing parent row")

	// ErrInsertFailure marks a non-fatal, per-row condition: an integrity
	// error isolated during row-by-row retry after a batch flush failure.
	ErrInsertFailure = errors.New("subsetter: insert failure")

	// ErrForcedRowNotFound marks a fatal error: a --force target PK does
	// not exist in the source.
	ErrForcedRowNotFound = errors.New("subsetter: forced row not found")
)
