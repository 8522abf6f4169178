// Package dbmodel holds the introspected schema graph: tables, columns,
// primary keys, and foreign keys (real and user-supplied logical), plus the
// per-table derived data the coordinator and propagator consume.
package dbmodel

// ColumnType is a coarse semantic tag for a column's scalar type, carried
// alongside the raw driver-reported type name so drivers can round-trip
// NULLs, arrays, and enumerated types correctly on insert.
type ColumnType int

const (
	ColumnTypeOther ColumnType = iota
	ColumnTypeNumeric
	ColumnTypeTextual
	ColumnTypeBoolean
	ColumnTypeTemporal
	ColumnTypeBinary
	ColumnTypeEnumerated
	// ColumnTypeArrayOfEnumerated is kept distinct from a plain array-of-string
	// tag: some drivers require an explicit cast (e.g. postgres "::mood[]")
	// on insert that a generic array tag would lose.
	ColumnTypeArrayOfEnumerated
)

func (t ColumnType) String() string {
	switch t {
	case ColumnTypeNumeric:
		return "numeric"
	case ColumnTypeTextual:
		return "textual"
	case ColumnTypeBoolean:
		return "boolean"
	case ColumnTypeTemporal:
		return "temporal"
	case ColumnTypeBinary:
		return "binary"
	case ColumnTypeEnumerated:
		return "enumerated"
	case ColumnTypeArrayOfEnumerated:
		return "array_of_enumerated"
	default:
		return "other"
	}
}

// Column describes one column of a Table.
type Column struct {
	Name       string
	NativeType string // driver-reported type name, e.g. "integer", "mood[]"
	Type       ColumnType
	Nullable   bool

	// Sequence is non-empty when the column is populated from an
	// auto-generated key source (a SERIAL/IDENTITY column or named
	// sequence) that finalization must advance past MAX(value).
	Sequence string
}

// IsAutoGenerated reports whether this column's value is sourced from a
// sequence and therefore participates in post-load sequence adjustment (I4).
func (c Column) IsAutoGenerated() bool {
	return c.Sequence != ""
}
