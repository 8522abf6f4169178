package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
)

// Introspect discovers tables, columns, primary keys, and foreign keys in
// the requested schemas (the "public" schema if none given), following the
// pg_catalog join shape used for FK discovery across the example pack
// (schema/table/constraint/referenced-table joins over pg_constraint).
func (s *Store) Introspect(ctx context.Context, schemas []string) (*dbmodel.Model, error) {
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}

	model := dbmodel.NewModel()
	tableKeys, err := s.listTables(ctx, schemas)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}

	for _, key := range tableKeys {
		cols, err := s.listColumns(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("postgres: list columns %s: %w", key, err)
		}
		pk, err := s.listPrimaryKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("postgres: list primary key %s: %w", key, err)
		}
		count, err := s.RowCount(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("postgres: row count %s: %w", key, err)
		}
		model.AddTable(&dbmodel.Table{
			Key:            key,
			Columns:        cols,
			PK:             pk,
			SourceRowCount: count,
		})
	}

	fks, err := s.listForeignKeys(ctx, schemas)
	if err != nil {
		return nil, fmt.Errorf("postgres: list foreign keys: %w", err)
	}
	for _, fk := range fks {
		if _, ok := model.Table(fk.Parent); !ok {
			// The parent lives in a schema the caller didn't request (§4.1:
			// unselected tables are still visible to the model). Introspect
			// it now, unselected, so the edge survives instead of vanishing.
			parent, err := s.introspectVisibleTable(ctx, fk.Parent)
			if err != nil {
				return nil, fmt.Errorf("postgres: introspect cross-schema parent %s: %w", fk.Parent, err)
			}
			model.AddTable(parent)
		}
		if !model.AddForeignKey(fk) {
			return nil, fmt.Errorf("postgres: foreign key %s references unknown table %s or %s", fk.Name, fk.Child, fk.Parent)
		}
	}

	return model, nil
}

// introspectVisibleTable builds an unselected Table for a parent referenced
// by a foreign key but outside the requested schemas.
func (s *Store) introspectVisibleTable(ctx context.Context, key dbmodel.TableKey) (*dbmodel.Table, error) {
	cols, err := s.listColumns(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	pk, err := s.listPrimaryKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list primary key: %w", err)
	}
	count, err := s.RowCount(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("row count: %w", err)
	}
	return &dbmodel.Table{
		Key:            key,
		Columns:        cols,
		PK:             pk,
		SourceRowCount: count,
		Selected:       false,
	}, nil
}

func (s *Store) listTables(ctx context.Context, schemas []string) ([]dbmodel.TableKey, error) {
	const q = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_schema = ANY($1) AND table_type = 'BASE TABLE'
		ORDER BY table_schema, table_name`
	rows, err := s.db.QueryContext(ctx, q, pq.Array(schemas))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []dbmodel.TableKey
	for rows.Next() {
		var k dbmodel.TableKey
		if err := rows.Scan(&k.Schema, &k.Name); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) listColumns(ctx context.Context, table dbmodel.TableKey) ([]dbmodel.Column, error) {
	const q = `
		SELECT column_name, data_type, is_nullable = 'YES',
		       COALESCE(udt_name, ''), column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`
	rows, err := s.db.QueryContext(ctx, q, table.Schema, table.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []dbmodel.Column
	for rows.Next() {
		var name, dataType, udt string
		var nullable bool
		var def sql.NullString
		if err := rows.Scan(&name, &dataType, &nullable, &udt, &def); err != nil {
			return nil, err
		}
		col := dbmodel.Column{
			Name:       name,
			NativeType: dataType,
			Nullable:   nullable,
			Type:       classifyPostgresType(dataType, udt),
		}
		if def.Valid && isSequenceDefault(def.String) {
			col.Sequence = sequenceNameFromDefault(def.String)
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (s *Store) listPrimaryKey(ctx context.Context, table dbmodel.TableKey) ([]string, error) {
	const q = `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(i.indkey)
		WHERE i.indisprimary AND n.nspname = $1 AND c.relname = $2
		ORDER BY array_position(i.indkey, a.attnum)`
	rows, err := s.db.QueryContext(ctx, q, table.Schema, table.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// listForeignKeys mirrors the pg_catalog join shape used to discover FK
// relationships (schema/table/constraint joined to the referenced
// schema/table via pg_constraint.confrelid), extended to pull the
// constrained/referred column lists in declaration order.
func (s *Store) listForeignKeys(ctx context.Context, schemas []string) ([]dbmodel.ForeignKey, error) {
	const q = `
		SELECT
			con.conname,
			n.nspname, c.relname,
			rn.nspname, rc.relname,
			array_agg(ac.attname ORDER BY ord.n),
			array_agg(ar.attname ORDER BY ord.n)
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_class rc ON rc.oid = con.confrelid
		JOIN pg_namespace rn ON rn.oid = rc.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS ord(ck, fk, n)
		JOIN pg_attribute ac ON ac.attrelid = con.conrelid AND ac.attnum = ord.ck
		JOIN pg_attribute ar ON ar.attrelid = con.confrelid AND ar.attnum = ord.fk
		WHERE con.contype = 'f' AND n.nspname = ANY($1)
		GROUP BY con.conname, n.nspname, c.relname, rn.nspname, rc.relname
		ORDER BY n.nspname, c.relname, con.conname`
	rows, err := s.db.QueryContext(ctx, q, pq.Array(schemas))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []dbmodel.ForeignKey
	for rows.Next() {
		var fk dbmodel.ForeignKey
		var constrained, referred pq.StringArray
		if err := rows.Scan(&fk.Name, &fk.Child.Schema, &fk.Child.Name,
			&fk.Parent.Schema, &fk.Parent.Name, &constrained, &referred); err != nil {
			return nil, err
		}
		fk.Constrained = []string(constrained)
		fk.Referred = []string(referred)
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// RowCount returns the current row count for a table.
func (s *Store) RowCount(ctx context.Context, table dbmodel.TableKey) (int64, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.qualified(table))
	var n int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func isSequenceDefault(def string) bool {
	return strings.Contains(def, "nextval(")
}

func sequenceNameFromDefault(def string) string {
	// def looks like: nextval('schema.seq_name'::regclass)
	start := strings.Index(def, "'")
	end := strings.LastIndex(def, "'")
	if start < 0 || end <= start {
		return def
	}
	return def[start+1 : end]
}

func classifyPostgresType(dataType, udt string) dbmodel.ColumnType {
	switch {
	case dataType == "ARRAY":
		if len(udt) > 0 && udt[0] == '_' {
			// udt_name for an enum array is "_<enumname>", but scalar arrays
			// ("_int4", "_text") share the prefix. No catalog lookup tells
			// them apart, so every such array column is tagged
			// ArrayOfEnumerated.
			return dbmodel.ColumnTypeArrayOfEnumerated
		}
		return dbmodel.ColumnTypeOther
	case dataType == "boolean":
		return dbmodel.ColumnTypeBoolean
	case dataType == "bytea":
		return dbmodel.ColumnTypeBinary
	case isTemporalType(dataType):
		return dbmodel.ColumnTypeTemporal
	case isNumericType(dataType):
		return dbmodel.ColumnTypeNumeric
	case dataType == "text" || dataType == "character varying" || dataType == "character":
		return dbmodel.ColumnTypeTextual
	case dataType == "USER-DEFINED":
		return dbmodel.ColumnTypeEnumerated
	default:
		return dbmodel.ColumnTypeOther
	}
}

func isTemporalType(t string) bool {
	switch t {
	case "date", "timestamp without time zone", "timestamp with time zone", "time without time zone", "time with time zone", "interval":
		return true
	}
	return false
}

func isNumericType(t string) bool {
	switch t {
	case "smallint", "integer", "bigint", "numeric", "real", "double precision", "money":
		return true
	}
	return false
}
