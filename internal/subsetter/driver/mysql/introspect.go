package mysql

import (
	"context"
	"fmt"
	"strings"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
)

// Introspect discovers tables, columns, primary keys, and foreign keys via
// information_schema, the same catalog family the postgres driver reads but
// without pg_catalog's OID joins.
func (s *Store) Introspect(ctx context.Context, schemas []string) (*dbmodel.Model, error) {
	if len(schemas) == 0 {
		schemas = []string{s.schema}
	}

	model := dbmodel.NewModel()
	tableKeys, err := s.listTables(ctx, schemas)
	if err != nil {
		return nil, fmt.Errorf("mysql: list tables: %w", err)
	}

	for _, key := range tableKeys {
		cols, err := s.listColumns(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("mysql: list columns %s: %w", key, err)
		}
		pk, err := s.listPrimaryKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("mysql: list primary key %s: %w", key, err)
		}
		count, err := s.RowCount(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("mysql: row count %s: %w", key, err)
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
		return nil, fmt.Errorf("mysql: list foreign keys: %w", err)
	}
	for _, fk := range fks {
		if _, ok := model.Table(fk.Parent); !ok {
			// The parent lives in a schema the caller didn't request (§4.1:
			// unselected tables are still visible to the model). Introspect
			// it now, unselected, so the edge survives instead of vanishing.
			parent, err := s.introspectVisibleTable(ctx, fk.Parent)
			if err != nil {
				return nil, fmt.Errorf("mysql: introspect cross-schema parent %s: %w", fk.Parent, err)
			}
			model.AddTable(parent)
		}
		if !model.AddForeignKey(fk) {
			return nil, fmt.Errorf("mysql: foreign key %s references unknown table %s or %s", fk.Name, fk.Child, fk.Parent)
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
	placeholders, args := inClause(schemas)
	q := fmt.Sprintf(`
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_schema IN (%s) AND table_type = 'BASE TABLE'
		ORDER BY table_schema, table_name`, placeholders)
	rows, err := s.db.QueryContext(ctx, q, args...)
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
		       COALESCE(column_type, ''), COALESCE(extra, '')
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`
	rows, err := s.db.QueryContext(ctx, q, s.effectiveSchema(table.Schema), table.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []dbmodel.Column
	for rows.Next() {
		var name, dataType, columnType, extra string
		var nullable bool
		if err := rows.Scan(&name, &dataType, &nullable, &columnType, &extra); err != nil {
			return nil, err
		}
		col := dbmodel.Column{
			Name:       name,
			NativeType: dataType,
			Nullable:   nullable,
			Type:       classifyMySQLType(dataType, columnType),
		}
		if strings.Contains(extra, "auto_increment") {
			// MySQL auto-increment columns have no named sequence object;
			// the table name doubles as the sequence handle for
			// AdvanceSequence's ALTER TABLE ... AUTO_INCREMENT path.
			col.Sequence = table.Name
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (s *Store) listPrimaryKey(ctx context.Context, table dbmodel.TableKey) ([]string, error) {
	const q = `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`
	rows, err := s.db.QueryContext(ctx, q, s.effectiveSchema(table.Schema), table.Name)
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

// listForeignKeys reads key_column_usage, which already carries the
// referenced schema/table/column per row for MySQL FKs (unlike Postgres,
// no separate pg_constraint-style catalog join is needed).
func (s *Store) listForeignKeys(ctx context.Context, schemas []string) ([]dbmodel.ForeignKey, error) {
	placeholders, args := inClause(schemas)
	q := fmt.Sprintf(`
		SELECT constraint_name, table_schema, table_name, column_name,
		       referenced_table_schema, referenced_table_name, referenced_column_name,
		       ordinal_position
		FROM information_schema.key_column_usage
		WHERE table_schema IN (%s) AND referenced_table_name IS NOT NULL
		ORDER BY table_schema, table_name, constraint_name, ordinal_position`, placeholders)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type key struct {
		name   string
		child  dbmodel.TableKey
		parent dbmodel.TableKey
	}
	order := []string{}
	byName := map[string]*dbmodel.ForeignKey{}
	for rows.Next() {
		var k key
		var constrainedCol, referredCol string
		var pos int
		if err := rows.Scan(&k.name, &k.child.Schema, &k.child.Name, &constrainedCol,
			&k.parent.Schema, &k.parent.Name, &referredCol, &pos); err != nil {
			return nil, err
		}
		id := k.child.String() + "/" + k.name
		fk, ok := byName[id]
		if !ok {
			fk = &dbmodel.ForeignKey{Name: k.name, Child: k.child, Parent: k.parent}
			byName[id] = fk
			order = append(order, id)
		}
		fk.Constrained = append(fk.Constrained, constrainedCol)
		fk.Referred = append(fk.Referred, referredCol)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fks := make([]dbmodel.ForeignKey, 0, len(order))
	for _, id := range order {
		fks = append(fks, *byName[id])
	}
	return fks, nil
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

func classifyMySQLType(dataType, columnType string) dbmodel.ColumnType {
	switch {
	case dataType == "enum":
		return dbmodel.ColumnTypeEnumerated
	case dataType == "set":
		return dbmodel.ColumnTypeArrayOfEnumerated
	case dataType == "tinyint" && strings.HasPrefix(columnType, "tinyint(1)"):
		return dbmodel.ColumnTypeBoolean
	case isMySQLBinaryType(dataType):
		return dbmodel.ColumnTypeBinary
	case isMySQLTemporalType(dataType):
		return dbmodel.ColumnTypeTemporal
	case isMySQLNumericType(dataType):
		return dbmodel.ColumnTypeNumeric
	case dataType == "char" || dataType == "varchar" || dataType == "text" ||
		dataType == "tinytext" || dataType == "mediumtext" || dataType == "longtext":
		return dbmodel.ColumnTypeTextual
	default:
		return dbmodel.ColumnTypeOther
	}
}

func isMySQLBinaryType(t string) bool {
	switch t {
	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob":
		return true
	}
	return false
}

func isMySQLTemporalType(t string) bool {
	switch t {
	case "date", "datetime", "timestamp", "time", "year":
		return true
	}
	return false
}

func isMySQLNumericType(t string) bool {
	switch t {
	case "tinyint", "smallint", "mediumint", "int", "bigint", "decimal", "float", "double":
		return true
	}
	return false
}

func inClause(values []string) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ", "), args
}
