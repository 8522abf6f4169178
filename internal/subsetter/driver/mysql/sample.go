package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
	"github.com/dbsubsetter/subsetter/internal/subsetter/driver"
)

// NumericPKRange returns [MIN(pk), MAX(pk)] for a single numeric PK column.
func (s *Store) NumericPKRange(ctx context.Context, table dbmodel.TableKey, pkColumn string) (int64, int64, bool, error) {
	q := fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s", s.QuoteIdentifier(pkColumn), s.QuoteIdentifier(pkColumn), s.qualified(table))
	var min, max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, q).Scan(&min, &max); err != nil {
		return 0, 0, false, err
	}
	if !min.Valid || !max.Valid {
		return 0, 0, false, nil
	}
	return min.Int64, max.Int64, true, nil
}

// FetchByPKValues fetches rows whose single numeric PK column equals one of
// values, in a single IN (...) clause since MySQL has no ANY($1)
// equivalent for a plain placeholder array.
func (s *Store) FetchByPKValues(ctx context.Context, table dbmodel.TableKey, pkColumn string, values []int64) ([]dbmodel.Row, error) {
	if len(values) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s)", s.qualified(table), s.QuoteIdentifier(pkColumn), strings.Join(placeholders, ", "))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// FetchRandomOrder uses MySQL's ORDER BY RAND() for composite or
// non-numeric PKs.
func (s *Store) FetchRandomOrder(ctx context.Context, table dbmodel.TableKey, limit int) ([]dbmodel.Row, error) {
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY RAND() LIMIT %d", s.qualified(table), limit)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// FetchOrderedScan is the LIMIT/OFFSET degradation path for small or sparse
// tables.
func (s *Store) FetchOrderedScan(ctx context.Context, table dbmodel.TableKey, offset, limit int) ([]dbmodel.Row, error) {
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY 1 LIMIT %d OFFSET %d", s.qualified(table), limit, offset)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// FetchByKey returns the single row matching an arbitrary (possibly
// composite) PK tuple.
func (s *Store) FetchByKey(ctx context.Context, table dbmodel.TableKey, pkColumns []string, key dbmodel.KeyTuple) (dbmodel.Row, bool, error) {
	where := make([]string, len(pkColumns))
	for i, c := range pkColumns {
		where[i] = s.QuoteIdentifier(c) + " = ?"
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s", s.qualified(table), strings.Join(where, " AND "))
	rows, err := s.db.QueryContext(ctx, q, key.Values()...)
	if err != nil {
		return dbmodel.Row{}, false, err
	}
	defer rows.Close()
	result, err := scanRows(rows)
	if err != nil {
		return dbmodel.Row{}, false, err
	}
	if len(result) == 0 {
		return dbmodel.Row{}, false, nil
	}
	return result[0], true, nil
}

// FetchChildren fetches up to fetch.Limit rows matching an equality filter
// on fetch.Columns against fetch.ParentValue.
func (s *Store) FetchChildren(ctx context.Context, fetch driver.ChildFetch) ([]dbmodel.Row, error) {
	where := make([]string, len(fetch.Columns))
	for i, c := range fetch.Columns {
		where[i] = s.QuoteIdentifier(c) + " = ?"
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT %d", s.qualified(fetch.Table), strings.Join(where, " AND "), fetch.Limit)
	rows, err := s.db.QueryContext(ctx, q, fetch.ParentValue.Values()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// InsertBatch bulk-inserts rows via a single multi-row INSERT.
func (s *Store) InsertBatch(ctx context.Context, table dbmodel.TableKey, columns []string, rows []dbmodel.Row) error {
	if len(rows) == 0 {
		return nil
	}
	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = s.QuoteIdentifier(c)
	}

	rowPlaceholder := "(" + strings.Repeat("?, ", len(columns)-1) + "?)"
	rowPlaceholders := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		rowPlaceholders[i] = rowPlaceholder
		for _, col := range columns {
			v, _ := row.Get(col)
			args = append(args, v)
		}
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.qualified(table), strings.Join(quotedCols, ", "), strings.Join(rowPlaceholders, ", "))
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

// AdvanceSequence advances a MySQL auto-increment counter to exceed min
// (I4). column.Sequence holds the owning table name (set in listColumns); a
// no-op for non-auto-increment columns.
func (s *Store) AdvanceSequence(ctx context.Context, table dbmodel.TableKey, column driver.Column, min int64) error {
	if !column.IsAutoGenerated() {
		return nil
	}
	q := fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = %d", s.qualified(table), min+1)
	_, err := s.db.ExecContext(ctx, q)
	return err
}

func scanRows(rows *sql.Rows) ([]dbmodel.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []dbmodel.Row
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, dbmodel.NewRow(cols, raw))
	}
	return out, rows.Err()
}
