package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

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

// FetchByPKValues fetches the rows whose single numeric PK column equals one
// of values; misses are simply absent.
func (s *Store) FetchByPKValues(ctx context.Context, table dbmodel.TableKey, pkColumn string, values []int64) ([]dbmodel.Row, error) {
	if len(values) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = ANY($1)", s.qualified(table), s.QuoteIdentifier(pkColumn))
	rows, err := s.db.QueryContext(ctx, q, pq.Array(values))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// FetchRandomOrder uses PostgreSQL's ORDER BY random() for composite or
// non-numeric PKs.
func (s *Store) FetchRandomOrder(ctx context.Context, table dbmodel.TableKey, limit int) ([]dbmodel.Row, error) {
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY random() LIMIT %d", s.qualified(table), limit)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// FetchOrderedScan is the LIMIT/OFFSET degradation path for small or sparse
// tables where random PK sampling would retry too often.
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
		where[i] = fmt.Sprintf("%s = $%d", s.QuoteIdentifier(c), i+1)
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
		where[i] = fmt.Sprintf("%s = $%d", s.QuoteIdentifier(c), i+1)
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT %d", s.qualified(fetch.Table), strings.Join(where, " AND "), fetch.Limit)
	rows, err := s.db.QueryContext(ctx, q, fetch.ParentValue.Values()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// InsertBatch bulk-inserts rows via a single multi-row INSERT, the
// buffered-flush unit the propagator accumulates up to (§4.4).
func (s *Store) InsertBatch(ctx context.Context, table dbmodel.TableKey, columns []string, rows []dbmodel.Row) error {
	if len(rows) == 0 {
		return nil
	}
	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = s.QuoteIdentifier(c)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", s.qualified(table), strings.Join(quotedCols, ", "))

	args := make([]any, 0, len(rows)*len(columns))
	argN := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", argN)
			argN++
			v, _ := row.Get(col)
			args = append(args, v)
		}
		sb.WriteString(")")
	}

	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// AdvanceSequence advances column's backing sequence (I4). A no-op if the
// column has no sequence metadata.
func (s *Store) AdvanceSequence(ctx context.Context, table dbmodel.TableKey, column driver.Column, min int64) error {
	if !column.IsAutoGenerated() {
		return nil
	}
	q := "SELECT setval($1, $2, false)"
	_, err := s.db.ExecContext(ctx, q, column.Sequence, min)
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
