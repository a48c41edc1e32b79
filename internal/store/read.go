package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Rows is a cursor over a query result. Values are normalized to nil,
// int64, float64 and string; the caller converts them to property kinds.
type Rows struct {
	rows *sql.Rows
	cols []string
	vals []any
	ptrs []any
}

// Query runs a statement with named parameters and returns a cursor.
// names lists the parameters the statement reads; see Args.
// Callers are responsible for closing the returned rows.
func (s *Store) Query(ctx context.Context, query string, names []string, params map[string]any) (*Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, Args(names, params)...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("query columns: %w", err)
	}
	r := &Rows{rows: rows, cols: cols, vals: make([]any, len(cols)), ptrs: make([]any, len(cols))}
	for i := range r.vals {
		r.ptrs[i] = &r.vals[i]
	}
	return r, nil
}

// Columns returns the result column names.
func (r *Rows) Columns() []string {
	return r.cols
}

// Next advances to the next row.
func (r *Rows) Next() bool {
	return r.rows.Next()
}

// Values scans the current row into a fresh slice.
func (r *Rows) Values() ([]any, error) {
	if err := r.rows.Scan(r.ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	out := make([]any, len(r.vals))
	for i, v := range r.vals {
		out[i] = normalize(v)
	}
	return out, nil
}

// Err returns the error, if any, that ended iteration.
func (r *Rows) Err() error {
	return r.rows.Err()
}

// Close releases the cursor.
func (r *Rows) Close() error {
	return r.rows.Close()
}

// ReadAll runs a statement and returns every row.
func (s *Store) ReadAll(ctx context.Context, query string, names []string, params map[string]any) ([][]any, error) {
	rows, err := s.Query(ctx, query, names, params)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := [][]any{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// ReadExecutions returns the execution log in order.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the log is empty.
func (s *Store) ReadExecutions(ctx context.Context) ([]Execution, error) {
	return s.readExecutions(ctx, `
		SELECT id, seq, fingerprint, sql_text, params, row_count, queries, outcome
		FROM navq_executions
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
}

// LastSeq returns the highest sequence number in the execution log, 0
// when it is empty.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM navq_executions`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}
	return seq, nil
}

// ReadFailures returns the executions whose outcome is not ok, in log
// order.
func (s *Store) ReadFailures(ctx context.Context) ([]Execution, error) {
	return s.readExecutions(ctx, `
		SELECT id, seq, fingerprint, sql_text, params, row_count, queries, outcome
		FROM navq_executions
		WHERE outcome != 'ok'
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
}

func (s *Store) readExecutions(ctx context.Context, query string) ([]Execution, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	out := []Execution{}
	for rows.Next() {
		var e Execution
		var params string
		if err := rows.Scan(&e.ID, &e.Seq, &e.Fingerprint, &e.SQL, &params, &e.RowCount, &e.Queries, &e.Outcome); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if e.Params, err = unmarshalParams(params); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}
