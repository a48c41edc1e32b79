package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Row is one table row by column name. Values are nil, int64, float64,
// string or bool.
type Row map[string]any

// Insert adds rows to table in one transaction.
func (s *Store) Insert(ctx context.Context, table string, rows ...Row) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			if err := insertRow(ctx, tx, table, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertRow(ctx context.Context, tx *sql.Tx, table string, r Row) error {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		marks[i] = "?"
		args[i] = r[c]
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// Execution is one entry of the execution log.
type Execution struct {
	ID          string         `json:"id"`
	Seq         int64          `json:"seq"`
	Fingerprint string         `json:"fingerprint"`
	SQL         string         `json:"sql"`
	Params      map[string]any `json:"params,omitempty"`
	RowCount    int            `json:"row_count"`
	// Queries counts the statements run, batched sub-queries included.
	Queries int    `json:"queries"`
	Outcome string `json:"outcome"`
}

// WriteExecution appends an entry to the execution log.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
//
// Params are serialized to canonical JSON so equal bindings compare equal
// as text.
func (s *Store) WriteExecution(ctx context.Context, e Execution) error {
	params, err := marshalParams(e.Params)
	if err != nil {
		return fmt.Errorf("write execution: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO navq_executions
		(id, seq, fingerprint, sql_text, params, row_count, queries, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.Seq,
		e.Fingerprint,
		e.SQL,
		params,
		e.RowCount,
		e.Queries,
		e.Outcome,
	)
	if err != nil {
		return fmt.Errorf("write execution: %w", err)
	}
	return nil
}
