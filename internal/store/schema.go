package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/ir"
)

// Column describes one column of an entity table.
type Column struct {
	Name     string
	Kind     ir.Kind
	Nullable bool
}

// Table describes the table a type hierarchy is stored in.
type Table struct {
	Name    string
	Columns []Column
	Key     []string
}

// Tables derives the table layout of cat: one table per hierarchy root,
// holding the properties of every type in the hierarchy and the
// discriminator column.
func Tables(cat *catalog.Catalog) []Table {
	var out []Table
	for _, t := range cat.Types() {
		if cat.Base(t) != nil {
			continue
		}
		tbl := Table{Name: t.Table}
		seen := make(map[string]bool)
		if disc := cat.DiscriminatorColumn(t); disc != "" {
			tbl.Columns = append(tbl.Columns, Column{Name: disc, Kind: ir.KindString})
			seen[disc] = true
		}
		for _, p := range cat.TableProperties(t) {
			if seen[p.Column] {
				continue
			}
			seen[p.Column] = true
			tbl.Columns = append(tbl.Columns, Column{Name: p.Column, Kind: p.Kind, Nullable: p.ColumnNullable})
		}
		for _, p := range cat.KeyProperties(t) {
			tbl.Key = append(tbl.Key, p.Column)
		}
		out = append(out, tbl)
	}
	return out
}

// CreateSchema creates the tables of cat. Existing tables are kept.
func (s *Store) CreateSchema(ctx context.Context, cat *catalog.Catalog) error {
	for _, tbl := range Tables(cat) {
		if _, err := s.db.ExecContext(ctx, tbl.DDL()); err != nil {
			return fmt.Errorf("create table %s: %w", tbl.Name, err)
		}
	}
	return nil
}

// DDL renders the CREATE TABLE statement of t.
func (t Table) DDL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quote(t.Name))
	for _, c := range t.Columns {
		fmt.Fprintf(&b, "    %s %s", quote(c.Name), sqlType(c.Kind))
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		b.WriteString(",\n")
	}
	keys := make([]string, len(t.Key))
	for i, k := range t.Key {
		keys[i] = quote(k)
	}
	fmt.Fprintf(&b, "    PRIMARY KEY (%s)\n)", strings.Join(keys, ", "))
	return b.String()
}

func sqlType(kind ir.Kind) string {
	switch kind {
	case ir.KindInt, ir.KindBool:
		return "INTEGER"
	case ir.KindFloat:
		return "REAL"
	}
	return "TEXT"
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
