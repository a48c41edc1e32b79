package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/relational"
)

// Emit renders a relational select as SQLite SQL.
// Returns (sql, params, error) tuple; params lists the named parameters
// the text reads (@name), in first-seen order without duplicates.
//
// Identifiers are always double quoted. Constants are rendered as literals:
// they are part of the plan's cache key, so a different constant is a
// different plan. Parameters are never interpolated.
func Emit(sel *relational.Select) (string, []string, error) {
	if sel == nil {
		return "", nil, fmt.Errorf("cannot emit nil select")
	}
	c := &sqlCompiler{seen: make(map[string]bool)}
	if err := c.compileSelect(sel); err != nil {
		return "", nil, err
	}
	return c.b.String(), c.params, nil
}

// sqlCompiler accumulates SQL text and the parameters it references.
type sqlCompiler struct {
	b      strings.Builder
	params []string
	seen   map[string]bool
}

func (c *sqlCompiler) write(parts ...string) {
	for _, p := range parts {
		c.b.WriteString(p)
	}
}

// compileSelect writes one query block.
func (c *sqlCompiler) compileSelect(sel *relational.Select) error {
	c.write("SELECT ")
	if sel.Distinct {
		c.write("DISTINCT ")
	}
	if len(sel.Projection) == 0 {
		c.write("1")
	}
	for i, p := range sel.Projection {
		if i > 0 {
			c.write(", ")
		}
		if err := c.compileScalar(p.Expr); err != nil {
			return fmt.Errorf("projection %q: %w", p.Alias, err)
		}
		if col, ok := p.Expr.(*relational.ColumnRef); !ok || col.Column != p.Alias {
			c.write(" AS ", quote(p.Alias))
		}
	}

	for i, t := range sel.Tables {
		if i == 0 {
			c.write(" FROM ")
		} else {
			c.write(" ", t.Join.String(), " ")
		}
		if err := c.compileSource(t); err != nil {
			return err
		}
		if i > 0 && t.Join != relational.JoinCross {
			c.write(" ON ")
			on := t.On
			if on == nil {
				on = relational.True()
			}
			if err := c.compileScalar(on); err != nil {
				return fmt.Errorf("join %q: %w", t.Alias, err)
			}
		}
	}

	if sel.Predicate != nil {
		c.write(" WHERE ")
		if err := c.compileScalar(sel.Predicate); err != nil {
			return fmt.Errorf("compile filter: %w", err)
		}
	}
	if len(sel.GroupBy) > 0 {
		c.write(" GROUP BY ")
		if err := c.compileList(sel.GroupBy); err != nil {
			return fmt.Errorf("compile grouping: %w", err)
		}
	}
	if sel.Having != nil {
		c.write(" HAVING ")
		if err := c.compileScalar(sel.Having); err != nil {
			return fmt.Errorf("compile having: %w", err)
		}
	}
	if len(sel.Orderings) > 0 {
		c.write(" ORDER BY ")
		if err := c.compileOrderings(sel.Orderings); err != nil {
			return err
		}
	}
	switch {
	case sel.Limit != nil:
		c.write(" LIMIT ")
		if err := c.compileScalar(sel.Limit); err != nil {
			return err
		}
	case sel.Offset != nil:
		// SQLite only accepts OFFSET after a LIMIT.
		c.write(" LIMIT -1")
	}
	if sel.Offset != nil {
		c.write(" OFFSET ")
		if err := c.compileScalar(sel.Offset); err != nil {
			return err
		}
	}
	return nil
}

func (c *sqlCompiler) compileSource(t relational.TableSource) error {
	switch {
	case t.Table != "":
		c.write(quote(t.Table))
	case t.Query != nil:
		c.write("(")
		if err := c.compileSelect(t.Query); err != nil {
			return fmt.Errorf("derived table %q: %w", t.Alias, err)
		}
		c.write(")")
	case t.Set != nil:
		c.write("(")
		if err := c.compileOperand(t.Set.Left); err != nil {
			return err
		}
		c.write(" ", string(t.Set.Op), " ")
		if err := c.compileOperand(t.Set.Right); err != nil {
			return err
		}
		c.write(")")
	default:
		return fmt.Errorf("table source %q has no table, query or set", t.Alias)
	}
	c.write(" AS ", quote(t.Alias))
	return nil
}

// compileOperand writes a compound select member. SQLite rejects ORDER BY
// and LIMIT on members, so such operands are wrapped.
func (c *sqlCompiler) compileOperand(sel *relational.Select) error {
	if len(sel.Orderings) == 0 && sel.Limit == nil && sel.Offset == nil {
		return c.compileSelect(sel)
	}
	c.write("SELECT * FROM (")
	if err := c.compileSelect(sel); err != nil {
		return err
	}
	c.write(")")
	return nil
}

func (c *sqlCompiler) compileList(list []relational.Scalar) error {
	for i, s := range list {
		if i > 0 {
			c.write(", ")
		}
		if err := c.compileScalar(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *sqlCompiler) compileOrderings(orderings []relational.Ordering) error {
	for i, o := range orderings {
		if i > 0 {
			c.write(", ")
		}
		if err := c.compileScalar(o.Expr); err != nil {
			return fmt.Errorf("compile ordering: %w", err)
		}
		if o.Descending {
			c.write(" DESC")
		}
	}
	return nil
}

// Operator precedence, loosest first. Operands binding looser than their
// parent are parenthesized.
func precedence(s relational.Scalar) int {
	switch s := s.(type) {
	case *relational.Binary:
		switch s.Op {
		case relational.OpOr:
			return 1
		case relational.OpAnd:
			return 2
		case relational.OpEq, relational.OpNe, relational.OpLt, relational.OpLe, relational.OpGt, relational.OpGe:
			return 4
		case relational.OpBitAnd, relational.OpBitOr:
			return 5
		case relational.OpAdd, relational.OpSub:
			return 6
		case relational.OpMul, relational.OpDiv, relational.OpMod:
			return 7
		case relational.OpConcat:
			return 8
		}
	case *relational.Unary:
		switch s.Op {
		case relational.OpNot:
			return 3
		case relational.OpIsNull, relational.OpIsNotNull:
			return 4
		}
		return 9
	case *relational.In:
		return 4
	}
	return 10
}

func associative(op relational.BinaryOp) bool {
	switch op {
	case relational.OpAnd, relational.OpOr, relational.OpAdd, relational.OpMul, relational.OpConcat,
		relational.OpBitAnd, relational.OpBitOr:
		return true
	}
	return false
}

func (c *sqlCompiler) compileOperandOf(parent int, s relational.Scalar, strict bool) error {
	p := precedence(s)
	if p < parent || (strict && p == parent) {
		c.write("(")
		if err := c.compileScalar(s); err != nil {
			return err
		}
		c.write(")")
		return nil
	}
	return c.compileScalar(s)
}

// compileScalar writes an expression.
func (c *sqlCompiler) compileScalar(s relational.Scalar) error {
	switch s := s.(type) {
	case *relational.ColumnRef:
		c.write(quote(s.Table), ".", quote(s.Column))
	case *relational.Constant:
		lit, err := literal(s.Value)
		if err != nil {
			return err
		}
		c.write(lit)
	case *relational.Parameter:
		if !c.seen[s.Name] {
			c.seen[s.Name] = true
			c.params = append(c.params, s.Name)
		}
		c.write("@", s.Name)
	case *relational.Binary:
		prec := precedence(s)
		if err := c.compileOperandOf(prec, s.Left, false); err != nil {
			return err
		}
		c.write(" ", string(s.Op), " ")
		rightStrict := true
		if r, ok := s.Right.(*relational.Binary); ok && r.Op == s.Op && associative(s.Op) {
			rightStrict = false
		}
		return c.compileOperandOf(prec, s.Right, rightStrict)
	case *relational.Unary:
		switch s.Op {
		case relational.OpNot:
			c.write("NOT ")
			return c.compileOperandOf(3, s.Operand, true)
		case relational.OpNegate:
			c.write("-")
			return c.compileOperandOf(9, s.Operand, true)
		default:
			if err := c.compileOperandOf(4, s.Operand, true); err != nil {
				return err
			}
			c.write(" ", string(s.Op))
		}
	case *relational.Case:
		c.write("CASE")
		for _, w := range s.Whens {
			c.write(" WHEN ")
			if err := c.compileScalar(w.Cond); err != nil {
				return err
			}
			c.write(" THEN ")
			if err := c.compileScalar(w.Result); err != nil {
				return err
			}
		}
		if s.Else != nil {
			c.write(" ELSE ")
			if err := c.compileScalar(s.Else); err != nil {
				return err
			}
		}
		c.write(" END")
	case *relational.Func:
		if s.Name == "CAST" {
			if len(s.Args) != 1 {
				return fmt.Errorf("CAST takes one argument, got %d", len(s.Args))
			}
			c.write("CAST(")
			if err := c.compileScalar(s.Args[0]); err != nil {
				return err
			}
			c.write(" AS ", sqlType(s.Kind), ")")
			return nil
		}
		c.write(s.Name, "(")
		if err := c.compileList(s.Args); err != nil {
			return err
		}
		c.write(")")
	case *relational.Aggregate:
		c.write(string(s.Func), "(")
		if s.Distinct {
			c.write("DISTINCT ")
		}
		if s.Arg == nil {
			c.write("*")
		} else if err := c.compileScalar(s.Arg); err != nil {
			return err
		}
		c.write(")")
	case *relational.RowNumber:
		c.write("ROW_NUMBER() OVER(")
		if len(s.PartitionBy) > 0 {
			c.write("PARTITION BY ")
			if err := c.compileList(s.PartitionBy); err != nil {
				return err
			}
			if len(s.OrderBy) > 0 {
				c.write(" ")
			}
		}
		if len(s.OrderBy) > 0 {
			c.write("ORDER BY ")
			if err := c.compileOrderings(s.OrderBy); err != nil {
				return err
			}
		}
		c.write(")")
	case *relational.Exists:
		c.write("EXISTS (")
		if err := c.compileSelect(s.Query); err != nil {
			return err
		}
		c.write(")")
	case *relational.In:
		if err := c.compileOperandOf(4, s.Operand, true); err != nil {
			return err
		}
		c.write(" IN (")
		if err := c.compileList(s.Values); err != nil {
			return err
		}
		c.write(")")
	case *relational.ScalarSubquery:
		c.write("(")
		if err := c.compileSelect(s.Query); err != nil {
			return err
		}
		c.write(")")
	case nil:
		return fmt.Errorf("missing expression")
	default:
		return fmt.Errorf("unsupported expression type: %T", s)
	}
	return nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// literal renders a constant. Booleans are 1 and 0, as SQLite stores them.
func literal(v ir.IRValue) (string, error) {
	switch val := v.(type) {
	case ir.IRNull, nil:
		return "NULL", nil
	case ir.IRString:
		return "'" + strings.ReplaceAll(string(val), "'", "''") + "'", nil
	case ir.IRInt:
		return strconv.FormatInt(int64(val), 10), nil
	case ir.IRFloat:
		s := strconv.FormatFloat(float64(val), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s, nil
	case ir.IRBool:
		if val {
			return "1", nil
		}
		return "0", nil
	default:
		return "", fmt.Errorf("unsupported constant type for SQL: %T", v)
	}
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
