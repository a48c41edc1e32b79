package navexpand

import (
	"fmt"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/grouping"
	"github.com/roach88/navq/internal/include"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/relational"
)

// value is what a query expression stands for while a query is expanded:
// a relational scalar, an entity bound to the columns of a table source, a
// record, a pending nested collection, a group, or a computation that can
// only run on the client.
//
// This is a sealed interface - only types in this package implement it.
type value interface {
	valueNode() // Marker method - seals interface to this package
}

type scalarValue struct {
	expr relational.Scalar
	// checks are the hard casts the scalar was read through.
	checks []castCheck
}

// castCheck asserts at materialization that the entity tagged by tag, a
// discriminator of the root hierarchy, is a to.
type castCheck struct {
	tag  relational.Scalar
	root *catalog.EntityType
	to   *catalog.EntityType
}

// checksOf collects the cast checks of scalar operands.
func checksOf(vals ...value) []castCheck {
	var out []castCheck
	for _, v := range vals {
		if s, ok := v.(*scalarValue); ok {
			out = append(out, s.checks...)
		}
	}
	return out
}

func withoutChecks(v value) value {
	switch v := v.(type) {
	case *scalarValue:
		if len(v.checks) == 0 {
			return v
		}
		return &scalarValue{expr: v.expr}
	case *entityValue:
		if len(v.checks) == 0 {
			return v
		}
		out := v.copy()
		out.checks = nil
		return out
	case *recordValue:
		out := &recordValue{names: v.names, fields: make([]value, len(v.fields))}
		for i, f := range v.fields {
			out.fields[i] = withoutChecks(f)
		}
		return out
	}
	return v
}

func mapChecks(in []castCheck, fn func(relational.Scalar) (relational.Scalar, error)) ([]castCheck, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]castCheck, len(in))
	for i, c := range in {
		tag, err := fn(c.tag)
		if err != nil {
			return nil, err
		}
		out[i] = castCheck{tag: tag, root: c.root, to: c.to}
	}
	return out, nil
}

// entityValue is an entity whose properties are columns of scope's select.
type entityValue struct {
	typ   *catalog.EntityType
	scope *query
	// path keys the reference joins made from this entity in scope.
	path     string
	cols     map[string]relational.Scalar
	disc     relational.Scalar
	nullable bool
	// assert is the target of a hard cast, checked at materialization.
	assert *catalog.EntityType
	// checks are the hard casts the entity was reached through.
	checks []castCheck
	// guard holds for rows where a soft cast succeeded; elsewhere the
	// entity is null.
	guard    relational.Scalar
	includes *include.Tree
}

type recordValue struct {
	names  []string
	fields []value
}

// collectionValue is a sequence that has not been placed yet. It becomes a
// subquery when reduced, or a nested collection when projected.
type collectionValue struct {
	node  queryir.Node
	env   *env
	link  *link
	group *groupingValue
	// q is the translated form, once something needed it.
	q *query
	// includes apply to the element entities.
	includes *include.Tree
	// single yields one element (or null) instead of a sequence.
	single bool
}

// link correlates a collection with its owner: the scalars inner computes
// over an element equal outer, pairwise.
type link struct {
	inner func(value) ([]relational.Scalar, error)
	outer []relational.Scalar
}

type groupingValue struct {
	key    value
	keys   []relational.Scalar
	source *queryir.GroupBy
	env    *env
	// elem and scope are set while the grouped select is still the one
	// aggregates can be added to.
	elem   value
	scope  *query
	clause *grouping.Clause
}

type clientValue struct {
	name      string
	declaring string
	kind      ir.Kind
	args      []value
	eval      func(args []any) (any, error)
}

func (*scalarValue) valueNode()     {}
func (*entityValue) valueNode()     {}
func (*recordValue) valueNode()     {}
func (*collectionValue) valueNode() {}
func (*groupingValue) valueNode()   {}
func (*clientValue) valueNode()     {}

// env binds lambda parameters to values. Frames also carry type proofs:
// inside the true branch of `x is T ? ... : ...` the expression x is known
// to be a T.
type env struct {
	parent *env
	name   string
	val    value
	proof  string
	typ    *catalog.EntityType
}

func (e *env) bind(name string, v value) *env {
	return &env{parent: e, name: name, val: v}
}

func (e *env) prove(expr string, t *catalog.EntityType) *env {
	return &env{parent: e, proof: expr, typ: t}
}

// rescope moves the bound values of e that belong to from over to to.
func (e *env) rescope(from, to *query) *env {
	if e == nil {
		return nil
	}
	out := *e
	out.parent = e.parent.rescope(from, to)
	if e.val != nil {
		out.val = rescope(e.val, from, to)
	}
	return &out
}

func (e *env) lookup(name string) (value, bool) {
	for f := e; f != nil; f = f.parent {
		if f.proof == "" && f.name == name {
			return f.val, true
		}
	}
	return nil, false
}

func (e *env) proven(expr string) (*catalog.EntityType, bool) {
	for f := e; f != nil; f = f.parent {
		if f.proof == expr {
			return f.typ, true
		}
	}
	return nil, false
}

func (e *entityValue) copy() *entityValue {
	cp := *e
	return &cp
}

// readChecks are the cast checks a value read from e carries: those e was
// reached through and its own hard cast.
func (x *expansion) readChecks(e *entityValue) []castCheck {
	if e.assert == nil || e.disc == nil {
		return e.checks
	}
	out := append([]castCheck(nil), e.checks...)
	return append(out, castCheck{tag: guarded(e.guard, e.disc), root: x.cat.Root(e.typ), to: e.assert})
}

// column returns a property column, null where the entity's guard fails.
func (e *entityValue) column(name string) relational.Scalar {
	return guarded(e.guard, e.cols[name])
}

func guarded(guard, s relational.Scalar) relational.Scalar {
	if guard == nil || s == nil {
		return s
	}
	return &relational.Case{Whens: []relational.When{{Cond: guard, Result: s}}}
}

func (x *expansion) keyColumns(e *entityValue) []relational.Scalar {
	props := x.cat.KeyProperties(e.typ)
	out := make([]relational.Scalar, len(props))
	for i, p := range props {
		out[i] = e.column(p.Name)
	}
	return out
}

// properties returns the table properties an entity of e's static type
// can carry: those of its bases and of types derived from it.
func (x *expansion) properties(e *entityValue) []catalog.Property {
	var out []catalog.Property
	for _, p := range x.cat.TableProperties(e.typ) {
		decl := x.cat.Type(p.Declaring)
		if x.cat.IsAssignableTo(e.typ, decl) || x.cat.IsAssignableTo(decl, e.typ) {
			out = append(out, p)
		}
	}
	return out
}

// tableEntity binds an entity of type t to the columns of alias.
func (x *expansion) tableEntity(scope *query, t *catalog.EntityType, alias, path string, nullable bool) *entityValue {
	e := &entityValue{
		typ:      t,
		scope:    scope,
		path:     path,
		cols:     make(map[string]relational.Scalar),
		nullable: nullable,
	}
	for _, p := range x.cat.TableProperties(t) {
		e.cols[p.Name] = &relational.ColumnRef{Table: alias, Column: p.Column, Kind: p.Kind, Nullable: p.ColumnNullable || nullable}
	}
	if col := x.cat.DiscriminatorColumn(t); col != "" {
		e.disc = &relational.ColumnRef{Table: alias, Column: col, Kind: ir.KindString, Nullable: nullable}
	}
	return e
}

// narrowed returns e with its static type narrowed to t.
func (e *entityValue) narrowed(t *catalog.EntityType) *entityValue {
	cp := e.copy()
	cp.typ = t
	return cp
}

// describe names the kind of a value for diagnostics.
func describe(v value) string {
	switch v := v.(type) {
	case *scalarValue:
		return "a scalar"
	case *entityValue:
		return fmt.Sprintf("entities of '%s'", v.typ.Name)
	case *recordValue:
		return "records"
	case *collectionValue:
		return "a nested collection"
	case *groupingValue:
		return "groupings"
	case *clientValue:
		return fmt.Sprintf("a client-evaluated '%s'", v.name)
	}
	return fmt.Sprintf("%T", v)
}

func hasCollections(v value) bool {
	switch v := v.(type) {
	case *entityValue:
		return includesCollection(v.includes)
	case *recordValue:
		for _, f := range v.fields {
			if hasCollections(f) {
				return true
			}
		}
	case *clientValue:
		for _, a := range v.args {
			if hasCollections(a) {
				return true
			}
		}
	case *collectionValue, *groupingValue:
		return true
	}
	return false
}

func includesCollection(t *include.Tree) bool {
	if t == nil {
		return false
	}
	var walk func([]*include.Node) bool
	walk = func(nodes []*include.Node) bool {
		for _, n := range nodes {
			if n.Nav.Collection || walk(n.Children) {
				return true
			}
		}
		return false
	}
	return walk(t.Children)
}

// flatten lists the columns a value projects, in shape order. Entities
// contribute every property column they can carry and their
// discriminator.
func (x *expansion) flatten(v value) ([]relational.Scalar, error) {
	switch v := v.(type) {
	case *scalarValue:
		return []relational.Scalar{v.expr}, nil
	case *entityValue:
		var out []relational.Scalar
		for _, p := range x.properties(v) {
			out = append(out, v.column(p.Name))
		}
		if v.disc != nil {
			out = append(out, guarded(v.guard, v.disc))
		}
		return out, nil
	case *recordValue:
		var out []relational.Scalar
		for _, f := range v.fields {
			cols, err := x.flatten(f)
			if err != nil {
				return nil, err
			}
			out = append(out, cols...)
		}
		return out, nil
	case *clientValue:
		return nil, x.clientError(v)
	}
	return nil, queryir.InvalidQuery("%s cannot be used as a column list", describe(v))
}

// identity lists the columns that tell elements of a value apart: the key
// of an entity, every column of anything else.
func (x *expansion) identity(v value) ([]relational.Scalar, error) {
	switch v := v.(type) {
	case *entityValue:
		return x.keyColumns(v), nil
	case *recordValue:
		var out []relational.Scalar
		for _, f := range v.fields {
			if _, ok := f.(*collectionValue); ok {
				continue
			}
			cols, err := x.identity(f)
			if err != nil {
				return nil, err
			}
			out = append(out, cols...)
		}
		return out, nil
	}
	return x.flatten(v)
}

func (x *expansion) clientError(v *clientValue) error {
	return queryir.Untranslatable(v.name, v.declaring,
		"'%s' has no SQL translation and can only be evaluated in the final projection", v.name)
}

// mapper rewrites the scalars of a value. scalar applies to the value's
// own scalars; column applies to column references inside the selects of
// nested collections.
type mapper struct {
	scalar func(relational.Scalar) (relational.Scalar, error)
	column func(*relational.ColumnRef) (relational.Scalar, error)
}

func columnMapper(fn func(*relational.ColumnRef) (relational.Scalar, error)) mapper {
	return mapper{
		scalar: func(s relational.Scalar) (relational.Scalar, error) { return rewriteColumns(s, fn) },
		column: fn,
	}
}

func rewriteColumns(s relational.Scalar, fn func(*relational.ColumnRef) (relational.Scalar, error)) (relational.Scalar, error) {
	var err error
	out := relational.Rewrite(s, columnRewriter(fn, &err))
	return out, err
}

func rewriteSelectColumns(sel *relational.Select, fn func(*relational.ColumnRef) (relational.Scalar, error)) (*relational.Select, error) {
	var err error
	out := relational.RewriteSelect(sel, columnRewriter(fn, &err))
	return out, err
}

func columnRewriter(fn func(*relational.ColumnRef) (relational.Scalar, error), errp *error) func(relational.Scalar) (relational.Scalar, bool) {
	return func(n relational.Scalar) (relational.Scalar, bool) {
		c, ok := n.(*relational.ColumnRef)
		if !ok || *errp != nil {
			return n, *errp != nil
		}
		out, err := fn(c)
		if err != nil {
			*errp = err
			return n, true
		}
		return out, true
	}
}

func mapScalars(in []relational.Scalar, fn func(relational.Scalar) (relational.Scalar, error)) ([]relational.Scalar, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]relational.Scalar, len(in))
	for i, s := range in {
		m, err := fn(s)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// mapValue rebuilds v with m applied. Pending collections are translated
// first so that their correlation to v's scope can be rewritten too.
func (x *expansion) mapValue(v value, m mapper) (value, error) {
	switch v := v.(type) {
	case *scalarValue:
		s, err := m.scalar(v.expr)
		if err != nil {
			return nil, err
		}
		checks, err := mapChecks(v.checks, m.scalar)
		if err != nil {
			return nil, err
		}
		return &scalarValue{expr: s, checks: checks}, nil

	case *entityValue:
		out := v.copy()
		out.cols = make(map[string]relational.Scalar, len(v.cols))
		for name, c := range v.cols {
			mc, err := m.scalar(c)
			if err != nil {
				return nil, err
			}
			out.cols[name] = mc
		}
		var err error
		if v.disc != nil {
			if out.disc, err = m.scalar(v.disc); err != nil {
				return nil, err
			}
		}
		if v.guard != nil {
			if out.guard, err = m.scalar(v.guard); err != nil {
				return nil, err
			}
		}
		if out.checks, err = mapChecks(v.checks, m.scalar); err != nil {
			return nil, err
		}
		return out, nil

	case *recordValue:
		out := &recordValue{names: v.names, fields: make([]value, len(v.fields))}
		for i, f := range v.fields {
			mf, err := x.mapValue(f, m)
			if err != nil {
				return nil, err
			}
			out.fields[i] = mf
		}
		return out, nil

	case *clientValue:
		out := *v
		out.args = make([]value, len(v.args))
		for i, a := range v.args {
			ma, err := x.mapValue(a, m)
			if err != nil {
				return nil, err
			}
			out.args[i] = ma
		}
		return &out, nil

	case *collectionValue:
		q, err := x.collectionQuery(v)
		if err != nil {
			return nil, err
		}
		if err := x.mapQuery(q, m.column); err != nil {
			return nil, err
		}
		out := *v
		out.q = q
		return &out, nil

	case *groupingValue:
		key, err := x.mapValue(v.key, m)
		if err != nil {
			return nil, err
		}
		keys, err := mapScalars(v.keys, m.scalar)
		if err != nil {
			return nil, err
		}
		return &groupingValue{key: key, keys: keys, source: v.source, env: v.env, clause: v.clause}, nil
	}
	return nil, fmt.Errorf("navexpand: unexpected value %T", v)
}

// mapQuery rewrites the column references of q that point outside it.
func (x *expansion) mapQuery(q *query, fn func(*relational.ColumnRef) (relational.Scalar, error)) error {
	sel, err := rewriteSelectColumns(q.sel, fn)
	if err != nil {
		return err
	}
	shape, err := x.mapValue(q.shape, columnMapper(fn))
	if err != nil {
		return err
	}
	ident, err := mapScalars(q.ident, func(s relational.Scalar) (relational.Scalar, error) { return rewriteColumns(s, fn) })
	if err != nil {
		return err
	}
	q.sel, q.shape, q.ident = sel, shape, ident
	return nil
}

// rescope moves the entities of v that belong to from over to to, after
// from's tables were merged into to's select.
func rescope(v value, from, to *query) value {
	switch v := v.(type) {
	case *entityValue:
		if v.scope != from {
			return v
		}
		out := v.copy()
		out.scope = to
		return out
	case *recordValue:
		out := &recordValue{names: v.names, fields: make([]value, len(v.fields))}
		for i, f := range v.fields {
			out.fields[i] = rescope(f, from, to)
		}
		return out
	case *clientValue:
		out := *v
		out.args = make([]value, len(v.args))
		for i, a := range v.args {
			out.args[i] = rescope(a, from, to)
		}
		return &out
	case *groupingValue:
		out := *v
		out.key = rescope(v.key, from, to)
		return &out
	case *collectionValue:
		if v.q != nil || v.env == nil {
			return v
		}
		out := *v
		out.env = v.env.rescope(from, to)
		return &out
	}
	return v
}

// widen marks v as coming from the optional side of an outer join: its
// columns over aliases become nullable and its entities may be absent.
func (x *expansion) widen(v value, aliases map[string]bool) (value, error) {
	fn := func(c *relational.ColumnRef) (relational.Scalar, error) {
		if aliases[c.Table] {
			return relational.WithNullable(c, true), nil
		}
		return c, nil
	}
	out, err := x.mapValue(v, columnMapper(fn))
	if err != nil {
		return nil, err
	}
	markNullable(out)
	return out, nil
}

func markNullable(v value) {
	switch v := v.(type) {
	case *entityValue:
		v.nullable = true
	case *recordValue:
		for _, f := range v.fields {
			markNullable(f)
		}
	}
}

func widenAll(in []relational.Scalar, aliases map[string]bool) []relational.Scalar {
	out := make([]relational.Scalar, len(in))
	for i, s := range in {
		out[i], _ = rewriteColumns(s, func(c *relational.ColumnRef) (relational.Scalar, error) {
			if aliases[c.Table] {
				return relational.WithNullable(c, true), nil
			}
			return c, nil
		})
	}
	return out
}
