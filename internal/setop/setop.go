package setop

import (
	"slices"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/include"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/queryir"
)

// Column is one projected column of an operand's shape. Path names it
// within the shape (record field path, or entity property name).
type Column struct {
	Path string
	Kind ir.Kind
}

// OrderKey is one ordering an operand carries. Key identifies the ordering
// expression independently of aliases and lambda parameter names.
type OrderKey struct {
	Key        string
	Descending bool
}

// Operand describes one side of a set combination.
type Operand struct {
	// Entity is the element type when the operand projects entities.
	Entity  *catalog.EntityType
	Columns []Column
	// Collections is set when the shape contains a nested collection.
	Collections bool
	Includes    *include.Tree
	Orderings   []OrderKey
	// Limited operands use their ordering to choose rows; it is not
	// dangling.
	Limited bool
}

func (o Operand) dangling() []OrderKey {
	if o.Limited {
		return nil
	}
	return o.Orderings
}

// Result is what a validated combination looks like.
type Result struct {
	// Entity is the common base type of entity operands.
	Entity *catalog.EntityType
	// DropOrderings is set when both operands carried the same dangling
	// ordering; it is removed because the combination is unordered.
	DropOrderings bool
}

// Checker validates set combinations against a catalog.
type Checker struct {
	Catalog *catalog.Catalog
}

// Validate checks that left and right can be combined with op: equal
// projected shapes, equal include trees and no dangling ordering that the
// other operand does not share.
func (c *Checker) Validate(op queryir.SetOp, left, right Operand) (Result, error) {
	var res Result

	if left.Collections || right.Collections {
		return res, queryir.SetOperationShape(op, "operands project a nested collection")
	}

	switch {
	case (left.Entity == nil) != (right.Entity == nil):
		return res, queryir.SetOperationShape(op, "one operand projects entities and the other does not")
	case left.Entity != nil:
		base, ok := c.Catalog.CommonBase(left.Entity, right.Entity)
		if !ok {
			return res, queryir.SetOperationShape(op, "operands project unrelated entity types '%s' and '%s'",
				left.Entity.Name, right.Entity.Name)
		}
		res.Entity = base
	}

	if err := sameColumns(op, left.Columns, right.Columns); err != nil {
		return res, err
	}

	if !include.Equal(left.Includes, right.Includes) {
		return res, queryir.SetOperationShape(op, "operands include different navigations: %v and %v",
			left.Includes.Paths(), right.Includes.Paths())
	}

	l, r := left.dangling(), right.dangling()
	switch {
	case len(l) == 0 && len(r) == 0:
	case slices.Equal(l, r):
		res.DropOrderings = true
	default:
		return res, queryir.SetOperationShape(op, "operands carry different orderings; order the combined sequence instead")
	}
	return res, nil
}

func sameColumns(op queryir.SetOp, l, r []Column) error {
	if len(l) != len(r) {
		return queryir.SetOperationShape(op, "operands project %d and %d columns", len(l), len(r))
	}
	for i := range l {
		if l[i].Path != r[i].Path {
			return queryir.SetOperationShape(op, "column %d is '%s' on the left and '%s' on the right", i, l[i].Path, r[i].Path)
		}
		if l[i].Kind != r[i].Kind && l[i].Kind != ir.KindUnknown && r[i].Kind != ir.KindUnknown {
			return queryir.SetOperationShape(op, "column '%s' is %s on the left and %s on the right", l[i].Path, l[i].Kind, r[i].Kind)
		}
	}
	return nil
}
