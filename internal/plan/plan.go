package plan

import (
	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/relational"
)

// Plan is a compiled query: the relational command, the parameters it
// reads and how its rows become results.
type Plan struct {
	Catalog *catalog.Catalog
	Select  *relational.Select
	SQL     string
	// Parameters lists the parameters SQL reads, in placeholder order.
	Parameters []string

	Shaper Shaper
	// Identifier lists the row columns identifying one result element.
	// Consecutive rows with equal identifier values belong to the same
	// element; nil means every row is its own element.
	Identifier []int
	Terminal   Terminal

	// Identities maps table aliases to the columns that are null only
	// when the aliased source produced no row. The null normalizer uses
	// them to collapse redundant null tests.
	Identities map[string][]string

	// Fingerprint is the structural key the plan was cached under.
	Fingerprint string
}

// Terminal describes how the shaped sequence is materialized.
type Terminal struct {
	// Op is the materializer; empty means ToList.
	Op queryir.TerminalOp
	// FailOnEmpty is set for aggregates whose result type cannot be null
	// (Min/Max/Average over a non-nullable selector): an empty input
	// fails instead of yielding null.
	FailOnEmpty bool
}

// Shaper turns the rows of one result element into a value.
//
// This is a sealed interface - only types in this package implement it.
type Shaper interface {
	shaper() // Marker method - seals interface to this package
}

// Scalar reads one column.
type Scalar struct {
	Index    int
	Kind     ir.Kind
	Nullable bool
}

// Constant yields a fixed value.
type Constant struct {
	Value any
}

// Slot maps an entity property to a row column.
type Slot struct {
	Property catalog.Property
	Index    int
}

// Entity builds an entity instance. The concrete type comes from the
// discriminator column; only the properties declared on that type or its
// bases are populated. An entity whose key columns are all null is absent
// and yields nil.
type Entity struct {
	Type          *catalog.EntityType
	Slots         []Slot
	Discriminator int
	Key           []int
	// Assert is the target of a hard cast; a row whose concrete type is
	// not assignable to it fails with INVALID_CAST.
	Assert   *catalog.EntityType
	Includes []*Include
}

// Include loads one navigation of an entity.
type Include struct {
	Nav *catalog.Navigation
	// Through restricts loading to entities assignable to a derived type.
	Through *catalog.EntityType
	// Target is an *Entity for reference navigations and a *Collection for
	// collection navigations.
	Target Shaper
}

// Field is one member of a record.
type Field struct {
	Name   string
	Shaper Shaper
}

// Record builds an anonymous record.
type Record struct {
	Fields []Field
}

// Binding supplies a batched inner query parameter from a column of the
// outer row.
type Binding struct {
	Param string
	Index int
}

// Collection builds a nested sequence.
//
// Inline collections read the same rows as their parent: the rows of the
// parent element are grouped by Identifier, skipping rows whose Presence
// column is null (the LEFT JOIN found nothing). Batched collections run
// Plan once per distinct tuple of Bindings values.
type Collection struct {
	Strategy correlate.Strategy
	Element  Shaper
	// Single yields the first element (or nil) instead of a slice.
	Single bool

	Identifier []int
	Presence   int

	Plan     *Plan
	Bindings []Binding
}

// Client computes a value on the client from shaped arguments: methods
// with no relational translation and checked arithmetic.
type Client struct {
	Name string
	Args []Shaper
	Eval func(args []any) (any, error)
}

// TypeCheck asserts a hard cast for a value read through it: when the Tag
// column holds a discriminator of the Root hierarchy whose type is not
// assignable to Target, shaping fails with INVALID_CAST. A null tag means
// the cast entity is absent.
type TypeCheck struct {
	Tag    int
	Root   *catalog.EntityType
	Target *catalog.EntityType
	Value  Shaper
}

// Grouping builds a group: its key from the first row and its elements
// from all rows of the group.
type Grouping struct {
	Key      Shaper
	Elements *Collection
}

func (*Scalar) shaper()     {}
func (*Constant) shaper()   {}
func (*Entity) shaper()     {}
func (*Record) shaper()     {}
func (*Collection) shaper() {}
func (*Client) shaper()     {}
func (*Grouping) shaper()   {}
func (*TypeCheck) shaper()  {}

// Collections returns the nested collections of s in depth-first order,
// stopping at batched boundaries.
func Collections(s Shaper) []*Collection {
	var out []*Collection
	var walk func(Shaper)
	walk = func(s Shaper) {
		switch s := s.(type) {
		case *Entity:
			for _, inc := range s.Includes {
				walk(inc.Target)
			}
		case *Record:
			for _, f := range s.Fields {
				walk(f.Shaper)
			}
		case *Collection:
			out = append(out, s)
			if s.Strategy == correlate.Inline {
				walk(s.Element)
			}
		case *Client:
			for _, a := range s.Args {
				walk(a)
			}
		case *Grouping:
			walk(s.Key)
			walk(s.Elements)
		case *TypeCheck:
			walk(s.Value)
		}
	}
	walk(s)
	return out
}

// Convert coerces a value read from the database to the Go representation
// of kind: SQLite returns integers for booleans, may return integers for
// floating point columns and bytes for text.
func Convert(v any, kind ir.Kind) any {
	switch kind {
	case ir.KindBool:
		switch b := v.(type) {
		case int64:
			return b != 0
		case float64:
			return b != 0
		}
	case ir.KindFloat:
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	case ir.KindInt:
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return int64(f)
		}
		if b, ok := v.(bool); ok {
			if b {
				return int64(1)
			}
			return int64(0)
		}
	case ir.KindString:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
