package include

import (
	"fmt"
	"strings"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/queryir"
)

// Step is one resolved segment of an include path.
type Step struct {
	Nav *catalog.Navigation
	// Type is the derived type the navigation was reached through, or nil
	// when the navigation is declared on the current type or its bases.
	Type   *catalog.EntityType
	Filter *queryir.IncludeFilter
}

// Node is one navigation of an include tree. A node with a Type populates
// only entities assignable to that type.
type Node struct {
	Nav      *catalog.Navigation
	Type     *catalog.EntityType
	Filter   *queryir.IncludeFilter
	Children []*Node

	filterKey string
}

// Tree is the merged set of include directives for one entity shape.
// Children keep the order in which directives first named them.
type Tree struct {
	Children []*Node
}

// IsEmpty reports whether the tree includes nothing.
func (t *Tree) IsEmpty() bool {
	return t == nil || len(t.Children) == 0
}

// ResolvePath resolves the segments of an include directive against the
// catalog, starting at root. Segments written through a cast name their
// derived type; bare segments may also reach navigations declared on a
// derived type, as string paths do.
func ResolvePath(cat *catalog.Catalog, root *catalog.EntityType, segs []queryir.IncludeSegment) ([]Step, error) {
	directive := PathString(segs)
	steps := make([]Step, 0, len(segs))
	current := root

	for _, seg := range segs {
		lookup := current
		var through *catalog.EntityType
		if seg.Type != "" {
			derived, ok := cat.Entity(seg.Type)
			if !ok {
				return nil, queryir.IncludeMisuse(directive, "unknown entity type '%s'", seg.Type)
			}
			if !cat.InHierarchy(derived, current) {
				return nil, queryir.IncludeMisuse(directive, "'%s' is not in the hierarchy of '%s'", seg.Type, current.Name)
			}
			lookup = derived
		}

		member, ok := cat.FindMemberInHierarchy(lookup, seg.Name)
		if !ok {
			return nil, queryir.IncludeMisuse(directive, "'%s' has no navigation '%s'", lookup.Name, seg.Name)
		}
		if member.Navigation == nil {
			return nil, queryir.IncludeMisuse(directive, "'%s.%s' is a property, not a navigation", member.Declaring.Name, seg.Name)
		}
		if !cat.IsAssignableTo(current, member.Declaring) {
			through = member.Declaring
		}
		if seg.Filter != nil && !member.Navigation.Collection {
			return nil, queryir.IncludeMisuse(directive, "filtered include applies to collection navigations only, '%s' is a reference", seg.Name)
		}

		steps = append(steps, Step{Nav: member.Navigation, Type: through, Filter: seg.Filter})
		current = cat.Type(member.Navigation.Target)
	}
	return steps, nil
}

// PathString renders include segments as a dotted path for diagnostics.
func PathString(segs []queryir.IncludeSegment) string {
	names := make([]string, len(segs))
	for i, s := range segs {
		if s.Type != "" {
			names[i] = fmt.Sprintf("(%s)%s", s.Type, s.Name)
		} else {
			names[i] = s.Name
		}
	}
	return strings.Join(names, ".")
}

// Add merges a resolved path into the tree.
//
// Adding a path already present is a no-op. A filter present on only one
// of several directives for the same navigation is kept; two different
// filters on the same navigation are an INCLUDE_MISUSE error.
func (t *Tree) Add(path []Step) error {
	children := &t.Children
	var names []string
	for _, step := range path {
		names = append(names, step.Nav.Name)
		key, err := filterKey(step.Filter)
		if err != nil {
			return err
		}

		node := find(*children, step)
		if node == nil {
			node = &Node{Nav: step.Nav, Type: step.Type, Filter: step.Filter, filterKey: key}
			*children = append(*children, node)
		} else if err := node.absorb(step.Filter, key, strings.Join(names, ".")); err != nil {
			return err
		}
		children = &node.Children
	}
	return nil
}

func find(nodes []*Node, step Step) *Node {
	for _, n := range nodes {
		if n.Nav.ID == step.Nav.ID {
			return n
		}
	}
	return nil
}

func (n *Node) absorb(filter *queryir.IncludeFilter, key, path string) error {
	switch {
	case key == "" || key == n.filterKey:
		return nil
	case n.filterKey == "":
		n.Filter, n.filterKey = filter, key
		return nil
	}
	return queryir.IncludeMisuse(path, "conflicting filters on the same navigation")
}

// Merge returns the union of two trees. Neither input is modified.
func Merge(a, b *Tree) (*Tree, error) {
	out := &Tree{}
	for _, src := range []*Tree{a, b} {
		if src == nil {
			continue
		}
		if err := out.mergeNodes(&out.Children, src.Children, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Tree) mergeNodes(dst *[]*Node, src []*Node, prefix []string) error {
	for _, s := range src {
		path := append(append([]string(nil), prefix...), s.Nav.Name)
		node := find(*dst, Step{Nav: s.Nav})
		if node == nil {
			node = &Node{Nav: s.Nav, Type: s.Type, Filter: s.Filter, filterKey: s.filterKey}
			*dst = append(*dst, node)
		} else if err := node.absorb(s.Filter, s.filterKey, strings.Join(path, ".")); err != nil {
			return err
		}
		if err := t.mergeNodes(&node.Children, s.Children, path); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports whether two trees include the same navigations with the
// same filters. Child order is not significant.
func Equal(a, b *Tree) bool {
	var ac, bc []*Node
	if a != nil {
		ac = a.Children
	}
	if b != nil {
		bc = b.Children
	}
	return equalNodes(ac, bc)
}

func equalNodes(a, b []*Node) bool {
	if len(a) != len(b) {
		return false
	}
	for _, n := range a {
		m := find(b, Step{Nav: n.Nav})
		if m == nil || m.filterKey != n.filterKey || !sameType(n.Type, m.Type) {
			return false
		}
		if !equalNodes(n.Children, m.Children) {
			return false
		}
	}
	return true
}

func sameType(a, b *catalog.EntityType) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

// Paths lists every root-to-leaf path of the tree as dotted navigation
// names, for plan descriptions.
func (t *Tree) Paths() []string {
	if t == nil {
		return nil
	}
	var out []string
	var walk func(nodes []*Node, prefix string)
	walk = func(nodes []*Node, prefix string) {
		for _, n := range nodes {
			name := n.Nav.Name
			if n.Filter != nil {
				name += "[filtered]"
			}
			path := name
			if prefix != "" {
				path = prefix + "." + name
			}
			if len(n.Children) == 0 {
				out = append(out, path)
				continue
			}
			walk(n.Children, path)
		}
	}
	walk(t.Children, "")
	return out
}

// filterKey identifies a filter by its fingerprint, so lambda parameter
// names do not matter.
func filterKey(f *queryir.IncludeFilter) (string, error) {
	if f == nil {
		return "", nil
	}
	probe := &queryir.Include{
		Input: &queryir.Source{Entity: "$"},
		Path:  []queryir.IncludeSegment{{Name: "$", Filter: f}},
	}
	return queryir.Fingerprint(probe)
}
