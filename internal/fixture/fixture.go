package fixture

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/compiler"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/object"
	"github.com/roach88/navq/internal/store"
)

// TypeKey names the concrete type of a seed row listed under one of its
// bases.
const TypeKey = "$type"

// Graph is the seed data as an object graph: every entity with all of its
// properties, in file order. Navigations are resolved on demand by key.
type Graph struct {
	cat      *catalog.Catalog
	entities []*object.Entity
	byType   map[string][]*object.Entity
}

// LoadSeed reads a seed file.
func LoadSeed(path string, cat *catalog.Catalog) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	g, err := Parse(data, cat)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Parse reads seed YAML: a mapping from entity type name to a list of
// rows. A row may name a derived concrete type with "$type".
func Parse(data []byte, cat *catalog.Catalog) (*Graph, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	g := &Graph{cat: cat, byType: make(map[string][]*object.Entity)}
	if len(doc.Content) == 0 {
		return g, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("seed must be a mapping of entity type to rows")
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		listed, ok := cat.Entity(name)
		if !ok {
			return nil, fmt.Errorf("line %d: unknown entity type %q", root.Content[i].Line, name)
		}
		var rows []map[string]any
		if err := root.Content[i+1].Decode(&rows); err != nil {
			return nil, fmt.Errorf("%s rows: %w", name, err)
		}
		for j, raw := range rows {
			e, err := g.entity(listed, raw)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", name, j, err)
			}
			g.entities = append(g.entities, e)
			g.byType[e.Type] = append(g.byType[e.Type], e)
		}
	}
	return g, nil
}

func (g *Graph) entity(listed *catalog.EntityType, raw map[string]any) (*object.Entity, error) {
	typ := listed
	if name, ok := raw[TypeKey]; ok {
		s, _ := name.(string)
		t, ok := g.cat.Entity(s)
		if !ok || !g.cat.IsAssignableTo(t, listed) {
			return nil, fmt.Errorf("%s %v is not a type derived from %s", TypeKey, name, listed.Name)
		}
		typ = t
	}
	if typ.Abstract {
		return nil, fmt.Errorf("%s is abstract; name a concrete type with %s", typ.Name, TypeKey)
	}

	e := object.NewEntity(typ.Name)
	known := map[string]bool{TypeKey: true}
	for _, p := range g.cat.EntityProperties(typ) {
		known[p.Name] = true
		v, err := coerce(raw[p.Name], p.Kind)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		if v == nil && !p.Nullable {
			return nil, fmt.Errorf("%s is required", p.Name)
		}
		e.Properties[p.Name] = v
	}
	for k := range raw {
		if !known[k] {
			return nil, fmt.Errorf("%s has no property %q", typ.Name, k)
		}
	}
	return e, nil
}

// coerce converts a YAML scalar to the runtime representation of kind.
func coerce(v any, kind ir.Kind) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case ir.KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case ir.KindFloat:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case float64:
			return n, nil
		}
	case ir.KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case ir.KindString:
		switch s := v.(type) {
		case string:
			return s, nil
		case int, float64, bool:
			return fmt.Sprint(s), nil
		}
	}
	return nil, fmt.Errorf("%v (%T) is not a %s", v, v, kind)
}

// Catalog returns the catalog the graph was read against.
func (g *Graph) Catalog() *catalog.Catalog {
	return g.cat
}

// Set returns the entities assignable to t in file order.
func (g *Graph) Set(t *catalog.EntityType) []*object.Entity {
	var out []*object.Entity
	for _, e := range g.entities {
		concrete, _ := g.cat.Entity(e.Type)
		if g.cat.IsAssignableTo(concrete, t) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entities.
func (g *Graph) Len() int {
	return len(g.entities)
}

// Navigate follows nav from e: a reference yields the matching entity or
// nil, a collection the matching entities in file order. A null key
// matches nothing.
func (g *Graph) Navigate(e *object.Entity, nav *catalog.Navigation) any {
	target := g.cat.Type(nav.Target)
	var matches []*object.Entity
	key := make([]any, len(nav.Pairs))
	for i, p := range nav.Pairs {
		key[i] = e.Properties[p.Source]
		if key[i] == nil {
			if nav.Collection {
				return []*object.Entity{}
			}
			return nil
		}
	}
	for _, cand := range g.Set(target) {
		match := true
		for i, p := range nav.Pairs {
			if cand.Properties[p.Target] != key[i] {
				match = false
				break
			}
		}
		if match {
			matches = append(matches, cand)
		}
	}
	if nav.Collection {
		if matches == nil {
			matches = []*object.Entity{}
		}
		return matches
	}
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// Seed creates the catalog's tables in s and inserts every entity. Tables
// are filled in foreign key dependency order.
func (g *Graph) Seed(ctx context.Context, s *store.Store) error {
	if err := s.CreateSchema(ctx, g.cat); err != nil {
		return err
	}
	order, err := compiler.DependencyOrder(g.cat.Spec())
	if err != nil {
		return fmt.Errorf("seed order: %w", err)
	}

	rows := make(map[string][]store.Row)
	for _, e := range g.entities {
		typ, _ := g.cat.Entity(e.Type)
		row := store.Row{}
		if disc := g.cat.DiscriminatorColumn(typ); disc != "" {
			row[disc] = typ.DiscriminatorValue
		}
		for _, p := range g.cat.EntityProperties(typ) {
			row[p.Column] = e.Properties[p.Name]
		}
		rows[typ.Table] = append(rows[typ.Table], row)
	}
	for _, table := range order {
		if len(rows[table]) == 0 {
			continue
		}
		if err := s.Insert(ctx, table, rows[table]...); err != nil {
			return fmt.Errorf("seed %s: %w", table, err)
		}
	}
	return nil
}
