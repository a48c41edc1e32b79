package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/navq/internal/compiler"
	"github.com/roach88/navq/internal/ir"
)

// TypeID addresses an entity type inside a Catalog.
type TypeID int

// NavID addresses a navigation descriptor inside a Catalog.
type NavID int

// NoType and NoNav mark absent references.
const (
	NoType TypeID = -1
	NoNav  NavID  = -1
)

// Catalog is the static metadata of one model: entity types, their
// properties and the navigations between them.
//
// Types and navigations live in arenas and refer to each other by id, so
// cyclic relationships (City.BornGears / Gear.CityOfBirth) need no pointer
// cycles. A Catalog is immutable after Build and safe for concurrent use.
type Catalog struct {
	types  []*EntityType
	navs   []*Navigation
	byName map[string]TypeID
	hash   string
	spec   *ir.ModelSpec
}

// EntityType is one type of the model. Derived types share the table, key
// and discriminator column of their root.
type EntityType struct {
	ID                 TypeID
	Name               string
	Table              string
	Abstract           bool
	DiscriminatorValue string

	// Properties declared directly on this type.
	Properties []Property
	// Navigations declared directly on this type.
	Navigations []NavID

	base    TypeID
	root    TypeID
	derived []TypeID

	// Root-only data; copied onto derived types at build.
	key           []string
	alternateKeys [][]string
	discriminator string
}

// Property is a scalar member mapped to a column of the hierarchy table.
type Property struct {
	Name      string
	Column    string
	Kind      ir.Kind
	Nullable  bool
	Declaring TypeID

	// ColumnNullable is true when the column may hold null for some row of
	// the table: the property is nullable or declared on a derived type.
	ColumnNullable bool
}

// KeyPair joins a declaring-side property to a target-side property.
type KeyPair struct {
	Source string
	Target string
}

// Navigation is the descriptor of a relationship seen from its declaring
// type.
type Navigation struct {
	ID        NavID
	Name      string
	Declaring TypeID
	Target    TypeID

	// Pairs are ordered source→target column pairs; the join predicate is
	// their conjunction.
	Pairs      []KeyPair
	Collection bool
	Optional   bool
	Inverse    NavID

	// DependentIsDeclaring is true when the declaring side holds the
	// foreign key.
	DependentIsDeclaring bool
}

// Member is the result of a member lookup: exactly one of Property and
// Navigation is set.
type Member struct {
	Property   *Property
	Navigation *Navigation
	Declaring  *EntityType
}

// Name returns the member name.
func (m Member) Name() string {
	if m.Property != nil {
		return m.Property.Name
	}
	return m.Navigation.Name
}

// Build validates spec and constructs its Catalog.
func Build(spec *ir.ModelSpec) (*Catalog, error) {
	if errs := compiler.Validate(spec); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid model: %s", strings.Join(msgs, "; "))
	}

	hash, err := ir.ModelHash(spec)
	if err != nil {
		return nil, err
	}

	c := &Catalog{byName: make(map[string]TypeID), hash: hash, spec: spec}
	for i, e := range spec.Entities {
		c.types = append(c.types, &EntityType{
			ID:                 TypeID(i),
			Name:               e.Name,
			Abstract:           e.Abstract,
			DiscriminatorValue: e.DiscriminatorValue,
			base:               NoType,
		})
		c.byName[e.Name] = TypeID(i)
	}

	for i, e := range spec.Entities {
		t := c.types[i]
		if e.Base != "" {
			t.base = c.byName[e.Base]
			base := c.types[t.base]
			base.derived = append(base.derived, t.ID)
		}
		if t.DiscriminatorValue == "" {
			t.DiscriminatorValue = t.Name
		}
	}

	for i, e := range spec.Entities {
		t := c.types[i]
		root := t
		for root.base != NoType {
			root = c.types[root.base]
		}
		t.root = root.ID
		rootSpec := spec.Entities[root.ID]
		t.Table = rootSpec.Table
		t.key = rootSpec.Key
		t.alternateKeys = rootSpec.AlternateKeys
		t.discriminator = rootSpec.Discriminator

		for _, p := range e.Properties {
			t.Properties = append(t.Properties, Property{
				Name:           p.Name,
				Column:         p.ColumnName(),
				Kind:           p.Type,
				Nullable:       p.Nullable,
				Declaring:      t.ID,
				ColumnNullable: p.Nullable || e.Base != "",
			})
		}
	}

	// Navigations are added in two passes so inverses can be resolved.
	type pending struct {
		nav     *Navigation
		inverse string
	}
	var all []pending
	for i, e := range spec.Entities {
		t := c.types[i]
		for _, ns := range e.Navigations {
			nav, err := c.buildNavigation(t, ns)
			if err != nil {
				return nil, err
			}
			t.Navigations = append(t.Navigations, nav.ID)
			all = append(all, pending{nav: nav, inverse: ns.Inverse})
		}
	}
	for _, p := range all {
		if p.inverse == "" {
			continue
		}
		if inv, ok := c.FindNavigationInHierarchy(c.types[p.nav.Target], p.inverse); ok {
			p.nav.Inverse = inv.ID
			if inv.Inverse == NoNav {
				inv.Inverse = p.nav.ID
			}
		}
	}
	return c, nil
}

func (c *Catalog) buildNavigation(declaring *EntityType, ns ir.NavigationSpec) (*Navigation, error) {
	targetID, ok := c.byName[ns.Target]
	if !ok {
		return nil, fmt.Errorf("navigation %s.%s: unknown target %q", declaring.Name, ns.Name, ns.Target)
	}
	target := c.types[targetID]

	nav := &Navigation{
		ID:         NavID(len(c.navs)),
		Name:       ns.Name,
		Declaring:  declaring.ID,
		Target:     targetID,
		Collection: ns.Collection,
		Inverse:    NoNav,
	}

	dependentIsDeclaring := ns.DependentSide() == ir.DependentSelf
	nav.DependentIsDeclaring = dependentIsDeclaring

	principal := target
	if !dependentIsDeclaring {
		principal = declaring
	}
	principalKey := ns.PrincipalKey
	if len(principalKey) == 0 {
		principalKey = c.types[principal.root].key
	}

	for i, fk := range ns.ForeignKey {
		if dependentIsDeclaring {
			nav.Pairs = append(nav.Pairs, KeyPair{Source: fk, Target: principalKey[i]})
		} else {
			nav.Pairs = append(nav.Pairs, KeyPair{Source: principalKey[i], Target: fk})
		}
	}

	switch {
	case ns.Collection:
		nav.Optional = false
	case ns.Required:
		nav.Optional = false
	case dependentIsDeclaring:
		for _, pair := range nav.Pairs {
			p, ok := c.findPropertyInTable(declaring, pair.Source)
			if !ok || p.ColumnNullable {
				nav.Optional = true
				break
			}
		}
		// A required key still misses rows when the target is a derived
		// type; other rows of the table may hold the key value.
		if target.base != NoType {
			nav.Optional = true
		}
	default:
		nav.Optional = true
	}

	c.navs = append(c.navs, nav)
	return nav, nil
}

// Hash returns the model hash the catalog was built from.
func (c *Catalog) Hash() string { return c.hash }

// Spec returns the model the catalog was built from.
func (c *Catalog) Spec() *ir.ModelSpec { return c.spec }

// Types returns all entity types in declaration order.
func (c *Catalog) Types() []*EntityType { return slices.Clone(c.types) }

// Entity returns the entity type with the given name.
func (c *Catalog) Entity(name string) (*EntityType, bool) {
	id, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return c.types[id], true
}

// Type returns the entity type with the given id.
func (c *Catalog) Type(id TypeID) *EntityType { return c.types[id] }

// Navigation returns the navigation descriptor with the given id.
func (c *Catalog) Navigation(id NavID) *Navigation { return c.navs[id] }

// Base returns the direct base type of t, or nil for a root.
func (c *Catalog) Base(t *EntityType) *EntityType {
	if t.base == NoType {
		return nil
	}
	return c.types[t.base]
}

// Root returns the root of t's hierarchy.
func (c *Catalog) Root(t *EntityType) *EntityType { return c.types[t.root] }

// Derived returns the direct derived types of t.
func (c *Catalog) Derived(t *EntityType) []*EntityType {
	out := make([]*EntityType, len(t.derived))
	for i, id := range t.derived {
		out[i] = c.types[id]
	}
	return out
}

// IsAssignableTo reports whether t is ancestor or derives from it.
func (c *Catalog) IsAssignableTo(t, ancestor *EntityType) bool {
	for cur := t; cur != nil; cur = c.Base(cur) {
		if cur.ID == ancestor.ID {
			return true
		}
	}
	return false
}

// InHierarchy reports whether two types share a root.
func (c *Catalog) InHierarchy(a, b *EntityType) bool {
	return a.root == b.root
}

// CommonBase returns the most derived type both a and b are assignable to.
func (c *Catalog) CommonBase(a, b *EntityType) (*EntityType, bool) {
	if !c.InHierarchy(a, b) {
		return nil, false
	}
	for cur := a; cur != nil; cur = c.Base(cur) {
		if c.IsAssignableTo(b, cur) {
			return cur, true
		}
	}
	return nil, false
}

// ConcreteTypes returns t and all its descendants that are not abstract,
// in declaration order.
func (c *Catalog) ConcreteTypes(t *EntityType) []*EntityType {
	var out []*EntityType
	for _, other := range c.types {
		if !other.Abstract && c.IsAssignableTo(other, t) {
			out = append(out, other)
		}
	}
	return out
}

// HasDerivedTypes reports whether t has any derived type.
func (c *Catalog) HasDerivedTypes(t *EntityType) bool { return len(t.derived) > 0 }

// IsHierarchy reports whether t's table stores more than one type.
func (c *Catalog) IsHierarchy(t *EntityType) bool {
	return len(c.types[t.root].derived) > 0
}

// DiscriminatorColumn returns the type-tag column of t's table ("" when the
// table stores a single type).
func (c *Catalog) DiscriminatorColumn(t *EntityType) string {
	return c.types[t.root].discriminator
}

// ByDiscriminator resolves a discriminator value within t's hierarchy.
func (c *Catalog) ByDiscriminator(t *EntityType, value string) (*EntityType, bool) {
	for _, other := range c.types {
		if other.root == t.root && other.DiscriminatorValue == value {
			return other, true
		}
	}
	return nil, false
}

// KeyProperties returns the primary key properties of t in key order.
func (c *Catalog) KeyProperties(t *EntityType) []Property {
	return c.propertiesNamed(t, t.key)
}

// AlternateKeys returns the alternate keys of t.
func (c *Catalog) AlternateKeys(t *EntityType) [][]Property {
	out := make([][]Property, len(t.alternateKeys))
	for i, k := range t.alternateKeys {
		out[i] = c.propertiesNamed(t, k)
	}
	return out
}

func (c *Catalog) propertiesNamed(t *EntityType, names []string) []Property {
	out := make([]Property, 0, len(names))
	for _, name := range names {
		if p, ok := c.FindProperty(t, name); ok {
			out = append(out, *p)
		}
	}
	return out
}

// FindProperty looks a property up on t and its base chain.
func (c *Catalog) FindProperty(t *EntityType, name string) (*Property, bool) {
	for cur := t; cur != nil; cur = c.Base(cur) {
		for i := range cur.Properties {
			if cur.Properties[i].Name == name {
				return &cur.Properties[i], true
			}
		}
	}
	return nil, false
}

// findPropertyInTable also searches derived types, which share t's table.
func (c *Catalog) findPropertyInTable(t *EntityType, name string) (*Property, bool) {
	if p, ok := c.FindProperty(t, name); ok {
		return p, true
	}
	for _, other := range c.types {
		if other.ID != t.ID && c.IsAssignableTo(other, t) {
			for i := range other.Properties {
				if other.Properties[i].Name == name {
					return &other.Properties[i], true
				}
			}
		}
	}
	return nil, false
}

// FindNavigation looks a navigation up on t and its base chain.
func (c *Catalog) FindNavigation(t *EntityType, name string) (*Navigation, bool) {
	for cur := t; cur != nil; cur = c.Base(cur) {
		for _, id := range cur.Navigations {
			if c.navs[id].Name == name {
				return c.navs[id], true
			}
		}
	}
	return nil, false
}

// FindNavigationInHierarchy also searches types derived from t.
func (c *Catalog) FindNavigationInHierarchy(t *EntityType, name string) (*Navigation, bool) {
	m, ok := c.FindMemberInHierarchy(t, name)
	if !ok || m.Navigation == nil {
		return nil, false
	}
	return m.Navigation, true
}

// FindMember looks a property or navigation up on t and its base chain.
func (c *Catalog) FindMember(t *EntityType, name string) (Member, bool) {
	if p, ok := c.FindProperty(t, name); ok {
		return Member{Property: p, Declaring: c.types[p.Declaring]}, true
	}
	if n, ok := c.FindNavigation(t, name); ok {
		return Member{Navigation: n, Declaring: c.types[n.Declaring]}, true
	}
	return Member{}, false
}

// FindMemberInHierarchy looks a member up on t, its bases, then the types
// derived from t. The Declaring field tells the caller whether the member
// is only reachable through a derived type.
func (c *Catalog) FindMemberInHierarchy(t *EntityType, name string) (Member, bool) {
	if m, ok := c.FindMember(t, name); ok {
		return m, true
	}
	for _, other := range c.types {
		if other.ID == t.ID || !c.IsAssignableTo(other, t) {
			continue
		}
		for i := range other.Properties {
			if other.Properties[i].Name == name {
				return Member{Property: &other.Properties[i], Declaring: other}, true
			}
		}
		for _, id := range other.Navigations {
			if c.navs[id].Name == name {
				return Member{Navigation: c.navs[id], Declaring: other}, true
			}
		}
	}
	return Member{}, false
}

// TableProperties returns every property stored in t's table: the root's
// properties first, then those of derived types in declaration order.
func (c *Catalog) TableProperties(t *EntityType) []Property {
	root := c.types[t.root]
	out := slices.Clone(root.Properties)
	for _, other := range c.types {
		if other.root == root.ID && other.ID != root.ID {
			out = append(out, other.Properties...)
		}
	}
	return out
}

// EntityProperties returns every property an instance of t carries: its
// own and those inherited from its bases, base first.
func (c *Catalog) EntityProperties(t *EntityType) []Property {
	var chain []*EntityType
	for cur := t; cur != nil; cur = c.Base(cur) {
		chain = append(chain, cur)
	}
	var out []Property
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].Properties...)
	}
	return out
}

// EntityNavigations returns every navigation an instance of t carries.
func (c *Catalog) EntityNavigations(t *EntityType) []*Navigation {
	var chain []*EntityType
	for cur := t; cur != nil; cur = c.Base(cur) {
		chain = append(chain, cur)
	}
	var out []*Navigation
	for i := len(chain) - 1; i >= 0; i-- {
		for _, id := range chain[i].Navigations {
			out = append(out, c.navs[id])
		}
	}
	return out
}

// NavigationName renders a navigation as Declaring.Name for diagnostics.
func (c *Catalog) NavigationName(n *Navigation) string {
	return c.types[n.Declaring].Name + "." + n.Name
}
