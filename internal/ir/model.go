package ir

import "slices"

// ModelSpec is the compiled form of a model definition: the entity types,
// their mapping onto tables, and the relationships between them.
type ModelSpec struct {
	Entities []EntitySpec `json:"entities"`
}

// EntitySpec describes one entity type.
//
// A derived type names its Base and inherits the base table, key and
// discriminator column. Only root types declare Table, Key and
// Discriminator.
type EntitySpec struct {
	Name               string           `json:"name"`
	Base               string           `json:"base,omitempty"`
	Table              string           `json:"table,omitempty"`
	Abstract           bool             `json:"abstract,omitempty"`
	Discriminator      string           `json:"discriminator,omitempty"`
	DiscriminatorValue string           `json:"discriminator_value,omitempty"`
	Key                []string         `json:"key,omitempty"`
	AlternateKeys      [][]string       `json:"alternate_keys,omitempty"`
	Properties         []PropertySpec   `json:"properties"`
	Navigations        []NavigationSpec `json:"navigations,omitempty"`
}

// PropertySpec describes a scalar property and its column.
type PropertySpec struct {
	Name     string `json:"name"`
	Type     Kind   `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
	Column   string `json:"column,omitempty"` // defaults to Name
}

// Dependent sides of a relationship.
const (
	DependentSelf   = "self"
	DependentTarget = "target"
)

// NavigationSpec describes a relationship as seen from its declaring type.
//
// ForeignKey lists properties on the dependent side; PrincipalKey lists the
// matching properties on the principal side (defaults to the principal's
// primary key). Dependent says which side holds the foreign key: "self" is
// the default for references, "target" is forced for collections.
type NavigationSpec struct {
	Name         string   `json:"name"`
	Target       string   `json:"target"`
	Collection   bool     `json:"collection,omitempty"`
	ForeignKey   []string `json:"foreign_key"`
	PrincipalKey []string `json:"principal_key,omitempty"`
	Dependent    string   `json:"dependent,omitempty"`
	Required     bool     `json:"required,omitempty"`
	Inverse      string   `json:"inverse,omitempty"`
}

// DependentSide returns the normalized dependent side of the navigation.
func (n NavigationSpec) DependentSide() string {
	if n.Collection {
		return DependentTarget
	}
	if n.Dependent == "" {
		return DependentSelf
	}
	return n.Dependent
}

// Entity returns the entity spec with the given name.
func (m *ModelSpec) Entity(name string) (EntitySpec, bool) {
	for _, e := range m.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return EntitySpec{}, false
}

// Property returns the named property declared directly on e.
func (e EntitySpec) Property(name string) (PropertySpec, bool) {
	for _, p := range e.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertySpec{}, false
}

// ColumnName returns the mapped column of the property.
func (p PropertySpec) ColumnName() string {
	if p.Column != "" {
		return p.Column
	}
	return p.Name
}

// ToIR converts the model into an IRObject for canonical hashing.
// Entities are sorted by name so declaration order does not change the hash.
func (m *ModelSpec) ToIR() IRObject {
	entities := slices.Clone(m.Entities)
	slices.SortFunc(entities, func(a, b EntitySpec) int {
		return compareKeysRFC8785(a.Name, b.Name)
	})

	arr := make(IRArray, 0, len(entities))
	for _, e := range entities {
		props := make(IRArray, 0, len(e.Properties))
		for _, p := range e.Properties {
			props = append(props, IRObject{
				"name":     IRString(p.Name),
				"type":     IRString(string(p.Type)),
				"nullable": IRBool(p.Nullable),
				"column":   IRString(p.ColumnName()),
			})
		}
		navs := make(IRArray, 0, len(e.Navigations))
		for _, n := range e.Navigations {
			navs = append(navs, IRObject{
				"name":          IRString(n.Name),
				"target":        IRString(n.Target),
				"collection":    IRBool(n.Collection),
				"foreign_key":   stringsToIR(n.ForeignKey),
				"principal_key": stringsToIR(n.PrincipalKey),
				"dependent":     IRString(n.DependentSide()),
				"required":      IRBool(n.Required),
				"inverse":       IRString(n.Inverse),
			})
		}
		alt := make(IRArray, 0, len(e.AlternateKeys))
		for _, k := range e.AlternateKeys {
			alt = append(alt, stringsToIR(k))
		}
		arr = append(arr, IRObject{
			"name":                IRString(e.Name),
			"base":                IRString(e.Base),
			"table":               IRString(e.Table),
			"abstract":            IRBool(e.Abstract),
			"discriminator":       IRString(e.Discriminator),
			"discriminator_value": IRString(e.DiscriminatorValue),
			"key":                 stringsToIR(e.Key),
			"alternate_keys":      alt,
			"properties":          props,
			"navigations":         navs,
		})
	}
	return IRObject{"entities": arr}
}

func stringsToIR(ss []string) IRArray {
	arr := make(IRArray, len(ss))
	for i, s := range ss {
		arr[i] = IRString(s)
	}
	return arr
}
