package navexpand

import (
	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/queryir"
	"github.com/roach88/navq/internal/relational"
)

// entityMember resolves a property or navigation of e.
func (x *expansion) entityMember(e *entityValue, name string) (value, error) {
	m, ok := x.cat.FindMemberInHierarchy(e.typ, name)
	if !ok {
		return nil, queryir.Untranslatable(name, e.typ.Name, "'%s' has no property or navigation '%s'", e.typ.Name, name)
	}
	if !x.cat.IsAssignableTo(e.typ, m.Declaring) {
		return nil, queryir.Untranslatable(name, e.typ.Name,
			"'%s' is declared on derived type '%s'; narrow the sequence with OfType, is or as before using it", name, m.Declaring.Name)
	}
	if m.Property != nil {
		return &scalarValue{expr: e.column(m.Property.Name), checks: x.readChecks(e)}, nil
	}
	if m.Navigation.Collection {
		return x.navCollection(e, m.Navigation), nil
	}
	target, err := x.reference(e, m.Navigation)
	if err != nil {
		return nil, err
	}
	if checks := x.readChecks(e); len(checks) > 0 {
		target = target.copy()
		target.checks = checks
	}
	return target, nil
}

// navCollection is the pending collection a collection navigation of e
// stands for.
func (x *expansion) navCollection(e *entityValue, nav *catalog.Navigation) *collectionValue {
	target := x.cat.Type(nav.Target)
	outer := make([]relational.Scalar, len(nav.Pairs))
	for i, p := range nav.Pairs {
		outer[i] = e.column(p.Source)
	}
	return &collectionValue{
		node: &queryir.Source{Entity: target.Name},
		link: &link{
			outer: outer,
			inner: func(v value) ([]relational.Scalar, error) {
				el, ok := v.(*entityValue)
				if !ok {
					return nil, queryir.InvalidQuery("navigation '%s' lost its element entity", x.cat.NavigationName(nav))
				}
				out := make([]relational.Scalar, len(nav.Pairs))
				for i, p := range nav.Pairs {
					out[i] = el.column(p.Target)
				}
				return out, nil
			},
		},
	}
}

// reference joins the target of a reference navigation into e's select.
// The same navigation from the same entity is joined once.
func (x *expansion) reference(e *entityValue, nav *catalog.Navigation) (*entityValue, error) {
	scope := e.scope
	if scope == nil {
		return nil, queryir.InvalidQuery("navigation '%s' is not reachable here", x.cat.NavigationName(nav))
	}
	key := e.path + "." + nav.Name
	if joined, ok := scope.joins[key]; ok {
		return joined, nil
	}

	target := x.cat.Type(nav.Target)
	alias := x.alias(target.Table)
	optional := nav.Optional || e.nullable || e.guard != nil
	joined := x.tableEntity(scope, target, alias, key, optional)

	var on []relational.Scalar
	for _, p := range nav.Pairs {
		on = append(on, relational.KeyEq(e.cols[p.Source], joined.cols[p.Target]))
	}
	if x.cat.Base(target) != nil {
		on = append(on, x.discriminatorIn(joined.disc, target))
	}
	if e.guard != nil {
		on = append(on, e.guard)
	}

	kind := relational.JoinInner
	if optional {
		kind = relational.JoinLeft
	}
	scope.sel.AddTable(relational.TableSource{Alias: alias, Table: target.Table, Join: kind, On: condAnd(on...)})
	for _, p := range x.cat.KeyProperties(target) {
		x.identify(alias, p.Column)
	}
	scope.joins[key] = joined
	return joined, nil
}
