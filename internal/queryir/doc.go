// Package queryir provides the query tree: an immutable representation of a
// declarative query over the navigational object model.
//
// The tree is what every translation stage consumes. It is written against
// entity types and navigations, never against tables and columns; lowering
// to relations happens in navexpand.
//
// SEALED INTERFACES:
//
// Node and Expr are sealed interfaces using the marker method pattern. Only
// types in this package implement them, so compiler stages can switch over
// them exhaustively:
//
//	switch n := node.(type) {
//	case *Source:
//	    // entity set or collection navigation
//	case *Filter:
//	    // predicate over the input sequence
//	...
//	}
//
// Node kinds: Source, Filter, Project, Join, GroupJoin, SelectMany, OrderBy,
// GroupBy, SetCombine, TypeFilter, Take, Skip, Distinct, DefaultIfEmpty,
// Include and Terminal.
//
// Expr kinds: Param, Constant, Parameter, Member, Binary, Unary,
// Conditional, Convert, TypeAs, TypeIs, New, Call and Subquery.
//
// TEXT FORM:
//
// Parse reads LINQ-style method chains, which is how scenarios and the CLI
// spell queries:
//
//	Set<Gear>()
//	    .Where(g => g.HasSoulPatch || g.Rank > 0)
//	    .OrderBy(g => g.Nickname)
//	    .Select(g => new { g.FullName, Weapons = g.Weapons.Count() })
//
// Format renders a tree back into the same syntax.
//
// IDENTITY:
//
// Nodes own their children and are never shared between two parents. A tree
// is identified by its structure, so two separately parsed copies of the
// same query have the same Fingerprint. Lambda parameter names do not take
// part in the fingerprint; constants do, query parameters (@name) do not.
//
// ERRORS:
//
// Every translation failure in the pipeline is a *TranslationError with a
// Kind. Callers distinguish unsupported shapes from bugs with IsKind.
package queryir
