// Package include resolves and merges eager-load directives.
//
// Each Include or ThenInclude directive resolves to a path of navigations.
// Paths merge into a Tree keyed by navigation, so naming the same path
// twice loads it once. The expander turns reference nodes into LEFT joins
// and collection nodes into correlated collections.
package include
