// Package plan defines compiled query plans.
//
// A Plan pairs a relational select (and its SQL text) with a Shaper tree
// describing how result rows become values: scalars, entities with their
// included navigations, records, nested collections and groupings. The
// engine package interprets shapers; this package only describes them.
package plan
