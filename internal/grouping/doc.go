// Package grouping translates GroupBy clauses.
//
// Each clause moves through a small state machine:
//
//	Proposed → Pushed          every use is a relational aggregate
//	Proposed → ClientFallback  some use needs the group's elements
//	any      → Rejected        some use has no column-level reduction
//
// Aggregates are lowered by Translate; SUM is wrapped by SumOfEmpty so an
// empty group sums to zero. Key tuples compare with null equal to null,
// both relationally (KeyEqual, after null normalization) and on the
// client (KeysEqual).
package grouping
