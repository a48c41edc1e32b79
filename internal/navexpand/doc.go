// Package navexpand expands navigation-aware query trees into relational
// plans.
//
// Member access through a reference navigation becomes a join that is
// shared by every use of the same navigation path; collection navigations
// become correlated subqueries, or nested collections when they are
// projected. Operators that cannot extend the current select (a filter
// after Take, a projection after Distinct) push it down into a derived
// table first. Nested collections are fetched inline with a LEFT JOIN or
// batched per outer row, as the correlate planner decides.
//
// The trees produced here carry source null semantics: == treats null as a
// value. The translator normalizes them before rendering SQL.
package navexpand
