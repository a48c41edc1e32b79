// Package translator is the query compiler entry point. It expands a query
// tree against the catalog, rewrites null semantics for the null-ness of
// the supplied parameters, renders SQL for the plan and its batched
// sub-plans, and caches the result by query shape.
package translator
