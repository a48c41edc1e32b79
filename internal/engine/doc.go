// Package engine executes compiled query plans and evaluates queries in
// memory.
//
// The Executor runs a plan's SQL against the store and shapes the rows
// into results with the plan's Shaper tree: entities take their concrete
// type from the discriminator column, inline collections are regrouped
// from the parent rows by identifier, and batched collections run their
// own plan once per distinct correlation tuple.
//
// Evaluate runs the same query over the fixture object graph with client
// semantics. Executor and evaluator agree on results and on the runtime
// errors they raise.
//
// EXECUTION MODEL:
//
// Each Execute call is one execution: it gets a UUIDv7 id for log
// correlation and its own query quota. A cursor is drained and closed
// before any nested query runs. Cancellation is checked before each outer
// element is shaped, so no partially materialized collection escapes.
//
// When history is enabled every execution is appended to the store's
// execution log, stamped by a monotonic Clock.
//
// RUNTIME ERRORS:
//
//   - INVALID_CAST: a hard cast met an entity of another type
//   - INVALID_OPERATION: First/Single/ElementAt without an element,
//     Single with more than one, Min/Max/Average over nothing with a
//     non-nullable selector, checked overflow in client evaluation
//   - QUOTA_EXCEEDED: batched collections ran more queries than allowed
package engine
