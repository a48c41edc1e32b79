// Package store provides the SQLite database compiled queries run against.
//
// Entity tables are created from a catalog: one table per type hierarchy,
// holding the columns of every type in it plus the discriminator. Rows are
// read through a cursor whose values are normalized to nil, int64,
// float64 and string.
//
// The store also keeps an append-only execution log (navq_executions)
// with one entry per executed plan, ordered by a logical sequence number.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
