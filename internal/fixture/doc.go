// Package fixture loads seed data for a model.
//
// A seed file lists rows per entity type. The loaded Graph serves two
// purposes: it seeds a store in foreign key dependency order, and it is the
// object graph the in-memory evaluator runs queries against.
package fixture
