// Package object holds the runtime values a query materializes: entities,
// anonymous records and groupings. Scalars are plain Go values (nil,
// string, int64, float64, bool) and sequences are []any.
package object
