package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxQueries bounds the statements one execution may run, the
// outer query and every batched collection query included.
const DefaultMaxQueries = 1000

// QuotaEnforcer counts the queries of one execution and enforces a
// maximum.
//
// Batched collections run one query per distinct correlation tuple, so an
// outer result of N rows can fan out into N queries per nesting level. The
// quota turns an unexpectedly wide fan-out into an error instead of an
// unbounded stream of statements.
type QuotaEnforcer struct {
	maxQueries int
	current    int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
// A limit <= 0 disables the check.
func NewQuotaEnforcer(maxQueries int) *QuotaEnforcer {
	return &QuotaEnforcer{maxQueries: maxQueries}
}

// Check counts one query and validates against the limit.
//
// Returns QueriesExceededError if the quota is exceeded.
func (q *QuotaEnforcer) Check() error {
	q.current++
	if q.maxQueries > 0 && q.current > q.maxQueries {
		return &QueriesExceededError{Queries: q.current, Limit: q.maxQueries}
	}
	return nil
}

// Current returns the number of queries counted.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxQueries returns the limit.
func (q *QuotaEnforcer) MaxQueries() int {
	return q.maxQueries
}

// QueriesExceededError is returned when an execution exceeds its query
// quota. It terminates the execution.
type QueriesExceededError struct {
	Queries int
	Limit   int
}

// Error implements the error interface.
func (e *QueriesExceededError) Error() string {
	return fmt.Sprintf("execution exceeded max queries quota: %d queries > %d limit", e.Queries, e.Limit)
}

// RuntimeError converts e to the RuntimeError reported to callers.
func (e *QueriesExceededError) RuntimeError() *RuntimeError {
	return NewQuotaError(e.Queries, e.Limit)
}

// IsQueriesExceededError returns true if the error is a
// QueriesExceededError. Uses errors.As to handle wrapped errors.
func IsQueriesExceededError(err error) bool {
	var qe *QueriesExceededError
	return errors.As(err, &qe)
}
