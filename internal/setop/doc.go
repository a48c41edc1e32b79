// Package setop validates set combinations (Concat, Union, Except,
// Intersect) before they are emitted: both operands must project the same
// shape, carry the same include tree and agree on any ordering that is not
// consumed by a limit.
package setop
