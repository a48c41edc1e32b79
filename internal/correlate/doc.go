// Package correlate plans correlated collection projections.
//
// A collection nested in a projection (g.Weapons.Where(...).ToList()) is
// either inlined or batched. Inline joins the decorrelated inner query to
// the outer one with a LEFT JOIN on the correlation equalities and groups
// the rows back on the client; a Skip/Take inside the collection is
// lowered to a ROW_NUMBER window partitioned by the correlation columns.
// Batched runs the inner query once per distinct outer correlation tuple,
// with the outer columns turned into parameters. Both strategies return
// the same elements in the same order.
package correlate
