// Package nullsem rewrites comparisons so that SQL's three-valued logic
// reproduces the two-valued equality of the query language.
//
// The query language treats null as an ordinary value under == and !=,
// while SQL yields NULL for any comparison with NULL. The Normalizer
// expands equality with IS NULL tests only where an operand can actually
// be null, folds parameters whose null-ness is known, and collapses
// redundant null guards over optional navigations.
package nullsem
