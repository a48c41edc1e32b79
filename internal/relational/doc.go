// Package relational defines the SQL-shaped tree the compiler lowers query
// trees into: select blocks, table sources, and scalar expressions with
// SQL null semantics.
//
// Trees are built by navexpand, normalized by nullsem, and printed by
// querysql. Eval is a small three-valued evaluator used to check rewrites
// against SQL semantics without a database.
package relational
