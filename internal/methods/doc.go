// Package methods maps method calls in query trees to SQL expressions and
// to client implementations.
//
// Every registered method can run on the client. Methods with a Translate
// function can also run in the database; the expander defers the others
// to client evaluation when they appear in a top-level projection and
// reports them as untranslatable anywhere else.
package methods
