// Package query defines the Boolean query tree evaluated by the engine and a
// parser for the query-string syntax.
//
// A Query is a closed tagged variant: exactly one of Term, Prefix, And, Or or
// Not. Build trees with the constructors and check them with Validate before
// evaluation; the engine rejects trees without a positive anchor.
//
// Syntax accepted by Parse:
//
//	hello world          implicit AND
//	hello AND world      explicit AND
//	hello OR world       OR binds looser than AND
//	NOT draft, -draft    negation of the following clause
//	title:hello          field-scoped term
//	sear*                prefix (at most MaxPrefixExpansions terms)
//	(a OR b) c           grouping
package query
