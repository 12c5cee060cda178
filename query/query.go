package query

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidQuery is returned for malformed or unanchored queries.
var ErrInvalidQuery = errors.New("invalid query")

// MaxPrefixExpansions caps the number of dictionary terms a Prefix expands to.
const MaxPrefixExpansions = 1024

// Kind tags the variant held by a Query.
type Kind uint8

const (
	KindTerm Kind = iota + 1
	KindPrefix
	KindAnd
	KindOr
	KindNot
)

func (k Kind) String() string {
	switch k {
	case KindTerm:
		return "term"
	case KindPrefix:
		return "prefix"
	case KindAnd:
		return "and"
	case KindOr:
		return "or"
	case KindNot:
		return "not"
	default:
		return "unknown"
	}
}

// Query is a node of the Boolean query tree.
//
// Term and Prefix use Field and Text; an empty Field searches every indexed
// text field. And and Or use Children. Not wraps Children[0].
type Query struct {
	Kind     Kind
	Field    string
	Text     string
	Children []*Query
}

// Term matches documents containing the already-analyzed term.
func Term(field, term string) *Query {
	return &Query{Kind: KindTerm, Field: field, Text: term}
}

// Prefix matches documents containing any term starting with prefix.
func Prefix(field, prefix string) *Query {
	return &Query{Kind: KindPrefix, Field: field, Text: prefix}
}

// And matches documents matching all positive clauses and no Not clause.
func And(clauses ...*Query) *Query {
	return &Query{Kind: KindAnd, Children: clauses}
}

// Or matches documents matching any clause.
func Or(clauses ...*Query) *Query {
	return &Query{Kind: KindOr, Children: clauses}
}

// Not excludes documents matching q. It is only valid as a clause of an And
// that has at least one positive clause.
func Not(q *Query) *Query {
	return &Query{Kind: KindNot, Children: []*Query{q}}
}

// Validate checks structure and anchoring. Every Not must sit directly under
// an And with a positive sibling, so evaluation never needs the complement
// of a posting set.
func (q *Query) Validate() error {
	if q == nil {
		return fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	if q.Kind == KindNot {
		return fmt.Errorf("%w: negation without a positive clause", ErrInvalidQuery)
	}
	return q.validate()
}

func (q *Query) validate() error {
	if q == nil {
		return fmt.Errorf("%w: nil clause", ErrInvalidQuery)
	}
	switch q.Kind {
	case KindTerm:
		if q.Text == "" {
			return fmt.Errorf("%w: empty term", ErrInvalidQuery)
		}
	case KindPrefix:
		if q.Text == "" {
			return fmt.Errorf("%w: empty prefix", ErrInvalidQuery)
		}
	case KindAnd:
		if len(q.Children) == 0 {
			return fmt.Errorf("%w: empty AND", ErrInvalidQuery)
		}
		positive := 0
		for _, c := range q.Children {
			if c != nil && c.Kind == KindNot {
				if len(c.Children) != 1 {
					return fmt.Errorf("%w: NOT takes one clause", ErrInvalidQuery)
				}
				if c.Children[0] != nil && c.Children[0].Kind == KindNot {
					return fmt.Errorf("%w: double negation", ErrInvalidQuery)
				}
				if err := c.Children[0].validate(); err != nil {
					return err
				}
				continue
			}
			if err := c.validate(); err != nil {
				return err
			}
			positive++
		}
		if positive == 0 {
			return fmt.Errorf("%w: AND has only negated clauses", ErrInvalidQuery)
		}
	case KindOr:
		if len(q.Children) == 0 {
			return fmt.Errorf("%w: empty OR", ErrInvalidQuery)
		}
		for _, c := range q.Children {
			if c != nil && c.Kind == KindNot {
				return fmt.Errorf("%w: negation inside OR is unanchored", ErrInvalidQuery)
			}
			if err := c.validate(); err != nil {
				return err
			}
		}
	case KindNot:
		return fmt.Errorf("%w: negation outside AND", ErrInvalidQuery)
	default:
		return fmt.Errorf("%w: unknown node kind %d", ErrInvalidQuery, q.Kind)
	}
	return nil
}

// Key returns a binary encoding of the tree that differs for any two
// structurally different queries. Field and Text are length-prefixed, so
// operator characters inside a term cannot alias another shape.
func (q *Query) Key() string {
	return string(q.appendKey(make([]byte, 0, 32)))
}

func (q *Query) appendKey(b []byte) []byte {
	if q == nil {
		return append(b, 0)
	}
	b = append(b, byte(q.Kind))
	switch q.Kind {
	case KindTerm, KindPrefix:
		b = binary.AppendUvarint(b, uint64(len(q.Field)))
		b = append(b, q.Field...)
		b = binary.AppendUvarint(b, uint64(len(q.Text)))
		b = append(b, q.Text...)
	default:
		b = binary.AppendUvarint(b, uint64(len(q.Children)))
		for _, c := range q.Children {
			b = c.appendKey(b)
		}
	}
	return b
}

// String returns a readable rendering for logs and errors. Distinct trees
// may render alike; use Key to compare queries.
func (q *Query) String() string {
	var sb strings.Builder
	q.write(&sb)
	return sb.String()
}

func (q *Query) write(sb *strings.Builder) {
	if q == nil {
		sb.WriteString("<nil>")
		return
	}
	switch q.Kind {
	case KindTerm, KindPrefix:
		if q.Field != "" {
			sb.WriteString(q.Field)
			sb.WriteByte(':')
		}
		sb.WriteString(q.Text)
		if q.Kind == KindPrefix {
			sb.WriteByte('*')
		}
	case KindAnd, KindOr:
		op := " AND "
		if q.Kind == KindOr {
			op = " OR "
		}
		sb.WriteByte('(')
		for i, c := range q.Children {
			if i > 0 {
				sb.WriteString(op)
			}
			c.write(sb)
		}
		sb.WriteByte(')')
	case KindNot:
		sb.WriteString("NOT ")
		if len(q.Children) > 0 {
			q.Children[0].write(sb)
		}
	default:
		sb.WriteString("<?>")
	}
}

// Walk calls fn for q and every descendant in depth-first order. negated
// reports whether the node sits under a Not.
func (q *Query) Walk(fn func(n *Query, negated bool)) {
	q.walk(fn, false)
}

func (q *Query) walk(fn func(*Query, bool), negated bool) {
	if q == nil {
		return
	}
	fn(q, negated)
	for _, c := range q.Children {
		c.walk(fn, negated || q.Kind == KindNot)
	}
}
