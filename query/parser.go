package query

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hupe1980/textgo/analysis"
)

type tokenKind uint8

const (
	tokWord tokenKind = iota
	tokQuoted
	tokLParen
	tokRParen
	tokMinus
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case c == '-':
			toks = append(toks, token{kind: tokMinus, pos: i})
			i++
		case c == '"':
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated quote at %d", ErrInvalidQuery, i)
			}
			toks = append(toks, token{kind: tokQuoted, text: s[i+1 : i+1+end], pos: i})
			i += end + 2
		default:
			start := i
			for i < len(s) && !isDelim(s[i]) {
				i++
			}
			w := s[start:i]
			kind := tokWord
			switch w {
			case "AND", "&&":
				kind = tokAnd
			case "OR", "||":
				kind = tokOr
			case "NOT":
				kind = tokNot
			}
			toks = append(toks, token{kind: kind, text: w, pos: start})
		}
	}
	return toks, nil
}

func isDelim(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '(', ')', '"':
		return true
	}
	return false
}

type parser struct {
	toks     []token
	pos      int
	analyzer analysis.Analyzer
}

// Parse parses a query string into a validated tree, analyzing every term
// with a. Clauses that analyze to nothing (for example stop-words) are
// dropped; a query left without a positive clause is invalid.
func Parse(s string, a analysis.Analyzer) (*Query, error) {
	if a == nil {
		a = analysis.Default()
	}
	toks, err := lex(s)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, analyzer: a}
	q, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrInvalidQuery, p.describe(p.toks[p.pos]), p.toks[p.pos].pos)
	}
	if q == nil {
		return nil, fmt.Errorf("%w: no searchable terms in %q", ErrInvalidQuery, s)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) describe(t token) string {
	switch t.kind {
	case tokLParen:
		return "("
	case tokRParen:
		return ")"
	case tokMinus:
		return "-"
	default:
		return t.text
	}
}

func (p *parser) parseOr() (*Query, error) {
	var clauses []*Query
	for {
		c, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if c != nil {
			clauses = append(clauses, c)
		}
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			break
		}
		p.pos++
		if t, ok := p.peek(); !ok || t.kind == tokRParen || t.kind == tokOr {
			return nil, fmt.Errorf("%w: OR without right operand", ErrInvalidQuery)
		}
	}
	switch len(clauses) {
	case 0:
		return nil, nil
	case 1:
		return clauses[0], nil
	}
	return Or(clauses...), nil
}

func (p *parser) parseAnd() (*Query, error) {
	var clauses []*Query
	expectOperand := false
	for {
		t, ok := p.peek()
		if !ok || t.kind == tokRParen || t.kind == tokOr {
			break
		}
		if t.kind == tokAnd {
			if len(clauses) == 0 && !expectOperand {
				return nil, fmt.Errorf("%w: AND without left operand", ErrInvalidQuery)
			}
			p.pos++
			expectOperand = true
			continue
		}
		c, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		expectOperand = false
		if c != nil {
			clauses = append(clauses, c)
		}
	}
	if expectOperand {
		return nil, fmt.Errorf("%w: AND without right operand", ErrInvalidQuery)
	}
	switch len(clauses) {
	case 0:
		return nil, nil
	case 1:
		return clauses[0], nil
	}
	return And(clauses...), nil
}

func (p *parser) parseUnary() (*Query, error) {
	t, _ := p.peek()
	if t.kind == tokNot || t.kind == tokMinus {
		p.pos++
		if _, ok := p.peek(); !ok {
			return nil, fmt.Errorf("%w: NOT without operand", ErrInvalidQuery)
		}
		c, err := p.parseUnary()
		if err != nil || c == nil {
			return nil, err
		}
		return Not(c), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*Query, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("%w: unexpected end of query", ErrInvalidQuery)
	}
	p.pos++
	switch t.kind {
	case tokLParen:
		q, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if next, ok := p.peek(); !ok || next.kind != tokRParen {
			return nil, fmt.Errorf("%w: missing ) for ( at %d", ErrInvalidQuery, t.pos)
		}
		p.pos++
		return q, nil
	case tokQuoted:
		return p.terms("", t.text), nil
	case tokWord:
		return p.word(t.text), nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrInvalidQuery, p.describe(t), t.pos)
	}
}

// word turns a bare word into a leaf, honoring field: and a trailing *.
func (p *parser) word(w string) *Query {
	field := ""
	if i := strings.IndexByte(w, ':'); i > 0 && i < len(w)-1 && isFieldName(w[:i]) {
		field, w = w[:i], w[i+1:]
	}
	if strings.HasSuffix(w, "*") {
		prefix := p.normalize(strings.TrimRight(w, "*"))
		if prefix == "" {
			return nil
		}
		return Prefix(field, prefix)
	}
	return p.terms(field, w)
}

func (p *parser) terms(field, text string) *Query {
	toks := p.analyzer.Analyze(text)
	switch len(toks) {
	case 0:
		return nil
	case 1:
		return Term(field, toks[0].Term)
	}
	clauses := make([]*Query, len(toks))
	for i, t := range toks {
		clauses[i] = Term(field, t.Term)
	}
	return And(clauses...)
}

func (p *parser) normalize(s string) string {
	if n, ok := p.analyzer.(analysis.Normalizer); ok {
		return n.Normalize(s)
	}
	return strings.ToLower(s)
}

func isFieldName(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			return false
		}
	}
	return true
}
