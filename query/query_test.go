package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/textgo/analysis"
)

func TestParse(t *testing.T) {
	a := analysis.Default()

	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"Hello World", "(hello AND world)"},
		{"hello AND world", "(hello AND world)"},
		{"hello OR world", "(hello OR world)"},
		{"a1 b2 OR c3", "((a1 AND b2) OR c3)"},
		{"hello -draft", "(hello AND NOT draft)"},
		{"hello NOT draft", "(hello AND NOT draft)"},
		{"title:hello", "title:hello"},
		{"sear*", "sear*"},
		{"title:Sear*", "title:sear*"},
		{"(cats OR dogs) food", "((cat OR dog) AND food)"},
		{"the hello", "hello"},
		{`"quick fox"`, "(quick AND fox)"},
		{"e-mail", "(e AND mail)"},
		{"hello && world || moon", "((hello AND world) OR moon)"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q, err := Parse(tt.in, a)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.String())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	a := analysis.Default()
	for _, in := range []string{
		"",
		"the and of",
		"NOT hello",
		"-hello",
		"hello OR -world",
		"(hello",
		"hello)",
		"AND hello",
		"hello AND",
		"hello OR",
		`"open`,
		"NOT",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in, a)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestValidate(t *testing.T) {
	ok := []*Query{
		Term("", "a"),
		Prefix("title", "ab"),
		And(Term("", "a"), Not(Term("", "b"))),
		Or(Term("", "a"), And(Term("", "b"), Not(Prefix("", "c")))),
	}
	for _, q := range ok {
		assert.NoError(t, q.Validate(), q.String())
	}

	bad := []*Query{
		nil,
		Term("", ""),
		Prefix("", ""),
		Not(Term("", "a")),
		And(),
		Or(),
		And(Not(Term("", "a"))),
		Or(Term("", "a"), Not(Term("", "b"))),
		And(Term("", "a"), Not(Not(Term("", "b")))),
		And(Term("", "a"), nil),
		{Kind: 99},
	}
	for _, q := range bad {
		assert.ErrorIs(t, q.Validate(), ErrInvalidQuery, q.String())
	}
}

func TestKey(t *testing.T) {
	distinct := []*Query{
		Term("", "body:hello"),
		Term("body", "hello"),
		Term("bo", "dyhello"),
		Term("", "hel*"),
		Prefix("", "hel"),
		Term("", "(a AND b)"),
		And(Term("", "a"), Term("", "b")),
		Or(Term("", "a"), Term("", "b")),
		And(Term("", "a"), Not(Term("", "b"))),
		And(And(Term("", "a")), Term("", "b")),
		And(Term("", "a"), And(Term("", "b"))),
	}
	seen := make(map[string]int)
	for i, q := range distinct {
		k := q.Key()
		if j, ok := seen[k]; ok {
			t.Fatalf("%v and %v share key %q", distinct[j], q, k)
		}
		seen[k] = i
	}

	assert.Equal(t, And(Term("f", "x"), Prefix("", "y")).Key(), And(Term("f", "x"), Prefix("", "y")).Key())
}

func TestWalk(t *testing.T) {
	q := And(Term("", "a"), Not(Or(Term("", "b"), Prefix("", "c"))))

	var positive, negative []string
	q.Walk(func(n *Query, negated bool) {
		if n.Kind != KindTerm && n.Kind != KindPrefix {
			return
		}
		if negated {
			negative = append(negative, n.Text)
		} else {
			positive = append(positive, n.Text)
		}
	})
	assert.Equal(t, []string{"a"}, positive)
	assert.Equal(t, []string{"b", "c"}, negative)
}

func TestParse_NilAnalyzerUsesDefault(t *testing.T) {
	q, err := Parse("Running", nil)
	require.NoError(t, err)
	assert.Equal(t, KindTerm, q.Kind)
	assert.Equal(t, "runn", q.Text)
}
