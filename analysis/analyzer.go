// Package analysis turns raw field text into the normalized term stream the
// inverted index is built from.
//
// The index depends only on the Analyzer contract: text in, a sequence of
// (term, position) out. Positions are token ordinals after filtering, starting
// at zero, and are strictly increasing within one call.
package analysis

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Token is a single normalized term and its position in the source text.
type Token struct {
	Term     string
	Position uint32
}

// Analyzer converts text into tokens.
// Implementations must be safe for concurrent use.
type Analyzer interface {
	Analyze(text string) []Token
}

// Normalizer is implemented by analyzers that can normalize a single term
// without stemming, used for prefix queries.
type Normalizer interface {
	Normalize(term string) string
}

// Options configures a StandardAnalyzer.
type Options struct {
	// StopWords are removed after lowercasing. Nil selects DefaultStopWords.
	StopWords []string
	// DisableStopWords keeps every token.
	DisableStopWords bool
	// DisableStemming turns off suffix stripping.
	DisableStemming bool
	// MinTokenLength drops shorter tokens (in runes). Default 1.
	MinTokenLength int
	// MaxTokenLength truncates longer tokens (in bytes). Default 255.
	MaxTokenLength int
}

// StandardAnalyzer applies NFKC folding, lowercasing, letter/digit splitting,
// stop-word removal and a light suffix stemmer.
type StandardAnalyzer struct {
	stop     map[string]struct{}
	stem     bool
	minRunes int
	maxBytes int
}

// NewStandard returns a StandardAnalyzer configured by opts.
func NewStandard(opts Options) *StandardAnalyzer {
	a := &StandardAnalyzer{
		stem:     !opts.DisableStemming,
		minRunes: opts.MinTokenLength,
		maxBytes: opts.MaxTokenLength,
	}
	if a.minRunes <= 0 {
		a.minRunes = 1
	}
	if a.maxBytes <= 0 {
		a.maxBytes = 255
	}
	if !opts.DisableStopWords {
		words := opts.StopWords
		if words == nil {
			words = DefaultStopWords
		}
		a.stop = make(map[string]struct{}, len(words))
		for _, w := range words {
			a.stop[strings.ToLower(w)] = struct{}{}
		}
	}
	return a
}

// Default returns the analyzer used when none is configured.
func Default() *StandardAnalyzer {
	return NewStandard(Options{})
}

// Simple returns an analyzer that only folds, lowercases and splits.
func Simple() *StandardAnalyzer {
	return NewStandard(Options{DisableStopWords: true, DisableStemming: true})
}

// Analyze implements Analyzer.
func (a *StandardAnalyzer) Analyze(text string) []Token {
	words := split(fold(text))
	if len(words) == 0 {
		return nil
	}

	tokens := make([]Token, 0, len(words))
	var pos uint32
	for _, w := range words {
		if _, ok := a.stop[w]; ok {
			continue
		}
		if a.stem {
			w = stem(w)
		}
		if w == "" || runeCount(w) < a.minRunes {
			continue
		}
		if len(w) > a.maxBytes {
			w = truncate(w, a.maxBytes)
		}
		tokens = append(tokens, Token{Term: w, Position: pos})
		pos++
	}
	return tokens
}

// Normalize folds and lowercases a term without stemming or stop-word removal.
func (a *StandardAnalyzer) Normalize(term string) string {
	return fold(term)
}

func fold(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

func split(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func runeCount(s string) int {
	return utf8.RuneCountInString(s)
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
