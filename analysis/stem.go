package analysis

import "strings"

// DefaultStopWords is a short English stop-word list.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"in", "is", "it", "its", "of", "on", "that", "the", "to", "was",
	"were", "will", "with", "this", "but", "or", "not",
}

type suffixRule struct {
	suffix      string
	replacement string
	minStem     int
}

// Rules are tried in order; the first matching suffix whose remaining stem is
// long enough wins.
var suffixRules = []suffixRule{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ization", "ize", 2},
	{"fulness", "ful", 2},
	{"ousness", "ous", 2},
	{"iveness", "ive", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"sses", "ss", 1},
	{"ches", "ch", 2},
	{"shes", "sh", 2},
	{"xes", "x", 2},
	{"ies", "y", 2},
	{"ying", "y", 2},
	{"ing", "", 3},
	{"edly", "", 3},
	{"ed", "", 3},
	{"ss", "ss", 1},
	{"us", "us", 1},
	{"s", "", 3},
}

// stem strips common English suffixes. Tokens with digits are left alone.
func stem(word string) string {
	if len(word) < 4 || strings.ContainsAny(word, "0123456789") {
		return word
	}
	for _, r := range suffixRules {
		if !strings.HasSuffix(word, r.suffix) {
			continue
		}
		base := word[:len(word)-len(r.suffix)]
		if len(base) < r.minStem {
			continue
		}
		return base + r.replacement
	}
	return word
}
