package intent

import (
	"context"
	"strings"
	"unicode"
)

// KeywordClassifier matches a condition when every word of its name occurs
// in the turn's user text. Condition names like PurchaseInquiry or
// order_status split into their component words. Candidates are evaluated
// in declaration order; the first full match wins.
//
// This is the zero-dependency default; LLM-backed classifiers plug in via
// the same interface for fuzzier intent inference.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

func (c *KeywordClassifier) Classify(_ context.Context, turn Turn, candidates []string) (string, error) {
	text := strings.ToLower(turn.UserText)
	if text == "" {
		return "", nil
	}

	for _, candidate := range candidates {
		words := conditionWords(candidate)
		if len(words) == 0 {
			continue
		}
		matched := true
		for _, w := range words {
			if !strings.Contains(text, w) {
				matched = false
				break
			}
		}
		if matched {
			return candidate, nil
		}
	}
	return "", nil
}

// conditionWords splits a condition name on underscores, dashes and
// camel-case boundaries into lowercase words.
func conditionWords(condition string) []string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, strings.ToLower(current.String()))
			current.Reset()
		}
	}

	for _, r := range condition {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case unicode.IsUpper(r):
			flush()
			current.WriteRune(r)
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}
