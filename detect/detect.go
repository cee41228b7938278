// Package detect classifies input text as a question by its leading
// interrogative word.
package detect

import (
	"strings"
	"unicode"
)

var questionWords = map[string]bool{
	"who":   true,
	"what":  true,
	"where": true,
	"when":  true,
	"why":   true,
	"how":   true,
}

// IsQuestionWord reports whether tok is one of the six interrogative words.
// tok must already be lower-case.
func IsQuestionWord(tok string) bool {
	return questionWords[tok]
}

// FirstToken returns the lower-cased text up to the first whitespace run
// after trimming. Punctuation is kept: "What?" yields "what?".
func FirstToken(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		text = text[:i]
	}
	return strings.ToLower(text)
}

// Classify reports whether text starts with an interrogative word whose
// type is enabled. Empty or all-whitespace text is never a question.
func Classify(text string, enabled map[string]bool) bool {
	tok := FirstToken(text)
	if tok == "" {
		return false
	}
	return IsQuestionWord(tok) && enabled[tok]
}
