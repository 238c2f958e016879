package ml

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// minTokenRunes drops single-character tokens, the same way a
// `\b\w\w+\b` token pattern does.
const minTokenRunes = 2

// Tokenize splits text into word tokens. A word is a run of letters,
// numbers, marks or underscores at least two runes long.
func Tokenize(text string, lowercase bool) []string {
	if lowercase {
		// cases.Caser keeps state, so one is built per call.
		text = cases.Lower(language.Und).String(text)
	}

	tokens := make([]string, 0, 16)
	var current strings.Builder
	runes := 0
	flush := func() {
		if runes >= minTokenRunes {
			tokens = append(tokens, current.String())
		}
		current.Reset()
		runes = 0
	}

	for _, r := range text {
		if isWordRune(r) {
			current.WriteRune(r)
			runes++
			continue
		}
		flush()
	}
	flush()
	return tokens
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r)
}

// Ngrams expands tokens into all n-grams with minN <= n <= maxN, joined by
// a single space.
func Ngrams(tokens []string, minN, maxN int) []string {
	if minN < 1 {
		minN = 1
	}
	if maxN < minN {
		maxN = minN
	}

	grams := make([]string, 0, len(tokens)*(maxN-minN+1))
	for n := minN; n <= maxN; n++ {
		if n == 1 {
			grams = append(grams, tokens...)
			continue
		}
		for i := 0; i+n <= len(tokens); i++ {
			grams = append(grams, strings.Join(tokens[i:i+n], " "))
		}
	}
	return grams
}
