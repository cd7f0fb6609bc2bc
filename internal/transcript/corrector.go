// Package transcript cleans up speech-to-text output before the language
// model sees it. Recipe steps supply the vocabulary: a transcription of
// "put the bay marie on the stove" is aligned back to "bain-marie" when
// the active recipe mentions one.
//
// Correction is phonetic only — Double Metaphone candidate filtering with
// Jaro-Winkler ranking, via the phonetic subpackage. Terms are matched as
// n-grams so multi-word vocabulary ("crème fraîche") wins over partial
// single-word matches.
package transcript

import (
	"context"
	"strings"
	"unicode"
)

// Matcher aligns one word or n-gram against a vocabulary. Implemented by
// [phonetic.Matcher]; tests supply scripted implementations.
type Matcher interface {
	// Match returns the best vocabulary term for word, its confidence,
	// and whether anything matched. When matched is false, corrected
	// equals word unchanged.
	Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool)
}

// Corrector rewrites transcripts against a live vocabulary. The
// vocabulary source is consulted per call, so corrections track recipe
// replacements without any re-wiring. Safe for concurrent use when the
// matcher and source are.
type Corrector struct {
	matcher Matcher
	source  func() []string
}

// NewCorrector creates a corrector that matches against the terms
// returned by source on each call. A nil source yields pass-through
// behaviour.
func NewCorrector(matcher Matcher, source func() []string) *Corrector {
	return &Corrector{matcher: matcher, source: source}
}

// Correct aligns text's tokens against the current vocabulary and
// returns the corrected text. Unmatched tokens pass through unchanged;
// the error return satisfies the session's corrector contract and is
// always nil here.
func (c *Corrector) Correct(_ context.Context, text string) (string, error) {
	if c.matcher == nil || c.source == nil {
		return text, nil
	}
	vocab := c.source()
	if len(vocab) == 0 {
		return text, nil
	}

	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}
	maxN := maxWordCount(vocab)

	var out []string
	i := 0
	for i < len(tokens) {
		n := maxN
		if i+n > len(tokens) {
			n = len(tokens) - i
		}

		matched := false
		// Longest window first so multi-word terms beat partial
		// single-word matches.
		for ; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, _, ok := c.matcher.Match(stripPunct(window), vocab)
			if !ok {
				continue
			}
			out = append(out, strings.Fields(term)...)
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}

	return strings.Join(out, " "), nil
}

// minTermLength filters out short filler words when extracting
// vocabulary from recipe steps; "the" and "cut" make terrible phonetic
// anchors.
const minTermLength = 4

// StepTerms extracts a deduplicated vocabulary from recipe steps:
// every word of at least [minTermLength] letters, in first-seen order.
// Case is preserved so corrections keep the recipe's spelling.
func StepTerms(steps []string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, step := range steps {
		for _, word := range strings.Fields(step) {
			word = stripPunct(word)
			if len([]rune(word)) < minTermLength {
				continue
			}
			key := strings.ToLower(word)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			terms = append(terms, word)
		}
	}
	return terms
}

// stripPunct trims leading and trailing punctuation, keeping interior
// hyphens and apostrophes ("bain-marie") intact.
func stripPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

// maxWordCount returns the widest correction window any vocabulary term
// can need. Hyphens count as separators: "bain-marie" is often
// transcribed as two words. Returns 1 when the vocabulary is empty.
func maxWordCount(vocab []string) int {
	max := 1
	for _, term := range vocab {
		n := len(strings.FieldsFunc(term, func(r rune) bool {
			return unicode.IsSpace(r) || r == '-'
		}))
		if n > max {
			max = n
		}
	}
	return max
}
