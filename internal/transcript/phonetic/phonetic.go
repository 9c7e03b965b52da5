// Package phonetic matches misrecognized phrases against a closed phrase
// list using Double Metaphone codes combined with Jaro-Winkler similarity.
//
// Double Metaphone is defined over Latin spelling, so Cyrillic input is
// transliterated before encoding and before Jaro-Winkler scoring.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: a phrase is a candidate when any
//     Double Metaphone code of its words overlaps with a code of the input.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the phrase with the
//     highest similarity wins if it reaches the phonetic threshold. Without
//     any phonetic candidate, plain similarity must reach the higher fuzzy
//     threshold.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matched phrase. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no phonetic
// candidate exists. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the phrase from phrases closest to input. When matched is
// false, corrected equals input and confidence is 0.
func (m *Matcher) Match(input string, phrases []string) (corrected string, confidence float64, matched bool) {
	in := Transliterate(strings.ToLower(strings.TrimSpace(input)))
	if len(phrases) == 0 || in == "" {
		return input, 0, false
	}
	inTokens := strings.Fields(in)
	inCodes := codesForTokens(inTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, phrase := range phrases {
		p := Transliterate(strings.ToLower(strings.TrimSpace(phrase)))
		if p == "" {
			continue
		}
		pTokens := strings.Fields(p)
		if len(pTokens) != len(inTokens) {
			continue
		}
		score := jwScore(inTokens, pTokens, in, p)
		if codesOverlap(inCodes, codesForTokens(pTokens)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = phrase, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = phrase, score
		}
	}
	if best == "" {
		return input, 0, false
	}
	return best, bestScore, true
}

// codesForTokens returns the union of Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// jwScore is the better of the whole-phrase similarity and the mean
// similarity of aligned tokens. Inputs have equal token counts.
func jwScore(inTokens, pTokens []string, in, p string) float64 {
	score := matchr.JaroWinkler(in, p, false)
	if len(inTokens) > 1 {
		var sum float64
		for i := range inTokens {
			sum += matchr.JaroWinkler(inTokens[i], pTokens[i], false)
		}
		if mean := sum / float64(len(inTokens)); mean > score {
			score = mean
		}
	}
	return score
}
