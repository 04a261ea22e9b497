package library

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// matcher scores a free-text query against a title in two stages:
//
//  1. Double Metaphone codes of the query and title tokens are compared. A
//     shared code makes the title a phonetic candidate, accepted when its
//     Jaro-Winkler score reaches phoneticThreshold.
//  2. Titles without a shared code must reach the higher fuzzyThreshold.
//
// A case-insensitive substring hit always scores 1.
type matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func newMatcher() matcher {
	return matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// query is a preprocessed search string.
type query struct {
	full   string
	tokens []string
	codes  map[string]struct{}
}

func newQuery(s string) query {
	full := normalize(s)
	tokens := strings.Fields(full)
	return query{full: full, tokens: tokens, codes: codesForTokens(tokens)}
}

// score returns the similarity of q and title and whether it passes the
// thresholds.
func (m matcher) score(q query, title string) (float64, bool) {
	t := normalize(title)
	if q.full == "" || t == "" {
		return 0, false
	}
	if strings.Contains(t, q.full) {
		return 1, true
	}
	tokens := strings.Fields(t)
	jw := fuzzyScore(q.tokens, tokens, q.full, t)
	if codesOverlap(q.codes, codesForTokens(tokens)) {
		return jw, jw >= m.phoneticThreshold
	}
	return jw, jw >= m.fuzzyThreshold
}

// normalize lowercases s and turns separators common in module file names
// into spaces.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.', '(', ')', '[', ']':
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

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

// maxFuzzyScore keeps every non-substring match ranked below a substring
// hit.
const maxFuzzyScore = 0.99

// fuzzyScore is the best of the Jaro-Winkler similarity over the full
// strings, over the space-stripped strings, and the query coverage: the mean
// over query tokens of each token's best match among the title tokens. A
// single shared word therefore only counts for its share of the query.
func fuzzyScore(qTokens, tTokens []string, qFull, tFull string) float64 {
	score := matchr.JaroWinkler(qFull, tFull, false)

	if len(qTokens) > 1 || len(tTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(qTokens, ""), strings.Join(tTokens, ""), false); s > score {
			score = s
		}
	}
	if len(qTokens) > 0 && len(tTokens) > 0 {
		var sum float64
		for _, qt := range qTokens {
			var best float64
			for _, tt := range tTokens {
				best = max(best, matchr.JaroWinkler(qt, tt, false))
			}
			sum += best
		}
		score = max(score, sum/float64(len(qTokens)))
	}
	return min(score, maxFuzzyScore)
}
