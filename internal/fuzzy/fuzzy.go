// Package fuzzy scores free-text queries against candidate titles.
package fuzzy

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// partialWeight scales best-window matches so an exact title still outranks
// a longer title that merely contains the query.
const partialWeight = 90

// Match is a scored candidate. Index is its position in the input.
type Match[T any] struct {
	Item  T
	Score int
	Index int
}

// Score returns the similarity of a and b on a 0..100 scale.
// It is the best of a plain edit ratio, a token-sorted ratio and a weighted
// partial (best-window) ratio, all computed case-insensitively.
func Score(a, b string) int {
	na, nb := normalize(a), normalize(b)
	if na == "" && nb == "" {
		return 100
	}
	if na == "" || nb == "" {
		return 0
	}
	best := ratio(na, nb)
	if s := ratio(sortTokens(na), sortTokens(nb)); s > best {
		best = s
	}
	if s := partialRatio(na, nb) * partialWeight / 100; s > best {
		best = s
	}
	return best
}

// Rank scores every item against query and sorts by descending score.
// Ties keep input order.
func Rank[T any](query string, items []T, title func(T) string) []Match[T] {
	out := make([]Match[T], 0, len(items))
	for i, it := range items {
		out = append(out, Match[T]{Item: it, Score: Score(query, title(it)), Index: i})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Threshold keeps ranked matches scoring at least minScore. When none pass it
// falls back to the first fallback entries, so a non-empty input never yields
// an empty result.
func Threshold[T any](ranked []Match[T], minScore, fallback int) []Match[T] {
	var kept []Match[T]
	for _, m := range ranked {
		if m.Score >= minScore {
			kept = append(kept, m)
		}
	}
	if len(kept) > 0 {
		return kept
	}
	if fallback > len(ranked) {
		fallback = len(ranked)
	}
	return append([]Match[T](nil), ranked[:fallback]...)
}

// ratio is 100 * (1 - distance / longer length), rounded.
func ratio(a, b string) int {
	n := max(len([]rune(a)), len([]rune(b)))
	if n == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	return (200*(n-d) + n) / (2 * n)
}

// partialRatio slides the shorter string over the longer one and keeps the
// best window ratio.
func partialRatio(a, b string) int {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == len(long) {
		return ratio(a, b)
	}
	s := string(short)
	best := 0
	for i := 0; i+len(short) <= len(long); i++ {
		r := ratio(s, string(long[i:i+len(short)]))
		if r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func sortTokens(s string) string {
	f := strings.Fields(s)
	sort.Strings(f)
	return strings.Join(f, " ")
}
