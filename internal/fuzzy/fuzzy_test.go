package fuzzy

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  int
		max  int
	}{
		{name: "exact ignoring case", a: "hades", b: "Hades", min: 100, max: 100},
		{name: "punctuation ignored", a: "baldurs gate 3", b: "Baldur's Gate 3", min: 90, max: 100},
		{name: "token order", a: "souls dark", b: "Dark Souls", min: 100, max: 100},
		{name: "contained title", a: "hades", b: "Hades II", min: 90, max: 90},
		{name: "one typo", a: "celest", b: "Celeste", min: 85, max: 90},
		{name: "unrelated", a: "zzzz", b: "Celeste", min: 0, max: 49},
		{name: "empty query", a: "", b: "Celeste", min: 0, max: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("Score(%q, %q) = %d, want in [%d, %d]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

func TestRankOrdersByScoreStable(t *testing.T) {
	titles := []string{"Hades II", "Hades", "Celeste", "Hades II"}
	ranked := Rank("hades", titles, func(s string) string { return s })

	var idx []int
	for _, m := range ranked {
		idx = append(idx, m.Index)
	}
	// Equal scores keep source order.
	if diff := cmp.Diff([]int{1, 0, 3, 2}, idx); diff != "" {
		t.Errorf("rank order mismatch (-want +got):\n%s", diff)
	}
}

func TestThreshold(t *testing.T) {
	mk := func(scores ...int) []Match[string] {
		out := make([]Match[string], len(scores))
		for i, s := range scores {
			out[i] = Match[string]{Score: s, Index: i}
		}
		return out
	}
	indices := func(ms []Match[string]) []int {
		var out []int
		for _, m := range ms {
			out = append(out, m.Index)
		}
		return out
	}

	tests := []struct {
		name   string
		ranked []Match[string]
		want   []int
	}{
		{name: "keeps passing", ranked: mk(90, 70, 50, 20), want: []int{0, 1, 2}},
		{name: "fallback to top five", ranked: mk(40, 30, 30, 20, 10, 5, 1), want: []int{0, 1, 2, 3, 4}},
		{name: "fallback shorter than five", ranked: mk(10, 5), want: []int{0, 1}},
		{name: "empty", ranked: nil, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := indices(Threshold(tt.ranked, 50, 5))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Threshold mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
