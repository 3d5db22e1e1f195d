// Package similarity provides text similarity measures on a 0-100 scale.
package similarity

import (
	"sort"
	"strings"
)

// TokenSet scores two strings by the overlap of their word sets, ignoring word order
// and repetition. It follows the token set ratio popularised by fuzzywuzzy/rapidfuzz:
// the shared words are compared against each side's remainder with an Indel ratio and
// the best of the three comparisons wins.
type TokenSet struct{}

// Score returns a value in [0,100]. Empty input on either side scores 0.
func (TokenSet) Score(a, b string) float64 {
	return TokenSetRatio(a, b)
}

// Name identifies the measure in logs and reports
func (TokenSet) Name() string {
	return "token_set_ratio"
}

// TokenSetRatio is the function form of TokenSet.Score
func TokenSetRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var intersection, diffAB, diffBA []string
	for tok := range setA {
		if setB[tok] {
			intersection = append(intersection, tok)
		} else {
			diffAB = append(diffAB, tok)
		}
	}
	for tok := range setB {
		if !setA[tok] {
			diffBA = append(diffBA, tok)
		}
	}

	// one set contains the other
	if len(intersection) > 0 && (len(diffAB) == 0 || len(diffBA) == 0) {
		return 100
	}

	sort.Strings(intersection)
	sort.Strings(diffAB)
	sort.Strings(diffBA)

	sect := strings.Join(intersection, " ")
	combinedAB := joinNonEmpty(sect, strings.Join(diffAB, " "))
	combinedBA := joinNonEmpty(sect, strings.Join(diffBA, " "))

	best := Ratio(combinedAB, combinedBA)
	if sect != "" {
		best = max(best, Ratio(sect, combinedAB), Ratio(sect, combinedBA))
	}
	return best
}

// Ratio is the normalized Indel similarity of two strings, 0-100
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100
	}
	dist := total - 2*lcsLength(ra, rb)
	return 100 * (1 - float64(dist)/float64(total))
}

// lcsLength computes the longest common subsequence with two rolling rows
func lcsLength(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
