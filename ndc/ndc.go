// Package ndc normalizes National Drug Codes into their 11 digit 5-4-2 form.
package ndc

import (
	"strings"

	"github.com/giygas/ndc-report/entities"
)

// segment widths of the canonical layout
const (
	labelerWidth = 5
	productWidth = 4
	packageWidth = 2
	canonicalLen = labelerWidth + productWidth + packageWidth
)

// layouts maps the recognised hyphenated segment widths to the padding each segment needs
var layouts = map[[3]int][3]int{
	{4, 4, 2}: {1, 0, 0},
	{5, 3, 2}: {0, 1, 0},
	{5, 4, 1}: {0, 0, 1},
	{5, 4, 2}: {0, 0, 0},
}

// Normalize converts any NDC-like string into its canonical 11 digit form.
// Digit groups are split on any non-digit separator. A single group is only accepted
// when it already holds 11 digits; three groups must follow one of the 4-4-2, 5-3-2,
// 5-4-1 or 5-4-2 layouts. Everything else yields the absent value.
func Normalize(raw string) entities.CanonicalNDC {
	groups := digitGroups(raw)

	switch len(groups) {
	case 1:
		if len(groups[0]) == canonicalLen {
			return entities.CanonicalNDC(groups[0])
		}
	case 3:
		widths := [3]int{len(groups[0]), len(groups[1]), len(groups[2])}
		padding, ok := layouts[widths]
		if !ok {
			return ""
		}

		var b strings.Builder
		b.Grow(canonicalLen)
		for i, g := range groups {
			b.WriteString(strings.Repeat("0", padding[i]))
			b.WriteString(g)
		}
		return entities.CanonicalNDC(b.String())
	}

	return ""
}

// digitGroups returns the maximal runs of ASCII digits in s
func digitGroups(s string) []string {
	var groups []string
	start := -1
	for i := 0; i < len(s); i++ {
		isDigit := s[i] >= '0' && s[i] <= '9'
		switch {
		case isDigit && start < 0:
			start = i
		case !isDigit && start >= 0:
			groups = append(groups, s[start:i])
			start = -1
		}
	}
	if start >= 0 {
		groups = append(groups, s[start:])
	}
	return groups
}

// IsCanonical reports whether s is already an 11 digit code
func IsCanonical(s string) bool {
	if len(s) != canonicalLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Format renders a canonical code with hyphens (5-4-2). Absent codes render empty.
func Format(code entities.CanonicalNDC) string {
	s := string(code)
	if !IsCanonical(s) {
		return ""
	}
	return s[:labelerWidth] + "-" + s[labelerWidth:labelerWidth+productWidth] + "-" + s[labelerWidth+productWidth:]
}
