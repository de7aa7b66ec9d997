package verifier

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// agreesWithPrimary checks whether the verifier's card name matches the
// primary title: normalized containment either way, or edit distance within
// a bound scaled down for short titles.
func agreesWithPrimary(primaryTitle, verifierName string) bool {
	a := normalizeTitle(primaryTitle)
	b := normalizeTitle(verifierName)
	if a == "" || b == "" {
		return false
	}

	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}

	maxDist := 2
	if len(a) <= 5 || len(b) <= 5 {
		maxDist = 1
	}
	return editDistanceWithin(a, b, maxDist)
}

// normalizeTitle lowercases, decomposes accents, and strips everything but
// letters, digits, and single spaces.
func normalizeTitle(s string) string {
	decomposed := norm.NFKD.String(strings.ToLower(strings.TrimSpace(s)))

	var b strings.Builder
	lastSpace := true
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// Drop combining marks left over from decomposition.
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// editDistanceWithin reports whether the Levenshtein distance between a and b
// is at most maxDist, bailing out early once a row exceeds the bound.
func editDistanceWithin(a, b string, maxDist int) bool {
	ra, rb := []rune(a), []rune(b)
	if abs(len(ra)-len(rb)) > maxDist {
		return false
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		if rowMin > maxDist {
			return false
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)] <= maxDist
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
