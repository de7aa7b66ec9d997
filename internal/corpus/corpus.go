// Package corpus provides the reference-corpus lookup used to cross-check
// identifications. The matching contract is small on purpose: a lookup
// returns zero or more similarity-scored matches within a bounded latency.
package corpus

import (
	"context"
	"strings"

	"github.com/cardmint/scan-cli/internal/model"
)

// Checker is the consumed cross-check contract.
type Checker interface {
	// Lookup returns reference cards similar to title, optionally filtered
	// by a set hint. An empty result is not an error.
	Lookup(ctx context.Context, title, setHint string) ([]model.CorpusMatch, error)
}

// NopChecker is used when no reference corpus is configured. Lookups return
// nothing, which routes corpus-mandatory approvals to human review.
type NopChecker struct{}

func (NopChecker) Lookup(context.Context, string, string) ([]model.CorpusMatch, error) {
	return nil, nil
}

// jaccardSimilarity scores two names by word-set overlap.
func jaccardSimilarity(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}

	union := len(wordsA)
	for w := range wordsB {
		if !wordsA[w] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if w != "" {
			set[w] = true
		}
	}
	return set
}
