package model

import (
	"encoding/json"
	"time"
)

// PrimaryResult is the normalized identification from the primary model.
// Immutable once produced.
type PrimaryResult struct {
	Title      string          `json:"title"`
	SetCode    string          `json:"set_code"`
	Number     string          `json:"number"`
	Rarity     string          `json:"rarity"`
	Confidence float64         `json:"confidence"` // scaled to [0,1]
	Source     string          `json:"source"`     // "primary" or "legacy_fallback"
	Raw        json.RawMessage `json:"raw,omitempty"`
	Elapsed    time.Duration   `json:"elapsed_ns"`
}

// RouteAction is the verification routing outcome for an item.
type RouteAction string

const (
	RouteSkipVerify     RouteAction = "skip_verify"
	RouteVerifyOptional RouteAction = "verify_optional"
	RouteVerifyRequired RouteAction = "verify_required"
	RouteAutoApproved   RouteAction = "auto_approved"
)

// NeedsVerification reports whether the action routes the item to the verifier.
func (a RouteAction) NeedsVerification() bool {
	return a == RouteVerifyOptional || a == RouteVerifyRequired
}

// RoutingDecision is the pure routing outcome for a primary result. No side
// effects are attached; it only describes what the pipeline should do next.
type RoutingDecision struct {
	Action        RouteAction `json:"action"`
	Priority      float64     `json:"priority"`
	FlagForReview bool        `json:"flag_for_review"`
}

// CorpusMatch is a single hit from the reference corpus.
type CorpusMatch struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	SetCode    string  `json:"set_code,omitempty"`
	Similarity float64 `json:"similarity"`
}

// Semantic flags a verifier can attach to a result. Any of these disqualify
// auto-approval.
const (
	FlagVerificationFailed = "verification_failed"
	FlagUnclearImage       = "unclear_image"
	FlagPossibleFake       = "possible_fake"
)

// VerificationResult is the outcome of the secondary verification pass.
// Produced at most once per item.
type VerificationResult struct {
	AgreesWithPrimary bool          `json:"agrees_with_primary"`
	Adjustment        float64       `json:"adjustment"` // signed confidence delta
	CorpusMatches     []CorpusMatch `json:"corpus_matches,omitempty"`
	Flags             []string      `json:"flags,omitempty"`
	Confidence        float64       `json:"confidence"` // verifier's own confidence
	Elapsed           time.Duration `json:"elapsed_ns"`
}

// HasFlag reports whether the verifier attached the given semantic flag.
func (v *VerificationResult) HasFlag(flag string) bool {
	for _, f := range v.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
