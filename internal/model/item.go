package model

import (
	"time"
)

// Priority orders items in the work queue.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns a sortable weight for queue ordering. Higher drains first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 2
	case PriorityHigh:
		return 1
	default:
		return 0
	}
}

// Tier is the coarse value classification of a card. It drives routing and
// approval thresholds via the tier policy.
type Tier string

const (
	TierCommon    Tier = "common"
	TierRare      Tier = "rare"
	TierHolo      Tier = "holo"
	TierVintage   Tier = "vintage"
	TierHighValue Tier = "high_value"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierCommon, TierRare, TierHolo, TierVintage, TierHighValue:
		return true
	}
	return false
}

// Hints carries optional caller-supplied expectations about a card.
type Hints struct {
	ExpectedSet    string `json:"expected_set,omitempty"`
	ExpectedNumber string `json:"expected_number,omitempty"`
	// ForceVerification routes the item to verify_required regardless of
	// confidence.
	ForceVerification bool `json:"force_verification,omitempty"`
}

// WorkItem is a single card image awaiting identification.
type WorkItem struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	Priority   Priority  `json:"priority"`
	Tier       Tier      `json:"tier"`
	Hints      Hints     `json:"hints,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	RetryCount int       `json:"retry_count"`
}
