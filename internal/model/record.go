package model

import (
	"time"
)

// ApprovalStatus is the terminal decision for an item.
type ApprovalStatus string

const (
	ApprovalAutoApproved   ApprovalStatus = "auto_approved"
	ApprovalRequiresReview ApprovalStatus = "requires_review"
	ApprovalRejected       ApprovalStatus = "rejected"
)

// ApprovalDecision is the admission-control outcome for a processed item.
// Reason is always populated on non-approval so human review has context.
type ApprovalDecision struct {
	Status          ApprovalStatus `json:"status"`
	Reason          string         `json:"reason"`
	Confidence      float64        `json:"confidence"`
	Threshold       float64        `json:"threshold"`
	CorpusValidated bool           `json:"corpus_validated"`
	ApprovalID      string         `json:"approval_id,omitempty"`
}

// RecordStatus tracks whether an item completed the pipeline or exhausted
// its retries.
type RecordStatus string

const (
	RecordComplete RecordStatus = "complete"
	RecordFailed   RecordStatus = "failed"
)

// FinalRecord is the terminal, persisted outcome for a work item. Exactly one
// exists per item identity; persistence is idempotent on ItemID.
type FinalRecord struct {
	ItemID          string              `json:"item_id"`
	SourcePath      string              `json:"source_path"`
	Tier            Tier                `json:"tier"`
	Primary         *PrimaryResult      `json:"primary,omitempty"`
	Verification    *VerificationResult `json:"verification,omitempty"`
	Routing         RoutingDecision     `json:"routing"`
	Approval        ApprovalDecision    `json:"approval"`
	FinalConfidence float64             `json:"final_confidence"`
	Status          RecordStatus        `json:"status"`
	FailureReason   string              `json:"failure_reason,omitempty"`
	RetryCount      int                 `json:"retry_count"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// AuditEntry is a single row in the approval audit trail. Every
// ApprovalDecision produces one, approved or not.
type AuditEntry struct {
	ID              string    `json:"id"`
	ItemID          string    `json:"item_id"`
	ApprovalID      string    `json:"approval_id,omitempty"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason"`
	Confidence      float64   `json:"confidence"`
	Threshold       float64   `json:"threshold"`
	Tier            Tier      `json:"tier"`
	CorpusValidated bool      `json:"corpus_validated"`
	CreatedAt       time.Time `json:"created_at"`
}

// ClampConfidence bounds a confidence score to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
