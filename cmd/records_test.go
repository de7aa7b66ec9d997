package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cardmint/scan-cli/internal/model"
)

func TestComputeRecordStats(t *testing.T) {
	records := []model.FinalRecord{
		{
			Status:          model.RecordComplete,
			Approval:        model.ApprovalDecision{Status: model.ApprovalAutoApproved},
			Verification:    &model.VerificationResult{},
			FinalConfidence: 0.96,
		},
		{
			Status:          model.RecordComplete,
			Approval:        model.ApprovalDecision{Status: model.ApprovalRequiresReview},
			FinalConfidence: 0.80,
		},
		{
			Status:   model.RecordFailed,
			Approval: model.ApprovalDecision{Status: model.ApprovalRequiresReview},
		},
	}

	s := computeRecordStats(records)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Approved)
	assert.Equal(t, 2, s.Review)
	assert.Equal(t, 1, s.Verified)
	assert.InDelta(t, (0.96+0.80)/3, s.AvgConfidence, 0.001)
}

func TestComputeRecordStatsEmpty(t *testing.T) {
	s := computeRecordStats(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.AvgConfidence)
}

func TestFormatRecordsList(t *testing.T) {
	records := []model.FinalRecord{
		{
			ItemID:          "3f8a1c2d-0000-0000-0000-000000000000",
			Tier:            model.TierRare,
			Primary:         &model.PrimaryResult{Title: "Pikachu ex"},
			Approval:        model.ApprovalDecision{Status: model.ApprovalAutoApproved},
			FinalConfidence: 0.97,
			Status:          model.RecordComplete,
			UpdatedAt:       time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		},
	}

	var sb strings.Builder
	formatRecordsList(&sb, records)

	out := sb.String()
	assert.Contains(t, out, "3f8a1c2d")
	assert.NotContains(t, out, "3f8a1c2d-0000")
	assert.Contains(t, out, "Pikachu ex")
	assert.Contains(t, out, "auto_approved")
	assert.Contains(t, out, "2026-08-30 12:00")
}

func TestFormatAuditTrail(t *testing.T) {
	entries := []model.AuditEntry{
		{
			Status:     "requires_review",
			Reason:     "confidence 0.80 below tier threshold 0.95",
			Confidence: 0.80,
			Threshold:  0.95,
			CreatedAt:  time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		},
	}

	var sb strings.Builder
	formatAuditTrail(&sb, entries)

	out := sb.String()
	assert.Contains(t, out, "requires_review")
	assert.Contains(t, out, "below tier threshold")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcd1234", truncateID("abcd1234-5678"))
	assert.Equal(t, "short", truncateID("short"))
}
