// Package approval implements the admission-control engine that decides
// whether an identified item may skip human review. Checks run in a fixed
// order and short-circuit on the first failure, always producing a specific
// reason string so reviewers know why an item landed in their queue.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/policy"
)

// AuditSink receives one entry per evaluated decision, approved or not.
type AuditSink interface {
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
}

// Config controls the approval engine.
type Config struct {
	// Enabled gates all auto-approval. When false every evaluation
	// returns requires_review.
	Enabled bool
	// MaxPerHour caps approvals inside a sliding one-hour window.
	MaxPerHour int
	// RequireCorpus demands at least one reference-corpus match.
	RequireCorpus bool
}

// DefaultConfig matches a conservative production rollout.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxPerHour: 50, RequireCorpus: false}
}

// Engine evaluates identified items against the approval policy.
type Engine struct {
	cfg    Config
	tiers  policy.Policy
	window *slidingWindow
	audit  AuditSink
}

// New builds an engine. audit may be nil, in which case decisions are only
// logged.
func New(cfg Config, tiers policy.Policy, audit AuditSink) *Engine {
	if cfg.MaxPerHour <= 0 {
		cfg.MaxPerHour = DefaultConfig().MaxPerHour
	}
	return &Engine{
		cfg:    cfg,
		tiers:  tiers,
		window: newSlidingWindow(time.Hour, cfg.MaxPerHour),
		audit:  audit,
	}
}

// Window returns the number of approvals in the current sliding window.
func (e *Engine) Window() int {
	return e.window.Count()
}

// Evaluate runs the admission checks for one item. finalConfidence is the
// primary confidence with any verification adjustment already applied and
// clamped. verification may be nil when routing skipped the second stage;
// matches carries corpus hits whether or not verification ran.
func (e *Engine) Evaluate(ctx context.Context, itemID string, tier model.Tier, finalConfidence float64, primary *model.PrimaryResult, verification *model.VerificationResult, matches []model.CorpusMatch) model.ApprovalDecision {
	threshold := e.tiers.For(tier).AcceptThreshold

	decision := e.check(tier, threshold, finalConfidence, primary, verification, matches)
	if decision.Status == model.ApprovalAutoApproved {
		decision.ApprovalID = uuid.New().String()
	}

	zap.L().Info("approval decision",
		zap.String("item_id", itemID),
		zap.String("status", string(decision.Status)),
		zap.String("reason", decision.Reason),
		zap.Float64("confidence", decision.Confidence),
		zap.String("tier", string(tier)))

	e.appendAudit(ctx, itemID, tier, decision)
	return decision
}

func (e *Engine) check(tier model.Tier, threshold, confidence float64, primary *model.PrimaryResult, verification *model.VerificationResult, matches []model.CorpusMatch) model.ApprovalDecision {
	corpusValidated := len(matches) > 0
	base := model.ApprovalDecision{
		Status:          model.ApprovalRequiresReview,
		Confidence:      confidence,
		Threshold:       threshold,
		CorpusValidated: corpusValidated,
	}

	if !e.cfg.Enabled {
		base.Reason = "auto-approval disabled"
		return base
	}
	// The slot is claimed up front so concurrent evaluations cannot all
	// pass a read-only check and overshoot the cap. Denials below hand
	// the slot back.
	if !e.window.Reserve() {
		base.Reason = fmt.Sprintf("hourly approval rate limit reached (%d/hour)", e.cfg.MaxPerHour)
		return base
	}
	if confidence < threshold {
		e.window.Release()
		base.Reason = fmt.Sprintf("confidence %.2f below tier threshold %.2f", confidence, threshold)
		return base
	}
	if e.cfg.RequireCorpus && !corpusValidated {
		e.window.Release()
		base.Reason = "no corpus match found"
		return base
	}
	if reason := qualityReason(primary, verification); reason != "" {
		e.window.Release()
		base.Reason = reason
		return base
	}

	base.Status = model.ApprovalAutoApproved
	base.Reason = fmt.Sprintf("confidence %.2f meets %s tier threshold %.2f", confidence, tier, threshold)
	return base
}

// qualityReason returns a failure reason when the result does not meet the
// quality bar, or "" when it does.
func qualityReason(primary *model.PrimaryResult, verification *model.VerificationResult) string {
	if primary == nil || primary.Title == "" || primary.Title == "Unknown" {
		return "missing card title"
	}
	if primary.SetCode == "" || primary.SetCode == "Unknown" {
		return "missing set code"
	}
	if verification == nil {
		return ""
	}
	if !verification.AgreesWithPrimary {
		return "verifier disagrees with primary identification"
	}
	for _, flag := range []string{model.FlagVerificationFailed, model.FlagUnclearImage, model.FlagPossibleFake} {
		if verification.HasFlag(flag) {
			return fmt.Sprintf("disqualifying flag %q", flag)
		}
	}
	return ""
}

func (e *Engine) appendAudit(ctx context.Context, itemID string, tier model.Tier, d model.ApprovalDecision) {
	if e.audit == nil {
		return
	}
	entry := model.AuditEntry{
		ID:              uuid.New().String(),
		ItemID:          itemID,
		ApprovalID:      d.ApprovalID,
		Status:          string(d.Status),
		Reason:          d.Reason,
		Confidence:      d.Confidence,
		Threshold:       d.Threshold,
		Tier:            tier,
		CorpusValidated: d.CorpusValidated,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.audit.AppendAudit(ctx, entry); err != nil {
		zap.L().Warn("audit append failed",
			zap.String("item_id", itemID), zap.Error(err))
	}
}
