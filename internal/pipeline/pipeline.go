// Package pipeline wires the decision layer together: classify, route,
// verify, cross-check, approve, persist. The orchestrator drains the work
// queue through it in bounded concurrent chunks.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cardmint/scan-cli/internal/approval"
	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/router"
	"github.com/cardmint/scan-cli/internal/store"
)

// Classifier produces the primary identification for a work item.
type Classifier interface {
	Classify(ctx context.Context, item model.WorkItem) (*model.PrimaryResult, error)
}

// Verifier runs the secondary check. It degrades instead of failing: a broken
// verifier call yields a penalized result, never an error.
type Verifier interface {
	Verify(ctx context.Context, primary *model.PrimaryResult) *model.VerificationResult
}

// CorpusChecker looks up reference matches for a title.
type CorpusChecker interface {
	Lookup(ctx context.Context, title, setHint string) ([]model.CorpusMatch, error)
}

// Pipeline processes one work item end to end.
type Pipeline struct {
	classifier Classifier
	router     *router.Router
	verifier   Verifier
	corpus     CorpusChecker
	approver   *approval.Engine
	store      store.Store
}

// New creates a Pipeline with all stages wired. corpus may be nil when no
// reference store is configured.
func New(
	cls Classifier,
	rt *router.Router,
	vf Verifier,
	cc CorpusChecker,
	ap *approval.Engine,
	st store.Store,
) *Pipeline {
	return &Pipeline{
		classifier: cls,
		router:     rt,
		verifier:   vf,
		corpus:     cc,
		approver:   ap,
		store:      st,
	}
}

// ProcessItem runs the full decision sequence for a single item and persists
// the outcome. A returned error means the primary classification failed and
// the item should be retried; every other failure mode degrades into the
// record itself.
func (p *Pipeline) ProcessItem(ctx context.Context, item model.WorkItem) (*model.FinalRecord, error) {
	log := zap.L().With(zap.String("item_id", item.ID), zap.String("tier", string(item.Tier)))
	start := time.Now()

	primary, err := p.classifier.Classify(ctx, item)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: classify %s", item.ID)
	}
	log.Info("pipeline: classified",
		zap.String("title", primary.Title),
		zap.Float64("confidence", primary.Confidence),
		zap.String("source", primary.Source))

	decision := p.router.Route(primary, item.Tier, router.Context{
		ForceVerification: item.Hints.ForceVerification,
	})
	log.Debug("pipeline: routed",
		zap.String("action", string(decision.Action)),
		zap.Bool("flag_for_review", decision.FlagForReview))

	var verification *model.VerificationResult
	if decision.Action.NeedsVerification() {
		verification = p.verifier.Verify(ctx, primary)
	}

	matches := p.lookupCorpus(ctx, log, primary, item)
	if verification != nil && len(matches) > 0 {
		verification.CorpusMatches = matches
	}

	final := primary.Confidence
	if verification != nil {
		final = model.ClampConfidence(final + verification.Adjustment)
	}

	approvalDecision := p.approver.Evaluate(ctx, item.ID, item.Tier, final, primary, verification, matches)

	record := &model.FinalRecord{
		ItemID:          item.ID,
		SourcePath:      item.SourcePath,
		Tier:            item.Tier,
		Primary:         primary,
		Verification:    verification,
		Routing:         decision,
		Approval:        approvalDecision,
		FinalConfidence: final,
		Status:          model.RecordComplete,
		RetryCount:      item.RetryCount,
	}
	if err := p.store.SaveRecord(ctx, record); err != nil {
		return nil, eris.Wrapf(err, "pipeline: save record %s", item.ID)
	}

	log.Info("pipeline: item complete",
		zap.String("approval", string(approvalDecision.Status)),
		zap.Float64("final_confidence", final),
		zap.Duration("elapsed", time.Since(start)))
	return record, nil
}

func (p *Pipeline) lookupCorpus(ctx context.Context, log *zap.Logger, primary *model.PrimaryResult, item model.WorkItem) []model.CorpusMatch {
	if p.corpus == nil || primary.Title == "" || primary.Title == "Unknown" {
		return nil
	}
	matches, err := p.corpus.Lookup(ctx, primary.Title, item.Hints.ExpectedSet)
	if err != nil {
		// A corpus outage must not block the item; the approval engine
		// treats missing matches as unvalidated.
		log.Warn("pipeline: corpus lookup failed", zap.Error(err))
		return nil
	}
	return matches
}
