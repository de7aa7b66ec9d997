package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/queue"
)

// OrchestratorConfig tunes batch draining.
type OrchestratorConfig struct {
	// ChunkSize is how many items are pulled from the queue per cycle.
	ChunkSize int
	// Concurrency limits parallel pipeline runs inside a chunk.
	Concurrency int
	// MaxRetries bounds requeues before an item is marked permanently
	// failed.
	MaxRetries int
	// RetryBackoffBase scales the exponential requeue delay.
	RetryBackoffBase time.Duration
	// ChunksPerSecond paces chunk starts so the remote endpoint is not
	// saturated between cycles.
	ChunksPerSecond float64
}

// DefaultOrchestratorConfig returns conservative production defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ChunkSize:        10,
		Concurrency:      4,
		MaxRetries:       3,
		RetryBackoffBase: 5 * time.Second,
		ChunksPerSecond:  0.5,
	}
}

// BatchStats summarizes one Run invocation.
type BatchStats struct {
	Processed int
	Approved  int
	Review    int
	Requeued  int
	Failed    int
}

// Orchestrator drains the work queue through the pipeline in paced chunks.
type Orchestrator struct {
	cfg     OrchestratorConfig
	queue   *queue.Queue
	runner  *Pipeline
	limiter *rate.Limiter
	shadow  *ShadowRunner
}

// NewOrchestrator builds an orchestrator. shadow may be nil.
func NewOrchestrator(cfg OrchestratorConfig, q *queue.Queue, runner *Pipeline, shadow *ShadowRunner) *Orchestrator {
	def := DefaultOrchestratorConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = def.RetryBackoffBase
	}
	if cfg.ChunksPerSecond <= 0 {
		cfg.ChunksPerSecond = def.ChunksPerSecond
	}
	return &Orchestrator{
		cfg:     cfg,
		queue:   q,
		runner:  runner,
		limiter: rate.NewLimiter(rate.Limit(cfg.ChunksPerSecond), 1),
		shadow:  shadow,
	}
}

// Run drains the queue until it is empty or ctx is cancelled. Items whose
// primary classification fails are requeued with exponential delay; past
// MaxRetries they are persisted as failed records so nothing vanishes.
func (o *Orchestrator) Run(ctx context.Context) (BatchStats, error) {
	var stats BatchStats
	log := zap.L()

	for {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "orchestrator: cancelled")
		}

		chunk := o.queue.Dequeue(o.cfg.ChunkSize)
		if len(chunk) == 0 {
			if o.queue.Len() == 0 {
				return stats, nil
			}
			// Items exist but none are ready; wait out their delay.
			select {
			case <-ctx.Done():
				return stats, eris.Wrap(ctx.Err(), "orchestrator: cancelled")
			case <-time.After(time.Second):
			}
			continue
		}

		log.Info("orchestrator: processing chunk",
			zap.Int("items", len(chunk)), zap.Int("queued", o.queue.Len()))
		o.processChunk(ctx, chunk, &stats)

		if o.queue.Len() > 0 {
			if err := o.limiter.Wait(ctx); err != nil {
				return stats, eris.Wrap(err, "orchestrator: pacing wait")
			}
		}
	}
}

func (o *Orchestrator) processChunk(ctx context.Context, chunk []model.WorkItem, stats *BatchStats) {
	type outcome struct {
		item   model.WorkItem
		record *model.FinalRecord
		err    error
	}

	results := make([]outcome, len(chunk))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i, item := range chunk {
		g.Go(func() error {
			record, err := o.runner.ProcessItem(gctx, item)
			results[i] = outcome{item: item, record: record, err: err}
			return nil
		})
	}
	// Workers never return errors; failures are carried per item.
	_ = g.Wait()

	for _, res := range results {
		switch {
		case res.err != nil:
			o.handleFailure(ctx, res.item, res.err, stats)
		case res.record.Approval.Status == model.ApprovalAutoApproved:
			stats.Processed++
			stats.Approved++
		default:
			stats.Processed++
			stats.Review++
		}
		if res.record != nil && o.shadow != nil {
			o.shadow.Observe(res.record)
		}
	}
	if o.shadow != nil {
		o.shadow.Flush(ctx)
	}
}

func (o *Orchestrator) handleFailure(ctx context.Context, item model.WorkItem, cause error, stats *BatchStats) {
	log := zap.L().With(zap.String("item_id", item.ID), zap.Int("retry_count", item.RetryCount))

	if item.RetryCount+1 >= o.cfg.MaxRetries {
		log.Error("orchestrator: item permanently failed", zap.Error(cause))
		stats.Failed++
		// Routing stays zero-valued: the item never reached the router.
		record := &model.FinalRecord{
			ItemID:     item.ID,
			SourcePath: item.SourcePath,
			Tier:       item.Tier,
			Approval: model.ApprovalDecision{
				Status: model.ApprovalRequiresReview,
				Reason: "processing failed after retries: " + cause.Error(),
			},
			Status:        model.RecordFailed,
			FailureReason: cause.Error(),
			RetryCount:    item.RetryCount + 1,
		}
		if err := o.runner.store.SaveRecord(ctx, record); err != nil {
			log.Error("orchestrator: failed to persist failure record", zap.Error(err))
		}
		return
	}

	delay := o.cfg.RetryBackoffBase * (1 << item.RetryCount)
	log.Warn("orchestrator: requeueing item",
		zap.Duration("delay", delay), zap.Error(cause))
	stats.Requeued++
	o.queue.Requeue(item, delay)
}
