package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/router"
	"github.com/cardmint/scan-cli/internal/store"
)

// ShadowRunner replays completed records through a candidate routing policy
// without acting on the outcome. Divergences are written to the audit trail
// so a policy change can be validated against production traffic before it
// goes live.
type ShadowRunner struct {
	router *router.Router
	store  store.Store

	mu       sync.Mutex
	observed int
	diverged int
	pending  []model.AuditEntry
}

// NewShadowRunner builds a runner for the candidate router. store may be nil
// to only log divergences.
func NewShadowRunner(candidate *router.Router, st store.Store) *ShadowRunner {
	return &ShadowRunner{router: candidate, store: st}
}

// Observe re-routes one record under the candidate policy and queues a
// divergence entry when the actions differ.
func (s *ShadowRunner) Observe(record *model.FinalRecord) {
	if record.Primary == nil {
		return
	}
	shadow := s.router.Route(record.Primary, record.Tier, router.Context{})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed++
	if shadow.Action == record.Routing.Action {
		return
	}
	s.diverged++

	zap.L().Info("shadow: routing divergence",
		zap.String("item_id", record.ItemID),
		zap.String("live_action", string(record.Routing.Action)),
		zap.String("shadow_action", string(shadow.Action)))

	s.pending = append(s.pending, model.AuditEntry{
		ID:         uuid.New().String(),
		ItemID:     record.ItemID,
		Status:     "shadow_divergence",
		Reason:     "live " + string(record.Routing.Action) + ", shadow " + string(shadow.Action),
		Confidence: record.FinalConfidence,
		Threshold:  record.Approval.Threshold,
		Tier:       record.Tier,
		CreatedAt:  time.Now().UTC(),
	})
}

// Flush writes queued divergence entries in one batch.
func (s *ShadowRunner) Flush(ctx context.Context) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(pending) == 0 || s.store == nil {
		return
	}
	if err := s.store.AppendAuditBatch(ctx, pending); err != nil {
		zap.L().Warn("shadow: audit batch failed", zap.Error(err))
	}
}

// Stats returns observed and diverged counts since start.
func (s *ShadowRunner) Stats() (observed, diverged int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observed, s.diverged
}
