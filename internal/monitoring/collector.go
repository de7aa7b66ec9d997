// Package monitoring collects decision-layer health metrics and raises
// webhook alerts when they cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/resilience"
	"github.com/cardmint/scan-cli/internal/store"
)

// EndpointHealth summarizes one remote endpoint's resilience counters.
type EndpointHealth struct {
	State        string        `json:"state"`
	Calls        int64         `json:"calls"`
	Failures     int64         `json:"failures"`
	Rejections   int64         `json:"rejections"`
	BreakerOpens int64         `json:"breaker_opens"`
	AvgLatency   time.Duration `json:"avg_latency_ns"`
}

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Record metrics (within lookback window).
	RecordsTotal    int     `json:"records_total"`
	RecordsComplete int     `json:"records_complete"`
	RecordsFailed   int     `json:"records_failed"`
	FailRate        float64 `json:"fail_rate"`

	// Approval metrics (within lookback window).
	AutoApproved  int     `json:"auto_approved"`
	ReviewQueued  int     `json:"review_queued"`
	ApprovalRate  float64 `json:"approval_rate"`
	Verified      int     `json:"verified"`
	VerifyRate    float64 `json:"verify_rate"`
	AvgConfidence float64 `json:"avg_confidence"`

	// Remote endpoints keyed by endpoint id.
	Endpoints map[string]EndpointHealth `json:"endpoints,omitempty"`

	// Queue depth and approval window usage at collection time.
	QueueDepth     int `json:"queue_depth"`
	ApprovalWindow int `json:"approval_window_used"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// QueueDepther reports the current work queue depth.
type QueueDepther interface {
	Len() int
}

// WindowCounter reports the approval rate-limit window usage.
type WindowCounter interface {
	Window() int
}

// Collector gathers metrics from the store and the resilience client.
type Collector struct {
	store      store.Store
	resilience *resilience.Client
	queue      QueueDepther

	// Approval optionally reports the in-flight approval window usage.
	Approval WindowCounter
}

// NewCollector creates a metrics collector. resilience and queue may be nil
// when the corresponding subsystem is not running.
func NewCollector(st store.Store, rc *resilience.Client, q QueueDepther) *Collector {
	return &Collector{store: st, resilience: rc, queue: q}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	records, err := c.store.ListRecords(ctx, store.RecordFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list records")
	}

	snap.RecordsTotal = len(records)
	var totalConfidence float64
	for _, r := range records {
		switch r.Status {
		case model.RecordComplete:
			snap.RecordsComplete++
		case model.RecordFailed:
			snap.RecordsFailed++
		}
		switch r.Approval.Status {
		case model.ApprovalAutoApproved:
			snap.AutoApproved++
		case model.ApprovalRequiresReview:
			snap.ReviewQueued++
		}
		if r.Verification != nil {
			snap.Verified++
		}
		totalConfidence += r.FinalConfidence
	}
	if snap.RecordsTotal > 0 {
		snap.FailRate = float64(snap.RecordsFailed) / float64(snap.RecordsTotal)
		snap.VerifyRate = float64(snap.Verified) / float64(snap.RecordsTotal)
		snap.AvgConfidence = totalConfidence / float64(snap.RecordsTotal)
	}
	if decided := snap.AutoApproved + snap.ReviewQueued; decided > 0 {
		snap.ApprovalRate = float64(snap.AutoApproved) / float64(decided)
	}

	if c.resilience != nil {
		states := c.resilience.BreakerStates()
		stats := c.resilience.Stats()
		snap.Endpoints = make(map[string]EndpointHealth, len(stats))
		for endpoint, s := range stats {
			h := EndpointHealth{
				State:        states[endpoint].String(),
				Calls:        s.Calls,
				Failures:     s.Failures,
				Rejections:   s.Rejections,
				BreakerOpens: s.BreakerOpens,
			}
			if s.Calls > 0 {
				h.AvgLatency = s.TotalLatency / time.Duration(s.Calls)
			}
			snap.Endpoints[endpoint] = h
		}
		// Endpoints with a tripped breaker but no recorded calls yet.
		for endpoint, state := range states {
			if _, ok := snap.Endpoints[endpoint]; !ok {
				snap.Endpoints[endpoint] = EndpointHealth{State: state.String()}
			}
		}
	}

	if c.queue != nil {
		snap.QueueDepth = c.queue.Len()
	}
	if c.Approval != nil {
		snap.ApprovalWindow = c.Approval.Window()
	}

	return snap, nil
}
