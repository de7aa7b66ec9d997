package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/resilience"
	"github.com/cardmint/scan-cli/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	records []model.FinalRecord
	listErr error
}

func (m *mockStore) ListRecords(_ context.Context, filter store.RecordFilter) ([]model.FinalRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.FinalRecord
	for _, r := range m.records {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

// Unused store methods — satisfy the interface.
func (m *mockStore) SaveRecord(context.Context, *model.FinalRecord) error { return nil }
func (m *mockStore) GetRecord(context.Context, string) (*model.FinalRecord, error) {
	return nil, nil
}
func (m *mockStore) AppendAudit(context.Context, model.AuditEntry) error        { return nil }
func (m *mockStore) AppendAuditBatch(context.Context, []model.AuditEntry) error { return nil }
func (m *mockStore) ListAudit(context.Context, string, int) ([]model.AuditEntry, error) {
	return nil, nil
}
func (m *mockStore) CountApprovals(context.Context, time.Time) (int, error) { return 0, nil }
func (m *mockStore) Migrate(context.Context) error                          { return nil }
func (m *mockStore) Close() error                                           { return nil }

type fakeQueue struct{ depth int }

func (f *fakeQueue) Len() int { return f.depth }

func seededRecord(status model.RecordStatus, approval model.ApprovalStatus, confidence float64, age time.Duration) model.FinalRecord {
	return model.FinalRecord{
		ItemID:          "item-" + string(status) + "-" + string(approval),
		Tier:            model.TierCommon,
		FinalConfidence: confidence,
		Status:          status,
		Approval:        model.ApprovalDecision{Status: approval},
		CreatedAt:       time.Now().UTC().Add(-age),
	}
}

func TestCollector_Collect_RecordMetrics(t *testing.T) {
	verified := seededRecord(model.RecordComplete, model.ApprovalRequiresReview, 0.80, 3*time.Hour)
	verified.Verification = &model.VerificationResult{AgreesWithPrimary: false, Adjustment: -0.20}

	st := &mockStore{records: []model.FinalRecord{
		seededRecord(model.RecordComplete, model.ApprovalAutoApproved, 0.98, time.Hour),
		seededRecord(model.RecordComplete, model.ApprovalAutoApproved, 0.96, 2*time.Hour),
		verified,
		seededRecord(model.RecordFailed, model.ApprovalRequiresReview, 0, 4*time.Hour),
		// Outside the 24h lookback window, must be ignored.
		seededRecord(model.RecordFailed, model.ApprovalRequiresReview, 0, 48*time.Hour),
	}}

	c := NewCollector(st, nil, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RecordsTotal)
	assert.Equal(t, 3, snap.RecordsComplete)
	assert.Equal(t, 1, snap.RecordsFailed)
	assert.InDelta(t, 0.25, snap.FailRate, 0.001)
	assert.Equal(t, 2, snap.AutoApproved)
	assert.Equal(t, 2, snap.ReviewQueued)
	assert.InDelta(t, 0.5, snap.ApprovalRate, 0.001)
	assert.Equal(t, 1, snap.Verified)
	assert.InDelta(t, 0.25, snap.VerifyRate, 0.001)
	assert.InDelta(t, (0.98+0.96+0.80)/4, snap.AvgConfidence, 0.001)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Empty(t, snap.Endpoints)
	assert.Zero(t, snap.QueueDepth)
}

func TestCollector_Collect_Empty(t *testing.T) {
	c := NewCollector(&mockStore{}, nil, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.RecordsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.ApprovalRate)
	assert.Zero(t, snap.AvgConfidence)
}

func TestCollector_Collect_ListError(t *testing.T) {
	c := NewCollector(&mockStore{listErr: eris.New("boom")}, nil, nil)
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list records")
}

func TestCollector_Collect_Endpoints(t *testing.T) {
	rc := resilience.NewClient(resilience.RetryConfig{MaxAttempts: 1, BackoffBase: time.Nanosecond}, 1, time.Hour)

	err := rc.Call(context.Background(), "vision.primary", 0, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)

	err = rc.Call(context.Background(), "vision.verify", 0, func(context.Context) error {
		return eris.New("upstream down")
	})
	require.Error(t, err)

	c := NewCollector(&mockStore{}, rc, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	primary, ok := snap.Endpoints["vision.primary"]
	require.True(t, ok)
	assert.Equal(t, "closed", primary.State)
	assert.Equal(t, int64(1), primary.Calls)
	assert.Zero(t, primary.Failures)

	verify, ok := snap.Endpoints["vision.verify"]
	require.True(t, ok)
	assert.Equal(t, "open", verify.State)
	assert.Equal(t, int64(1), verify.Failures)
}

type fakeWindow struct{ used int }

func (f *fakeWindow) Window() int { return f.used }

func TestCollector_Collect_QueueDepthAndWindow(t *testing.T) {
	c := NewCollector(&mockStore{}, nil, &fakeQueue{depth: 7})
	c.Approval = &fakeWindow{used: 3}

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 7, snap.QueueDepth)
	assert.Equal(t, 3, snap.ApprovalWindow)
}
