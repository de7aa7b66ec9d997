package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/store"
)

var errNotFound = eris.New("record not found")

// mockClassifier is a testify mock for the Classifier interface.
type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, item model.WorkItem) (*model.PrimaryResult, error) {
	args := m.Called(ctx, item)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PrimaryResult), args.Error(1)
}

// mockVerifier is a testify mock for the Verifier interface.
type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, primary *model.PrimaryResult) *model.VerificationResult {
	args := m.Called(ctx, primary)
	return args.Get(0).(*model.VerificationResult)
}

// mockCorpus is a testify mock for the CorpusChecker interface.
type mockCorpus struct {
	mock.Mock
}

func (m *mockCorpus) Lookup(ctx context.Context, title, setHint string) ([]model.CorpusMatch, error) {
	args := m.Called(ctx, title, setHint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CorpusMatch), args.Error(1)
}

// memStore is an in-memory Store for pipeline tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]*model.FinalRecord
	audits  []model.AuditEntry
	batches int
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*model.FinalRecord{}}
}

func (m *memStore) SaveRecord(_ context.Context, record *model.FinalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *record
	m.records[record.ItemID] = &cp
	return nil
}

func (m *memStore) GetRecord(_ context.Context, itemID string) (*model.FinalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[itemID]
	if !ok {
		return nil, errNotFound
	}
	return r, nil
}

func (m *memStore) ListRecords(_ context.Context, _ store.RecordFilter) ([]model.FinalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FinalRecord
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out, nil
}

func (m *memStore) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memStore) AppendAuditBatch(_ context.Context, entries []model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, entries...)
	m.batches++
	return nil
}

func (m *memStore) ListAudit(_ context.Context, itemID string, _ int) ([]model.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range m.audits {
		if e.ItemID == itemID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) CountApprovals(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.audits {
		if e.Status == string(model.ApprovalAutoApproved) && e.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func (m *memStore) record(itemID string) *model.FinalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[itemID]
}
