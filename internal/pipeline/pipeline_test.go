package pipeline

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardmint/scan-cli/internal/approval"
	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/policy"
	"github.com/cardmint/scan-cli/internal/router"
	"github.com/cardmint/scan-cli/internal/store"
)

type pipelineFixture struct {
	classifier *mockClassifier
	verifier   *mockVerifier
	corpus     *mockCorpus
	store      *memStore
	pipeline   *Pipeline
}

func newFixture(t *testing.T, tiers policy.Policy, opts router.Options) *pipelineFixture {
	t.Helper()
	if tiers == nil {
		tiers = policy.DefaultTiers()
	}
	f := &pipelineFixture{
		classifier: &mockClassifier{},
		verifier:   &mockVerifier{},
		corpus:     &mockCorpus{},
		store:      newMemStore(),
	}
	rt := router.New(tiers, opts, rand.New(rand.NewPCG(3, 3)))
	engine := approval.New(approval.Config{Enabled: true, MaxPerHour: 100}, tiers, f.store)
	f.pipeline = New(f.classifier, rt, f.verifier, f.corpus, engine, f.store)
	return f
}

func workItem(id string, tier model.Tier) model.WorkItem {
	return model.WorkItem{ID: id, SourcePath: "/scans/" + id + ".jpg", Tier: tier}
}

func primary(title string, confidence float64) *model.PrimaryResult {
	return &model.PrimaryResult{Title: title, SetCode: "BS1", Confidence: confidence, Source: "vision"}
}

func TestProcessItemVerifyThenApprove(t *testing.T) {
	// A rare card lands below the accept threshold, the verifier agrees and
	// lifts it over the line.
	tiers := policy.Policy{
		model.TierCommon: {AcceptThreshold: 0.92, VerifyThreshold: 0.95},
		model.TierRare:   {AcceptThreshold: 0.85, VerifyThreshold: 0.97},
	}
	f := newFixture(t, tiers, router.DefaultOptions())
	item := workItem("item-1", model.TierRare)

	f.classifier.On("Classify", mock.Anything, item).Return(primary("Charizard", 0.80), nil)
	f.verifier.On("Verify", mock.Anything, mock.Anything).
		Return(&model.VerificationResult{AgreesWithPrimary: true, Adjustment: 0.05})
	f.corpus.On("Lookup", mock.Anything, "Charizard", "").
		Return([]model.CorpusMatch{{ID: "c1", Name: "Charizard", Similarity: 1.0}}, nil)

	record, err := f.pipeline.ProcessItem(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, model.RouteVerifyRequired, record.Routing.Action)
	assert.InDelta(t, 0.85, record.FinalConfidence, 1e-9)
	assert.Equal(t, model.ApprovalAutoApproved, record.Approval.Status)
	assert.True(t, record.Approval.CorpusValidated)
	require.NotNil(t, record.Verification)
	assert.Len(t, record.Verification.CorpusMatches, 1)

	persisted := f.store.record("item-1")
	require.NotNil(t, persisted)
	assert.Equal(t, model.RecordComplete, persisted.Status)
}

func TestProcessItemCommonBypassSkipsVerifier(t *testing.T) {
	f := newFixture(t, nil, router.DefaultOptions())
	item := workItem("item-1", model.TierCommon)

	f.classifier.On("Classify", mock.Anything, item).Return(primary("Pikachu", 0.97), nil)
	f.corpus.On("Lookup", mock.Anything, "Pikachu", "").Return(nil, nil)

	record, err := f.pipeline.ProcessItem(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, model.RouteAutoApproved, record.Routing.Action)
	assert.Nil(t, record.Verification)
	assert.Equal(t, model.ApprovalAutoApproved, record.Approval.Status)
	f.verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestProcessItemClassifyFailure(t *testing.T) {
	f := newFixture(t, nil, router.DefaultOptions())
	item := workItem("item-1", model.TierCommon)

	f.classifier.On("Classify", mock.Anything, item).Return(nil, errNotFound)

	_, err := f.pipeline.ProcessItem(context.Background(), item)
	require.Error(t, err)
	assert.Nil(t, f.store.record("item-1"))
}

func TestProcessItemVerificationFailureDegrades(t *testing.T) {
	f := newFixture(t, nil, router.DefaultOptions())
	item := workItem("item-1", model.TierHolo)

	f.classifier.On("Classify", mock.Anything, item).Return(primary("Blastoise", 0.99), nil)
	f.verifier.On("Verify", mock.Anything, mock.Anything).
		Return(&model.VerificationResult{
			AgreesWithPrimary: false,
			Adjustment:        -0.15,
			Flags:             []string{model.FlagVerificationFailed},
		})
	f.corpus.On("Lookup", mock.Anything, "Blastoise", "").Return(nil, nil)

	record, err := f.pipeline.ProcessItem(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, model.ApprovalRequiresReview, record.Approval.Status)
	assert.InDelta(t, 0.84, record.FinalConfidence, 1e-9)
	assert.Equal(t, model.RecordComplete, record.Status)
}

func TestProcessItemCorpusErrorTolerated(t *testing.T) {
	f := newFixture(t, nil, router.DefaultOptions())
	item := workItem("item-1", model.TierCommon)

	f.classifier.On("Classify", mock.Anything, item).Return(primary("Pikachu", 0.97), nil)
	f.corpus.On("Lookup", mock.Anything, "Pikachu", "").Return(nil, errNotFound)

	record, err := f.pipeline.ProcessItem(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalAutoApproved, record.Approval.Status)
	assert.False(t, record.Approval.CorpusValidated)
}

func TestProcessItemForceVerification(t *testing.T) {
	f := newFixture(t, nil, router.DefaultOptions())
	item := workItem("item-1", model.TierCommon)
	item.Hints.ForceVerification = true

	f.classifier.On("Classify", mock.Anything, item).Return(primary("Pikachu", 0.99), nil)
	f.verifier.On("Verify", mock.Anything, mock.Anything).
		Return(&model.VerificationResult{AgreesWithPrimary: true, Adjustment: 0.05})
	f.corpus.On("Lookup", mock.Anything, "Pikachu", "").Return(nil, nil)

	record, err := f.pipeline.ProcessItem(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, model.RouteVerifyRequired, record.Routing.Action)
	f.verifier.AssertCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestProcessItemSetHintPassedToCorpus(t *testing.T) {
	f := newFixture(t, nil, router.DefaultOptions())
	item := workItem("item-1", model.TierCommon)
	item.Hints.ExpectedSet = "SV3"

	f.classifier.On("Classify", mock.Anything, item).Return(primary("Pikachu", 0.97), nil)
	f.corpus.On("Lookup", mock.Anything, "Pikachu", "SV3").Return(nil, nil)

	_, err := f.pipeline.ProcessItem(context.Background(), item)
	require.NoError(t, err)
	f.corpus.AssertExpectations(t)
}

func TestProcessItemReprocessOverwrites(t *testing.T) {
	f := newFixture(t, nil, router.DefaultOptions())
	item := workItem("item-1", model.TierCommon)

	f.classifier.On("Classify", mock.Anything, item).Return(primary("Pikachu", 0.97), nil).Once()
	f.classifier.On("Classify", mock.Anything, item).Return(primary("Pikachu", 0.60), nil).Once()
	f.verifier.On("Verify", mock.Anything, mock.Anything).
		Return(&model.VerificationResult{AgreesWithPrimary: true, Adjustment: 0.0})
	f.corpus.On("Lookup", mock.Anything, "Pikachu", "").Return(nil, nil)

	_, err := f.pipeline.ProcessItem(context.Background(), item)
	require.NoError(t, err)
	_, err = f.pipeline.ProcessItem(context.Background(), item)
	require.NoError(t, err)

	all, err := f.store.ListRecords(context.Background(), store.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.InDelta(t, 0.60, all[0].FinalConfidence, 1e-9)
}
