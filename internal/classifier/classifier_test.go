package classifier

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/resilience"
	"github.com/cardmint/scan-cli/pkg/vision"
)

type mockVisionClient struct {
	mock.Mock
}

func (m *mockVisionClient) ClassifyImage(ctx context.Context, req vision.ClassifyRequest) (*vision.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vision.Response), args.Error(1)
}

func (m *mockVisionClient) VerifyMessage(ctx context.Context, req vision.VerifyRequest) (*vision.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vision.Response), args.Error(1)
}

func (m *mockVisionClient) Health(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func testResilienceClient() *resilience.Client {
	return resilience.NewClient(resilience.RetryConfig{
		MaxAttempts: 1,
		BackoffBase: time.Millisecond,
	}, 5, time.Minute)
}

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "card.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpegdata"), 0o644))
	return path
}

func TestClassify_NormalizesResponse(t *testing.T) {
	mc := &mockVisionClient{}
	mc.On("ClassifyImage", mock.Anything, mock.AnythingOfType("vision.ClassifyRequest")).
		Return(&vision.Response{
			Text: `{"title": "Charizard", "set_code": "BS", "number": "4/102", "rarity": "Holo Rare", "confidence": 87}`,
		}, nil).Once()

	c := New(mc, testResilienceClient(), Config{Model: "test-model"})
	item := model.WorkItem{ID: "item-1", SourcePath: writeTestImage(t), Tier: model.TierHolo}

	result, err := c.Classify(context.Background(), item)

	require.NoError(t, err)
	assert.Equal(t, "Charizard", result.Title)
	assert.Equal(t, "BS", result.SetCode)
	assert.InDelta(t, 0.87, result.Confidence, 1e-9)
	assert.Equal(t, "primary", result.Source)
	mc.AssertExpectations(t)
}

func TestClassify_StripsCodeFences(t *testing.T) {
	mc := &mockVisionClient{}
	mc.On("ClassifyImage", mock.Anything, mock.Anything).
		Return(&vision.Response{
			Text: "```json\n{\"title\": \"Pikachu\", \"confidence\": 95}\n```",
		}, nil).Once()

	c := New(mc, testResilienceClient(), Config{Model: "test-model"})
	result, err := c.Classify(context.Background(), model.WorkItem{ID: "i", SourcePath: writeTestImage(t)})

	require.NoError(t, err)
	assert.Equal(t, "Pikachu", result.Title)
	assert.InDelta(t, 0.95, result.Confidence, 1e-9)
}

func TestClassify_DefaultsMissingFields(t *testing.T) {
	mc := &mockVisionClient{}
	mc.On("ClassifyImage", mock.Anything, mock.Anything).
		Return(&vision.Response{Text: `{"title": "", "confidence": 120}`}, nil).Once()

	c := New(mc, testResilienceClient(), Config{Model: "test-model"})
	result, err := c.Classify(context.Background(), model.WorkItem{ID: "i", SourcePath: writeTestImage(t)})

	require.NoError(t, err)
	assert.Equal(t, "Unknown", result.Title)
	assert.Equal(t, "Unknown", result.SetCode)
	// Confidence clamped, then capped for an unidentified card.
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestClassify_FailureFatalWithoutFallback(t *testing.T) {
	mc := &mockVisionClient{}
	mc.On("ClassifyImage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewClientError(eris.New("bad request"), 400)).Once()

	c := New(mc, testResilienceClient(), Config{Model: "test-model"})
	_, err := c.Classify(context.Background(), model.WorkItem{ID: "i", SourcePath: writeTestImage(t)})

	assert.Error(t, err)
}

func TestClassify_HintsEmbeddedInPrompt(t *testing.T) {
	mc := &mockVisionClient{}
	var captured vision.ClassifyRequest
	mc.On("ClassifyImage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(vision.ClassifyRequest)
		}).
		Return(&vision.Response{Text: `{"title": "Mew", "confidence": 90}`}, nil).Once()

	c := New(mc, testResilienceClient(), Config{Model: "test-model"})
	item := model.WorkItem{
		ID:         "i",
		SourcePath: writeTestImage(t),
		Hints:      model.Hints{ExpectedSet: "WOTC-Promo", ExpectedNumber: "8"},
	}
	_, err := c.Classify(context.Background(), item)

	require.NoError(t, err)
	assert.Contains(t, captured.Prompt, "WOTC-Promo")
	assert.Contains(t, captured.Prompt, "8")
	assert.Zero(t, captured.Temperature)
}

func TestClassify_MissingImageFile(t *testing.T) {
	mc := &mockVisionClient{}
	c := New(mc, testResilienceClient(), Config{Model: "test-model"})

	_, err := c.Classify(context.Background(), model.WorkItem{ID: "i", SourcePath: "/nonexistent/card.jpg"})

	assert.Error(t, err)
	mc.AssertNotCalled(t, "ClassifyImage")
}
