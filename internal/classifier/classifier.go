// Package classifier issues the primary identification request and
// normalizes the model's answer into a canonical result.
package classifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/resilience"
	"github.com/cardmint/scan-cli/pkg/vision"
)

// EndpointPrimary is the breaker key for the primary model endpoint.
const EndpointPrimary = "primary"

const classifySystem = `You identify collectible trading cards from photographs. ` +
	`Respond with a single JSON object: {"title": string, "set_code": string, ` +
	`"number": string, "rarity": string, "confidence": number from 0 to 100}. ` +
	`Use "Unknown" for fields you cannot read. No prose.`

// Config holds classifier settings.
type Config struct {
	Model           string
	MaxTokens       int64
	Timeout         time.Duration
	FallbackEnabled bool
	FallbackCommand string // legacy local scanner binary, JSON on stdout
}

// Classifier is the primary classifier client.
type Classifier struct {
	client vision.Client
	rc     *resilience.Client
	cfg    Config
}

// New creates a Classifier that calls through the given resilience client.
func New(client vision.Client, rc *resilience.Client, cfg Config) *Classifier {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Classifier{client: client, rc: rc, cfg: cfg}
}

// rawClassification mirrors the model's JSON response before normalization.
type rawClassification struct {
	Title      string  `json:"title"`
	SetCode    string  `json:"set_code"`
	Number     string  `json:"number"`
	Rarity     string  `json:"rarity"`
	Confidence float64 `json:"confidence"` // 0–100 scale on the wire
}

// Classify identifies the card in the item's image. Failure is fatal for the
// item unless the legacy fallback is enabled, in which case the item is
// handed to the local scanner instead.
func (c *Classifier) Classify(ctx context.Context, item model.WorkItem) (*model.PrimaryResult, error) {
	start := time.Now()

	req, err := c.buildRequest(item)
	if err != nil {
		return nil, err
	}

	resp, err := resilience.CallVal(ctx, c.rc, EndpointPrimary, c.cfg.Timeout,
		func(ctx context.Context) (*vision.Response, error) {
			return c.client.ClassifyImage(ctx, *req)
		})
	if err != nil {
		if c.cfg.FallbackEnabled && c.cfg.FallbackCommand != "" {
			zap.L().Warn("classifier: primary failed, using legacy fallback",
				zap.String("item_id", item.ID),
				zap.Error(err),
			)
			return c.fallback(ctx, item, start)
		}
		return nil, eris.Wrapf(err, "classifier: classify item %s", item.ID)
	}

	result, err := normalize(resp.Text)
	if err != nil {
		return nil, eris.Wrapf(err, "classifier: parse response for item %s", item.ID)
	}
	result.Source = "primary"
	result.Elapsed = time.Since(start)

	zap.L().Debug("classifier: identified card",
		zap.String("item_id", item.ID),
		zap.String("title", result.Title),
		zap.Float64("confidence", result.Confidence),
	)
	return result, nil
}

func (c *Classifier) buildRequest(item model.WorkItem) (*vision.ClassifyRequest, error) {
	data, err := os.ReadFile(item.SourcePath)
	if err != nil {
		return nil, eris.Wrapf(err, "classifier: read image %s", item.SourcePath)
	}

	prompt := "Identify this card."
	if item.Hints.ExpectedSet != "" {
		prompt += fmt.Sprintf(" The seller believes it is from set %s", item.Hints.ExpectedSet)
		if item.Hints.ExpectedNumber != "" {
			prompt += fmt.Sprintf(", number %s", item.Hints.ExpectedNumber)
		}
		prompt += "; verify independently."
	}

	return &vision.ClassifyRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		System:      classifySystem,
		Prompt:      prompt,
		ImageData:   base64.StdEncoding.EncodeToString(data),
		MediaType:   mediaTypeFor(item.SourcePath),
		Temperature: 0,
	}, nil
}

// normalize converts the model's JSON (possibly inside a fenced code block)
// into a PrimaryResult with confidence scaled to [0,1] and missing fields
// defaulted.
func normalize(text string) (*model.PrimaryResult, error) {
	body := stripFences(text)

	var raw rawClassification
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, eris.Wrap(err, "unmarshal classification")
	}

	result := &model.PrimaryResult{
		Title:      defaultField(raw.Title),
		SetCode:    defaultField(raw.SetCode),
		Number:     defaultField(raw.Number),
		Rarity:     defaultField(raw.Rarity),
		Confidence: model.ClampConfidence(raw.Confidence / 100),
		Raw:        json.RawMessage(body),
	}

	// A model that cannot name the card has no business being confident.
	if strings.EqualFold(result.Title, "Unknown") && result.Confidence > 0.5 {
		result.Confidence = 0.5
	}

	return result, nil
}

func defaultField(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Unknown"
	}
	return s
}

func stripFences(text string) string {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		if idx := strings.LastIndex(body, "```"); idx >= 0 {
			body = body[:idx]
		}
	}
	return strings.TrimSpace(body)
}

func mediaTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
