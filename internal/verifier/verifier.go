// Package verifier runs the secondary, constrained verification pass over a
// primary identification. Verification failure degrades confidence; it never
// aborts the pipeline.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/resilience"
	"github.com/cardmint/scan-cli/pkg/vision"
)

// EndpointVerifier is the breaker key for the verifier model endpoint.
const EndpointVerifier = "verifier"

const verifySystem = `You are a trading card verification assistant. You must respond ` +
	`with exactly one verify_card tool call and nothing else. Name the card you see ` +
	`described; include set_code and confidence (0-1) when you can.`

// Config holds verifier settings.
type Config struct {
	Model     string
	MaxTokens int64
	Timeout   time.Duration
	// FailurePenalty is the (negative) adjustment applied when verification
	// cannot be completed. Default -0.15.
	FailurePenalty float64
	// DisagreePenalty is the (negative) adjustment applied when the
	// verifier names a different card. Default -0.20.
	DisagreePenalty float64
	// AgreeBonus is the (positive) adjustment for a confirmed match.
	// Default +0.05.
	AgreeBonus float64
}

// Verifier is the secondary verification client.
type Verifier struct {
	client vision.Client
	rc     *resilience.Client
	cfg    Config
}

// New creates a Verifier calling through the given resilience client.
func New(client vision.Client, rc *resilience.Client, cfg Config) *Verifier {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.FailurePenalty == 0 {
		cfg.FailurePenalty = -0.15
	}
	if cfg.DisagreePenalty == 0 {
		cfg.DisagreePenalty = -0.20
	}
	if cfg.AgreeBonus == 0 {
		cfg.AgreeBonus = 0.05
	}
	return &Verifier{client: client, rc: rc, cfg: cfg}
}

// Verify cross-examines a primary result. Any call or parse failure yields a
// VerificationResult carrying the failure penalty and the
// verification_failed flag instead of an error.
func (v *Verifier) Verify(ctx context.Context, primary *model.PrimaryResult) *model.VerificationResult {
	start := time.Now()

	resp, err := resilience.CallVal(ctx, v.rc, EndpointVerifier, v.cfg.Timeout,
		func(ctx context.Context) (*vision.Response, error) {
			return v.client.VerifyMessage(ctx, v.buildRequest(primary))
		})
	if err != nil {
		zap.L().Warn("verifier: call failed, applying penalty",
			zap.String("title", primary.Title),
			zap.Error(err),
		)
		return v.failureResult(start)
	}

	args, strategy, err := v.extractArgs(resp)
	if err != nil {
		zap.L().Warn("verifier: unrecoverable tool call, applying penalty",
			zap.String("title", primary.Title),
			zap.Error(err),
		)
		return v.failureResult(start)
	}
	if strategy != "strict" {
		zap.L().Debug("verifier: recovered malformed tool call",
			zap.String("strategy", strategy),
		)
	}

	agrees := agreesWithPrimary(primary.Title, args.CardName)

	confidence := args.Confidence
	if confidence > 1 {
		confidence = confidence / 100
	}
	confidence = model.ClampConfidence(confidence)

	result := &model.VerificationResult{
		AgreesWithPrimary: agrees,
		Confidence:        confidence,
		Elapsed:           time.Since(start),
	}
	if agrees {
		result.Adjustment = v.cfg.AgreeBonus
	} else {
		result.Adjustment = v.cfg.DisagreePenalty
		zap.L().Info("verifier: disagreement",
			zap.String("primary", primary.Title),
			zap.String("verifier", args.CardName),
		)
	}
	return result
}

// extractArgs prefers the native tool-use block; free-text responses go
// through the recovery parser.
func (v *Verifier) extractArgs(resp *vision.Response) (*ToolArgs, string, error) {
	if resp.ToolCall != nil {
		var args ToolArgs
		if err := json.Unmarshal(resp.ToolCall.Arguments, &args); err == nil && args.CardName != "" {
			return &args, "strict", nil
		}
		// Malformed native arguments: fall through to recovery on the raw
		// payload.
		return ParseToolCall(string(resp.ToolCall.Arguments))
	}
	return ParseToolCall(resp.Text)
}

func (v *Verifier) buildRequest(primary *model.PrimaryResult) vision.VerifyRequest {
	prompt := fmt.Sprintf(
		"The primary scanner identified this card as %q (set %s, number %s, rarity %s) "+
			"with %.0f%% confidence. Confirm or correct the identification with a verify_card tool call.",
		primary.Title, primary.SetCode, primary.Number, primary.Rarity, primary.Confidence*100,
	)

	return vision.VerifyRequest{
		Model:       v.cfg.Model,
		MaxTokens:   v.cfg.MaxTokens,
		System:      verifySystem,
		Prompt:      prompt,
		Temperature: 0.1,
		Tool: vision.ToolSpec{
			Name:        ToolName,
			Description: "Report the card identified in the description.",
			Properties: map[string]any{
				"card_name":  map[string]any{"type": "string"},
				"set_code":   map[string]any{"type": "string"},
				"confidence": map[string]any{"type": "number"},
			},
			Required: []string{"card_name"},
		},
	}
}

func (v *Verifier) failureResult(start time.Time) *model.VerificationResult {
	return &model.VerificationResult{
		AgreesWithPrimary: false,
		Adjustment:        v.cfg.FailurePenalty,
		Flags:             []string{model.FlagVerificationFailed},
		Elapsed:           time.Since(start),
	}
}
