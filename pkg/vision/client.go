// Package vision wraps the remote vision-language endpoint behind a small
// interface so the pipeline mocks the interface, never the SDK.
package vision

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/cardmint/scan-cli/internal/resilience"
)

// Client defines the remote model operations the pipeline uses.
type Client interface {
	// ClassifyImage runs the primary identification request.
	ClassifyImage(ctx context.Context, req ClassifyRequest) (*Response, error)
	// VerifyMessage runs the constrained tool-call verification request.
	VerifyMessage(ctx context.Context, req VerifyRequest) (*Response, error)
	// Health issues a minimal liveness probe against the endpoint family.
	Health(ctx context.Context) error
}

// sdkClient implements Client on the official SDK.
type sdkClient struct {
	client      sdk.Client
	healthModel string
}

// NewClient creates a Client for the given API key. healthModel is the model
// used for liveness probes.
func NewClient(apiKey, healthModel string) Client {
	return &sdkClient{
		client:      sdk.NewClient(option.WithAPIKey(apiKey)),
		healthModel: healthModel,
	}
}

func (c *sdkClient) ClassifyImage(ctx context.Context, req ClassifyRequest) (*Response, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(req.Model),
		MaxTokens:   req.MaxTokens,
		Temperature: sdk.Float(req.Temperature),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlockBase64(req.MediaType, req.ImageData),
				sdk.NewTextBlock(req.Prompt),
			),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifySDKError(eris.Wrap(err, "vision: classify image"), err)
	}
	return fromSDKMessage(msg), nil
}

func (c *sdkClient) VerifyMessage(ctx context.Context, req VerifyRequest) (*Response, error) {
	tool := sdk.ToolParam{
		Name:        req.Tool.Name,
		Description: sdk.String(req.Tool.Description),
		InputSchema: sdk.ToolInputSchemaParam{
			Properties: req.Tool.Properties,
			Required:   req.Tool.Required,
		},
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(req.Model),
		MaxTokens:   req.MaxTokens,
		Temperature: sdk.Float(req.Temperature),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
		Tools:       []sdk.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: sdk.ToolChoiceUnionParam{
			OfTool: &sdk.ToolChoiceToolParam{Name: req.Tool.Name},
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifySDKError(eris.Wrap(err, "vision: verify message"), err)
	}
	return fromSDKMessage(msg), nil
}

// Health sends a one-token prompt to the health model. Used before warm-up
// and by the serve command's readiness endpoint.
func (c *sdkClient) Health(ctx context.Context) error {
	_, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.healthModel),
		MaxTokens: 1,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock("ping"))},
	})
	if err != nil {
		return classifySDKError(eris.Wrap(err, "vision: health probe"), err)
	}
	return nil
}

// classifySDKError maps SDK failures onto the resilience error taxonomy so
// the retry loop and breaker treat 4xx as terminal and 5xx/429 as transient.
func classifySDKError(wrapped, raw error) error {
	var apierr *sdk.Error
	if errors.As(raw, &apierr) {
		return resilience.ClassifyHTTPStatus(wrapped, apierr.StatusCode)
	}
	return wrapped
}

func fromSDKMessage(msg *sdk.Message) *Response {
	resp := &Response{
		ID:         msg.ID,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	var text strings.Builder
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "tool_use":
			resp.ToolCall = &ToolCall{
				Name:      b.Name,
				Arguments: b.Input,
			}
		}
	}
	resp.Text = text.String()
	return resp
}
