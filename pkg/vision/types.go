package vision

import (
	"encoding/json"
)

// ClassifyRequest asks the model to identify the card in an image. The
// response is expected to be a structured JSON object.
type ClassifyRequest struct {
	Model       string
	MaxTokens   int64
	System      string
	Prompt      string
	ImageData   string // base64-encoded image bytes
	MediaType   string // e.g. "image/jpeg"
	Temperature float64
}

// ToolSpec describes the single tool the verifier is constrained to call.
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// VerifyRequest asks the model to confirm a prior identification by emitting
// exactly one tool call.
type VerifyRequest struct {
	Model       string
	MaxTokens   int64
	System      string
	Prompt      string
	Tool        ToolSpec
	Temperature float64
}

// ToolCall is a structured tool invocation extracted from a response.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// TokenUsage tracks token consumption for a call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is the normalized model output.
type Response struct {
	ID         string     `json:"id"`
	Model      string     `json:"model"`
	Text       string     `json:"text"`
	ToolCall   *ToolCall  `json:"tool_call,omitempty"`
	StopReason string     `json:"stop_reason"`
	Usage      TokenUsage `json:"usage"`
}
