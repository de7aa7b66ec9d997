package verifier

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// ToolName is the single tool the verifier model is constrained to call.
const ToolName = "verify_card"

// ToolArgs are the arguments of a verify_card tool call. Unknown fields
// default to the zero value.
type ToolArgs struct {
	CardName   string  `json:"card_name"`
	SetCode    string  `json:"set_code,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// toolEnvelope is the full wire shape of a tool call.
type toolEnvelope struct {
	Name      string   `json:"name"`
	Arguments ToolArgs `json:"arguments"`
}

// errNextStrategy tells the parser chain to try the next strategy.
var errNextStrategy = eris.New("next strategy")

// parseStrategy attempts one recovery tier. Returning errNextStrategy hands
// the input to the following strategy.
type parseStrategy struct {
	name string
	fn   func(s string) (*ToolArgs, error)
}

// The recovery tiers, in order: strict parse, brace-balancing repair, and
// regex field extraction as a last resort.
var parseStrategies = []parseStrategy{
	{"strict", parseStrict},
	{"brace_repair", parseBraceRepair},
	{"regex_extract", parseRegexExtract},
}

// ParseToolCall extracts verify_card arguments from a raw model response,
// working through the recovery tiers. It fails only when every tier fails.
func ParseToolCall(s string) (*ToolArgs, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", eris.New("verifier: empty tool call")
	}

	var lastErr error
	for _, strat := range parseStrategies {
		args, err := strat.fn(s)
		if err == nil {
			return args, strat.name, nil
		}
		if !errors.Is(err, errNextStrategy) {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = eris.New("verifier: no recoverable tool call")
	}
	return nil, "", eris.Wrap(lastErr, "verifier: parse tool call")
}

func parseStrict(s string) (*ToolArgs, error) {
	args, err := decodeEnvelope(s)
	if err != nil {
		return nil, errNextStrategy
	}
	return args, nil
}

// parseBraceRepair closes unbalanced braces and brackets, ignoring any inside
// string literals, then re-parses. Handles truncated model output.
func parseBraceRepair(s string) (*ToolArgs, error) {
	repaired := repairBraces(s)
	if repaired == s {
		return nil, errNextStrategy
	}
	args, err := decodeEnvelope(repaired)
	if err != nil {
		return nil, errNextStrategy
	}
	return args, nil
}

func repairBraces(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	out := s
	if inString {
		out += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}

var (
	cardNameRe   = regexp.MustCompile(`"card_name"\s*:\s*"([^"]+)"`)
	setCodeRe    = regexp.MustCompile(`"set_code"\s*:\s*"([^"]+)"`)
	confidenceRe = regexp.MustCompile(`"confidence"\s*:\s*([0-9]*\.?[0-9]+)`)
)

// parseRegexExtract pulls the fields straight out of the text. Card name is
// the only required field; everything else defaults.
func parseRegexExtract(s string) (*ToolArgs, error) {
	m := cardNameRe.FindStringSubmatch(s)
	if m == nil {
		return nil, eris.New("no card_name field found")
	}

	args := &ToolArgs{CardName: m[1]}
	if sm := setCodeRe.FindStringSubmatch(s); sm != nil {
		args.SetCode = sm[1]
	}
	if cm := confidenceRe.FindStringSubmatch(s); cm != nil {
		var conf float64
		if err := json.Unmarshal([]byte(cm[1]), &conf); err == nil {
			args.Confidence = conf
		}
	}
	return args, nil
}

func decodeEnvelope(s string) (*ToolArgs, error) {
	var env toolEnvelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, err
	}
	if env.Name != "" && env.Name != ToolName {
		return nil, eris.Errorf("unexpected tool %q", env.Name)
	}
	if env.Name == "" {
		// Some responses carry the bare arguments object.
		var args ToolArgs
		if err := json.Unmarshal([]byte(s), &args); err != nil || args.CardName == "" {
			return nil, eris.New("not a tool call")
		}
		return &args, nil
	}
	if env.Arguments.CardName == "" {
		return nil, eris.New("tool call missing card_name")
	}
	return &env.Arguments, nil
}
