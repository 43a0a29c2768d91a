package mcpclient

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// FailureKind distinguishes argument rejection from tool execution failure.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureExecution  FailureKind = "execution"
)

/// Failure is a per-scenario tool failure. It is data, not an error: it never
// terminates the run.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Invocation is the outcome of a single tool call.
type Invocation struct {
	Operation string          `json:"operation"`
	Args      map[string]any  `json:"args"`
	Response  json.RawMessage `json:"response,omitempty"`
	Text      string          `json:"-"`
	Elapsed   time.Duration   `json:"elapsed"`
	SizeBytes int             `json:"size_bytes"`
	Tokens    int             `json:"tokens"`
	Failure   *Failure        `json:"failure,omitempty"`
}

// OK reports whether the call succeeded.
func (inv *Invocation) OK() bool { return inv.Failure == nil }

// EstimateTokens approximates the token footprint of a serialized response:
// one token per four bytes, never less than one for a present response, and
// zero only when the response is absent or JSON null.
func EstimateTokens(serialized []byte) int {
	if len(serialized) == 0 || string(serialized) == "null" {
		return 0
	}
	tokens := len(serialized) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// invocationFromResult classifies a completed tools/call into an Invocation.
func invocationFromResult(op string, args map[string]any, result *mcp.CallToolResult, elapsed time.Duration) *Invocation {
	inv := &Invocation{
		Operation: op,
		Args:      args,
		Elapsed:   elapsed,
	}

	text := contentText(result.Content)

	if result.IsError {
		kind := FailureExecution
		if isValidationMessage(text) {
			kind = FailureValidation
		}
		inv.Failure = &Failure{Kind: kind, Message: text}
		return inv
	}

	raw, err := json.Marshal(result.Content)
	if err != nil {
		raw = []byte("null")
	}
	inv.Response = raw
	inv.Text = text
	inv.SizeBytes = len(raw)
	inv.Tokens = EstimateTokens(raw)
	return inv
}

// contentText concatenates the text blocks of a tool result.
func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
