package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/giantswarm/mcp-doctor/internal/logging"
	"github.com/giantswarm/mcp-doctor/internal/mcpclient"
)

// DefaultCorrectionModel is the Claude model used to repair rejected
// arguments when none is configured.
const DefaultCorrectionModel = "claude-3-5-sonnet-20241022"

// messageCreator captures the subset of the Anthropic SDK used by the
// corrector. It is satisfied by *sdk.MessageService so tests can pass a fake.
type messageCreator interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicCorrector repairs rejected tool arguments with one Messages API
// call per failure.
type AnthropicCorrector struct {
	messages messageCreator
	model    string
	logger   *logging.Logger
}

// NewAnthropicCorrector builds a corrector from an API key. An empty model
// selects DefaultCorrectionModel.
func NewAnthropicCorrector(apiKey, model string, logger *logging.Logger) (*AnthropicCorrector, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if model == "" {
		model = DefaultCorrectionModel
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicCorrector{messages: &ac.Messages, model: model, logger: logger}, nil
}

// Correct asks the model for replacement arguments given the schema, the
// rejected arguments, and the server's error message. The reply must contain
// a single JSON object.
func (c *AnthropicCorrector) Correct(ctx context.Context, op mcpclient.Operation, args map[string]any, errorMessage string) (map[string]any, error) {
	schemaJSON := string(op.RawSchema)
	if schemaJSON == "" {
		schemaJSON = "{}"
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}

	prompt := fmt.Sprintf(
		"A call to the tool %q was rejected because its arguments failed validation.\n\n"+
			"Input schema:\n%s\n\nRejected arguments:\n%s\n\nValidation error:\n%s\n\n"+
			"Reply with only a JSON object containing corrected arguments that satisfy the schema. No explanation.",
		op.Name, schemaJSON, argsJSON, errorMessage,
	)

	c.logger.Debug("Requesting argument correction for %s", op.Name)
	msg, err := c.messages.New(ctx, sdk.MessageNewParams{
		MaxTokens: 1024,
		Model:     sdk.Model(c.model),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("correction request failed: %w", err)
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}

	corrected, err := extractJSONObject(reply.String())
	if err != nil {
		return nil, fmt.Errorf("corrector reply did not contain arguments: %w", err)
	}
	return corrected, nil
}

// extractJSONObject pulls the first top-level JSON object out of a model
// reply, tolerating surrounding prose and code fences.
func extractJSONObject(reply string) (map[string]any, error) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found")
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(reply[start:end+1]), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return args, nil
}
