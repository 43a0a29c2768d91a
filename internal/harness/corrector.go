package harness

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/giantswarm/mcp-doctor/internal/mcpclient"
)

// Corrector proposes replacement arguments after a validation failure. A nil
// corrector is a legal configuration; the correction step is then skipped.
type Corrector interface {
	Correct(ctx context.Context, op mcpclient.Operation, args map[string]any, errorMessage string) (map[string]any, error)
}

// ValidateArgs checks candidate arguments against the operation's declared
// input schema. Operations without a schema accept anything.
func ValidateArgs(op mcpclient.Operation, args map[string]any) error {
	if len(op.RawSchema) == 0 {
		return nil
	}

	var schemaDoc any
	if err := json.Unmarshal(op.RawSchema, &schemaDoc); err != nil {
		return fmt.Errorf("failed to parse input schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("failed to load input schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile input schema: %w", err)
	}

	// Round-trip through JSON so values carry JSON types (float64 numbers),
	// matching what the server will see.
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}
	var payload any
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}

	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("arguments do not satisfy schema: %w", err)
	}
	return nil
}
