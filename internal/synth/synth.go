// Package synth builds deterministic test arguments for discovered
// operations. Every operation gets exactly three scenarios of increasing
// intensity; identical schemas always yield identical scenarios so cached
// results stay reusable.
package synth

import (
	"sort"
	"strings"

	"github.com/giantswarm/mcp-doctor/internal/mcpclient"
)

// Scenario names, in execution order.
const (
	ScenarioMinimal = "minimal"
	ScenarioTypical = "typical"
	ScenarioLarge   = "large"
)

// Scenario pairs an operation with one concrete argument mapping.
type Scenario struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Args        map[string]any `json:"args"`
}

// PaginationParams are parameter names treated as pagination controls.
var PaginationParams = []string{
	"limit", "offset", "page", "page_size", "per_page",
	"cursor", "next_token", "continuation_token", "start", "count",
}

// limitParams are the pagination parameters that take a result-count value.
var limitParams = []string{"limit", "count", "per_page", "page_size"}

// FilterParams are parameter names treated as filtering controls.
var FilterParams = []string{
	"filter", "where", "query", "search", "include", "exclude",
	"fields", "select", "only", "except", "type", "status",
}

// FormatControlParams are parameter names treated as response format
// controls.
var FormatControlParams = []string{
	"format", "response_format", "detail_level", "verbosity",
	"compact", "full", "summary", "detailed",
}

// stringRules is the ordered value table for string parameters: the first
// name-substring match wins.
var stringRules = []struct {
	words []string
	value string
}{
	{[]string{"url", "link", "href"}, "https://example.com"},
	{[]string{"email", "mail"}, "test@example.com"},
	{[]string{"query", "search", "term"}, "sample query"},
	{[]string{"id", "key"}, "sample_id"},
}

// SampleValue generates a plausible value for one parameter from its name
// and declared type. Name matching is case-insensitive; an absent or unknown
// type is treated as string.
func SampleValue(name string, schema map[string]any) any {
	paramType := "string"
	if t, ok := schema["type"].(string); ok && t != "" {
		paramType = strings.ToLower(t)
	}

	switch paramType {
	case "string":
		lower := strings.ToLower(name)
		for _, rule := range stringRules {
			for _, word := range rule.words {
				if strings.Contains(lower, word) {
					return rule.value
				}
			}
		}
		return "sample_value"
	case "integer":
		return 1
	case "number":
		return 1.0
	case "boolean":
		return true
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return nil
	}
}

// Scenarios builds the three scenarios for an operation:
//
//	minimal: required parameters only
//	typical: minimal + small pagination values + declared filter parameters
//	large:   minimal + large pagination values
//
// Parameterless operations still get all three, with empty arguments.
func Scenarios(op mcpclient.Operation) []Scenario {
	props := op.InputSchema.Properties

	minimal := map[string]any{}
	for _, param := range op.InputSchema.Required {
		if schema, ok := propertySchema(props, param); ok {
			minimal[param] = SampleValue(param, schema)
		}
	}

	typical := copyArgs(minimal)
	large := copyArgs(minimal)
	for _, name := range sortedKeys(props) {
		lower := strings.ToLower(name)
		switch {
		case contains(limitParams, lower):
			typical[name] = 10
			large[name] = 1000
		case lower == "page":
			typical[name] = 1
			large[name] = 1
		}
	}
	for _, name := range sortedKeys(props) {
		lower := strings.ToLower(name)
		if _, present := typical[name]; present {
			continue
		}
		if contains(FilterParams, lower) {
			if schema, ok := propertySchema(props, name); ok {
				typical[name] = SampleValue(name, schema)
			}
		}
	}

	return []Scenario{
		{Name: ScenarioMinimal, Description: "Required parameters only", Args: minimal},
		{Name: ScenarioTypical, Description: "Typical usage with moderate limits", Args: typical},
		{Name: ScenarioLarge, Description: "Large request to probe response size limits", Args: large},
	}
}

// HasPaginationParam reports whether any declared parameter is a pagination
// control.
func HasPaginationParam(props map[string]any) bool {
	return hasAny(props, PaginationParams)
}

// HasFilterParam reports whether any declared parameter is a filtering
// control.
func HasFilterParam(props map[string]any) bool {
	return hasAny(props, FilterParams)
}

// HasFormatControlParam reports whether any declared parameter controls the
// response format.
func HasFormatControlParam(props map[string]any) bool {
	return hasAny(props, FormatControlParams)
}

func hasAny(props map[string]any, names []string) bool {
	for key := range props {
		if contains(names, strings.ToLower(key)) {
			return true
		}
	}
	return false
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}

func propertySchema(props map[string]any, name string) (map[string]any, bool) {
	raw, ok := props[name]
	if !ok {
		return nil, false
	}
	schema, ok := raw.(map[string]any)
	if !ok {
		// Declared but unparseable; treat as an untyped parameter.
		return map[string]any{}, true
	}
	return schema, true
}

func copyArgs(args map[string]any) map[string]any {
	dup := make(map[string]any, len(args))
	for k, v := range args {
		dup[k] = v
	}
	return dup
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
