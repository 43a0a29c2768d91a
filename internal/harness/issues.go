package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/giantswarm/mcp-doctor/internal/mcpclient"
	"github.com/giantswarm/mcp-doctor/internal/synth"
)

// IssueType classifies a token-efficiency finding.
type IssueType string

const (
	IssueOversizedResponse  IssueType = "oversized_response"
	IssueNoPagination       IssueType = "no_pagination"
	IssueVerboseIdentifiers IssueType = "verbose_identifiers"
	IssueMissingFiltering   IssueType = "missing_filtering"
	IssueRedundantData      IssueType = "redundant_data"
	IssueNoFormatControl    IssueType = "no_response_format_control"
)

// Severity orders findings for reporting.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// severityRank sorts error before warning before info.
func severityRank(s Severity) int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	}
	return 2
}

// Issue is one finding against one operation.
type Issue struct {
	Operation      string    `json:"operation"`
	Type           IssueType `json:"type"`
	Severity       Severity  `json:"severity"`
	Message        string    `json:"message"`
	Suggestion     string    `json:"suggestion,omitempty"`
	Scenario       string    `json:"scenario,omitempty"`
	MeasuredTokens int       `json:"measured_tokens,omitempty"`
}

// Identifier-shaped patterns that inflate responses without carrying
// semantic meaning.
var verboseIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`),
	regexp.MustCompile(`[0-9a-f]{32}`),
	regexp.MustCompile(`[0-9a-f]{40}`),
	regexp.MustCompile(`[A-Za-z0-9]{20,}`),
}

var lowValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"created_at":\s*"[^"]*"`),
	regexp.MustCompile(`"updated_at":\s*"[^"]*"`),
	regexp.MustCompile(`"metadata":\s*\{[^}]*\}`),
	regexp.MustCompile(`"_internal"`),
	regexp.MustCompile(`"debug"`),
}

// Name and description fragments suggesting a tool returns collections.
var collectionIndicators = []string{
	"list", "search", "find", "get_all", "fetch_all", "query",
	"browse", "index", "catalog", "directory", "collection",
}

// Fragments suggesting a tool returns detailed records that could use a
// response format control.
var detailIndicators = []string{
	"get", "fetch", "retrieve", "details", "info", "describe",
	"analyze", "report", "summary", "profile",
}

// Field names whose array values mark a collection-shaped response.
var collectionFields = []string{"items", "results", "data", "records", "entries", "list"}

// classifyIssues inspects one operation's schema and measured responses.
func classifyIssues(op mcpclient.Operation, metrics *OperationMetrics, maxTokens int) []Issue {
	var issues []Issue
	props := op.InputSchema.Properties

	collectionShaped := likelyReturnsCollections(op) || anyResponseCollectionShaped(metrics)

	if collectionShaped && !synth.HasPaginationParam(props) {
		issues = append(issues, Issue{
			Operation:  op.Name,
			Type:       IssueNoPagination,
			Severity:   SeverityWarning,
			Message:    "Tool likely returns collections but doesn't support pagination",
			Suggestion: "Consider adding pagination parameters (limit, offset, page) to control response size",
		})
	}

	if collectionShaped && !synth.HasFilterParam(props) {
		issues = append(issues, Issue{
			Operation:  op.Name,
			Type:       IssueMissingFiltering,
			Severity:   SeverityInfo,
			Message:    "Tool would benefit from filtering capabilities to reduce response size",
			Suggestion: "Consider adding filtering parameters to allow users to specify exactly what data they need",
		})
	}

	if wouldBenefitFromFormatControl(op) && !synth.HasFormatControlParam(props) {
		issues = append(issues, Issue{
			Operation:  op.Name,
			Type:       IssueNoFormatControl,
			Severity:   SeverityInfo,
			Message:    "Tool could benefit from response format control options",
			Suggestion: "Consider adding a response_format parameter (e.g. 'concise', 'detailed') to control output verbosity",
		})
	}

	var sawVerbose, sawLowValue bool
	for _, result := range metrics.Scenarios {
		inv := result.Invocation
		if inv == nil || !inv.OK() {
			continue
		}
		if inv.Tokens > maxTokens {
			issues = append(issues, Issue{
				Operation:      op.Name,
				Type:           IssueOversizedResponse,
				Severity:       SeverityWarning,
				Message:        fmt.Sprintf("Response contains %d tokens (>%d recommended)", inv.Tokens, maxTokens),
				Suggestion:     "Consider implementing pagination, filtering, or truncation to reduce response size",
				Scenario:       result.Scenario,
				MeasuredTokens: inv.Tokens,
			})
		}
		if !sawVerbose && hasVerboseIdentifiers(inv.Text) {
			sawVerbose = true
		}
		if !sawLowValue && hasLowValueData(inv.Text) {
			sawLowValue = true
		}
	}

	if sawVerbose {
		issues = append(issues, Issue{
			Operation:  op.Name,
			Type:       IssueVerboseIdentifiers,
			Severity:   SeverityInfo,
			Message:    "Responses contain verbose technical identifiers (UUIDs, hashes)",
			Suggestion: "Consider using semantic identifiers or provide response format options to exclude technical IDs",
		})
	}
	if sawLowValue {
		issues = append(issues, Issue{
			Operation:  op.Name,
			Type:       IssueRedundantData,
			Severity:   SeverityInfo,
			Message:    "Responses contain potentially redundant or low-value data",
			Suggestion: "Review response format to prioritize high-signal information",
		})
	}

	return issues
}

func likelyReturnsCollections(op mcpclient.Operation) bool {
	name := strings.ToLower(op.Name)
	description := strings.ToLower(op.Description)
	for _, indicator := range collectionIndicators {
		if strings.Contains(name, indicator) || strings.Contains(description, indicator) {
			return true
		}
	}
	return false
}

func wouldBenefitFromFormatControl(op mcpclient.Operation) bool {
	name := strings.ToLower(op.Name)
	description := strings.ToLower(op.Description)
	for _, indicator := range detailIndicators {
		if strings.Contains(name, indicator) || strings.Contains(description, indicator) {
			return true
		}
	}
	return false
}

// anyResponseCollectionShaped reports whether any successful response decodes
// to a top-level array or an object with an array under a list-like field.
func anyResponseCollectionShaped(metrics *OperationMetrics) bool {
	for _, result := range metrics.Scenarios {
		inv := result.Invocation
		if inv == nil || !inv.OK() || inv.Text == "" {
			continue
		}
		if responseIsCollection(inv.Text) {
			return true
		}
	}
	return false
}

func responseIsCollection(text string) bool {
	var payload any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return false
	}
	switch v := payload.(type) {
	case []any:
		return true
	case map[string]any:
		for _, field := range collectionFields {
			if value, ok := v[field]; ok {
				if _, isArray := value.([]any); isArray {
					return true
				}
			}
		}
	}
	return false
}

func hasVerboseIdentifiers(text string) bool {
	if text == "" {
		return false
	}
	for _, pattern := range verboseIDPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// hasLowValueData flags responses where a noticeable share of the fields are
// timestamps, generic metadata, or debug leftovers.
func hasLowValueData(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, pattern := range lowValuePatterns {
		if pattern.MatchString(lower) {
			matches++
		}
	}
	totalFields := strings.Count(lower, `":`)
	if totalFields == 0 {
		return false
	}
	return float64(matches)/float64(totalFields) > 0.2
}
