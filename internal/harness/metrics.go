package harness

import (
	"fmt"
	"sort"
	"time"

	"github.com/giantswarm/mcp-doctor/internal/mcpclient"
)

// ScenarioResult is the recorded outcome of one scenario.
type ScenarioResult struct {
	Operation  string                `json:"operation"`
	Scenario   string                `json:"scenario"`
	Args       map[string]any        `json:"args"`
	Invocation *mcpclient.Invocation `json:"invocation"`
	Corrected  bool                  `json:"corrected,omitempty"`
}

// OperationMetrics is the per-operation rollup, rebuilt from scenario
// results each run.
type OperationMetrics struct {
	Operation string           `json:"operation"`
	Scenarios []ScenarioResult `json:"scenarios"`
	AvgTokens float64          `json:"avg_tokens"`
	MinTokens int              `json:"min_tokens"`
	MaxTokens int              `json:"max_tokens"`
	Failures  int              `json:"failures"`
}

// Summary aggregates the whole run.
type Summary struct {
	Operations     int `json:"operations"`
	ScenariosRun   int `json:"scenarios_run"`
	Successes      int `json:"successes"`
	Failures       int `json:"failures"`
	CorrectedCalls int `json:"corrected_calls"`
	Errors         int `json:"errors"`
	Warnings       int `json:"warnings"`
	Infos          int `json:"infos"`
}

// Report is the complete outcome of one diagnostic run.
type Report struct {
	ServerIdentity  string             `json:"server_identity"`
	RunID           string             `json:"run_id"`
	StartedAt       time.Time          `json:"started_at"`
	Elapsed         time.Duration      `json:"elapsed"`
	Operations      []OperationMetrics `json:"operations"`
	Issues          []Issue            `json:"issues"`
	Summary         Summary            `json:"summary"`
	Recommendations []string           `json:"recommendations"`
	// TerminalError is set when a transport fault aborted the run; the
	// aggregates then cover only what was attempted.
	TerminalError string `json:"terminal_error,omitempty"`
}

var scenarioOrder = map[string]int{"minimal": 0, "typical": 1, "large": 2}

// buildMetrics rolls one operation's scenario results up. Token statistics
// cover successful measurements only.
func buildMetrics(operation string, results []ScenarioResult) *OperationMetrics {
	sort.SliceStable(results, func(i, j int) bool {
		return scenarioOrder[results[i].Scenario] < scenarioOrder[results[j].Scenario]
	})

	metrics := &OperationMetrics{Operation: operation, Scenarios: results}

	var tokenCounts []int
	for _, result := range results {
		inv := result.Invocation
		if inv == nil || inv.Failure != nil {
			metrics.Failures++
			continue
		}
		tokenCounts = append(tokenCounts, inv.Tokens)
	}
	if len(tokenCounts) > 0 {
		total := 0
		metrics.MinTokens = tokenCounts[0]
		for _, count := range tokenCounts {
			total += count
			if count < metrics.MinTokens {
				metrics.MinTokens = count
			}
			if count > metrics.MaxTokens {
				metrics.MaxTokens = count
			}
		}
		metrics.AvgTokens = float64(total) / float64(len(tokenCounts))
	}
	return metrics
}

// buildSummary counts results and issue severities.
func buildSummary(operations []OperationMetrics, issues []Issue) Summary {
	summary := Summary{Operations: len(operations)}
	for _, metrics := range operations {
		for _, result := range metrics.Scenarios {
			summary.ScenariosRun++
			if result.Invocation != nil && result.Invocation.Failure == nil {
				summary.Successes++
				if result.Corrected {
					summary.CorrectedCalls++
				}
			} else {
				summary.Failures++
			}
		}
	}
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError:
			summary.Errors++
		case SeverityWarning:
			summary.Warnings++
		default:
			summary.Infos++
		}
	}
	return summary
}

// buildRecommendations turns issue counts into actionable advice.
func buildRecommendations(issues []Issue) []string {
	counts := map[IssueType]int{}
	for _, issue := range issues {
		counts[issue.Type]++
	}

	var recommendations []string
	if n := counts[IssueOversizedResponse]; n > 0 {
		recommendations = append(recommendations,
			fmt.Sprintf("%d response(s) exceeded the recommended token budget - implement pagination, filtering, or truncation", n))
	}
	if n := counts[IssueNoPagination]; n > 0 {
		recommendations = append(recommendations,
			fmt.Sprintf("Add pagination parameters to %d tool(s) that return collections", n))
	}
	if n := counts[IssueMissingFiltering]; n > 0 {
		recommendations = append(recommendations,
			fmt.Sprintf("Add filtering parameters to %d tool(s) so callers can request only the data they need", n))
	}
	if counts[IssueVerboseIdentifiers] > 0 {
		recommendations = append(recommendations,
			"Replace verbose technical identifiers (UUIDs, hashes) with semantic names where possible")
	}
	if counts[IssueRedundantData] > 0 {
		recommendations = append(recommendations,
			"Trim redundant or low-value fields (timestamps, internal metadata) from responses")
	}
	if n := counts[IssueNoFormatControl]; n > 0 {
		recommendations = append(recommendations,
			fmt.Sprintf("Add a response_format parameter to %d tool(s) to let callers choose concise output", n))
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, "No token efficiency issues detected - tool responses look healthy")
	}
	return recommendations
}
