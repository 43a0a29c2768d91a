// Package report renders a diagnostic run in the output formats the CLI
// supports: a human-readable table, JSON, and YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/mcp-doctor/internal/harness"
)

// Format selects an output rendering.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ValidFormat reports whether f is a supported output format.
func ValidFormat(f Format) bool {
	switch f {
	case FormatTable, FormatJSON, FormatYAML:
		return true
	}
	return false
}

// Render writes the report to w in the requested format.
func Render(w io.Writer, report *harness.Report, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return renderTable(w, report)
	}
	return fmt.Errorf("unsupported output format %q", format)
}

func renderTable(w io.Writer, report *harness.Report) error {
	fmt.Fprintf(w, "MCP server diagnosis: %s\n", report.ServerIdentity)
	fmt.Fprintf(w, "Run %s, %d tool(s), %d scenario(s) in %s\n\n",
		report.RunID, report.Summary.Operations, report.Summary.ScenariosRun, report.Elapsed.Round(1e6))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tSCENARIOS\tFAILURES\tAVG TOKENS\tMIN\tMAX")
	for _, metrics := range report.Operations {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f\t%d\t%d\n",
			metrics.Operation, len(metrics.Scenarios), metrics.Failures,
			metrics.AvgTokens, metrics.MinTokens, metrics.MaxTokens)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(report.Issues) > 0 {
		fmt.Fprintf(w, "\nIssues (%d error, %d warning, %d info):\n",
			report.Summary.Errors, report.Summary.Warnings, report.Summary.Infos)
		itw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(itw, "SEVERITY\tTOOL\tTYPE\tMESSAGE")
		for _, issue := range report.Issues {
			fmt.Fprintf(itw, "%s\t%s\t%s\t%s\n",
				strings.ToUpper(string(issue.Severity)), issue.Operation, issue.Type, issue.Message)
		}
		if err := itw.Flush(); err != nil {
			return err
		}
	}

	if len(report.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, recommendation := range report.Recommendations {
			fmt.Fprintf(w, "  - %s\n", recommendation)
		}
	}

	fmt.Fprintf(w, "\nSummary: %d succeeded, %d failed", report.Summary.Successes, report.Summary.Failures)
	if report.Summary.CorrectedCalls > 0 {
		fmt.Fprintf(w, " (%d corrected)", report.Summary.CorrectedCalls)
	}
	fmt.Fprintln(w)

	if report.TerminalError != "" {
		fmt.Fprintf(w, "\nRun aborted early: %s\n", report.TerminalError)
	}
	return nil
}
