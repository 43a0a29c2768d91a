package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-doctor/internal/harness"
	"github.com/giantswarm/mcp-doctor/internal/logging"
	"github.com/giantswarm/mcp-doctor/internal/mcpclient"
	"github.com/giantswarm/mcp-doctor/internal/repl"
	"github.com/giantswarm/mcp-doctor/internal/report"
	"github.com/giantswarm/mcp-doctor/internal/toolcache"
)

var (
	version string

	target            string
	transportName     string
	callTimeout       time.Duration
	startupTimeout    time.Duration
	concurrency       int
	maxResponseTokens int
	outputFormat      string
	envVarsJSON       string
	workingDir        string
	headerFlags       []string
	noEnvLogging      bool
	noCache           bool
	cacheDir          string
	noCorrection      bool
	correctionModel   string
	verbose           bool
	noColor           bool
	jsonRPC           bool
	replMode          bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcp-doctor",
	Short: "MCP server diagnostic tool",
	Long: `mcp-doctor diagnoses MCP (Model Context Protocol) tool servers.

It connects to a server over streamable-http, SSE, or stdio transport,
discovers the advertised tools, synthesizes minimal/typical/large argument
scenarios for each one, and executes them to measure response sizes,
latencies, and token footprints. The measurements are classified into
token-efficiency issues (missing pagination, oversized responses, verbose
identifiers) and rendered as a table, JSON, or YAML report.

The target can be a server URL or a launchable command:

  mcp-doctor --target http://localhost:8080/mcp
  mcp-doctor --target "npx -y firecrawl-mcp"
  mcp-doctor --target "export API_KEY=xyz && npx -y some-mcp-server"

When a call fails argument validation and an Anthropic API key is available
(ANTHROPIC_API_KEY), the arguments are repaired once with a Claude model and
the call is retried.

In REPL mode (--repl) you can explore the server interactively: list tools,
inspect schemas, preview synthesized scenarios, and invoke tools with
generated or hand-written arguments.`,
	RunE: runDoctor,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	rootCmd.Flags().StringVar(&target, "target", "", "Server URL or launch command (required)")
	rootCmd.Flags().StringVar(&transportName, "transport", "auto", "Transport to use (auto, streamable-http, sse, stdio)")
	rootCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "Timeout for individual tool calls")
	rootCmd.Flags().DurationVar(&startupTimeout, "startup-timeout", 30*time.Second, "Timeout for a launched server to become ready")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 3, "Number of scenarios executed in parallel")
	rootCmd.Flags().IntVar(&maxResponseTokens, "max-response-tokens", 25000, "Token threshold above which a response is flagged oversized")
	rootCmd.Flags().StringVar(&outputFormat, "output", "table", "Report format (table, json, yaml)")
	rootCmd.Flags().StringVar(&envVarsJSON, "env-vars", "", "Environment variables for launched servers as a JSON object")
	rootCmd.Flags().StringVar(&workingDir, "working-dir", "", "Working directory for launched servers")
	rootCmd.Flags().StringArrayVar(&headerFlags, "header", nil, "HTTP header for URL targets as 'Name: Value' (repeatable)")
	rootCmd.Flags().BoolVar(&noEnvLogging, "no-env-logging", false, "Suppress the environment summary log line")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable caching of successful tool responses")
	rootCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (default ~/.mcp-doctor/tool-call-cache)")
	rootCmd.Flags().BoolVar(&noCorrection, "no-correction", false, "Disable LLM argument correction")
	rootCmd.Flags().StringVar(&correctionModel, "correction-model", "", "Claude model for argument correction")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.Flags().BoolVar(&jsonRPC, "json-rpc", false, "Enable full JSON-RPC message logging")
	rootCmd.Flags().BoolVar(&replMode, "repl", false, "Start interactive REPL mode instead of a diagnostic run")

	_ = rootCmd.MarkFlagRequired("target")

	rootCmd.AddCommand(newSelfUpdateCmd())
}

// validateFlags checks flag values that cobra cannot validate itself.
func validateFlags() error {
	if !mcpclient.ValidTransport(mcpclient.Transport(transportName)) {
		return fmt.Errorf("unsupported transport %q (use auto, streamable-http, sse, or stdio)", transportName)
	}
	if !report.ValidFormat(report.Format(outputFormat)) {
		return fmt.Errorf("unsupported output format %q (use table, json, or yaml)", outputFormat)
	}
	if concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	return nil
}

// parseHeaders turns repeated --header flags into a header map.
func parseHeaders(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(flags))
	for _, flag := range flags {
		name, value, ok := strings.Cut(flag, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: Value'", flag)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}

// parseEnvVars decodes the --env-vars JSON object.
func parseEnvVars(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var env map[string]string
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("invalid --env-vars value, expected a JSON object of strings: %w", err)
	}
	return env, nil
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down gracefully...")
		cancel()
	}()
}

// buildCorrector wires the LLM corrector when an API key is available.
func buildCorrector(logger *logging.Logger) harness.Corrector {
	if noCorrection {
		return nil
	}
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		logger.InfoVerbose("ANTHROPIC_API_KEY not set, argument correction disabled")
		return nil
	}
	corrector, err := harness.NewAnthropicCorrector(apiKey, correctionModel, logger)
	if err != nil {
		logger.Warning("Argument correction disabled: %v", err)
		return nil
	}
	return corrector
}

func runDoctor(cmd *cobra.Command, args []string) error {
	if err := validateFlags(); err != nil {
		return err
	}

	headers, err := parseHeaders(headerFlags)
	if err != nil {
		return err
	}
	envOverrides, err := parseEnvVars(envVarsJSON)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	setupSignalHandler(cancel)

	logger := logging.NewLogger(verbose, !noColor, jsonRPC)

	client := mcpclient.NewClient(mcpclient.Config{
		Target:         target,
		Transport:      mcpclient.Transport(transportName),
		Headers:        headers,
		EnvOverrides:   envOverrides,
		WorkingDir:     workingDir,
		CallTimeout:    callTimeout,
		StartupTimeout: startupTimeout,
		LogEnv:         !noEnvLogging,
		Logger:         logger,
		Version:        version,
	})
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.WarningVerbose("Shutdown: %v", err)
		}
	}()

	if replMode {
		if err := repl.New(client, logger).Run(ctx); err != nil {
			return fmt.Errorf("REPL error: %w", err)
		}
		return nil
	}

	runID := uuid.NewString()

	var recorder harness.Recorder
	if !noCache {
		cache, err := toolcache.New(client.Identity(), cacheDir, runID, logger)
		if err != nil {
			logger.Warning("Response caching disabled: %v", err)
		} else {
			recorder = cache
		}
	}

	h := harness.New(harness.Config{
		Concurrency:       concurrency,
		MaxResponseTokens: maxResponseTokens,
		RunID:             runID,
		Corrector:         buildCorrector(logger),
		Recorder:          recorder,
		Logger:            logger,
	})

	result, runErr := h.Run(ctx, client)
	if result != nil {
		if err := report.Render(os.Stdout, result, report.Format(outputFormat)); err != nil {
			return fmt.Errorf("failed to render report: %w", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("diagnostic run failed: %w", runErr)
	}
	return nil
}
