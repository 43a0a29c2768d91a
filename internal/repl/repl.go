// Package repl provides an interactive shell for poking at a connected MCP
// server: listing tools, inspecting schemas, previewing synthesized scenarios,
// and invoking tools with hand-written or generated arguments.
package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/giantswarm/mcp-doctor/internal/logging"
	"github.com/giantswarm/mcp-doctor/internal/mcpclient"
	"github.com/giantswarm/mcp-doctor/internal/synth"
)

// errExit is a sentinel error used to signal REPL exit
var errExit = errors.New("exit")

// Client is the protocol client surface the REPL needs. Satisfied by
// *mcpclient.Client.
type Client interface {
	Discover(ctx context.Context) ([]mcpclient.Operation, error)
	Invoke(ctx context.Context, name string, args map[string]any) (*mcpclient.Invocation, error)
	Identity() string
}

// REPL is the interactive shell over one connected server.
type REPL struct {
	client          Client
	logger          *logging.Logger
	out             io.Writer
	rl              *readline.Instance
	ops             []mcpclient.Operation
	commandHandlers map[string]commandHandler
}

// New creates a REPL writing to stdout.
func New(client Client, logger *logging.Logger) *REPL {
	r := &REPL{
		client: client,
		logger: logger,
		out:    os.Stdout,
	}
	r.commandHandlers = r.buildCommandHandlers()
	return r
}

// Run starts the interactive loop and blocks until exit or context
// cancellation.
func (r *REPL) Run(ctx context.Context) error {
	ops, err := r.client.Discover(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover tools: %w", err)
	}
	r.ops = ops

	historyFile := filepath.Join(os.TempDir(), ".mcp_doctor_history")
	config := &readline.Config{
		Prompt:          "doctor> ",
		HistoryFile:     historyFile,
		AutoComplete:    r.createCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	}

	rl, err := readline.NewEx(config)
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()
	r.rl = rl

	r.logger.Info("Connected to %s with %d tool(s). Type 'help' for commands, TAB completes.", r.client.Identity(), len(ops))
	fmt.Fprintln(r.out)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Shutting down...")
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			r.logger.Info("Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if err := r.executeCommand(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				r.logger.Info("Goodbye!")
				return nil
			}
			r.logger.Error("Error: %v", err)
		}

		fmt.Fprintln(r.out)
	}
}

// toolNames returns the discovered tool names for completion.
func (r *REPL) toolNames() []string {
	names := make([]string, len(r.ops))
	for i, op := range r.ops {
		names[i] = op.Name
	}
	return names
}

// buildPcItems converts a slice of strings to readline completer items
func buildPcItems(names []string) []readline.PrefixCompleterInterface {
	items := make([]readline.PrefixCompleterInterface, len(names))
	for i, name := range names {
		items[i] = readline.PcItem(name)
	}
	return items
}

// createCompleter creates the tab completion configuration
func (r *REPL) createCompleter() *readline.PrefixCompleter {
	toolCompleter := buildPcItems(r.toolNames())

	scenarioItems := []readline.PrefixCompleterInterface{
		readline.PcItem(synth.ScenarioMinimal),
		readline.PcItem(synth.ScenarioTypical),
		readline.PcItem(synth.ScenarioLarge),
	}
	tryCompleter := make([]readline.PrefixCompleterInterface, len(r.ops))
	for i, op := range r.ops {
		tryCompleter[i] = readline.PcItem(op.Name, scenarioItems...)
	}

	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("?"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
		readline.PcItem("tools"),
		readline.PcItem("describe", toolCompleter...),
		readline.PcItem("scenarios", toolCompleter...),
		readline.PcItem("try", tryCompleter...),
		readline.PcItem("call", toolCompleter...),
		readline.PcItem("verbose",
			readline.PcItem("on"),
			readline.PcItem("off"),
		),
	)
}

// filterInput filters input characters for readline
func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// commandHandler defines a REPL command with its handler and argument requirements
type commandHandler struct {
	minArgs int
	usage   string
	handler func(ctx context.Context, parts []string) error
}

// buildCommandHandlers creates the map of command handlers
func (r *REPL) buildCommandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"help": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showHelp()
		}},
		"?": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showHelp()
		}},
		"exit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"quit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"tools": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.listTools()
		}},
		"describe": {
			minArgs: 2,
			usage:   "usage: describe <tool-name>",
			handler: func(ctx context.Context, parts []string) error {
				return r.describeTool(parts[1])
			},
		},
		"scenarios": {
			minArgs: 2,
			usage:   "usage: scenarios <tool-name>",
			handler: func(ctx context.Context, parts []string) error {
				return r.showScenarios(parts[1])
			},
		},
		"try": {
			minArgs: 2,
			usage:   "usage: try <tool-name> [minimal|typical|large]",
			handler: func(ctx context.Context, parts []string) error {
				scenario := ""
				if len(parts) > 2 {
					scenario = parts[2]
				}
				return r.tryTool(ctx, parts[1], scenario)
			},
		},
		"call": {
			minArgs: 2,
			usage:   "usage: call <tool-name> [json-args]",
			handler: func(ctx context.Context, parts []string) error {
				return r.callTool(ctx, parts[1], strings.Join(parts[2:], " "))
			},
		},
		"verbose": {
			minArgs: 2,
			usage:   "usage: verbose <on|off>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleVerbose(parts[1])
			},
		},
	}
}

// executeCommand parses and executes a command
func (r *REPL) executeCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(parts[0])

	handler, exists := r.commandHandlers[command]
	if !exists {
		return fmt.Errorf("unknown command: %s. Type 'help' for available commands", command)
	}

	if len(parts) < handler.minArgs {
		return errors.New(handler.usage)
	}

	return handler.handler(ctx, parts)
}

// showHelp displays available commands
func (r *REPL) showHelp() error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out, "  help, ?                      - Show this help message")
	fmt.Fprintln(r.out, "  tools                        - List all discovered tools")
	fmt.Fprintln(r.out, "  describe <tool>              - Show a tool's description and input schema")
	fmt.Fprintln(r.out, "  scenarios <tool>             - Preview the synthesized argument scenarios")
	fmt.Fprintln(r.out, "  try <tool> [scenario]        - Invoke a tool with synthesized arguments")
	fmt.Fprintln(r.out, "  call <tool> {json}           - Invoke a tool with explicit JSON arguments")
	fmt.Fprintln(r.out, "  verbose <on|off>             - Toggle verbose logging")
	fmt.Fprintln(r.out, "  exit, quit                   - Exit the REPL")
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Keyboard shortcuts:")
	fmt.Fprintln(r.out, "  TAB                          - Auto-complete commands and tool names")
	fmt.Fprintln(r.out, "  Ctrl+R                       - Search command history")
	fmt.Fprintln(r.out, "  Ctrl+D                       - Exit REPL")
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Examples:")
	fmt.Fprintln(r.out, "  try search_docs large")
	fmt.Fprintln(r.out, "  call search_docs {\"query\": \"installation\", \"limit\": 5}")
	return nil
}

// findOperation looks a tool up by name.
func (r *REPL) findOperation(name string) (mcpclient.Operation, bool) {
	for _, op := range r.ops {
		if op.Name == name {
			return op, true
		}
	}
	return mcpclient.Operation{}, false
}

// listTools displays the discovered tools
func (r *REPL) listTools() error {
	if len(r.ops) == 0 {
		fmt.Fprintln(r.out, "No tools available.")
		return nil
	}

	fmt.Fprintf(r.out, "Available tools (%d):\n", len(r.ops))
	for i, op := range r.ops {
		fmt.Fprintf(r.out, "  %d. %-30s - %s\n", i+1, op.Name, op.Description)
	}
	return nil
}

// describeTool shows a tool's description and input schema
func (r *REPL) describeTool(name string) error {
	op, ok := r.findOperation(name)
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}

	fmt.Fprintf(r.out, "Tool: %s\n", op.Name)
	fmt.Fprintf(r.out, "Description: %s\n", op.Description)
	fmt.Fprintln(r.out, "Input Schema:")
	fmt.Fprintf(r.out, "%s\n", logging.PrettyJSON(op.InputSchema))
	return nil
}

// showScenarios previews the synthesized scenarios without invoking anything
func (r *REPL) showScenarios(name string) error {
	op, ok := r.findOperation(name)
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}

	for _, scenario := range synth.Scenarios(op) {
		fmt.Fprintf(r.out, "%s - %s\n", scenario.Name, scenario.Description)
		fmt.Fprintf(r.out, "%s\n", logging.PrettyJSON(scenario.Args))
	}
	return nil
}

// tryTool invokes a tool with synthesized arguments for one or all scenarios
func (r *REPL) tryTool(ctx context.Context, name, scenarioName string) error {
	op, ok := r.findOperation(name)
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}

	scenarios := synth.Scenarios(op)
	if scenarioName != "" {
		found := false
		for _, scenario := range scenarios {
			if scenario.Name == scenarioName {
				scenarios = []synth.Scenario{scenario}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown scenario: %s. Use 'minimal', 'typical', or 'large'", scenarioName)
		}
	}

	for _, scenario := range scenarios {
		fmt.Fprintf(r.out, "Invoking %s (%s)...\n", name, scenario.Name)
		inv, err := r.client.Invoke(ctx, name, scenario.Args)
		if err != nil {
			return fmt.Errorf("invocation failed: %w", err)
		}
		r.displayInvocation(inv)
	}
	return nil
}

// callTool invokes a tool with explicit JSON arguments
func (r *REPL) callTool(ctx context.Context, name, argsStr string) error {
	if _, ok := r.findOperation(name); !ok {
		return fmt.Errorf("tool not found: %s", name)
	}

	var args map[string]any
	if argsStr != "" {
		if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
			fmt.Fprintln(r.out, "Error: Arguments must be valid JSON")
			fmt.Fprintf(r.out, "Example: call %s {\"param1\": \"value1\", \"param2\": 123}\n", name)
			return fmt.Errorf("invalid JSON arguments: %w", err)
		}
	}

	fmt.Fprintf(r.out, "Invoking %s...\n", name)
	inv, err := r.client.Invoke(ctx, name, args)
	if err != nil {
		return fmt.Errorf("invocation failed: %w", err)
	}
	r.displayInvocation(inv)
	return nil
}

// displayInvocation prints one invocation outcome, pretty-printing JSON
// responses when possible.
func (r *REPL) displayInvocation(inv *mcpclient.Invocation) {
	if inv.Failure != nil {
		fmt.Fprintf(r.out, "Tool returned a %s error:\n", inv.Failure.Kind)
		fmt.Fprintf(r.out, "  %s\n", inv.Failure.Message)
		return
	}

	fmt.Fprintln(r.out, "Result:")
	var decoded any
	if err := json.Unmarshal([]byte(inv.Text), &decoded); err == nil {
		fmt.Fprintln(r.out, logging.PrettyJSON(decoded))
	} else {
		fmt.Fprintln(r.out, inv.Text)
	}
	fmt.Fprintf(r.out, "(%d tokens, %d bytes, %s)\n", inv.Tokens, inv.SizeBytes, inv.Elapsed)
}

// handleVerbose toggles verbose logging
func (r *REPL) handleVerbose(setting string) error {
	switch strings.ToLower(setting) {
	case "on":
		r.logger.SetVerbose(true)
		fmt.Fprintln(r.out, "Verbose logging enabled")
	case "off":
		r.logger.SetVerbose(false)
		fmt.Fprintln(r.out, "Verbose logging disabled")
	default:
		return fmt.Errorf("invalid setting: %s. Use 'on' or 'off'", setting)
	}
	return nil
}
