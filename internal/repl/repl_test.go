package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/mcp-doctor/internal/logging"
	"github.com/giantswarm/mcp-doctor/internal/mcpclient"
)

type fakeClient struct {
	ops      []mcpclient.Operation
	invoked  []string
	lastArgs map[string]any
	inv      *mcpclient.Invocation
	err      error
}

func (f *fakeClient) Discover(ctx context.Context) ([]mcpclient.Operation, error) {
	return f.ops, nil
}

func (f *fakeClient) Identity() string { return "fake://server" }

func (f *fakeClient) Invoke(ctx context.Context, name string, args map[string]any) (*mcpclient.Invocation, error) {
	f.invoked = append(f.invoked, name)
	f.lastArgs = args
	if f.err != nil {
		return nil, f.err
	}
	if f.inv != nil {
		return f.inv, nil
	}
	return &mcpclient.Invocation{
		Operation: name,
		Args:      args,
		Text:      `{"ok":true}`,
		Tokens:    3,
		SizeBytes: 11,
		Elapsed:   time.Millisecond,
	}, nil
}

func newTestREPL(client *fakeClient) (*REPL, *bytes.Buffer) {
	out := &bytes.Buffer{}
	r := New(client, logging.NewLoggerWithWriter(false, false, false, out))
	r.out = out
	r.ops = client.ops
	return r, out
}

func searchOps() []mcpclient.Operation {
	return []mcpclient.Operation{
		{
			Name:        "search_docs",
			Description: "Search the documentation",
			InputSchema: mcpclient.InputSchema{
				Type: "object",
				Properties: map[string]any{
					"query": map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer"},
				},
				Required: []string{"query"},
			},
			RawSchema: json.RawMessage(`{"type":"object"}`),
		},
		{Name: "get_status", Description: "Report server status"},
	}
}

func TestListTools(t *testing.T) {
	r, out := newTestREPL(&fakeClient{ops: searchOps()})

	if err := r.executeCommand(context.Background(), "tools"); err != nil {
		t.Fatalf("tools: %v", err)
	}
	for _, fragment := range []string{"Available tools (2)", "search_docs", "get_status"} {
		if !strings.Contains(out.String(), fragment) {
			t.Errorf("output missing %q:\n%s", fragment, out.String())
		}
	}
}

func TestDescribeTool(t *testing.T) {
	r, out := newTestREPL(&fakeClient{ops: searchOps()})

	if err := r.executeCommand(context.Background(), "describe search_docs"); err != nil {
		t.Fatalf("describe: %v", err)
	}
	for _, fragment := range []string{"Tool: search_docs", "Search the documentation", "query"} {
		if !strings.Contains(out.String(), fragment) {
			t.Errorf("output missing %q", fragment)
		}
	}
}

func TestDescribeUnknownTool(t *testing.T) {
	r, _ := newTestREPL(&fakeClient{ops: searchOps()})
	if err := r.executeCommand(context.Background(), "describe nope"); err == nil {
		t.Error("unknown tool must return an error")
	}
}

func TestScenariosPreviewDoesNotInvoke(t *testing.T) {
	client := &fakeClient{ops: searchOps()}
	r, out := newTestREPL(client)

	if err := r.executeCommand(context.Background(), "scenarios search_docs"); err != nil {
		t.Fatalf("scenarios: %v", err)
	}
	if len(client.invoked) != 0 {
		t.Errorf("scenario preview must not invoke the tool, got %v", client.invoked)
	}
	for _, fragment := range []string{"minimal", "typical", "large", "sample query"} {
		if !strings.Contains(out.String(), fragment) {
			t.Errorf("output missing %q", fragment)
		}
	}
}

func TestTrySingleScenario(t *testing.T) {
	client := &fakeClient{ops: searchOps()}
	r, out := newTestREPL(client)

	if err := r.executeCommand(context.Background(), "try search_docs large"); err != nil {
		t.Fatalf("try: %v", err)
	}
	if len(client.invoked) != 1 {
		t.Fatalf("invocations = %d, want 1", len(client.invoked))
	}
	if client.lastArgs["limit"] != 1000 {
		t.Errorf("large scenario limit = %v, want 1000", client.lastArgs["limit"])
	}
	if !strings.Contains(out.String(), "Result:") {
		t.Error("output should show the result")
	}
}

func TestTryAllScenarios(t *testing.T) {
	client := &fakeClient{ops: searchOps()}
	r, _ := newTestREPL(client)

	if err := r.executeCommand(context.Background(), "try search_docs"); err != nil {
		t.Fatalf("try: %v", err)
	}
	if len(client.invoked) != 3 {
		t.Errorf("invocations = %d, want 3", len(client.invoked))
	}
}

func TestTryUnknownScenario(t *testing.T) {
	client := &fakeClient{ops: searchOps()}
	r, _ := newTestREPL(client)

	if err := r.executeCommand(context.Background(), "try search_docs huge"); err == nil {
		t.Error("unknown scenario must return an error")
	}
	if len(client.invoked) != 0 {
		t.Error("unknown scenario must not invoke the tool")
	}
}

func TestCallWithJSONArgs(t *testing.T) {
	client := &fakeClient{ops: searchOps()}
	r, _ := newTestREPL(client)

	if err := r.executeCommand(context.Background(), `call search_docs {"query": "install", "limit": 5}`); err != nil {
		t.Fatalf("call: %v", err)
	}
	if client.lastArgs["query"] != "install" {
		t.Errorf("query = %v, want install", client.lastArgs["query"])
	}
	if client.lastArgs["limit"] != float64(5) {
		t.Errorf("limit = %v, want 5", client.lastArgs["limit"])
	}
}

func TestCallWithBadJSON(t *testing.T) {
	client := &fakeClient{ops: searchOps()}
	r, out := newTestREPL(client)

	if err := r.executeCommand(context.Background(), `call search_docs {not json}`); err == nil {
		t.Error("invalid JSON must return an error")
	}
	if len(client.invoked) != 0 {
		t.Error("invalid JSON must not invoke the tool")
	}
	if !strings.Contains(out.String(), "must be valid JSON") {
		t.Error("output should explain the JSON requirement")
	}
}

func TestCallDisplaysFailure(t *testing.T) {
	client := &fakeClient{
		ops: searchOps(),
		inv: &mcpclient.Invocation{
			Operation: "search_docs",
			Failure:   &mcpclient.Failure{Kind: mcpclient.FailureValidation, Message: "query is required"},
		},
	}
	r, out := newTestREPL(client)

	if err := r.executeCommand(context.Background(), "call search_docs {}"); err != nil {
		t.Fatalf("call: %v", err)
	}
	for _, fragment := range []string{"validation", "query is required"} {
		if !strings.Contains(out.String(), fragment) {
			t.Errorf("output missing %q", fragment)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	r, _ := newTestREPL(&fakeClient{ops: searchOps()})
	if err := r.executeCommand(context.Background(), "frobnicate"); err == nil {
		t.Error("unknown command must return an error")
	}
}

func TestCommandUsageErrors(t *testing.T) {
	r, _ := newTestREPL(&fakeClient{ops: searchOps()})
	for _, input := range []string{"describe", "scenarios", "try", "call", "verbose"} {
		if err := r.executeCommand(context.Background(), input); err == nil {
			t.Errorf("%q without arguments must return a usage error", input)
		}
	}
}

func TestExitCommand(t *testing.T) {
	r, _ := newTestREPL(&fakeClient{ops: searchOps()})
	for _, input := range []string{"exit", "quit"} {
		if err := r.executeCommand(context.Background(), input); !strings.Contains(err.Error(), "exit") {
			t.Errorf("%q should signal exit, got %v", input, err)
		}
	}
}

func TestHelpListsCommands(t *testing.T) {
	r, out := newTestREPL(&fakeClient{ops: searchOps()})
	if err := r.executeCommand(context.Background(), "help"); err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, fragment := range []string{"tools", "describe", "scenarios", "try", "call", "exit"} {
		if !strings.Contains(out.String(), fragment) {
			t.Errorf("help missing %q", fragment)
		}
	}
}
