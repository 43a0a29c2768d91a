package mcpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcp-doctor/internal/launcher"
	"github.com/giantswarm/mcp-doctor/internal/logging"
)

type fakeAdapter struct {
	mu            sync.Mutex
	connectErrs   []error
	connectCalls  int
	discoverCalls int
	closeCalls    int
	tools         []mcp.Tool
	invokeFn      func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

func (f *fakeAdapter) connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeAdapter) discover(ctx context.Context) ([]mcp.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverCalls++
	return f.tools, nil
}

func (f *fakeAdapter) invoke(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if f.invokeFn != nil {
		return f.invokeFn(ctx, name, args)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("ok")}}, nil
}

func (f *fakeAdapter) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func testConfig() Config {
	return Config{
		Target:          "http://localhost:3000/mcp",
		CallTimeout:     5 * time.Second,
		ConnectAttempts: 3,
		ConnectDelay:    time.Millisecond,
		Logger:          logging.NewLoggerWithWriter(false, false, false, &bytes.Buffer{}),
	}
}

func TestConnectMovesToReady(t *testing.T) {
	fake := &fakeAdapter{}
	c := newClientWithAdapter(testConfig(), fake)

	if c.State() != StateNotStarted {
		t.Fatalf("initial state = %s, want not-started", c.State())
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != StateReady {
		t.Fatalf("state after connect = %s, want ready", c.State())
	}
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	fake := &fakeAdapter{connectErrs: []error{errors.New("connection refused"), errors.New("connection refused")}}
	c := newClientWithAdapter(testConfig(), fake)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if fake.connectCalls != 3 {
		t.Errorf("connectCalls = %d, want 3", fake.connectCalls)
	}
}

func TestConnectExhaustsAttempts(t *testing.T) {
	fake := &fakeAdapter{connectErrs: []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		errors.New("connection refused"),
	}}
	c := newClientWithAdapter(testConfig(), fake)

	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect failure")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}
	if connErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", connErr.Attempts)
	}
	if c.State() != StateTerminated {
		t.Errorf("state after failed connect = %s, want terminated", c.State())
	}
}

func TestDiscoverRequiresReady(t *testing.T) {
	c := newClientWithAdapter(testConfig(), &fakeAdapter{})
	if _, err := c.Discover(context.Background()); err == nil {
		t.Fatal("expected error discovering before connect")
	}
	if _, err := c.Invoke(context.Background(), "fetch", nil); err == nil {
		t.Fatal("expected error invoking before connect")
	}
}

func TestDiscoverMemoized(t *testing.T) {
	fake := &fakeAdapter{tools: []mcp.Tool{
		{Name: "fetch", Description: "Fetch a URL", InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"url": map[string]any{"type": "string"}},
			Required:   []string{"url"},
		}},
	}}
	c := newClientWithAdapter(testConfig(), fake)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	first, err := c.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	second, err := c.Discover(context.Background())
	if err != nil {
		t.Fatalf("second Discover: %v", err)
	}

	if fake.discoverCalls != 1 {
		t.Errorf("discoverCalls = %d, want 1 (memoized)", fake.discoverCalls)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one operation, got %d and %d", len(first), len(second))
	}
	op := first[0]
	if op.Name != "fetch" || op.InputSchema.Required[0] != "url" {
		t.Errorf("unexpected operation: %+v", op)
	}
	if op.RawSchema == nil {
		t.Error("expected raw schema to be preserved")
	}
}

func TestInvokeSuccess(t *testing.T) {
	fake := &fakeAdapter{}
	c := newClientWithAdapter(testConfig(), fake)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	inv, err := c.Invoke(context.Background(), "fetch", map[string]any{"url": "https://example.com"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !inv.OK() {
		t.Fatalf("expected success, got %+v", inv.Failure)
	}
	if inv.Tokens < 1 {
		t.Errorf("Tokens = %d, want >= 1", inv.Tokens)
	}
}

func TestInvokeJSONRPCErrorIsFailureData(t *testing.T) {
	fake := &fakeAdapter{
		invokeFn: func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
			return nil, errors.New("invalid params: missing required field 'url'")
		},
	}
	c := newClientWithAdapter(testConfig(), fake)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	inv, err := c.Invoke(context.Background(), "fetch", nil)
	if err != nil {
		t.Fatalf("tool-level error must not propagate: %v", err)
	}
	if inv.OK() {
		t.Fatal("expected failure")
	}
	if inv.Failure.Kind != FailureValidation {
		t.Errorf("Kind = %s, want validation", inv.Failure.Kind)
	}
	if c.State() != StateReady {
		t.Errorf("session must stay ready after a tool failure, state = %s", c.State())
	}
}

func TestInvokePerCallTimeoutIsScenarioFailure(t *testing.T) {
	fake := &fakeAdapter{
		invokeFn: func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	cfg := testConfig()
	cfg.CallTimeout = 50 * time.Millisecond
	c := newClientWithAdapter(cfg, fake)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	inv, err := c.Invoke(context.Background(), "slow_tool", nil)
	if err != nil {
		t.Fatalf("a per-call timeout must not propagate as an error: %v", err)
	}
	if inv.OK() {
		t.Fatal("expected a failure result")
	}
	if inv.Failure.Kind != FailureExecution {
		t.Errorf("Kind = %s, want execution", inv.Failure.Kind)
	}
	if c.State() != StateReady {
		t.Errorf("session must stay ready after a call timeout, state = %s", c.State())
	}

	// The transport is still usable for the next scenario.
	fake.invokeFn = nil
	next, err := c.Invoke(context.Background(), "fast_tool", nil)
	if err != nil {
		t.Fatalf("Invoke after timeout: %v", err)
	}
	if !next.OK() {
		t.Fatalf("expected success after timeout, got %+v", next.Failure)
	}
}

func TestInvokeParentCancellationIsTransportFault(t *testing.T) {
	fake := &fakeAdapter{
		invokeFn: func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c := newClientWithAdapter(testConfig(), fake)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Invoke(ctx, "slow_tool", nil)
	var fault *TransportFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *TransportFault on parent cancellation, got %T: %v", err, err)
	}
	if c.State() != StateTerminated {
		t.Errorf("state after cancellation = %s, want terminated", c.State())
	}
}

func TestInvokeTransportFaultTerminatesSession(t *testing.T) {
	fake := &fakeAdapter{
		invokeFn: func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
			return nil, errors.New("write |1: broken pipe")
		},
	}
	c := newClientWithAdapter(testConfig(), fake)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := c.Invoke(context.Background(), "fetch", nil)
	if err == nil {
		t.Fatal("expected transport fault")
	}
	var fault *TransportFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *TransportFault, got %T: %v", err, err)
	}
	if c.State() != StateTerminated {
		t.Errorf("state after fault = %s, want terminated", c.State())
	}
	if fake.closeCalls != 1 {
		t.Errorf("closeCalls = %d, want 1", fake.closeCalls)
	}

	// Further invokes must fail fast.
	if _, err := c.Invoke(context.Background(), "fetch", nil); err == nil {
		t.Fatal("expected error invoking a terminated session")
	}
}

// pipeAdapter drives invocations through a real child's stdin pipe so the
// error comes from the closed stream itself.
type pipeAdapter struct {
	stdin io.Writer
}

func (a *pipeAdapter) connect(ctx context.Context) error { return nil }

func (a *pipeAdapter) discover(ctx context.Context) ([]mcp.Tool, error) { return nil, nil }

func (a *pipeAdapter) invoke(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if _, err := a.stdin.Write([]byte("{}\n")); err != nil {
		return nil, err
	}
	return nil, errors.New("io: read/write on closed pipe")
}

func (a *pipeAdapter) close() error { return nil }

func TestStdioChildExitSurfacesTransportFault(t *testing.T) {
	proc := launcher.New(launcher.Config{
		Command: []string{"sh", "-c", "exit 0"},
		Logger:  logging.NewLoggerWithWriter(false, false, false, &bytes.Buffer{}),
	})
	if err := proc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for the child to exit and its pipes to close.
	deadline := time.Now().Add(5 * time.Second)
	for proc.Running() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if proc.Running() {
		t.Fatal("child did not exit")
	}

	cfg := testConfig()
	cfg.Target = "sh -c 'exit 0'"
	c := newClientWithAdapter(cfg, &pipeAdapter{stdin: proc.Stdin()})
	c.proc = proc
	c.state = StateReady

	_, err := c.Invoke(context.Background(), "echo_tool", nil)
	var fault *TransportFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *TransportFault, got %T: %v", err, err)
	}
	if c.State() != StateTerminated {
		t.Errorf("state after fault = %s, want terminated", c.State())
	}

	// The session teardown must have shut the launcher down without an
	// explicit Close: the child's stdin pipe is closed and the process
	// reports stopped.
	if _, err := proc.Stdin().Write([]byte("x")); err == nil {
		t.Error("expected stdin to be closed by session teardown")
	}
	if proc.Running() {
		t.Error("process must report stopped after session teardown")
	}
}

func TestCloseIdempotentFromEveryState(t *testing.T) {
	// Never connected.
	c := newClientWithAdapter(testConfig(), &fakeAdapter{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close before connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if c.State() != StateTerminated {
		t.Errorf("state = %s, want terminated", c.State())
	}

	// Connected.
	fake := &fakeAdapter{}
	c = newClientWithAdapter(testConfig(), fake)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("repeated Close: %v", err)
	}
	if fake.closeCalls != 1 {
		t.Errorf("closeCalls = %d, want 1", fake.closeCalls)
	}
}

func TestIdentityNormalizesURLs(t *testing.T) {
	cfg := testConfig()
	cfg.Target = "  http://localhost:3000/mcp/ "
	c := NewClient(cfg)
	if got := c.Identity(); got != "http://localhost:3000/mcp" {
		t.Errorf("Identity = %q", got)
	}

	cfg.Target = "npx -y firecrawl-mcp"
	c = NewClient(cfg)
	if got := c.Identity(); got != "npx -y firecrawl-mcp" {
		t.Errorf("Identity = %q", got)
	}
}
