package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/giantswarm/mcp-doctor/internal/launcher"
	"github.com/giantswarm/mcp-doctor/internal/logging"
)

// State is the session lifecycle phase.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Config describes how to reach and drive a tool server.
type Config struct {
	// Target is a URL or a launchable command, optionally with inline
	// "export K=V &&" environment assignments.
	Target          string
	Transport       Transport
	Headers         map[string]string
	EnvOverrides    map[string]string
	WorkingDir      string
	CallTimeout     time.Duration
	StartupTimeout  time.Duration
	ConnectAttempts int
	ConnectDelay    time.Duration
	LogEnv          bool
	SensitiveNames  []string
	Logger          *logging.Logger
	Version         string
}

// Client is a single diagnostic session against one tool server. One client
// serves one run; concurrent Invoke calls are safe because every transport
// correlates responses by request id.
type Client struct {
	cfg Config

	mu    sync.Mutex
	state State
	ad    adapter
	proc  *launcher.Launcher
	ops   []Operation
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 3
	}
	if cfg.ConnectDelay <= 0 {
		cfg.ConnectDelay = time.Second
	}
	return &Client{cfg: cfg, state: StateNotStarted}
}

// newClientWithAdapter wires a prebuilt adapter; tests use this to drive the
// session against a fake transport.
func newClientWithAdapter(cfg Config, ad adapter) *Client {
	c := NewClient(cfg)
	c.ad = ad
	return c
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the canonical server identity used for cache keying.
func (c *Client) Identity() string {
	id := strings.TrimSpace(c.cfg.Target)
	if !launcher.IsCommandTarget(id) {
		id = strings.TrimRight(id, "/")
	}
	return id
}

// Connect establishes the transport and performs the MCP handshake, with
// bounded retry. For command targets the server process is launched first.
// On failure the session is terminated and a *ConnectionError (or launcher
// error) is returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateNotStarted {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect called in state %s", state)
	}
	c.state = StateStarting
	c.mu.Unlock()

	if err := c.buildAdapter(ctx); err != nil {
		c.terminate()
		return err
	}

	var err error
	for attempt := 1; attempt <= c.cfg.ConnectAttempts; attempt++ {
		if err = c.ad.connect(ctx); err == nil {
			break
		}
		if attempt < c.cfg.ConnectAttempts {
			c.cfg.Logger.WarningVerbose("Connect attempt %d failed: %v, retrying in %s", attempt, err, c.cfg.ConnectDelay)
			select {
			case <-time.After(c.cfg.ConnectDelay):
			case <-ctx.Done():
				err = ctx.Err()
				attempt = c.cfg.ConnectAttempts
			}
		}
	}
	if err != nil {
		c.terminate()
		return &ConnectionError{Endpoint: c.Identity(), Attempts: c.cfg.ConnectAttempts, Err: err}
	}

	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()
	c.cfg.Logger.Success("Connected to %s", c.Identity())
	return nil
}

// buildAdapter resolves the transport for the target and constructs the
// matching adapter, launching the server process when the target is a
// command. A prebuilt adapter (tests) is left alone.
func (c *Client) buildAdapter(ctx context.Context) error {
	c.mu.Lock()
	prebuilt := c.ad != nil
	c.mu.Unlock()
	if prebuilt {
		return nil
	}

	transportKind := DetectTransport(ctx, c.cfg.Target, c.cfg.Transport, c.cfg.Logger)
	c.cfg.Logger.Info("Connecting to %s using %s transport...", c.Identity(), transportKind)

	endpoint := strings.TrimSpace(c.cfg.Target)
	var ad adapter
	var err error

	if launcher.IsCommandTarget(c.cfg.Target) {
		target, perr := launcher.ParseTarget(c.cfg.Target)
		if perr != nil {
			return perr
		}
		env := map[string]string{}
		for k, v := range target.Env {
			env[k] = v
		}
		for k, v := range c.cfg.EnvOverrides {
			env[k] = v
		}
		proc := launcher.New(launcher.Config{
			Command:        target.Args,
			Env:            env,
			WorkingDir:     c.cfg.WorkingDir,
			StartupTimeout: c.cfg.StartupTimeout,
			LogEnv:         c.cfg.LogEnv,
			SensitiveNames: c.cfg.SensitiveNames,
			Logger:         c.cfg.Logger,
		})

		switch transportKind {
		case TransportStdio:
			if err := proc.Start(ctx); err != nil {
				return err
			}
			ad = newStdioAdapter(proc, endpoint, c.cfg.Logger, c.cfg.Version)
		case TransportSSE, TransportHTTP:
			// The command starts an HTTP server; wait for its URL, then
			// connect over the network.
			url, lerr := proc.StartHTTP(ctx)
			if lerr != nil {
				return lerr
			}
			if transportKind == TransportSSE {
				ad, err = newSSEAdapter(url, c.cfg.Headers, c.cfg.Logger, c.cfg.Version)
			} else {
				ad, err = newHTTPAdapter(url, c.cfg.Headers, c.cfg.Logger, c.cfg.Version)
			}
			if err != nil {
				_ = proc.Close()
				return err
			}
		default:
			return fmt.Errorf("unsupported transport %q for command target", transportKind)
		}

		c.mu.Lock()
		c.proc = proc
		c.ad = ad
		c.mu.Unlock()
		return nil
	}

	switch transportKind {
	case TransportSSE:
		ad, err = newSSEAdapter(endpoint, c.cfg.Headers, c.cfg.Logger, c.cfg.Version)
	case TransportHTTP:
		ad, err = newHTTPAdapter(endpoint, c.cfg.Headers, c.cfg.Logger, c.cfg.Version)
	default:
		err = fmt.Errorf("unsupported transport %q for URL target", transportKind)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.ad = ad
	c.mu.Unlock()
	return nil
}

// Discover lists the server's tools. The catalog is fetched once and
// memoized for the session.
func (c *Client) Discover(ctx context.Context) ([]Operation, error) {
	c.mu.Lock()
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("discover called in state %s", state)
	}
	if c.ops != nil {
		ops := c.ops
		c.mu.Unlock()
		return ops, nil
	}
	ad := c.ad
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	tools, err := ad.discover(ctx)
	if err != nil {
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			return nil, err
		}
		return nil, &ProtocolError{Endpoint: c.Identity(), Reason: "tool discovery failed", Err: err}
	}

	ops := make([]Operation, 0, len(tools))
	for _, tool := range tools {
		ops = append(ops, operationFromTool(tool))
	}

	c.mu.Lock()
	c.ops = ops
	c.mu.Unlock()
	c.cfg.Logger.Info("Discovered %d tool(s)", len(ops))
	return ops, nil
}

// Invoke calls one tool with the given arguments. Tool-level failures come
// back as data on the Invocation; only transport faults are returned as
// errors, and a transport fault terminates the session.
func (c *Client) Invoke(ctx context.Context, name string, args map[string]any) (*Invocation, error) {
	c.mu.Lock()
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("invoke called in state %s", state)
	}
	ad := c.ad
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	result, err := ad.invoke(callCtx, name, args)
	elapsed := time.Since(start)

	if err != nil {
		// The per-call deadline expiring fails only this call; the
		// transport is still usable. Parent cancellation stays fatal.
		if isDeadlineError(err) && ctx.Err() == nil {
			c.cfg.Logger.WarningVerbose("Call to %s timed out after %s", name, c.cfg.CallTimeout)
			return &Invocation{
				Operation: name,
				Args:      args,
				Elapsed:   elapsed,
				Failure: &Failure{
					Kind:    FailureExecution,
					Message: fmt.Sprintf("call timed out after %s", c.cfg.CallTimeout),
				},
			}, nil
		}
		if isTransportError(err) {
			c.cfg.Logger.Error("Transport fault during %s: %v", name, err)
			c.terminate()
			return nil, &TransportFault{Endpoint: c.Identity(), Err: err}
		}
		// JSON-RPC level rejection, one scenario's failure.
		kind := FailureExecution
		if isValidationMessage(err.Error()) {
			kind = FailureValidation
		}
		return &Invocation{
			Operation: name,
			Args:      args,
			Elapsed:   elapsed,
			Failure:   &Failure{Kind: kind, Message: err.Error()},
		}, nil
	}

	return invocationFromResult(name, args, result, elapsed), nil
}

// terminate moves the session to Terminated and releases resources.
func (c *Client) terminate() {
	c.mu.Lock()
	ad, proc := c.ad, c.proc
	c.ad, c.proc = nil, nil
	c.state = StateTerminated
	c.mu.Unlock()

	if ad != nil {
		_ = ad.close()
	}
	if proc != nil {
		_ = proc.Close()
	}
}

// Close tears the session down: protocol client first, then the launched
// process. Both are always attempted. Close is idempotent and callable from
// every state.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return nil
	}
	ad, proc := c.ad, c.proc
	c.ad, c.proc = nil, nil
	c.state = StateTerminated
	c.mu.Unlock()

	var errs []error
	if ad != nil {
		if err := ad.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing protocol client: %w", err))
		}
	}
	if proc != nil {
		if err := proc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stopping server process: %w", err))
		}
	}
	return errors.Join(errs...)
}
