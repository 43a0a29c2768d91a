// Package launcher starts and supervises MCP server child processes. It
// parses command-style targets (including inline "export K=V &&" prefixes),
// wires stdio pipes for stdio transports, waits for HTTP servers to announce
// a listening URL, and tears the process down on every exit path.
package launcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/giantswarm/mcp-doctor/internal/logging"
)

// gracePeriod is how long Close waits after SIGTERM before sending SIGKILL.
const gracePeriod = 5 * time.Second

// Config describes the process to launch. Env holds the merged environment
// overrides (explicit overrides win over inline assignments); it is applied
// on top of the inherited environment.
type Config struct {
	Command        []string
	Env            map[string]string
	WorkingDir     string
	StartupTimeout time.Duration
	Port           int
	LogEnv         bool
	SensitiveNames []string
	Logger         *logging.Logger
}

// Launcher manages the lifecycle of a single server process.
type Launcher struct {
	cfg Config

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	exited chan struct{}
	closed bool
}

// New creates a launcher for the given configuration.
func New(cfg Config) *Launcher {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.SensitiveNames == nil {
		cfg.SensitiveNames = DefaultSensitiveNames()
	}
	return &Launcher{cfg: cfg}
}

// Start launches the process with piped stdin/stdout/stderr for a stdio
// transport. Readiness is established by the MCP handshake, not here.
func (l *Launcher) Start(ctx context.Context) error {
	return l.start(ctx, true)
}

// Stdin returns the child's stdin pipe. Valid after a successful Start.
func (l *Launcher) Stdin() io.WriteCloser { return l.stdin }

// Stdout returns the child's stdout pipe. Valid after a successful Start.
func (l *Launcher) Stdout() io.ReadCloser { return l.stdout }

// Stderr returns the child's stderr pipe. Valid after a successful Start.
func (l *Launcher) Stderr() io.ReadCloser { return l.stderr }

func (l *Launcher) start(ctx context.Context, withStdin bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		return &LaunchError{Command: strings.Join(l.cfg.Command, " "), Err: fmt.Errorf("already started")}
	}
	if len(l.cfg.Command) == 0 {
		return &LaunchError{Command: "", Err: fmt.Errorf("empty command")}
	}
	if err := ctx.Err(); err != nil {
		return &LaunchError{Command: strings.Join(l.cfg.Command, " "), Err: err}
	}

	cmd := exec.Command(l.cfg.Command[0], l.cfg.Command[1:]...)
	cmd.Dir = l.cfg.WorkingDir
	cmd.Env = mergedEnviron(l.cfg.Env)

	var err error
	if withStdin {
		if l.stdin, err = cmd.StdinPipe(); err != nil {
			return &LaunchError{Command: strings.Join(l.cfg.Command, " "), Err: err}
		}
	}
	if l.stdout, err = cmd.StdoutPipe(); err != nil {
		return &LaunchError{Command: strings.Join(l.cfg.Command, " "), Err: err}
	}
	if l.stderr, err = cmd.StderrPipe(); err != nil {
		return &LaunchError{Command: strings.Join(l.cfg.Command, " "), Err: err}
	}

	l.cfg.Logger.Info("Starting server process: %s", strings.Join(l.cfg.Command, " "))
	if l.cfg.WorkingDir != "" {
		l.cfg.Logger.InfoVerbose("Working directory: %s", l.cfg.WorkingDir)
	}
	if len(l.cfg.Env) > 0 {
		if l.cfg.LogEnv {
			l.cfg.Logger.Info("Environment overrides: %s", SafeEnvSummary(l.cfg.Env, l.cfg.SensitiveNames))
		} else {
			l.cfg.Logger.Debug("Environment variable logging disabled")
		}
	}

	if err := cmd.Start(); err != nil {
		return &LaunchError{Command: strings.Join(l.cfg.Command, " "), Err: err}
	}
	l.cfg.Logger.InfoVerbose("Process started with PID %d", cmd.Process.Pid)

	l.cmd = cmd
	l.exited = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(l.exited)
	}()
	return nil
}

// Close terminates the process: SIGTERM, a grace period, then SIGKILL.
// It is idempotent and safe to call after a failed start.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.cmd == nil || l.cmd.Process == nil {
		return nil
	}
	if l.stdin != nil {
		_ = l.stdin.Close()
	}

	select {
	case <-l.exited:
		l.cfg.Logger.Debug("Server process already exited")
		return nil
	default:
	}

	_ = l.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-l.exited:
	case <-time.After(gracePeriod):
		l.cfg.Logger.Warning("Graceful shutdown timed out, forcing kill")
		_ = l.cmd.Process.Kill()
		<-l.exited
	}
	l.cfg.Logger.Info("Server process stopped")
	return nil
}

// Running reports whether the process has been started and has not exited.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd == nil || l.closed {
		return false
	}
	select {
	case <-l.exited:
		return false
	default:
		return true
	}
}

var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:server|mcp)\s+(?:running|started|listening)\s+(?:on|at)?\s*(https?://\S+)`),
	regexp.MustCompile(`(?i)(?:available|serving)\s+(?:on|at)?\s*(https?://\S+)`),
	regexp.MustCompile(`(?i)url:\s*(https?://\S+)`),
	regexp.MustCompile(`(?i)listening\s+(?:on|at)?\s*(https?://\S+)`),
	regexp.MustCompile(`(https?://(?:localhost|127\.0\.0\.1):\d+(?:/\S*)?)`),
	regexp.MustCompile(`(?i)port\s+(\d+)`),
	regexp.MustCompile(`(?:localhost|127\.0\.0\.1):(\d+)`),
}

// commonPorts are probed as a last resort when the process never announces
// its listening address on stdout or stderr.
var commonPorts = []int{3000, 3001, 8000, 8080, 4000, 5000, 9000}

// StartHTTP launches the process and waits until it announces a listening
// URL on stdout or stderr, falling back to probing common local ports. The
// process is terminated before a *StartupTimeoutError is returned.
func (l *Launcher) StartHTTP(ctx context.Context) (string, error) {
	if err := l.start(ctx, false); err != nil {
		return "", err
	}

	command := strings.Join(l.cfg.Command, " ")
	lines := make(chan string, 64)
	var captured strings.Builder
	var wg sync.WaitGroup
	scan := func(r io.Reader, prefix string) {
		defer wg.Done()
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			l.cfg.Logger.Debug("%s: %s", prefix, line)
			select {
			case lines <- line:
			default:
			}
		}
	}
	wg.Add(2)
	go scan(l.stdout, "server stdout")
	go scan(l.stderr, "server stderr")
	go func() {
		wg.Wait()
		close(lines)
	}()

	l.cfg.Logger.Info("Waiting for server to become ready (timeout: %s)", l.cfg.StartupTimeout)
	deadline := time.NewTimer(l.cfg.StartupTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = l.Close()
			return "", &LaunchError{Command: command, Err: ctx.Err()}
		case line, ok := <-lines:
			if !ok {
				// Both pipes closed: the process exited before it was ready.
				<-l.exited
				_ = l.Close()
				return "", &LaunchError{
					Command: command,
					Output:  captured.String(),
					Err:     fmt.Errorf("process exited before becoming ready"),
				}
			}
			captured.WriteString(line)
			captured.WriteString("\n")
			if url := extractServerURL(line); url != "" {
				l.cfg.Logger.Success("Server ready at %s", url)
				return url, nil
			}
		case <-deadline.C:
			l.cfg.Logger.Warning("No listening URL announced, probing common ports")
			if url := l.probePorts(ctx); url != "" {
				l.cfg.Logger.Success("Server ready at %s", url)
				return url, nil
			}
			_ = l.Close()
			return "", &StartupTimeoutError{
				Command: command,
				Timeout: l.cfg.StartupTimeout,
				Output:  captured.String(),
			}
		}
	}
}

// probePorts checks the configured port and a set of common development
// ports for a TCP listener that answers HTTP.
func (l *Launcher) probePorts(ctx context.Context) string {
	ports := commonPorts
	if l.cfg.Port > 0 {
		ports = append([]int{l.cfg.Port}, ports...)
	}
	client := &http.Client{Timeout: 2 * time.Second}
	for _, port := range ports {
		if ctx.Err() != nil {
			return ""
		}
		addr := fmt.Sprintf("localhost:%d", port)
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			continue
		}
		_ = conn.Close()
		url := "http://" + addr
		resp, err := client.Get(url)
		if err != nil {
			continue
		}
		_ = resp.Body.Close()
		return url
	}
	return ""
}

// extractServerURL pulls a local server URL out of a log line. Bare port
// announcements become http://localhost:<port>.
func extractServerURL(line string) string {
	for _, re := range urlPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		candidate := strings.TrimRight(m[1], ".,;")
		if !strings.HasPrefix(candidate, "http") {
			candidate = "http://localhost:" + candidate
		}
		if isLocalURL(candidate) {
			return candidate
		}
	}
	return ""
}

func isLocalURL(url string) bool {
	return (strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")) &&
		(strings.Contains(url, "localhost") || strings.Contains(url, "127.0.0.1")) &&
		strings.Contains(url, ":")
}

// mergedEnviron layers overrides on top of the inherited environment.
func mergedEnviron(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return os.Environ()
	}
	seen := make(map[string]bool, len(overrides))
	env := make([]string, 0, len(os.Environ())+len(overrides))
	for _, kv := range os.Environ() {
		key := kv[:strings.IndexByte(kv, '=')]
		if _, ok := overrides[key]; ok {
			seen[key] = true
			env = append(env, key+"="+overrides[key])
			continue
		}
		env = append(env, kv)
	}
	for key, value := range overrides {
		if !seen[key] {
			env = append(env, key+"="+value)
		}
	}
	return env
}
