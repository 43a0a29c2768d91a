// Package harness drives a diagnostic run: it discovers the tool catalog,
// builds scenarios for every operation, executes them under a bounded worker
// pool, repairs validation failures through an optional corrector, and rolls
// the outcomes up into metrics and token-efficiency issues.
package harness

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/mcp-doctor/internal/logging"
	"github.com/giantswarm/mcp-doctor/internal/mcpclient"
	"github.com/giantswarm/mcp-doctor/internal/synth"
)

// CorrectedScenario names cache records produced by the correction loop.
const CorrectedScenario = "llm_corrected"

// Invoker is the protocol client surface the harness needs. Satisfied by
// *mcpclient.Client.
type Invoker interface {
	Discover(ctx context.Context) ([]mcpclient.Operation, error)
	Invoke(ctx context.Context, name string, args map[string]any) (*mcpclient.Invocation, error)
	Identity() string
}

// Recorder persists successful calls. Satisfied by *toolcache.Cache.
type Recorder interface {
	Record(operation, scenario string, args map[string]any, response json.RawMessage, tokens int, elapsed time.Duration) error
}

// Config tunes one run.
type Config struct {
	Concurrency       int
	MaxResponseTokens int
	// RunID labels the run; empty generates a fresh one. Passing the same id
	// to the cache keeps cached records and the report correlated.
	RunID     string
	Corrector Corrector
	Recorder  Recorder
	Logger    *logging.Logger
}

// Harness executes diagnostic runs.
type Harness struct {
	cfg Config
}

// New creates a harness, applying the default concurrency (3) and token
// threshold (25000).
func New(cfg Config) *Harness {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.MaxResponseTokens <= 0 {
		cfg.MaxResponseTokens = 25000
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return &Harness{cfg: cfg}
}

type job struct {
	op       mcpclient.Operation
	scenario synth.Scenario
}

// Run executes the full diagnosis against one connected client. Discovery is
// strictly sequential and precedes all concurrent work. A transport fault
// cancels the run; the partial report is still returned together with the
// fault so attempted operations keep their aggregates.
func (h *Harness) Run(ctx context.Context, client Invoker) (*Report, error) {
	start := time.Now()

	ops, err := client.Discover(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make([]job, 0, len(ops)*3)
	opByName := make(map[string]mcpclient.Operation, len(ops))
	for _, op := range ops {
		opByName[op.Name] = op
		for _, scenario := range synth.Scenarios(op) {
			jobs = append(jobs, job{op: op, scenario: scenario})
		}
	}
	h.cfg.Logger.Info("Running %d scenario(s) across %d tool(s) with concurrency %d", len(jobs), len(ops), h.cfg.Concurrency)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var faultMu sync.Mutex
	var fault error
	abort := func(err error) {
		faultMu.Lock()
		if fault == nil {
			fault = err
		}
		faultMu.Unlock()
		cancel()
	}

	jobCh := make(chan job)
	resultCh := make(chan ScenarioResult)

	var workers sync.WaitGroup
	for i := 0; i < h.cfg.Concurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for jb := range jobCh {
				resultCh <- h.runScenario(runCtx, client, jb, abort)
			}
		}()
	}
	go func() {
		for _, jb := range jobs {
			jobCh <- jb
		}
		close(jobCh)
	}()
	go func() {
		workers.Wait()
		close(resultCh)
	}()

	// Single collector; workers never touch shared aggregates.
	byOperation := map[string][]ScenarioResult{}
	for result := range resultCh {
		byOperation[result.Operation] = append(byOperation[result.Operation], result)
	}

	operations := make([]OperationMetrics, 0, len(byOperation))
	var issues []Issue
	for name, results := range byOperation {
		metrics := buildMetrics(name, results)
		operations = append(operations, *metrics)
		issues = append(issues, classifyIssues(opByName[name], metrics, h.cfg.MaxResponseTokens)...)
	}
	sort.Slice(operations, func(i, j int) bool { return operations[i].Operation < operations[j].Operation })
	sort.SliceStable(issues, func(i, j int) bool {
		if severityRank(issues[i].Severity) != severityRank(issues[j].Severity) {
			return severityRank(issues[i].Severity) < severityRank(issues[j].Severity)
		}
		return issues[i].Operation < issues[j].Operation
	})

	report := &Report{
		ServerIdentity:  client.Identity(),
		RunID:           h.cfg.RunID,
		StartedAt:       start,
		Elapsed:         time.Since(start),
		Operations:      operations,
		Issues:          issues,
		Summary:         buildSummary(operations, issues),
		Recommendations: buildRecommendations(issues),
	}

	faultMu.Lock()
	terminal := fault
	faultMu.Unlock()
	if terminal != nil {
		report.TerminalError = terminal.Error()
		return report, terminal
	}
	return report, nil
}

// runScenario executes one scenario in isolation: its failure never affects
// other scenarios, except for transport faults which abort the whole run.
func (h *Harness) runScenario(ctx context.Context, client Invoker, jb job, abort func(error)) ScenarioResult {
	result := ScenarioResult{
		Operation: jb.op.Name,
		Scenario:  jb.scenario.Name,
		Args:      jb.scenario.Args,
	}

	if ctx.Err() != nil {
		result.Invocation = abortedInvocation(jb.op.Name, jb.scenario.Args)
		return result
	}

	inv, err := client.Invoke(ctx, jb.op.Name, jb.scenario.Args)
	if err != nil {
		h.cfg.Logger.Error("Run aborted by %s (%s): %v", jb.op.Name, jb.scenario.Name, err)
		abort(err)
		result.Invocation = abortedInvocation(jb.op.Name, jb.scenario.Args)
		return result
	}

	if !inv.OK() && inv.Failure.Kind == mcpclient.FailureValidation && h.cfg.Corrector != nil {
		if corrected, ok := h.tryCorrection(ctx, client, jb.op, inv, abort); ok {
			result.Invocation = corrected
			result.Args = corrected.Args
			result.Corrected = true
			h.recordSuccess(CorrectedScenario, corrected)
			return result
		}
	}

	result.Invocation = inv
	if inv.OK() {
		h.cfg.Logger.Debug("%s (%s): %d tokens in %s", jb.op.Name, jb.scenario.Name, inv.Tokens, inv.Elapsed)
		h.recordSuccess(jb.scenario.Name, inv)
	} else {
		h.cfg.Logger.WarningVerbose("%s (%s) failed: %s", jb.op.Name, jb.scenario.Name, inv.Failure.Message)
	}
	return result
}

// tryCorrection asks the corrector for replacement arguments, validates them
// against the schema, and retries the call exactly once. The second outcome
// replaces the first only when the retry actually succeeded; every path
// records exactly one result for the scenario.
func (h *Harness) tryCorrection(ctx context.Context, client Invoker, op mcpclient.Operation, failed *mcpclient.Invocation, abort func(error)) (*mcpclient.Invocation, bool) {
	h.cfg.Logger.Info("Attempting argument correction for %s", op.Name)

	correctedArgs, err := h.cfg.Corrector.Correct(ctx, op, failed.Args, failed.Failure.Message)
	if err != nil {
		h.cfg.Logger.WarningVerbose("Correction unavailable for %s: %v", op.Name, err)
		return nil, false
	}
	if err := ValidateArgs(op, correctedArgs); err != nil {
		h.cfg.Logger.WarningVerbose("Corrected arguments for %s rejected locally: %v", op.Name, err)
		return nil, false
	}

	retry, err := client.Invoke(ctx, op.Name, correctedArgs)
	if err != nil {
		abort(err)
		return nil, false
	}
	if !retry.OK() {
		// Second failure is terminal for the scenario.
		h.cfg.Logger.WarningVerbose("Correction for %s did not help: %s", op.Name, retry.Failure.Message)
		return nil, false
	}

	h.cfg.Logger.Success("Corrected call to %s succeeded", op.Name)
	return retry, true
}

func (h *Harness) recordSuccess(scenario string, inv *mcpclient.Invocation) {
	if h.cfg.Recorder == nil {
		return
	}
	if err := h.cfg.Recorder.Record(inv.Operation, scenario, inv.Args, inv.Response, inv.Tokens, inv.Elapsed); err != nil {
		h.cfg.Logger.WarningVerbose("Failed to cache %s result: %v", inv.Operation, err)
	}
}

// abortedInvocation marks a scenario that never ran because the session
// broke first.
func abortedInvocation(operation string, args map[string]any) *mcpclient.Invocation {
	return &mcpclient.Invocation{
		Operation: operation,
		Args:      args,
		Failure: &mcpclient.Failure{
			Kind:    mcpclient.FailureExecution,
			Message: "not executed: run aborted after transport fault",
		},
	}
}
