package tofu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// now is overridden in tests to provide deterministic timings.
var now = time.Now

// ErrorStrategy controls how the scheduler handles node failures.
type ErrorStrategy int

const (
	// FailFast cancels execution after the first failure.
	FailFast ErrorStrategy = iota
	// ContinueOnError continues executing independent nodes after failures.
	ContinueOnError
)

// TaskPanicError wraps a panic recovered from a node execution.
type TaskPanicError struct {
	NodeID string
	Value  any
}

func (e TaskPanicError) Error() string {
	return fmt.Sprintf("tofu: panic in node %s: %v", e.NodeID, e.Value)
}

// Dispatcher submits work for execution and is responsible for running submitted functions.
type Dispatcher interface {
	Submit(func())
	Stop()
}

// goroutineDispatcher runs every submitted node on its own goroutine.
type goroutineDispatcher struct{}

func (goroutineDispatcher) Submit(fn func()) {
	go fn()
}

func (goroutineDispatcher) Stop() {}

// SchedulerOption configures graph execution.
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	strategy   ErrorStrategy
	hooks      Hooks
	dispatcher Dispatcher
	workers    int
	retain     bool
	tracePath  string
}

func defaultSchedulerOptions() schedulerOptions {
	return schedulerOptions{
		strategy: FailFast,
	}
}

// WithErrorStrategy configures how the scheduler reacts to node failures.
func WithErrorStrategy(strategy ErrorStrategy) SchedulerOption {
	return func(opts *schedulerOptions) {
		opts.strategy = strategy
	}
}

// WithHooks registers hooks applied to every node in the graph.
func WithHooks(h Hooks) SchedulerOption {
	return func(opts *schedulerOptions) {
		opts.hooks = opts.hooks.Merge(h)
	}
}

// WithDispatcher supplies a dispatcher for a single run. The scheduler stops it
// when the run completes.
func WithDispatcher(dispatcher Dispatcher) SchedulerOption {
	return func(opts *schedulerOptions) {
		if dispatcher != nil {
			opts.dispatcher = dispatcher
		}
	}
}

// WithWorkers runs nodes on a fresh worker pool of size n for every run.
// Zero keeps one goroutine per ready node.
func WithWorkers(n int) SchedulerOption {
	return func(opts *schedulerOptions) {
		opts.workers = n
	}
}

// WithRetainedOutputs keeps every node output in Results instead of dropping
// streams once all their consumers finished.
func WithRetainedOutputs() SchedulerOption {
	return func(opts *schedulerOptions) {
		opts.retain = true
	}
}

// WithTracing records node timings and writes them as trace events to path
// after each run. An empty path uses DefaultTracePath.
func WithTracing(path string) SchedulerOption {
	return func(opts *schedulerOptions) {
		if path == "" {
			path = DefaultTracePath()
		}
		opts.tracePath = path
	}
}

// Scheduler executes task graphs.
type Scheduler struct {
	opts []SchedulerOption

	mu      sync.Mutex
	elapsed time.Duration
}

// NewScheduler returns a scheduler applying opts to every run.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	return &Scheduler{opts: opts}
}

// Time returns the wall-clock duration of the most recently completed run.
func (s *Scheduler) Time() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

func (s *Scheduler) setElapsed(d time.Duration) {
	s.mu.Lock()
	s.elapsed = d
	s.mu.Unlock()
}

// Execution encapsulates an in-flight or completed graph execution.
type Execution struct {
	results *Results
	metrics *ExecutionMetrics

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Results returns the shared result store (may be partially populated).
func (e *Execution) Results() *Results {
	return e.results
}

// Metrics returns the current execution metrics snapshot.
func (e *Execution) Metrics() ExecutionMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.metrics == nil {
		return ExecutionMetrics{}
	}
	copied := *e.metrics
	return copied
}

// Done reports when execution has completed.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Await blocks until execution completes and returns the final results.
func (e *Execution) Await() (*Results, ExecutionMetrics, error) {
	<-e.done
	return e.results, e.Metrics(), e.Err()
}

// Err returns the first error encountered.
func (e *Execution) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Cancel requests cancellation of the execution.
func (e *Execution) Cancel() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Execution) setError(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
}

// ExecutionMetrics aggregates run-level measurements.
type ExecutionMetrics struct {
	StartedAt      time.Time
	CompletedAt    time.Time
	Duration       time.Duration
	MaxConcurrency int
	TasksTotal     int
	TasksSucceeded int
	TasksFailed    int
	TasksSkipped   int
}

// Run executes the graph synchronously and blocks until it finishes.
func (s *Scheduler) Run(ctx context.Context, g *TaskGraph, opts ...SchedulerOption) error {
	_, _, err := s.Start(ctx, g, opts...).Await()
	return err
}

// Start begins executing the graph asynchronously. Per-call opts are applied
// after the scheduler's own options.
func (s *Scheduler) Start(ctx context.Context, g *TaskGraph, opts ...SchedulerOption) *Execution {
	execOpts := defaultSchedulerOptions()
	for _, opt := range s.opts {
		opt(&execOpts)
	}
	for _, opt := range opts {
		opt(&execOpts)
	}

	exec := &Execution{
		done: make(chan struct{}),
	}

	analysis, err := analyzeGraph(g)
	if err != nil {
		exec.metrics = &ExecutionMetrics{
			StartedAt:   now(),
			CompletedAt: now(),
		}
		exec.results = newResults(nil)
		exec.setError(err)
		if execOpts.dispatcher != nil {
			execOpts.dispatcher.Stop()
		}
		close(exec.done)
		return exec
	}

	dispatcher := execOpts.dispatcher
	if dispatcher == nil {
		if execOpts.workers > 0 {
			dispatcher = NewWorkerPoolDispatcher(execOpts.workers)
		} else {
			dispatcher = goroutineDispatcher{}
		}
	}

	var trace *TraceRecorder
	if execOpts.tracePath != "" {
		trace = NewTraceRecorder()
		execOpts.hooks = execOpts.hooks.Merge(trace.Hooks())
	}

	results := newResults(analysis.nodes)
	exec.metrics = &ExecutionMetrics{
		StartedAt:  now(),
		TasksTotal: len(analysis.nodes),
	}

	runCtx, cancel := context.WithCancel(ctx)
	exec.cancel = cancel
	exec.results = results

	engine := &executor{
		ctx:        runCtx,
		cancel:     cancel,
		options:    execOpts,
		analysis:   analysis,
		results:    results,
		execution:  exec,
		dispatcher: dispatcher,
		metrics:    exec.metrics,
		scheduler:  s,
		trace:      trace,
	}

	go engine.run()
	return exec
}

type executor struct {
	ctx        context.Context
	cancel     context.CancelFunc
	options    schedulerOptions
	analysis   *analysis
	results    *Results
	execution  *Execution
	dispatcher Dispatcher
	metrics    *ExecutionMetrics
	scheduler  *Scheduler
	trace      *TraceRecorder

	active         atomic.Int64
	maxConcurrency atomic.Int64

	metricsMu sync.Mutex
}

type taskState struct {
	node      *Node
	remaining int
	blocked   bool
	blockErr  error
	queued    bool
}

type taskResult struct {
	id     string
	status TaskStatus
	err    error
}

func (ex *executor) run() {
	defer close(ex.execution.done)
	defer ex.cancel()

	states := make(map[string]*taskState, len(ex.analysis.nodes))
	ready := make([]*taskState, 0)
	consumers := make(map[string]int, len(ex.analysis.nodes))

	for _, node := range ex.analysis.order {
		id := node.id
		consumers[id] = len(ex.analysis.dependents[id])
		state := &taskState{
			node:      node,
			remaining: ex.analysis.indegree[id],
		}
		states[id] = state
		if state.remaining == 0 {
			state.queued = true
			ready = append(ready, state)
		}
	}

	doneCh := make(chan taskResult, len(states))
	var wg sync.WaitGroup
	pending := len(states)

	for pending > 0 {
		for len(ready) > 0 {
			state := ready[0]
			ready = ready[1:]
			if state.blocked {
				doneCh <- ex.skipTask(state, state.blockErr)
				continue
			}
			if err := ex.ctx.Err(); err != nil {
				doneCh <- ex.skipTask(state, err)
				continue
			}
			wg.Add(1)
			st := state
			ex.dispatcher.Submit(func() {
				defer wg.Done()
				doneCh <- ex.runTask(st)
			})
		}

		result := <-doneCh
		pending--
		ex.handleResult(result, states, &ready)
		ex.releaseInputs(result.id, consumers)
	}

	wg.Wait()
	ex.dispatcher.Stop()
	ex.finalize(ex.ctx.Err())
}

func (ex *executor) finalize(ctxErr error) {
	ex.metricsMu.Lock()
	ex.metrics.CompletedAt = now()
	ex.metrics.Duration = ex.metrics.CompletedAt.Sub(ex.metrics.StartedAt)
	ex.metrics.MaxConcurrency = int(ex.maxConcurrency.Load())
	duration := ex.metrics.Duration
	ex.metricsMu.Unlock()

	if ctxErr != nil && !errors.Is(ex.execution.Err(), ctxErr) {
		ex.execution.setError(ctxErr)
	}
	if ex.scheduler != nil {
		ex.scheduler.setElapsed(duration)
	}
	if ex.trace != nil {
		if err := ex.trace.WriteFile(ex.options.tracePath); err != nil {
			ex.execution.setError(fmt.Errorf("tofu: write trace: %w", err))
		}
	}
}

func (ex *executor) metadata(node *Node) TaskMetadata {
	inputs := ex.analysis.inputs[node.id]
	ids := make([]string, len(inputs))
	for i, src := range inputs {
		ids[i] = src.id
	}
	return TaskMetadata{
		ID:         node.id,
		Plugin:     node.plugin,
		Inputs:     ids,
		Properties: node.task.Properties().Values(),
	}
}

func (ex *executor) runTask(state *taskState) taskResult {
	meta := ex.metadata(state.node)
	hooks := ex.options.hooks

	current := int(ex.active.Add(1))
	defer ex.active.Add(-1)
	ex.updateMaxConcurrency(current)

	startMetrics := ex.results.recordStart(state.node.id, current)
	ex.invokeHook(hooks.OnStart, TaskEvent{
		Metadata: meta,
		Metrics:  startMetrics,
	})

	var (
		output Stream
		runErr error
	)

	func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				runErr = TaskPanicError{
					NodeID: state.node.id,
					Value:  recovered,
				}
			}
		}()

		inputs := make([]Stream, len(ex.analysis.inputs[state.node.id]))
		for port, src := range ex.analysis.inputs[state.node.id] {
			stream, err := ex.results.output(src.id)
			if err != nil {
				runErr = fmt.Errorf("%s input %d: %w", state.node.id, port, err)
				return
			}
			inputs[port] = stream
		}
		output, runErr = state.node.task.Process(ex.ctx, inputs)
		if runErr != nil {
			runErr = fmt.Errorf("%s: %w", state.node.id, runErr)
		}
	}()

	var status TaskStatus
	var metrics TaskMetrics
	var result Stream

	if runErr != nil {
		status = StatusFailed
		metrics = ex.results.recordFailure(state.node.id, runErr, StatusFailed)
		ex.metricsMu.Lock()
		ex.metrics.TasksFailed++
		ex.metricsMu.Unlock()
		ex.invokeHook(hooks.OnFailure, TaskEvent{
			Metadata: meta,
			Metrics:  metrics,
		})
		ex.execution.setError(runErr)
		if ex.options.strategy == FailFast {
			ex.cancel()
		}
	} else {
		status = StatusSucceeded
		metrics = ex.results.recordSuccess(state.node.id, output)
		ex.metricsMu.Lock()
		ex.metrics.TasksSucceeded++
		ex.metricsMu.Unlock()
		ex.invokeHook(hooks.OnSuccess, TaskEvent{
			Metadata: meta,
			Metrics:  metrics,
			Output:   output,
		})
		result = output
	}

	finished := ex.results.recordFinish(state.node.id)
	ex.invokeHook(hooks.OnFinish, TaskEvent{
		Metadata: meta,
		Metrics:  finished,
		Output:   result,
	})

	return taskResult{
		id:     state.node.id,
		status: status,
		err:    runErr,
	}
}

func (ex *executor) skipTask(state *taskState, reason error) taskResult {
	meta := ex.metadata(state.node)
	if reason == nil {
		reason = fmt.Errorf("%w: dependency failure", ErrDependencyFailed)
	}
	state.blocked = true
	state.blockErr = reason
	hooks := ex.options.hooks
	metrics := ex.results.recordSkip(state.node.id, reason)
	ex.metricsMu.Lock()
	ex.metrics.TasksSkipped++
	ex.metricsMu.Unlock()
	ex.invokeHook(hooks.OnSkip, TaskEvent{
		Metadata: meta,
		Metrics:  metrics,
	})
	finished := ex.results.recordFinish(state.node.id)
	ex.invokeHook(hooks.OnFinish, TaskEvent{
		Metadata: meta,
		Metrics:  finished,
	})
	ex.execution.setError(reason)
	return taskResult{
		id:     state.node.id,
		status: StatusSkipped,
		err:    reason,
	}
}

func (ex *executor) handleResult(result taskResult, states map[string]*taskState, ready *[]*taskState) {
	for _, dependentID := range ex.analysis.dependents[result.id] {
		depState := states[dependentID]
		depState.remaining--
		if depState.remaining < 0 {
			depState.remaining = 0
		}
		switch result.status {
		case StatusFailed:
			if depState.blockErr == nil {
				if result.err != nil {
					depState.blockErr = fmt.Errorf("%w: dependency %s failed: %v", ErrDependencyFailed, result.id, result.err)
				} else {
					depState.blockErr = fmt.Errorf("%w: dependency %s failed", ErrDependencyFailed, result.id)
				}
			}
			depState.blocked = true
		case StatusSkipped:
			if depState.blockErr == nil {
				if result.err != nil {
					depState.blockErr = fmt.Errorf("%w: dependency %s skipped: %v", ErrDependencyFailed, result.id, result.err)
				} else {
					depState.blockErr = fmt.Errorf("%w: dependency %s skipped", ErrDependencyFailed, result.id)
				}
			}
			depState.blocked = true
		}
		if depState.remaining == 0 && !depState.queued {
			depState.queued = true
			*ready = append(*ready, depState)
		}
	}
}

// releaseInputs drops producer outputs once every consumer edge has completed.
func (ex *executor) releaseInputs(id string, consumers map[string]int) {
	if ex.options.retain {
		return
	}
	for _, src := range ex.analysis.inputs[id] {
		consumers[src.id]--
		if consumers[src.id] == 0 {
			ex.results.release(src.id)
		}
	}
}

func (ex *executor) invokeHook(hook HookFunc, event TaskEvent) {
	if hook != nil {
		hook(ex.ctx, event)
	}
}

func (ex *executor) updateMaxConcurrency(current int) {
	for {
		max := int(ex.maxConcurrency.Load())
		if current <= max {
			return
		}
		if ex.maxConcurrency.CompareAndSwap(int64(max), int64(current)) {
			ex.metricsMu.Lock()
			if current > ex.metrics.MaxConcurrency {
				ex.metrics.MaxConcurrency = current
			}
			ex.metricsMu.Unlock()
			return
		}
	}
}

// DefaultTracePath returns .PID.json in the working directory.
func DefaultTracePath() string {
	return fmt.Sprintf(".%d.json", os.Getpid())
}
