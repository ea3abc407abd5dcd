package tofu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type funcTask struct {
	props  *PropertySet
	inputs int
	run    func(ctx context.Context, inputs []Stream) (Stream, error)
}

func (t *funcTask) Properties() *PropertySet { return t.props }
func (t *funcTask) NumInputs() int           { return t.inputs }

func (t *funcTask) Process(ctx context.Context, inputs []Stream) (Stream, error) {
	return t.run(ctx, inputs)
}

func newFuncNode(t *testing.T, label string, inputs int, run func(ctx context.Context, inputs []Stream) (Stream, error)) *Node {
	t.Helper()
	n, err := NewNode(label, &funcTask{props: NewPropertySet(), inputs: inputs, run: run})
	if err != nil {
		t.Fatalf("new node %s: %v", label, err)
	}
	return n
}

func scalar(v float32) Stream {
	f := NewFrame(1, 1)
	f.Data[0] = v
	return Stream{f}
}

func constNode(t *testing.T, label string, v float32) *Node {
	return newFuncNode(t, label, 0, func(ctx context.Context, _ []Stream) (Stream, error) {
		return scalar(v), nil
	})
}

func sumNode(t *testing.T, label string, inputs int) *Node {
	return newFuncNode(t, label, inputs, func(ctx context.Context, in []Stream) (Stream, error) {
		var total float32
		for _, s := range in {
			total += s[0].Data[0]
		}
		return scalar(total), nil
	})
}

func mustConnect(t *testing.T, g *TaskGraph, src, dst *Node, input int) {
	t.Helper()
	if err := g.ConnectNodesFull(src, dst, input); err != nil {
		t.Fatalf("connect %s -> %s:%d: %v", src.ID(), dst.ID(), input, err)
	}
}

func TestRunSimpleGraph(t *testing.T) {
	g := NewTaskGraph()
	a := constNode(t, "a", 1)
	b := newFuncNode(t, "b", 1, func(ctx context.Context, in []Stream) (Stream, error) {
		return scalar(in[0][0].Data[0] + 2), nil
	})
	c := sumNode(t, "c", 2)

	mustConnect(t, g, a, b, 0)
	mustConnect(t, g, a, c, 0)
	mustConnect(t, g, b, c, 1)

	results, metrics, err := NewScheduler().Start(context.Background(), g).Await()
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	out, err := results.Output(c)
	if err != nil {
		t.Fatalf("result c: %v", err)
	}
	if got := out[0].Data[0]; got != 4 {
		t.Fatalf("expected c result 4, got %v", got)
	}

	if metrics.TasksTotal != 3 || metrics.TasksSucceeded != 3 || metrics.TasksFailed != 0 || metrics.TasksSkipped != 0 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
	if metrics.MaxConcurrency < 1 {
		t.Fatalf("expected max concurrency >= 1, got %d", metrics.MaxConcurrency)
	}
	if m, ok := results.Metrics(c); !ok || m.Frames != 1 {
		t.Fatalf("expected c metrics with one frame, got %+v (%v)", m, ok)
	}
}

func TestInputPortsKeepOrder(t *testing.T) {
	g := NewTaskGraph()
	first := constNode(t, "first", 10)
	second := constNode(t, "second", 3)
	diff := newFuncNode(t, "diff", 2, func(ctx context.Context, in []Stream) (Stream, error) {
		return scalar(in[0][0].Data[0] - in[1][0].Data[0]), nil
	})

	// Connect port 1 first; inputs are still delivered by port.
	mustConnect(t, g, second, diff, 1)
	mustConnect(t, g, first, diff, 0)

	results, _, err := NewScheduler().Start(context.Background(), g).Await()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	out, err := results.Output(diff)
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if got := out[0].Data[0]; got != 7 {
		t.Fatalf("expected 7, got %v", got)
	}

	preds := g.Predecessors(diff)
	if len(preds) != 2 || preds[0] != first || preds[1] != second {
		t.Fatalf("unexpected predecessors %v", preds)
	}
}

func TestCycleDetection(t *testing.T) {
	g := NewTaskGraph()
	a := sumNode(t, "a", 1)
	b := sumNode(t, "b", 1)
	mustConnect(t, g, a, b, 0)
	mustConnect(t, g, b, a, 0)

	if err := g.Validate(); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected cycle detected error, got %v", err)
	}
	if err := NewScheduler().Run(context.Background(), g); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected run to fail with cycle error, got %v", err)
	}
}

func TestUnconnectedInputValidation(t *testing.T) {
	g := NewTaskGraph()
	src := constNode(t, "src", 1)
	sum := sumNode(t, "sum", 2)
	mustConnect(t, g, src, sum, 0)

	if err := g.Validate(); !errors.Is(err, ErrUnconnectedInput) {
		t.Fatalf("expected unconnected input error, got %v", err)
	}
	if err := NewScheduler().Run(context.Background(), NewTaskGraph()); !errors.Is(err, ErrEmptyGraph) {
		t.Fatalf("expected empty graph error, got %v", err)
	}
}

func TestConnectValidationErrors(t *testing.T) {
	g := NewTaskGraph()
	src := constNode(t, "src", 1)
	sink := sumNode(t, "sink", 1)

	if err := g.ConnectNodesFull(src, sink, 1); !errors.Is(err, ErrInputOutOfRange) {
		t.Fatalf("expected ErrInputOutOfRange, got %v", err)
	}
	if err := g.ConnectNodes(sink, sink); !errors.Is(err, ErrSelfLoop) {
		t.Fatalf("expected ErrSelfLoop, got %v", err)
	}
	if err := g.ConnectNodes(nil, sink); !errors.Is(err, ErrNilNode) {
		t.Fatalf("expected ErrNilNode, got %v", err)
	}
	mustConnect(t, g, src, sink, 0)
	other := constNode(t, "other", 2)
	if err := g.ConnectNodes(other, sink); !errors.Is(err, ErrInputConnected) {
		t.Fatalf("expected ErrInputConnected, got %v", err)
	}

	clash := constNode(t, "clash", 3)
	clash.id = src.id
	if err := g.AddNode(clash); !errors.Is(err, ErrNodeExists) {
		t.Fatalf("expected ErrNodeExists, got %v", err)
	}
	if err := g.AddNode(src); err != nil {
		t.Fatalf("re-adding the same node should be a no-op: %v", err)
	}
	if _, err := NewNode("nil", nil); !errors.Is(err, ErrNilTask) {
		t.Fatalf("expected ErrNilTask, got %v", err)
	}
}

func TestConnectClashLeavesGraphUnchanged(t *testing.T) {
	g := NewTaskGraph()
	src := constNode(t, "src", 1)
	sink := sumNode(t, "sink", 1)
	mustConnect(t, g, src, sink, 0)

	fresh := constNode(t, "fresh", 2)
	clash := sumNode(t, "clash", 1)
	clash.id = sink.id
	if err := g.ConnectNodes(fresh, clash); !errors.Is(err, ErrNodeExists) {
		t.Fatalf("expected ErrNodeExists, got %v", err)
	}
	if _, ok := g.Node(fresh.ID()); ok {
		t.Fatalf("source of a failed connection was added to the graph")
	}

	twin := sumNode(t, "twin", 1)
	twin.id = fresh.id
	if err := g.ConnectNodes(fresh, twin); !errors.Is(err, ErrNodeExists) {
		t.Fatalf("expected ErrNodeExists for equal ids, got %v", err)
	}
	if got := len(g.Nodes()); got != 2 {
		t.Fatalf("expected 2 nodes, got %d", got)
	}
	if got := len(g.Edges()); got != 1 {
		t.Fatalf("expected 1 edge, got %d", got)
	}
}

func TestFailFastStrategy(t *testing.T) {
	g := NewTaskGraph()
	failErr := errors.New("boom")

	fail := newFuncNode(t, "fail", 0, func(ctx context.Context, _ []Stream) (Stream, error) {
		return nil, failErr
	})
	dependent := sumNode(t, "dependent", 1)
	independent := newFuncNode(t, "independent", 0, func(ctx context.Context, _ []Stream) (Stream, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return scalar(42), nil
		}
	})
	mustConnect(t, g, fail, dependent, 0)
	if err := g.AddNode(independent); err != nil {
		t.Fatalf("add independent: %v", err)
	}

	results, metrics, err := NewScheduler(WithErrorStrategy(FailFast)).Start(context.Background(), g).Await()
	if !errors.Is(err, failErr) {
		t.Fatalf("expected fail-fast error %v, got %v", failErr, err)
	}
	if !strings.Contains(err.Error(), fail.ID()) {
		t.Fatalf("expected error to name node %s, got %v", fail.ID(), err)
	}

	if status := results.Status(fail); status != StatusFailed {
		t.Fatalf("expected fail status failed, got %s", status)
	}
	if status := results.Status(dependent); status != StatusSkipped {
		t.Fatalf("expected dependent skipped, got %s", status)
	}
	if status := results.Status(independent); status != StatusFailed {
		t.Fatalf("expected independent failure due to cancellation, got %s", status)
	}
	if metrics.TasksSkipped != 1 {
		t.Fatalf("expected one skipped task, metrics=%+v", metrics)
	}
	if depErr := results.Error(dependent); !errors.Is(depErr, ErrDependencyFailed) {
		t.Fatalf("expected dependency failure error, got %v", depErr)
	}
}

func TestContinueOnErrorStrategy(t *testing.T) {
	g := NewTaskGraph()
	failErr := errors.New("oops")

	fail := newFuncNode(t, "fail", 0, func(ctx context.Context, _ []Stream) (Stream, error) {
		return nil, failErr
	})
	skipped := sumNode(t, "skipped", 1)
	solo := constNode(t, "solo", 99)
	mustConnect(t, g, fail, skipped, 0)
	if err := g.AddNode(solo); err != nil {
		t.Fatalf("add solo: %v", err)
	}

	results, metrics, err := NewScheduler().Start(context.Background(), g, WithErrorStrategy(ContinueOnError)).Await()
	if !errors.Is(err, failErr) {
		t.Fatalf("expected continue to report failure %v, got %v", failErr, err)
	}
	if status := results.Status(solo); status != StatusSucceeded {
		t.Fatalf("expected solo succeeded, got %s", status)
	}
	if status := results.Status(fail); status != StatusFailed {
		t.Fatalf("expected fail task failed, got %s", status)
	}
	if metrics.TasksSucceeded != 1 || metrics.TasksFailed != 1 || metrics.TasksSkipped != 1 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}

	out, err := results.Output(solo)
	if err != nil {
		t.Fatalf("solo result: %v", err)
	}
	if out[0].Data[0] != 99 {
		t.Fatalf("expected solo value 99, got %v", out[0].Data[0])
	}
}

func TestHooksInvocation(t *testing.T) {
	g := NewTaskGraph()
	var mu sync.Mutex
	events := make([]string, 0, 8)
	record := func(label string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, label)
	}

	success := constNode(t, "success", 7)
	failure := newFuncNode(t, "failure", 1, func(ctx context.Context, _ []Stream) (Stream, error) {
		return nil, errors.New("fail")
	})
	mustConnect(t, g, success, failure, 0)

	hooks := Hooks{
		OnStart: func(ctx context.Context, event TaskEvent) {
			record(fmt.Sprintf("%s:onStart", event.Metadata.Plugin))
		},
		OnSuccess: func(ctx context.Context, event TaskEvent) {
			record(fmt.Sprintf("%s:onSuccess:%s", event.Metadata.Plugin, event.Metrics.Status))
		},
		OnFailure: func(ctx context.Context, event TaskEvent) {
			record(fmt.Sprintf("%s:onFailure:%s", event.Metadata.Plugin, event.Metrics.Status))
		},
		OnFinish: func(ctx context.Context, event TaskEvent) {
			record(fmt.Sprintf("%s:onFinish:%s", event.Metadata.Plugin, event.Metrics.Status))
		},
	}
	results, _, _ := NewScheduler(WithHooks(hooks)).Start(context.Background(), g).Await()

	if status := results.Status(success); status != StatusSucceeded {
		t.Fatalf("expected success task succeeded, got %s", status)
	}

	expected := []string{
		"success:onStart",
		"success:onSuccess:succeeded",
		"success:onFinish:succeeded",
		"failure:onStart",
		"failure:onFailure:failed",
		"failure:onFinish:failed",
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != len(expected) {
		t.Fatalf("expected %d events, got %d (%v)", len(expected), len(events), events)
	}
	for i, want := range expected {
		if events[i] != want {
			t.Fatalf("event %d: expected %s, got %s (all %v)", i, want, events[i], events)
		}
	}
}

func TestSkipHook(t *testing.T) {
	g := NewTaskGraph()
	fail := newFuncNode(t, "fail", 0, func(ctx context.Context, _ []Stream) (Stream, error) {
		return nil, errors.New("fail")
	})
	dependent := sumNode(t, "dependent", 1)
	mustConnect(t, g, fail, dependent, 0)

	var mu sync.Mutex
	var failed, skipped, finished []string
	hooks := Hooks{
		OnFailure: func(ctx context.Context, event TaskEvent) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, event.Metadata.Plugin)
		},
		OnSkip: func(ctx context.Context, event TaskEvent) {
			mu.Lock()
			defer mu.Unlock()
			skipped = append(skipped, event.Metadata.Plugin)
			if !errors.Is(event.Metrics.Error, ErrDependencyFailed) {
				t.Errorf("expected dependency error, got %v", event.Metrics.Error)
			}
		},
		OnFinish: func(ctx context.Context, event TaskEvent) {
			mu.Lock()
			defer mu.Unlock()
			finished = append(finished, event.Metadata.Plugin)
			if !event.Metrics.Status.Final() {
				t.Errorf("%s finished in state %s", event.Metadata.Plugin, event.Metrics.Status)
			}
		},
	}
	_ = NewScheduler(WithHooks(hooks)).Run(context.Background(), g)

	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 || failed[0] != "fail" {
		t.Fatalf("expected only fail to fail, got %v", failed)
	}
	if len(skipped) != 1 || skipped[0] != "dependent" {
		t.Fatalf("expected dependent skipped, got %v", skipped)
	}
	if len(finished) != 2 {
		t.Fatalf("expected two finish events, got %v", finished)
	}
}

func TestTaskStatusFinal(t *testing.T) {
	for status, want := range map[TaskStatus]bool{
		StatusPending:   false,
		StatusRunning:   false,
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusSkipped:   true,
	} {
		if got := status.Final(); got != want {
			t.Fatalf("%s.Final() = %v, want %v", status, got, want)
		}
	}
}

func TestMaxConcurrencyTracking(t *testing.T) {
	g := NewTaskGraph()
	slow := func(v float32) func(context.Context, []Stream) (Stream, error) {
		return func(ctx context.Context, _ []Stream) (Stream, error) {
			time.Sleep(50 * time.Millisecond)
			return scalar(v), nil
		}
	}
	a := newFuncNode(t, "a", 0, slow(1))
	b := newFuncNode(t, "b", 0, slow(2))
	c := sumNode(t, "c", 2)
	mustConnect(t, g, a, c, 0)
	mustConnect(t, g, b, c, 1)

	_, metrics, err := NewScheduler().Start(context.Background(), g).Await()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if metrics.MaxConcurrency < 2 {
		t.Fatalf("expected max concurrency >= 2, got %d", metrics.MaxConcurrency)
	}
}

func TestRunCancellation(t *testing.T) {
	g := NewTaskGraph()
	started := make(chan struct{})
	var once sync.Once

	slow := newFuncNode(t, "slow", 0, func(ctx context.Context, _ []Stream) (Stream, error) {
		once.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return scalar(1), nil
		}
	})
	dependent := sumNode(t, "dependent", 1)
	mustConnect(t, g, slow, dependent, 0)

	exec := NewScheduler().Start(context.Background(), g)
	<-started
	exec.Cancel()

	results, metrics, err := exec.Await()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation error, got %v", err)
	}
	if status := results.Status(slow); status != StatusFailed {
		t.Fatalf("expected slow task to fail due to cancellation, got %s", status)
	}
	if status := results.Status(dependent); status != StatusSkipped {
		t.Fatalf("expected dependent skipped, got %s", status)
	}
	if metrics.TasksSkipped != 1 {
		t.Fatalf("expected one skipped task, metrics=%+v", metrics)
	}
}

func TestTaskPanicIsCaptured(t *testing.T) {
	g := NewTaskGraph()
	panicNode := newFuncNode(t, "panic", 0, func(ctx context.Context, _ []Stream) (Stream, error) {
		panic("kaboom")
	})
	if err := g.AddNode(panicNode); err != nil {
		t.Fatalf("add panic: %v", err)
	}

	results, metrics, err := NewScheduler().Start(context.Background(), g).Await()
	if err == nil {
		t.Fatal("expected panic to propagate as error")
	}

	var panicErr TaskPanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected TaskPanicError, got %T (%v)", err, err)
	}
	if panicErr.NodeID != panicNode.ID() {
		t.Fatalf("expected panic node id %s, got %s", panicNode.ID(), panicErr.NodeID)
	}
	if status := results.Status(panicNode); status != StatusFailed {
		t.Fatalf("expected panic task failed, got %s", status)
	}
	if metrics.TasksFailed != 1 {
		t.Fatalf("expected one failed task, metrics=%+v", metrics)
	}
}

func TestOutputsReleasedAfterConsumers(t *testing.T) {
	build := func() (*TaskGraph, *Node, *Node) {
		g := NewTaskGraph()
		src := constNode(t, "src", 5)
		left := sumNode(t, "left", 1)
		right := sumNode(t, "right", 1)
		mustConnect(t, g, src, left, 0)
		mustConnect(t, g, src, right, 0)
		return g, src, left
	}

	g, src, left := build()
	results, _, err := NewScheduler().Start(context.Background(), g).Await()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := results.Output(src); !errors.Is(err, ErrOutputReleased) {
		t.Fatalf("expected released source output, got %v", err)
	}
	if out, err := results.Output(left); err != nil || out[0].Data[0] != 5 {
		t.Fatalf("expected leaf output 5, got %v (%v)", out, err)
	}

	g, src, _ = build()
	results, _, err = NewScheduler(WithRetainedOutputs()).Start(context.Background(), g).Await()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := results.Output(src); err != nil {
		t.Fatalf("expected retained source output, got %v", err)
	}
}

func TestWorkerPoolDispatcherLimitsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := NewTaskGraph()
	startGate := make(chan struct{})
	releaseGate := make(chan struct{})
	var mu sync.Mutex
	current := 0
	maxObserved := 0

	hooks := Hooks{
		OnStart: func(ctx context.Context, event TaskEvent) {
			mu.Lock()
			current++
			if current > maxObserved {
				maxObserved = current
			}
			mu.Unlock()
		},
		OnFinish: func(ctx context.Context, event TaskEvent) {
			mu.Lock()
			current--
			mu.Unlock()
		},
	}

	nodes := make([]*Node, 0, 5)
	for i := range 5 {
		value := float32(i)
		n := newFuncNode(t, fmt.Sprintf("task%d", i), 0, func(ctx context.Context, _ []Stream) (Stream, error) {
			<-startGate
			<-releaseGate
			return scalar(value), nil
		})
		if err := g.AddNode(n); err != nil {
			t.Fatalf("add %s: %v", n.ID(), err)
		}
		nodes = append(nodes, n)
	}

	exec := NewScheduler(WithHooks(hooks)).Start(context.Background(), g, WithDispatcher(NewWorkerPoolDispatcher(2)))

	time.Sleep(20 * time.Millisecond)
	close(startGate)
	time.Sleep(20 * time.Millisecond)
	close(releaseGate)

	results, metrics, err := exec.Await()
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	for _, n := range nodes {
		if status := results.Status(n); status != StatusSucceeded {
			t.Fatalf("expected %s success, got %s", n.ID(), status)
		}
	}

	mu.Lock()
	observed := maxObserved
	mu.Unlock()

	if observed > 2 {
		t.Fatalf("expected observed concurrency <= 2, got %d", observed)
	}
	if metrics.MaxConcurrency > 2 {
		t.Fatalf("expected metrics concurrency <= 2, got %d", metrics.MaxConcurrency)
	}
	if metrics.TasksSucceeded != len(nodes) {
		t.Fatalf("expected %d succeeded tasks, metrics=%+v", len(nodes), metrics)
	}
}

func TestWithWorkersCreatesPoolPerRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler(WithWorkers(1))
	for range 2 {
		g := NewTaskGraph()
		a := constNode(t, "a", 1)
		b := constNode(t, "b", 2)
		c := sumNode(t, "c", 2)
		mustConnect(t, g, a, c, 0)
		mustConnect(t, g, b, c, 1)

		_, metrics, err := s.Start(context.Background(), g).Await()
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if metrics.MaxConcurrency != 1 {
			t.Fatalf("expected serial execution, got %d", metrics.MaxConcurrency)
		}
	}
}

func TestSchedulerTimeAndTracing(t *testing.T) {
	g := NewTaskGraph()
	a := newFuncNode(t, "a", 0, func(ctx context.Context, _ []Stream) (Stream, error) {
		time.Sleep(10 * time.Millisecond)
		return scalar(1), nil
	})
	b := sumNode(t, "b", 1)
	mustConnect(t, g, a, b, 0)

	path := filepath.Join(t.TempDir(), "trace.json")
	s := NewScheduler(WithTracing(path))
	if s.Time() != 0 {
		t.Fatalf("expected zero time before any run, got %v", s.Time())
	}
	if err := s.Run(context.Background(), g); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.Time() < 10*time.Millisecond {
		t.Fatalf("expected elapsed >= 10ms, got %v", s.Time())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	for _, want := range []string{`"traceEvents"`, a.ID(), b.ID(), `"ph": "X"`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("trace missing %s:\n%s", want, data)
		}
	}
}

func TestDefaultTracePath(t *testing.T) {
	want := fmt.Sprintf(".%d.json", os.Getpid())
	if got := DefaultTracePath(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestWorkerPoolDispatcherAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := NewWorkerPoolDispatcher(1)
	var ran sync.WaitGroup
	ran.Add(1)
	d.Submit(ran.Done)
	d.Stop()
	d.Stop()

	calls := 0
	d.Submit(func() { calls++ })
	if calls != 1 {
		t.Fatalf("expected inline call after stop, got %d", calls)
	}
	ran.Wait()
}
