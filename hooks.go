package tofu

import (
	"context"
	"time"
)

// TaskStatus is the state of a node within one run.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusSkipped   TaskStatus = "skipped"
)

// Final reports whether a node in this state will not change again.
func (s TaskStatus) Final() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// TaskMetadata identifies the node an event is about. Properties is a
// snapshot taken when the node was scheduled.
type TaskMetadata struct {
	ID         string
	Plugin     string
	Inputs     []string
	Properties Properties
}

// TaskMetrics describes one node's execution. Frames counts the frames of its
// output stream.
type TaskMetrics struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Concurrency int
	Frames      int
	Status      TaskStatus
	Error       error
}

// TaskEvent is passed to hooks. Output is only set on success.
type TaskEvent struct {
	Metadata TaskMetadata
	Metrics  TaskMetrics
	Output   Stream
}

// HookFunc observes a node event. Hooks run on the goroutine executing the
// node and must not block for long.
type HookFunc func(context.Context, TaskEvent)

// Hooks are optional node callbacks. A node that runs gets OnStart and then
// OnSuccess or OnFailure; a node that never runs because of an upstream
// failure or cancellation gets OnSkip. OnFinish follows for every node.
type Hooks struct {
	OnStart   HookFunc
	OnSuccess HookFunc
	OnFailure HookFunc
	OnSkip    HookFunc
	OnFinish  HookFunc
}

// Merge returns hooks that call h and then other.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStart:   chainHooks(h.OnStart, other.OnStart),
		OnSuccess: chainHooks(h.OnSuccess, other.OnSuccess),
		OnFailure: chainHooks(h.OnFailure, other.OnFailure),
		OnSkip:    chainHooks(h.OnSkip, other.OnSkip),
		OnFinish:  chainHooks(h.OnFinish, other.OnFinish),
	}
}

func chainHooks(first, second HookFunc) HookFunc {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}
	return func(ctx context.Context, event TaskEvent) {
		first(ctx, event)
		second(ctx, event)
	}
}
