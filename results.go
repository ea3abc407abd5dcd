package tofu

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownNode indicates a node that is not part of the executed graph.
	ErrUnknownNode = errors.New("tofu: unknown node")
	// ErrOutputNotReady indicates an output was requested before the node completed.
	ErrOutputNotReady = errors.New("tofu: output not ready")
	// ErrOutputReleased indicates an output was dropped after all consumers read it.
	ErrOutputReleased = errors.New("tofu: output released")
	// ErrDependencyFailed indicates a producer finished unsuccessfully.
	ErrDependencyFailed = errors.New("tofu: dependency failed")
)

// Results tracks execution state of nodes.
type Results struct {
	mu       sync.RWMutex
	outputs  map[string]Stream
	released map[string]bool
	errors   map[string]error
	statuses map[string]TaskStatus
	metrics  map[string]TaskMetrics
}

func newResults(nodes map[string]*Node) *Results {
	statuses := make(map[string]TaskStatus, len(nodes))
	for id := range nodes {
		statuses[id] = StatusPending
	}
	return &Results{
		outputs:  make(map[string]Stream, len(nodes)),
		released: make(map[string]bool),
		errors:   make(map[string]error, len(nodes)),
		statuses: statuses,
		metrics:  make(map[string]TaskMetrics, len(nodes)),
	}
}

// Output retrieves the stream produced by a completed node.
func (r *Results) Output(n *Node) (Stream, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: nil node", ErrUnknownNode)
	}
	return r.output(n.id)
}

func (r *Results) output(id string) (Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.statuses[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	switch status {
	case StatusSucceeded:
		if r.released[id] {
			return nil, fmt.Errorf("%w: %s", ErrOutputReleased, id)
		}
		return r.outputs[id], nil
	case StatusFailed:
		return nil, r.errors[id]
	case StatusSkipped:
		return nil, ErrDependencyFailed
	default:
		return nil, ErrOutputNotReady
	}
}

// Error obtains the error recorded for a node.
func (r *Results) Error(n *Node) error {
	if n == nil {
		return ErrUnknownNode
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errors[n.id]
}

// Status returns the observed status for a node.
func (r *Results) Status(n *Node) TaskStatus {
	if n == nil {
		return StatusPending
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statuses[n.id]
}

// Metrics returns node metrics if available.
func (r *Results) Metrics(n *Node) (TaskMetrics, bool) {
	if n == nil {
		return TaskMetrics{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	metrics, ok := r.metrics[n.id]
	return metrics, ok
}

func (r *Results) release(id string) {
	r.mu.Lock()
	if _, ok := r.outputs[id]; ok {
		delete(r.outputs, id)
		r.released[id] = true
	}
	r.mu.Unlock()
}

func (r *Results) recordStart(id string, concurrency int) TaskMetrics {
	r.mu.Lock()
	metrics := r.metrics[id]
	metrics.StartedAt = now()
	metrics.Concurrency = concurrency
	metrics.Status = StatusRunning
	r.metrics[id] = metrics
	r.statuses[id] = StatusRunning
	r.mu.Unlock()
	return metrics
}

func (r *Results) recordSuccess(id string, output Stream) TaskMetrics {
	r.mu.Lock()
	r.outputs[id] = output
	metrics := r.metrics[id]
	metrics.CompletedAt = now()
	metrics.Duration = metrics.CompletedAt.Sub(metrics.StartedAt)
	metrics.Frames = len(output)
	metrics.Status = StatusSucceeded
	r.metrics[id] = metrics
	r.statuses[id] = StatusSucceeded
	r.mu.Unlock()
	return metrics
}

func (r *Results) recordFailure(id string, err error, status TaskStatus) TaskMetrics {
	r.mu.Lock()
	r.errors[id] = err
	metrics := r.metrics[id]
	if metrics.StartedAt.IsZero() {
		metrics.StartedAt = now()
	}
	metrics.CompletedAt = now()
	if metrics.Duration == 0 && !metrics.StartedAt.IsZero() {
		metrics.Duration = metrics.CompletedAt.Sub(metrics.StartedAt)
	}
	metrics.Error = err
	metrics.Status = status
	r.metrics[id] = metrics
	r.statuses[id] = status
	r.mu.Unlock()
	return metrics
}

func (r *Results) recordSkip(id string, err error) TaskMetrics {
	return r.recordFailure(id, err, StatusSkipped)
}

func (r *Results) recordFinish(id string) TaskMetrics {
	r.mu.Lock()
	metrics := r.metrics[id]
	if metrics.CompletedAt.IsZero() {
		metrics.CompletedAt = now()
	}
	if metrics.Duration == 0 && !metrics.StartedAt.IsZero() {
		metrics.Duration = metrics.CompletedAt.Sub(metrics.StartedAt)
	}
	r.metrics[id] = metrics
	r.mu.Unlock()
	return metrics
}
