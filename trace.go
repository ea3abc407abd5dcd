package tofu

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// TraceEvent is a complete ("X") event in the Chrome trace-event format.
// Timestamps and durations are in microseconds.
type TraceEvent struct {
	Name      string         `json:"name"`
	Category  string         `json:"cat"`
	Phase     string         `json:"ph"`
	Timestamp int64          `json:"ts"`
	Duration  int64          `json:"dur"`
	PID       int            `json:"pid"`
	TID       int            `json:"tid"`
	Args      map[string]any `json:"args,omitempty"`
}

// TraceRecorder collects node timings from scheduler hooks.
type TraceRecorder struct {
	mu     sync.Mutex
	origin time.Time
	pid    int
	lanes  []time.Time
	events []TraceEvent
}

// NewTraceRecorder returns an empty recorder. Event timestamps are relative to
// the first recorded node start.
func NewTraceRecorder() *TraceRecorder {
	return &TraceRecorder{pid: os.Getpid()}
}

// Hooks returns hooks that record one event per finished node.
func (t *TraceRecorder) Hooks() Hooks {
	return Hooks{
		OnFinish: func(_ context.Context, event TaskEvent) {
			t.record(event)
		},
	}
}

func (t *TraceRecorder) record(event TaskEvent) {
	m := event.Metrics
	if m.StartedAt.IsZero() {
		return
	}
	end := m.CompletedAt
	if end.IsZero() {
		end = m.StartedAt.Add(m.Duration)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.origin.IsZero() || m.StartedAt.Before(t.origin) {
		t.origin = m.StartedAt
	}

	args := map[string]any{
		"plugin": event.Metadata.Plugin,
		"status": string(m.Status),
		"frames": m.Frames,
	}
	if m.Error != nil {
		args["error"] = m.Error.Error()
	}
	t.events = append(t.events, TraceEvent{
		Name:     event.Metadata.ID,
		Category: event.Metadata.Plugin,
		Phase:    "X",
		PID:      t.pid,
		TID:      t.lane(m.StartedAt, end),
		Args:     args,
		// Timestamp and duration are resolved against origin when written.
		Timestamp: m.StartedAt.UnixMicro(),
		Duration:  end.Sub(m.StartedAt).Microseconds(),
	})
}

// lane assigns a thread id so that overlapping nodes land on separate rows.
func (t *TraceRecorder) lane(start, end time.Time) int {
	for i, busyUntil := range t.lanes {
		if !start.Before(busyUntil) {
			t.lanes[i] = end
			return i + 1
		}
	}
	t.lanes = append(t.lanes, end)
	return len(t.lanes)
}

// Events returns the recorded events ordered by start time.
func (t *TraceRecorder) Events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	origin := t.origin.UnixMicro()
	events := make([]TraceEvent, len(t.events))
	for i, ev := range t.events {
		ev.Timestamp -= origin
		events[i] = ev
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return events
}

// WriteJSON encodes the recorded events as a trace-event document.
func (t *TraceRecorder) WriteJSON(w io.Writer) error {
	if w == nil {
		return ErrNilWriter
	}
	doc := struct {
		TraceEvents     []TraceEvent `json:"traceEvents"`
		DisplayTimeUnit string       `json:"displayTimeUnit"`
	}{
		TraceEvents:     t.Events(),
		DisplayTimeUnit: "ms",
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// WriteFile writes the trace document to path, replacing an existing file.
func (t *TraceRecorder) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
