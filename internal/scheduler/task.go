package scheduler

import (
	"context"
	"sync/atomic"
	"time"
)

type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

type task struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error

	state        atomic.Int32
	runs         atomic.Int64
	skipped      atomic.Int64
	failures     atomic.Int64
	lastRun      atomic.Int64
	lastDuration atomic.Int64
	lastError    atomic.Value
}

func (t *task) recordFailure(err error) {
	t.failures.Add(1)
	t.lastError.Store(err.Error())
}

type TaskStatus struct {
	Name         string        `json:"name"`
	Interval     string        `json:"interval"`
	State        string        `json:"state"`
	Runs         int64         `json:"runs"`
	Skipped      int64         `json:"skipped"`
	Failures     int64         `json:"failures"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
}

func (t *task) status() TaskStatus {
	st := TaskStatus{
		Name:         t.name,
		Interval:     t.interval.String(),
		State:        State(t.state.Load()).String(),
		Runs:         t.runs.Load(),
		Skipped:      t.skipped.Load(),
		Failures:     t.failures.Load(),
		LastDuration: time.Duration(t.lastDuration.Load()),
	}
	if ns := t.lastRun.Load(); ns > 0 {
		at := time.Unix(0, ns).UTC()
		st.LastRun = &at
	}
	if msg, ok := t.lastError.Load().(string); ok {
		st.LastError = msg
	}
	return st
}
