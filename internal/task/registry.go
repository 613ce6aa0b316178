// Package task tracks long-running background jobs: their lifecycle,
// progress, and results.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// terminal reports whether a status admits no further transitions.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrNotFound is returned for an unknown task id.
var ErrNotFound = fmt.Errorf("task not found")

// ErrFinished is returned when an operation targets a task already in a
// terminal state.
var ErrFinished = fmt.Errorf("task already finished")

// Task is a point-in-time snapshot of a tracked job.
type Task struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Status    Status         `json:"status"`
	Progress  int            `json:"progress"`
	Total     int            `json:"total"`
	Message   string         `json:"message"`
	Counters  map[string]int `json:"counters,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Percentage returns completion as 0-100, or 0 when total is unknown.
func (t Task) Percentage() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Progress) / float64(t.Total) * 100
}

// Update is a partial progress update. Nil fields leave the current
// value untouched; Counters entries are added to the running totals.
type Update struct {
	Progress *int
	Total    *int
	Message  *string
	Counters map[string]int
}

// entry is the registry's mutable record for one task. Each entry
// carries its own mutex so updates to different tasks never contend.
type entry struct {
	mu     sync.Mutex
	task   Task
	cancel context.CancelFunc
}

// Registry tracks background tasks in memory. Snapshots do not survive
// a restart; clients observing a connection reset re-poll and treat a
// missing task as expired.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Create registers a new pending task of the given kind and returns its
// id.
func (r *Registry) Create(kind string) string {
	id := uuid.NewString()
	now := time.Now().UTC()

	r.mu.Lock()
	r.entries[id] = &entry{task: Task{
		ID:        id,
		Kind:      kind,
		Status:    StatusPending,
		Counters:  make(map[string]int),
		CreatedAt: now,
		UpdatedAt: now,
	}}
	r.mu.Unlock()
	return id
}

func (r *Registry) get(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id string) (Task, error) {
	e, err := r.get(id)
	if err != nil {
		return Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.task), nil
}

// snapshot deep-copies the counters map so callers can't mutate
// registry state through a returned Task.
func snapshot(t Task) Task {
	if t.Counters != nil {
		c := make(map[string]int, len(t.Counters))
		for k, v := range t.Counters {
			c[k] = v
		}
		t.Counters = c
	}
	return t
}

// Start transitions a pending task to running and records the cancel
// function invoked by Cancel. Starting a non-pending task is an error.
func (r *Registry) Start(id string, cancel context.CancelFunc) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Status != StatusPending {
		return fmt.Errorf("starting task %s in state %s: %w", id, e.task.Status, ErrFinished)
	}
	e.task.Status = StatusRunning
	e.task.UpdatedAt = time.Now().UTC()
	e.cancel = cancel
	return nil
}

// Update merges a partial progress update into a running task.
// Progress and total never move backwards; stale lower values are
// ignored.
func (r *Registry) Update(id string, u Update) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Status.terminal() {
		return fmt.Errorf("updating task %s: %w", id, ErrFinished)
	}
	if u.Progress != nil && *u.Progress > e.task.Progress {
		e.task.Progress = *u.Progress
	}
	if u.Total != nil && *u.Total > e.task.Total {
		e.task.Total = *u.Total
	}
	if u.Message != nil {
		e.task.Message = *u.Message
	}
	for k, v := range u.Counters {
		e.task.Counters[k] += v
	}
	e.task.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete moves a task to its completed terminal state with an
// optional result payload.
func (r *Registry) Complete(id string, result any) error {
	return r.finish(id, StatusCompleted, result, "")
}

// Fail moves a task to its failed terminal state with an error message.
func (r *Registry) Fail(id string, msg string) error {
	return r.finish(id, StatusFailed, nil, msg)
}

func (r *Registry) finish(id string, status Status, result any, errMsg string) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Status.terminal() {
		return fmt.Errorf("finishing task %s: %w", id, ErrFinished)
	}
	e.task.Status = status
	e.task.Result = result
	e.task.Error = errMsg
	e.task.UpdatedAt = time.Now().UTC()
	e.cancel = nil
	return nil
}

// Cancel requests cancellation of a running task by cancelling its
// context. The task itself decides when to stop and report failure;
// cancellation is cooperative.
func (r *Registry) Cancel(id string) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Status.terminal() {
		return fmt.Errorf("cancelling task %s: %w", id, ErrFinished)
	}
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// List returns snapshots of all tracked tasks, newest first.
func (r *Registry) List() []Task {
	r.mu.RLock()
	tasks := make([]Task, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		tasks = append(tasks, snapshot(e.task))
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0 && tasks[j].CreatedAt.After(tasks[j-1].CreatedAt); j-- {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
		}
	}
	return tasks
}

// Run creates a task of the given kind, starts it in a goroutine, and
// resolves it from fn's return: a result on success, the error message
// on failure. The context passed to fn is cancelled by Cancel.
func Run(ctx context.Context, reg *Registry, kind string, fn func(ctx context.Context, id string) (any, error)) string {
	id := reg.Create(kind)
	runCtx, cancel := context.WithCancel(ctx)
	if err := reg.Start(id, cancel); err != nil {
		cancel()
		return id
	}

	go func() {
		defer cancel()
		result, err := fn(runCtx, id)
		if err != nil {
			reg.Fail(id, err.Error())
			return
		}
		reg.Complete(id, result)
	}()

	return id
}
