// Package tasks runs fire-and-forget background work and drains it on
// shutdown. Every task is tracked from the moment it is scheduled until it
// returns, so Len always reports exactly the unfinished tasks.
package tasks

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Task.
type State int32

const (
	StateRunning State = iota
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Task is one background unit.
type Task struct {
	id     uint64
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
}

// Name returns the label the task was scheduled with.
func (t *Task) Name() string { return t.name }

// Done is closed when the task function has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// State returns the current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// markCancelled moves a running task to cancelled and cancels its context.
func (t *Task) markCancelled() {
	t.state.CompareAndSwap(int32(StateRunning), int32(StateCancelled))
	t.cancel()
}

// DrainResult summarizes a Drain call.
type DrainResult struct {
	Completed int
	Cancelled int
}

// Set tracks in-flight tasks.
type Set struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	tasks  map[uint64]*Task
}

// NewSet creates an empty task set.
func NewSet(logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		logger: logger.With("component", "tasks"),
		tasks:  make(map[uint64]*Task),
	}
}

// Go runs fn in a new goroutine with a context derived from parent. The task
// is registered before Go returns and removed when fn returns, whatever the
// outcome. A panic in fn is recovered and logged.
func (s *Set) Go(parent context.Context, name string, fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.nextID++
	t.id = s.nextID
	s.tasks[t.id] = t
	s.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Warn("background task panicked", "task", name, "panic", r)
			}
			t.state.CompareAndSwap(int32(StateRunning), int32(StateCompleted))
			cancel()
			s.remove(t)
			close(t.done)
		}()
		fn(ctx)
	}()
	return t
}

// Len returns the number of unfinished tasks.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Set) remove(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t.id)
	s.mu.Unlock()
}

// Drain snapshots and clears the set, waits up to timeout for the snapshot to
// finish, then cancels whatever is still running. Cancellation only signals
// the task's context; Drain does not wait for cancelled tasks to return.
func (s *Set) Drain(timeout time.Duration) (result DrainResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("task drain panicked", "panic", r)
		}
	}()

	s.mu.Lock()
	pending := make([]*Task, 0, len(s.tasks))
	for id, t := range s.tasks {
		pending = append(pending, t)
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if len(pending) == 0 {
		return result
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	remaining := pending
wait:
	for len(remaining) > 0 {
		select {
		case <-remaining[0].Done():
			remaining = remaining[1:]
			result.Completed++
		case <-timer.C:
			break wait
		}
	}

	for _, t := range remaining {
		select {
		case <-t.Done():
			result.Completed++
		default:
			t.markCancelled()
			result.Cancelled++
		}
	}

	if result.Cancelled > 0 {
		s.logger.Info("background tasks cancelled at drain deadline",
			"cancelled", result.Cancelled,
			"completed", result.Completed,
			"timeout", timeout,
		)
	}
	return result
}
