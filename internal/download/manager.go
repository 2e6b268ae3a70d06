// Package download runs cancellable, progress-reporting export downloads.
package download

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/artifact"
)

// Status is the lifecycle state of a download task.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Event is a task state snapshot published to subscribers.
type Event struct {
	Kind     artifact.Kind `json:"kind"`
	Status   Status        `json:"status"`
	Progress int           `json:"progress"`
	Error    string        `json:"error,omitempty"`
}

// Task tracks one export download.
type Task struct {
	Kind     artifact.Kind `json:"kind"`
	Status   Status        `json:"status"`
	Progress int           `json:"progress"`
	cancel   context.CancelFunc
}

// ErrAlreadyRunning rejects a second start for a kind already in flight.
var ErrAlreadyRunning = errors.New("a download of this kind is already running")

// Fetch produces the artifact bytes for a task, reporting progress.
type Fetch func(ctx context.Context, onProgress func(percent int)) ([]byte, error)

// Manager owns one task slot per artifact kind. Tasks for different kinds
// are mutually independent: cancelling one never touches another's state or
// cancellation handle. Terminal outcomes are signalled to subscribers and
// the slot then resets to idle.
type Manager struct {
	mu    sync.Mutex
	tasks map[artifact.Kind]*Task

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSub     int
}

// NewManager creates a manager with every slot idle.
func NewManager() *Manager {
	return &Manager{
		tasks:       map[artifact.Kind]*Task{},
		subscribers: map[int]chan Event{},
	}
}

// Subscribe returns a channel of task events and a cancel function. Slow
// subscribers drop events rather than blocking downloads.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Event, 64)
	m.subscribers[id] = ch
	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
	}
}

func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// TaskState returns the current snapshot for a kind.
func (m *Manager) TaskState(kind artifact.Kind) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[kind]; ok {
		return Task{Kind: t.Kind, Status: t.Status, Progress: t.Progress}
	}
	return Task{Kind: kind, Status: StatusIdle}
}

// Start runs a download for the kind, blocking until it finishes. It rejects
// the call if a task of that kind is already running. A completed transfer
// with zero bytes is a failure regardless of transport success. On success
// the task signals done at 100%, then the slot resets to idle.
func (m *Manager) Start(ctx context.Context, kind artifact.Kind, fetch Fetch) ([]byte, error) {
	m.mu.Lock()
	if t, ok := m.tasks[kind]; ok && t.Status == StatusRunning {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", kind, ErrAlreadyRunning)
	}
	taskCtx, cancel := context.WithCancel(ctx)
	task := &Task{Kind: kind, Status: StatusRunning, Progress: 0, cancel: cancel}
	m.tasks[kind] = task
	m.mu.Unlock()
	defer cancel()

	m.publish(Event{Kind: kind, Status: StatusRunning, Progress: 0})

	payload, err := fetch(taskCtx, func(percent int) {
		m.setProgress(kind, task, clamp(percent))
	})

	switch {
	case taskCtx.Err() != nil:
		// User-initiated abort resolves to cancelled, never failed.
		m.finish(kind, task, Event{Kind: kind, Status: StatusCancelled, Progress: 0})
		return nil, context.Canceled
	case err != nil:
		m.finish(kind, task, Event{Kind: kind, Status: StatusFailed, Progress: 0, Error: err.Error()})
		return nil, err
	case len(payload) == 0:
		emptyErr := &artifact.EmptyArtifactError{Kind: kind, Reason: "transfer completed with zero bytes"}
		m.finish(kind, task, Event{Kind: kind, Status: StatusFailed, Progress: 0, Error: emptyErr.Error()})
		return nil, emptyErr
	}

	m.finish(kind, task, Event{Kind: kind, Status: StatusDone, Progress: 100})
	return payload, nil
}

// Cancel invokes the cancellation handle of a running task of the kind.
// Cancelling is cooperative; the running Start call resolves the task to
// cancelled. Cancelling an idle slot is a no-op.
func (m *Manager) Cancel(kind artifact.Kind) {
	m.mu.Lock()
	t, ok := m.tasks[kind]
	var cancel context.CancelFunc
	if ok && t.Status == StatusRunning {
		cancel = t.cancel
	}
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) setProgress(kind artifact.Kind, task *Task, percent int) {
	m.mu.Lock()
	if m.tasks[kind] != task || task.Status != StatusRunning {
		m.mu.Unlock()
		return
	}
	task.Progress = percent
	m.mu.Unlock()
	m.publish(Event{Kind: kind, Status: StatusRunning, Progress: percent})
}

// finish publishes the terminal event, then resets the slot to idle.
func (m *Manager) finish(kind artifact.Kind, task *Task, ev Event) {
	m.mu.Lock()
	if m.tasks[kind] == task {
		task.Status = ev.Status
		task.Progress = ev.Progress
	}
	m.mu.Unlock()
	m.publish(ev)

	m.mu.Lock()
	if m.tasks[kind] == task {
		delete(m.tasks, kind)
	}
	m.mu.Unlock()
	m.publish(Event{Kind: kind, Status: StatusIdle, Progress: 0})
}

func clamp(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
