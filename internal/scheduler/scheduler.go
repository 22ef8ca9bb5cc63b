// Package scheduler runs cooperative tasks on the caller's goroutine.
//
// The scheduler never runs on its own: tasks advance only inside
// RunUntilStalled, and a suspended task resumes only after an external caller
// delivers a value for the token it parked on.
package scheduler

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/shiguredo/media-processors/pkg/model"
)

// Status is the outcome of one task step.
type Status int

const (
	// Suspended means the task parked on a token and waits for a wake.
	Suspended Status = iota
	// Done means the task finished. It stays registered until removed.
	Done
)

// Park reserves a wake token for the task being stepped. It must be called at
// most once per step, before the operation whose completion will be reported
// with the token is started.
type Park func() model.Token

// Task is a resumable unit of work.
type Task interface {
	// Step runs the task until it suspends or finishes. value is nil on the
	// first step and the wake value on every later one.
	Step(park Park, value any) Status
	// Close releases resources held by the task. It is called exactly once,
	// when the task is removed or replaced.
	Close()
}

// TaskState is the scheduler's view of a registered task.
type TaskState int

const (
	TaskReady TaskState = iota
	TaskRunning
	TaskParked
	TaskDone
	TaskStalled
	taskRemoved
)

var taskStateNames = map[TaskState]string{
	TaskReady:   "ready",
	TaskRunning: "running",
	TaskParked:  "parked",
	TaskDone:    "done",
	TaskStalled: "stalled",
	taskRemoved: "removed",
}

func (s TaskState) String() string {
	if n, ok := taskStateNames[s]; ok {
		return n
	}
	return "unknown"
}

type entry struct {
	key   string
	task  Task
	state TaskState
	token model.Token
	value any
	// closePending defers Close until the running step returns.
	closePending bool
}

// Scheduler owns tasks keyed by string. It is not safe for concurrent use.
type Scheduler struct {
	logger    *slog.Logger
	tasks     map[string]*entry
	ready     []*entry
	parked    map[model.Token]*entry
	running   *entry
	nextToken model.Token
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		tasks:  make(map[string]*entry),
		parked: make(map[model.Token]*entry),
	}
}

// Spawn registers task under key and queues it to run. A task already
// registered under key is removed first.
func (s *Scheduler) Spawn(key string, task Task) {
	if s.Remove(key) {
		s.logger.Debug("task replaced", "key", key)
	}
	e := &entry{key: key, task: task, state: TaskReady}
	s.tasks[key] = e
	s.ready = append(s.ready, e)
}

// Remove drops the task registered under key and closes it. Tokens the task
// was parked on become unknown, so late wakes for them are ignored.
func (s *Scheduler) Remove(key string) bool {
	e, ok := s.tasks[key]
	if !ok {
		return false
	}
	delete(s.tasks, key)
	if e.token != 0 {
		delete(s.parked, e.token)
		e.token = 0
	}
	e.state = taskRemoved
	e.value = nil
	if e == s.running {
		e.closePending = true
		return true
	}
	e.task.Close()
	return true
}

// Wake resumes the task parked on token with value. It reports false when no
// task waits on token, which happens for late completions of removed tasks.
func (s *Scheduler) Wake(token model.Token, value any) bool {
	e, ok := s.parked[token]
	if !ok {
		s.logger.Debug("wake for unknown token ignored", "token", token)
		return false
	}
	delete(s.parked, token)
	e.token = 0
	e.value = value
	e.state = TaskReady
	s.ready = append(s.ready, e)
	return true
}

// Abandon drops the completion for token without a value. The task parked on
// it stalls: it stays registered but never runs again. The key of the stalled
// task is returned.
func (s *Scheduler) Abandon(token model.Token) (string, bool) {
	e, ok := s.parked[token]
	if !ok {
		return "", false
	}
	delete(s.parked, token)
	e.token = 0
	e.state = TaskStalled
	s.logger.Debug("task stalled", "key", e.key, "token", token)
	return e.key, true
}

// RunUntilStalled steps ready tasks in FIFO order until none is ready.
func (s *Scheduler) RunUntilStalled() int {
	steps := 0
	for len(s.ready) > 0 {
		e := s.ready[0]
		s.ready[0] = nil
		s.ready = s.ready[1:]
		if e.state != TaskReady {
			continue
		}
		s.step(e)
		steps++
	}
	s.ready = nil
	return steps
}

func (s *Scheduler) step(e *entry) {
	value := e.value
	e.value = nil
	e.state = TaskRunning

	parked := false
	park := func() model.Token {
		if parked {
			panic("scheduler: task parked twice in one step")
		}
		parked = true
		s.nextToken++
		tok := s.nextToken
		e.token = tok
		e.state = TaskParked
		s.parked[tok] = e
		return tok
	}

	s.running = e
	status := e.task.Step(park, value)
	s.running = nil

	if e.closePending {
		e.closePending = false
		e.task.Close()
		return
	}
	switch status {
	case Done:
		if e.token != 0 {
			delete(s.parked, e.token)
			e.token = 0
		}
		e.state = TaskDone
	case Suspended:
		if !parked {
			e.state = TaskStalled
			s.logger.Warn("task suspended without parking", "key", e.key)
		}
	}
}

// State returns the state of the task registered under key.
func (s *Scheduler) State(key string) (TaskState, bool) {
	e, ok := s.tasks[key]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Keys returns the registered keys in sorted order.
func (s *Scheduler) Keys() []string {
	return slices.Sorted(maps.Keys(s.tasks))
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	return len(s.tasks)
}

// Close removes every task.
func (s *Scheduler) Close() {
	for _, key := range s.Keys() {
		s.Remove(key)
	}
	s.ready = nil
}
