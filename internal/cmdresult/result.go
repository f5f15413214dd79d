// Package cmdresult implements the per-invocation command record (C2):
// id, name, params, status, result, error, and a completion signal
// callers can wait on.
//
// Concurrency shape grounded on pkg/worker/worker.go's containersMu
// sync.RWMutex guarding a shared map: one mutex per record, held only
// across the read/write of its own fields, never across I/O.
package cmdresult

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ironrun/provisiond/internal/errs"
)

// Status is one of the three states a CommandResult can be in. It is
// monotone: RUNNING -> {SUCCEEDED, FAILED}, never back.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// CommandResult is the public record both AsyncCommandResult and
// SyncCommandResult satisfy. Invariants:
//
//	status == RUNNING  <=> result == nil && error == nil
//	status == SUCCEEDED => error == nil
//	status == FAILED    => error != nil
type CommandResult struct {
	mu sync.Mutex

	id     string
	name   string
	params map[string]any

	status Status
	result any
	err    errs.RESTError

	done chan struct{}
}

// New creates a RUNNING CommandResult for the given fully qualified
// name (`ext.method`) and parameters.
func New(name string, params map[string]any) *CommandResult {
	return &CommandResult{
		id:     uuid.New().String(),
		name:   name,
		params: params,
		status: StatusRunning,
		done:   make(chan struct{}),
	}
}

func (r *CommandResult) ID() string { return r.id }

func (r *CommandResult) StatusNow() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// succeed and fail are idempotent only on the first call; subsequent
// calls are no-ops, preserving the "never transitions backward, never
// transitions twice" invariant.
func (r *CommandResult) succeed(result any) {
	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		return
	}
	r.status = StatusSucceeded
	r.result = result
	r.mu.Unlock()
	close(r.done)
}

func (r *CommandResult) fail(err errs.RESTError) {
	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		return
	}
	r.status = StatusFailed
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

// Wait blocks until the record is terminal, or until timeout elapses
// (timeout <= 0 means wait forever). Returns true if the record reached
// a terminal state before the deadline.
func (r *CommandResult) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-r.done
		return true
	}
	select {
	case <-r.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Serialize takes a snapshot under the record's own mutex; valid at any
// moment, including mid-RUNNING.
func (r *CommandResult) Serialize() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := map[string]any{
		"id":     r.id,
		"name":   r.name,
		"params": r.params,
		"status": string(r.status),
		"result": r.result,
	}
	if r.err != nil {
		out["error"] = errs.Serialize(r.err)
	} else {
		out["error"] = nil
	}
	return out
}

// AsyncCommandResult wraps a worker goroutine that runs fn on a fresh
// goroutine and records its outcome.
type AsyncCommandResult struct {
	*CommandResult
}

// NewAsync creates a RUNNING record and immediately returns it; Start
// must be called once to schedule the worker.
func NewAsync(name string, params map[string]any) *AsyncCommandResult {
	return &AsyncCommandResult{CommandResult: New(name, params)}
}

// Start schedules fn on a fresh goroutine. Any panic inside fn is
// converted to a CommandExecutionError rather than crashing the process.
func (a *AsyncCommandResult) Start(fn func() (any, error)) {
	go func() {
		result, err := a.runGuarded(fn)
		if err != nil {
			if re, ok := err.(errs.RESTError); ok {
				a.fail(re)
			} else {
				a.fail(errs.NewCommandExecutionError(err.Error()))
			}
			return
		}
		a.succeed(result)
	}()
}

func (a *AsyncCommandResult) runGuarded(fn func() (any, error)) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errs.NewCommandExecutionError(errorFromPanic(p))
		}
	}()
	return fn()
}

func errorFromPanic(p any) string {
	if e, ok := p.(error); ok {
		return e.Error()
	}
	return "panic: " + toString(p)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic value"
}

// SyncCommandResult is constructed already-terminal; it needs no worker.
type SyncCommandResult struct {
	*CommandResult
}

// NewSyncSucceeded builds an already-SUCCEEDED record.
func NewSyncSucceeded(name string, params map[string]any, result any) *SyncCommandResult {
	r := New(name, params)
	r.succeed(result)
	return &SyncCommandResult{CommandResult: r}
}

// NewSyncFailed builds an already-FAILED record.
func NewSyncFailed(name string, params map[string]any, err errs.RESTError) *SyncCommandResult {
	r := New(name, params)
	r.fail(err)
	return &SyncCommandResult{CommandResult: r}
}
