// Package session implements the per-session interpreter wrapper: a
// persistent namespace, a virtual working directory, a bounded execution
// history, and the serialization primitive that guarantees at most one
// execution is in flight per session at a time.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"

	"github.com/sessionhost/sessiond/internal/chdir"
	"github.com/sessionhost/sessiond/internal/engine"
	"github.com/sessionhost/sessiond/internal/fsops"
)

const historyCap = 100

// hiddenNames is the fixed set ListVariables never exposes: the three
// namespace sentinels plus every injected helper name. GetVariables does
// not consult it and describes any requested name that is bound.
// Any helper added to fsops.Names must also land here.
var hiddenNames = buildHiddenNames()

func buildHiddenNames() map[string]struct{} {
	m := map[string]struct{}{
		"__name__":       {},
		"__doc__":        {},
		"__session_id__": {},
	}
	for _, n := range fsops.Names {
		m[n] = struct{}{}
	}
	return m
}

// StructuredError mirrors engine.StructuredError in the wire-facing shape
// used by ExecutionResult and HistoryEntry.
type StructuredError = engine.StructuredError

// ExecutionResult is the outcome of a single execute call.
type ExecutionResult struct {
	Success        bool
	Stdout         string
	Stderr         string
	Value          string
	HasValue       bool
	Error          *StructuredError
	TimedOut       bool
	ExecutionCount int
}

// HistoryEntry is a flattened copy of an ExecutionResult plus the source
// text that produced it.
type HistoryEntry struct {
	Source         string
	Success        bool
	Stdout         string
	Stderr         string
	Value          string
	HasValue       bool
	Error          *StructuredError
	TimedOut       bool
	ExecutionCount int
	At             time.Time
}

// VariableDescriptor describes a single namespace entry for inspection
// endpoints.
type VariableDescriptor struct {
	Name string
	Type string
	Repr string
}

// Session is a long-lived, isolated code-execution context.
type Session struct {
	id        string
	createdAt time.Time
	workdir   *fsops.Workdir
	arbiter   *chdir.Arbiter

	// lock is the session's serialization primitive: a buffered channel
	// of size 1 used as an acquire/release mutex, so acquisition can
	// later be made cancellable without restructuring callers.
	lock chan struct{}

	mu        sync.Mutex // guards the fields below, held briefly, never across an execute
	namespace starlark.StringDict
	execCount int
	history   []HistoryEntry
	closed    bool

	defaultTimeout time.Duration
}

// New constructs a session rooted at workdir (already validated to exist
// and be a directory by the caller) with the given default per-call
// timeout (0 disables timeouts by default).
func New(workdir string, arbiter *chdir.Arbiter, defaultTimeout time.Duration) (*Session, error) {
	abs, err := filepath.Abs(workdir)
	if err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:             id,
		createdAt:      time.Now(),
		workdir:        fsops.NewWorkdir(abs),
		arbiter:        arbiter,
		lock:           make(chan struct{}, 1),
		defaultTimeout: defaultTimeout,
	}
	s.namespace = s.freshNamespace()
	return s, nil
}

func newID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:6]), nil
}

func (s *Session) freshNamespace() starlark.StringDict {
	ns := fsops.Builtins(s.workdir)
	ns["__name__"] = starlark.String("__main__")
	ns["__doc__"] = starlark.None
	ns["__session_id__"] = starlark.String(s.id)
	return ns
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session's creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Workdir returns the current virtual working directory.
func (s *Session) Workdir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workdir.Get()
}

// ExecutionCount returns the current value of the execution counter.
func (s *Session) ExecutionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execCount
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var errClosed = fmt.Errorf("session is closed")

// ErrClosed is returned by every operation except Close once a session
// has been closed.
func ErrClosed() error { return errClosed }

func (s *Session) acquire() {
	s.lock <- struct{}{}
}

func (s *Session) release() {
	<-s.lock
}

// Execute runs source against the session's namespace. timeoutOverride,
// if non-nil, replaces the session's default timeout for this call; a
// value of 0 disables the timeout entirely.
func (s *Session) Execute(source string, timeoutOverride *time.Duration) (ExecutionResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ExecutionResult{}, errClosed
	}
	s.mu.Unlock()

	s.acquire()
	defer s.release()

	// Re-check after acquiring: a close() that ran while we waited for
	// the lock must still fail this call.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ExecutionResult{}, errClosed
	}
	s.execCount++
	count := s.execCount
	namespace := s.namespace
	workdir := s.workdir.Get()
	s.mu.Unlock()

	timeout := s.defaultTimeout
	if timeoutOverride != nil {
		timeout = *timeoutOverride
	}

	result := s.runWithTimeout(namespace, workdir, source, timeout)
	result.ExecutionCount = count

	s.mu.Lock()
	s.appendHistory(HistoryEntry{
		Source:         source,
		Success:        result.Success,
		Stdout:         result.Stdout,
		Stderr:         result.Stderr,
		Value:          result.Value,
		HasValue:       result.HasValue,
		Error:          result.Error,
		TimedOut:       result.TimedOut,
		ExecutionCount: count,
		At:             time.Now(),
	})
	s.mu.Unlock()

	return result, nil
}

func (s *Session) runWithTimeout(namespace starlark.StringDict, workdir, source string, timeout time.Duration) ExecutionResult {
	thread := &starlark.Thread{Name: s.id}

	type outcome struct {
		res engine.Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		var eres engine.Result
		var eerr error
		pinErr := s.arbiter.Pin(workdir, func() error {
			eres, eerr = engine.Evaluate(thread, namespace, source)
			return nil
		})
		if pinErr != nil && eerr == nil {
			eerr = pinErr
		}
		done <- outcome{eres, eerr}
	}()

	if timeout <= 0 {
		o := <-done
		return toExecutionResult(o.res, o.err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return toExecutionResult(o.res, o.err)
	case <-timer.C:
		thread.Cancel("execution timed out")
		return ExecutionResult{
			TimedOut: true,
			Error: &StructuredError{
				Kind:      "TimeoutError",
				Message:   fmt.Sprintf("execution exceeded %s", timeout),
				Traceback: []string{fmt.Sprintf("TimeoutError: execution exceeded %s", timeout)},
			},
		}
	}
}

func toExecutionResult(res engine.Result, err error) ExecutionResult {
	if err != nil {
		return ExecutionResult{
			Error: &StructuredError{
				Kind:      "InternalError",
				Message:   err.Error(),
				Traceback: []string{err.Error()},
			},
		}
	}
	return ExecutionResult{
		Success:  res.Success,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Value:    res.Value,
		HasValue: res.HasValue,
		Error:    res.Error,
		TimedOut: res.TimedOut,
	}
}

// appendHistory must be called with mu held.
func (s *Session) appendHistory(e HistoryEntry) {
	s.history = append(s.history, e)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
}

// ListVariables returns descriptors for every namespace entry except the
// hidden sentinels/helpers and any name beginning with "_".
func (s *Session) ListVariables() ([]VariableDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	var out []VariableDescriptor
	for name, v := range s.namespace {
		if _, hidden := hiddenNames[name]; hidden {
			continue
		}
		if strings.HasPrefix(name, "_") {
			continue
		}
		out = append(out, describe(name, v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetVariables returns a descriptor (or nil) for each requested name.
func (s *Session) GetVariables(names []string) (map[string]*VariableDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	out := make(map[string]*VariableDescriptor, len(names))
	for _, name := range names {
		v, ok := s.namespace[name]
		if !ok {
			out[name] = nil
			continue
		}
		d := describe(name, v)
		out[name] = &d
	}
	return out, nil
}

func describe(name string, v starlark.Value) VariableDescriptor {
	return VariableDescriptor{
		Name: name,
		Type: v.Type(),
		Repr: engine.SafeRepr(v),
	}
}

// GetHistory returns the last n entries, oldest first. n <= 0 returns all
// entries.
func (s *Session) GetHistory(n int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	if n <= 0 || n >= len(s.history) {
		out := make([]HistoryEntry, len(s.history))
		copy(out, s.history)
		return out, nil
	}
	out := make([]HistoryEntry, n)
	copy(out, s.history[len(s.history)-n:])
	return out, nil
}

// Reset clears the namespace back to the three sentinels plus helpers,
// resets the execution counter, and empties history. The virtual workdir
// is unchanged.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.namespace = s.freshNamespace()
	s.execCount = 0
	s.history = nil
	return nil
}

// Close is idempotent: it marks the session closed and drops its
// namespace and history references.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.namespace = nil
	s.history = nil
}
