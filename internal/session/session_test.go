package session

import (
	"testing"
	"time"

	"github.com/sessionhost/sessiond/internal/chdir"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(t.TempDir(), chdir.New(), 2*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestExecute_SimpleExpression(t *testing.T) {
	s := newTestSession(t)
	res, err := s.Execute("1 + 2", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Value != "3" || res.ExecutionCount != 1 {
		t.Fatalf("got %+v", res)
	}
}

func TestExecute_CounterMonotonicIncludingFailures(t *testing.T) {
	s := newTestSession(t)
	r1, _ := s.Execute("1", nil)
	r2, _ := s.Execute("1 // 0", nil)
	r3, _ := s.Execute("1", nil)
	if r1.ExecutionCount != 1 || r2.ExecutionCount != 2 || r3.ExecutionCount != 3 {
		t.Fatalf("counts = %d %d %d", r1.ExecutionCount, r2.ExecutionCount, r3.ExecutionCount)
	}
	if r2.Success {
		t.Fatalf("expected failure result, got %+v", r2)
	}
}

func TestReset_ClearsNamespaceAndCounterAndHistory(t *testing.T) {
	s := newTestSession(t)
	s.Execute("x = 1", nil)
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if s.ExecutionCount() != 0 {
		t.Fatalf("exec count after reset = %d", s.ExecutionCount())
	}
	descs, err := s.ListVariables()
	if err != nil {
		t.Fatalf("ListVariables: %v", err)
	}
	if len(descs) != 0 {
		t.Fatalf("expected empty namespace after reset, got %+v", descs)
	}
	hist, _ := s.GetHistory(0)
	if len(hist) != 0 {
		t.Fatalf("expected empty history after reset, got %d entries", len(hist))
	}
}

func TestClose_IsIdempotentAndFailsFurtherOps(t *testing.T) {
	s := newTestSession(t)
	s.Close()
	s.Close()
	if !s.Closed() {
		t.Fatal("expected session to be closed")
	}
	if _, err := s.Execute("1", nil); err != ErrClosed() {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestGetVariables_RoundTrip(t *testing.T) {
	s := newTestSession(t)
	s.Execute("x = 10", nil)
	values, err := s.GetVariables([]string{"x", "missing"})
	if err != nil {
		t.Fatalf("GetVariables: %v", err)
	}
	if values["x"] == nil || values["x"].Repr != "10" || values["x"].Type != "int" {
		t.Fatalf("x descriptor = %+v", values["x"])
	}
	if values["missing"] != nil {
		t.Fatalf("expected nil descriptor for missing name, got %+v", values["missing"])
	}
}

func TestHistory_BoundedAndOrdered(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < historyCap+10; i++ {
		s.Execute("1", nil)
	}
	hist, err := s.GetHistory(0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(hist) != historyCap {
		t.Fatalf("history length = %d want %d", len(hist), historyCap)
	}
	if hist[0].ExecutionCount >= hist[len(hist)-1].ExecutionCount {
		t.Fatalf("history not oldest-first: first=%d last=%d", hist[0].ExecutionCount, hist[len(hist)-1].ExecutionCount)
	}
}

func TestExecute_TimeoutProducesTimeoutResult(t *testing.T) {
	s := newTestSession(t)
	d := 50 * time.Millisecond
	res, err := s.Execute("x = 0\nfor i in range(100000000):\n    x = x + 1", &d)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.TimedOut || res.Error == nil || res.Error.Kind != "TimeoutError" {
		t.Fatalf("got %+v", res)
	}

	// The session must remain usable after a timeout.
	res2, err := s.Execute("1", nil)
	if err != nil {
		t.Fatalf("Execute after timeout: %v", err)
	}
	if !res2.Success {
		t.Fatalf("expected subsequent execute to succeed: %+v", res2)
	}
}
