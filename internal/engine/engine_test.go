package engine

import (
	"strings"
	"testing"

	"go.starlark.net/starlark"
)

func freshNamespace() starlark.StringDict {
	return starlark.StringDict{
		"__name__": starlark.String("__main__"),
	}
}

func TestEvaluate_SingleExpression(t *testing.T) {
	thread := &starlark.Thread{}
	res, err := Evaluate(thread, freshNamespace(), "1 + 2")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Success || !res.HasValue || res.Value != "3" {
		t.Fatalf("got %+v", res)
	}
}

func TestEvaluate_EmptySource(t *testing.T) {
	thread := &starlark.Thread{}
	res, err := Evaluate(thread, freshNamespace(), "   ")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Success || res.HasValue {
		t.Fatalf("got %+v", res)
	}
}

func TestEvaluate_TrailingExpressionLaw(t *testing.T) {
	ns := freshNamespace()
	thread := &starlark.Thread{}
	res, err := Evaluate(thread, ns, "x = 10\ny = 20\nx + y")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.HasValue || res.Value != "30" {
		t.Fatalf("got %+v", res)
	}
	if ns["x"].(starlark.Int).String() != "10" {
		t.Fatalf("namespace not mutated: %+v", ns)
	}
}

func TestEvaluate_StatementsOnlyHasNoValue(t *testing.T) {
	ns := freshNamespace()
	thread := &starlark.Thread{}
	res, err := Evaluate(thread, ns, "x = 1\ny = 2")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.HasValue {
		t.Fatalf("expected no value, got %+v", res)
	}
}

func TestEvaluate_PrintCapturesStdout(t *testing.T) {
	ns := freshNamespace()
	thread := &starlark.Thread{}
	res, err := Evaluate(thread, ns, "print('hi')\n42")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Stdout != "hi\n" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if res.Value != "42" {
		t.Fatalf("value = %q", res.Value)
	}
}

func TestEvaluate_SemicolonSeparatedTrailingExpression(t *testing.T) {
	ns := freshNamespace()
	thread := &starlark.Thread{}
	res, err := Evaluate(thread, ns, "print('hi'); 42")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Stdout != "hi\n" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if !res.HasValue || res.Value != "42" {
		t.Fatalf("got %+v", res)
	}
}

func TestEvaluate_RuntimeErrorIsStructured(t *testing.T) {
	ns := freshNamespace()
	thread := &starlark.Thread{}
	res, err := Evaluate(thread, ns, "1 // 0")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Error == nil || !strings.Contains(res.Error.Message, "floored division by zero") {
		t.Fatalf("error = %+v", res.Error)
	}
}

func TestEvaluate_SyntaxErrorIsStructured(t *testing.T) {
	ns := freshNamespace()
	thread := &starlark.Thread{}
	res, err := Evaluate(thread, ns, "def (: pass")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Success || res.Error == nil || res.Error.Kind != "SyntaxError" {
		t.Fatalf("got %+v", res)
	}
}

func TestEvaluate_PrecedingSideEffectsRetainedOnTrailingError(t *testing.T) {
	ns := freshNamespace()
	thread := &starlark.Thread{}
	_, err := Evaluate(thread, ns, "x = 5\n1 // 0")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, ok := ns["x"]; !ok {
		t.Fatalf("expected x to remain bound despite trailing error")
	}
}

func TestSafeRepr_Truncates(t *testing.T) {
	long := starlark.String(strings.Repeat("a", maxReprLen+50))
	repr := SafeRepr(long)
	if !strings.Contains(repr, "truncated") {
		t.Fatalf("expected truncation marker, got len=%d", len(repr))
	}
}
