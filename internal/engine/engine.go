// Package engine implements the session runtime's core evaluate operation:
// classify a source snippet (single expression / statement sequence with
// trailing expression / statement sequence), run it against a namespace,
// and return a structured result that never lets a user-code failure
// escape as a Go error.
package engine

import (
	"fmt"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const maxReprLen = 2000

// StructuredError is the "kind/message/traceback" shape the spec requires
// for both user-code failures and syntax errors.
type StructuredError struct {
	Kind      string
	Message   string
	Traceback []string
}

// Result is the outcome of a single evaluate call.
type Result struct {
	Success   bool
	Stdout    string
	Stderr    string
	Value     string // printed repr of the trailing expression's value, if any
	HasValue  bool
	Error     *StructuredError
	TimedOut  bool
}

func init() {
	// Allow a snippet to reassign top-level names and to use if/for/while
	// at top level, and permit the set built-in, while loops and recursion
	// for snippets.
	resolve.AllowGlobalReassign = true
	resolve.AllowSet = true
	resolve.AllowRecursion = true
}

// Evaluate runs source against namespace, mutating it in place. It never
// returns a non-nil error for failures originating in user code — those
// are reported via Result.Error. A non-nil error return indicates the
// engine itself misbehaved (e.g. an internal panic during printing) and
// should be treated as a service-internal failure by the caller.
func Evaluate(thread *starlark.Thread, namespace starlark.StringDict, source string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: internal failure: %v", r)
		}
	}()

	var out strings.Builder
	thread.Print = func(_ *starlark.Thread, msg string) {
		out.WriteString(msg)
		out.WriteString("\n")
	}

	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return Result{Success: true}, nil
	}

	res = classifyAndRun(thread, namespace, trimmed)
	res.Stdout = out.String()
	return res, nil
}

func classifyAndRun(thread *starlark.Thread, namespace starlark.StringDict, source string) Result {
	// Step 1: try source as a single expression.
	if v, err := starlark.Eval(thread, "<session>", source, namespace); err == nil {
		return valueResult(v)
	} else if evalErr, ok := err.(*starlark.EvalError); ok {
		// It parsed as an expression but failed at runtime: this IS
		// case 1 of the classification, not a fallthrough.
		return errorResult(evalErr)
	}

	// Step 2: not a single valid expression. Split off a trailing
	// top-level statement and try it as an expression after running
	// everything before it as a block.
	before, trailing := splitTrailing(source)

	if strings.TrimSpace(before) != "" {
		globals, err := starlark.ExecFile(thread, "<session>", before, namespace)
		for k, v := range globals {
			namespace[k] = v
		}
		if err != nil {
			return errorFromExec(err)
		}
	}

	if trailing == "" {
		return Result{Success: true}
	}

	if v, err := starlark.Eval(thread, "<session>", trailing, namespace); err == nil {
		return valueResult(v)
	} else if evalErr, ok := err.(*starlark.EvalError); ok {
		return errorResult(evalErr)
	}

	// Trailing candidate wasn't a standalone expression after all (e.g.
	// it was actually an assignment); execute it as a statement instead.
	globals, err := starlark.ExecFile(thread, "<session>", trailing, namespace)
	for k, v := range globals {
		namespace[k] = v
	}
	if err != nil {
		return errorFromExec(err)
	}
	return Result{Success: true}
}

func valueResult(v starlark.Value) Result {
	if v == nil || v == starlark.None {
		return Result{Success: true}
	}
	return Result{Success: true, Value: SafeRepr(v), HasValue: true}
}

func errorResult(evalErr *starlark.EvalError) Result {
	return Result{
		Stderr: evalErr.Backtrace(),
		Error: &StructuredError{
			Kind:      "EvalError",
			Message:   evalErr.Unwrap().Error(),
			Traceback: strings.Split(strings.TrimRight(evalErr.Backtrace(), "\n"), "\n"),
		},
	}
}

func errorFromExec(err error) Result {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return errorResult(evalErr)
	}
	if syntaxErr, ok := err.(syntax.Error); ok {
		return Result{
			Stderr: syntaxErr.Error(),
			Error: &StructuredError{
				Kind:      "SyntaxError",
				Message:   syntaxErr.Msg,
				Traceback: []string{syntaxErr.Error()},
			},
		}
	}
	if errList, ok := err.(syntax.ErrorList); ok {
		lines := make([]string, len(errList))
		for i, e := range errList {
			lines[i] = e.Error()
		}
		return Result{
			Stderr: strings.Join(lines, "\n"),
			Error: &StructuredError{
				Kind:      "SyntaxError",
				Message:   errList[0].Msg,
				Traceback: lines,
			},
		}
	}
	return Result{
		Stderr: err.Error(),
		Error: &StructuredError{
			Kind:      "SyntaxError",
			Message:   err.Error(),
			Traceback: []string{err.Error()},
		},
	}
}

// SafeRepr is the best-effort printable form required by §4.1: call the
// value's canonical String(), substituting a sentinel if that panics, and
// truncate to maxReprLen.
func SafeRepr(v starlark.Value) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("<unrepresentable: %s>", v.Type())
		}
	}()
	s = v.String()
	if len(s) > maxReprLen {
		truncated := len(s) - maxReprLen
		s = fmt.Sprintf("%s ... [truncated %d chars]", s[:maxReprLen], truncated)
	}
	return s
}
