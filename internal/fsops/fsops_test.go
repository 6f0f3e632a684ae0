package fsops

import (
	"path/filepath"
	"testing"

	"go.starlark.net/starlark"
)

func callBuiltin(t *testing.T, fn starlark.Value, args ...starlark.Value) starlark.Value {
	t.Helper()
	thread := &starlark.Thread{}
	v, err := starlark.Call(thread, fn, args, nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	return v
}

func TestWriteAndCat(t *testing.T) {
	dir := t.TempDir()
	wd := NewWorkdir(dir)
	b := Builtins(wd)

	callBuiltin(t, b["write"], starlark.String("f.txt"), starlark.String("hello"))
	v := callBuiltin(t, b["cat"], starlark.String("f.txt"))
	if s, ok := v.(starlark.String); !ok || s.GoString() != "hello" {
		t.Fatalf("cat = %v", v)
	}
}

func TestCdChangesVirtualWorkdirOnly(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	wd := NewWorkdir(dir)
	b := Builtins(wd)

	callBuiltin(t, b["mkdir"], starlark.String("sub"))
	callBuiltin(t, b["cd"], starlark.String("sub"))

	pwd := callBuiltin(t, b["pwd"])
	s, ok := pwd.(starlark.String)
	if !ok {
		t.Fatalf("pwd returned %T", pwd)
	}
	resolvedSub, _ := resolve(NewWorkdir(dir), "sub")
	if s.GoString() != resolvedSub {
		t.Fatalf("pwd = %q want %q", s.GoString(), resolvedSub)
	}
	_ = sub
}

func TestCdMissingDirectoryFails(t *testing.T) {
	dir := t.TempDir()
	wd := NewWorkdir(dir)
	b := Builtins(wd)
	thread := &starlark.Thread{}
	_, err := starlark.Call(thread, b["cd"], starlark.Tuple{starlark.String("nope")}, nil)
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestExistsIsfileIsdir(t *testing.T) {
	dir := t.TempDir()
	wd := NewWorkdir(dir)
	b := Builtins(wd)

	callBuiltin(t, b["touch"], starlark.String("f.txt"))
	callBuiltin(t, b["mkdir"], starlark.String("d"))

	if v := callBuiltin(t, b["exists"], starlark.String("f.txt")); v != starlark.True {
		t.Fatalf("exists(f.txt) = %v", v)
	}
	if v := callBuiltin(t, b["isfile"], starlark.String("f.txt")); v != starlark.True {
		t.Fatalf("isfile(f.txt) = %v", v)
	}
	if v := callBuiltin(t, b["isdir"], starlark.String("d")); v != starlark.True {
		t.Fatalf("isdir(d) = %v", v)
	}
	if v := callBuiltin(t, b["exists"], starlark.String("missing")); v != starlark.False {
		t.Fatalf("exists(missing) = %v", v)
	}
}

func TestRmRequiresRecursiveForDirectories(t *testing.T) {
	dir := t.TempDir()
	wd := NewWorkdir(dir)
	b := Builtins(wd)
	callBuiltin(t, b["mkdir"], starlark.String("d"))
	callBuiltin(t, b["touch"], starlark.String("d/f.txt"))

	thread := &starlark.Thread{}
	if _, err := starlark.Call(thread, b["rm"], starlark.Tuple{starlark.String("d")}, nil); err == nil {
		t.Fatal("expected non-empty directory removal to fail without recursive")
	}
	callBuiltin(t, b["rm"], starlark.String("d"), starlark.Bool(true))
	if v := callBuiltin(t, b["exists"], starlark.String("d")); v != starlark.False {
		t.Fatalf("exists(d) after recursive rm = %v", v)
	}
}
