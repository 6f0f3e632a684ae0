// Package fsops implements the fixed set of filesystem helpers injected
// into every session's Starlark namespace. Every helper resolves paths
// against a session's virtual working directory rather than the process's
// real one, so sessions never observe each other's notion of "current
// directory" even though the helpers ultimately perform real filesystem
// I/O.
package fsops

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
)

// Workdir is the mutable reference a session's helpers close over. cd
// mutates it from inside the execution goroutine while Session.Workdir
// reads it concurrently from handler goroutines (GET .../info,
// GET /v1/sessions), so access is guarded by a mutex rather than relying
// on the single-flight execution lock to also cover handler reads.
type Workdir struct {
	mu   sync.Mutex
	path string
}

// NewWorkdir returns a Workdir seeded with an already-canonical absolute
// path.
func NewWorkdir(abs string) *Workdir {
	return &Workdir{path: abs}
}

// Get returns the current virtual working directory.
func (w *Workdir) Get() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Set replaces the virtual working directory. Callers must canonicalize
// first; Set does not validate.
func (w *Workdir) Set(abs string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.path = abs
}

// Names lists the helpers in the fixed, closed set. Any addition here
// must also be reflected wherever a hidden-names set is built, so
// list_variables never exposes a helper as user data.
var Names = []string{
	"cd", "pwd", "ls", "cat", "mkdir", "touch", "rm", "cp", "mv",
	"write", "exists", "isfile", "isdir", "abspath",
}

// Builtins constructs the fixed set of filesystem helpers bound to wd.
func Builtins(wd *Workdir) starlark.StringDict {
	return starlark.StringDict{
		"cd":      starlark.NewBuiltin("cd", cdFn(wd)),
		"pwd":     starlark.NewBuiltin("pwd", pwdFn(wd)),
		"ls":      starlark.NewBuiltin("ls", lsFn(wd)),
		"cat":     starlark.NewBuiltin("cat", catFn(wd)),
		"mkdir":   starlark.NewBuiltin("mkdir", mkdirFn(wd)),
		"touch":   starlark.NewBuiltin("touch", touchFn(wd)),
		"rm":      starlark.NewBuiltin("rm", rmFn(wd)),
		"cp":      starlark.NewBuiltin("cp", cpFn(wd)),
		"mv":      starlark.NewBuiltin("mv", mvFn(wd)),
		"write":   starlark.NewBuiltin("write", writeFn(wd)),
		"exists":  starlark.NewBuiltin("exists", existsFn(wd)),
		"isfile":  starlark.NewBuiltin("isfile", isfileFn(wd)),
		"isdir":   starlark.NewBuiltin("isdir", isdirFn(wd)),
		"abspath": starlark.NewBuiltin("abspath", abspathFn(wd)),
	}
}

type builtinFunc = func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// resolve implements the path-resolution rule shared by every helper:
// absolute paths are used as-is, relative paths are joined to the virtual
// workdir, "~" expands to the user's home, and the result is
// canonicalized (symlinks and ".." resolved) on a best-effort basis.
func resolve(wd *Workdir, path string) (string, error) {
	if path == "" {
		path = "."
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, path[2:])
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(wd.Get(), path)
	}
	path = filepath.Clean(path)
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}
	// Target may not exist yet (e.g. mkdir, touch, write, mv dst);
	// canonicalize the path itself rather than failing.
	return path, nil
}

func cdFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		path := "~"
		if err := starlark.UnpackArgs("cd", args, kwargs, "path?", &path); err != nil {
			return nil, err
		}
		resolved, err := resolve(wd, path)
		if err != nil {
			return nil, fmt.Errorf("cd: %w", err)
		}
		info, err := os.Stat(resolved)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("cd: directory not found: %s", path)
		}
		wd.Set(resolved)
		return starlark.String(resolved), nil
	}
}

func pwdFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs("pwd", args, kwargs); err != nil {
			return nil, err
		}
		return starlark.String(wd.Get()), nil
	}
}

func lsFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		path := "."
		var all, long bool
		if err := starlark.UnpackArgs("ls", args, kwargs, "path?", &path, "all?", &all, "long?", &long); err != nil {
			return nil, err
		}
		resolved, err := resolve(wd, path)
		if err != nil {
			return nil, fmt.Errorf("ls: %w", err)
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return nil, fmt.Errorf("ls: not found: %s", path)
		}

		type entry struct {
			name  string
			isDir bool
			size  int64
			mtime time.Time
		}
		var entries []entry
		if info.IsDir() {
			dirEntries, err := os.ReadDir(resolved)
			if err != nil {
				return nil, fmt.Errorf("ls: %w", err)
			}
			for _, de := range dirEntries {
				if !all && strings.HasPrefix(de.Name(), ".") {
					continue
				}
				fi, err := de.Info()
				if err != nil {
					continue
				}
				entries = append(entries, entry{de.Name(), de.IsDir(), fi.Size(), fi.ModTime()})
			}
		} else {
			entries = append(entries, entry{filepath.Base(resolved), false, info.Size(), info.ModTime()})
		}

		sort.Slice(entries, func(i, j int) bool {
			if entries[i].isDir != entries[j].isDir {
				return entries[i].isDir
			}
			return strings.ToLower(entries[i].name) < strings.ToLower(entries[j].name)
		})

		if !long {
			list := starlark.NewList(nil)
			for _, e := range entries {
				name := e.name
				if e.isDir {
					name += "/"
				}
				list.Append(starlark.String(name))
			}
			return list, nil
		}

		var sb strings.Builder
		for i, e := range entries {
			kind := "f"
			if e.isDir {
				kind = "d"
			}
			fmt.Fprintf(&sb, "%s %10d %s %s", kind, e.size, e.mtime.Format("2006-01-02 15:04"), e.name)
			if e.isDir {
				sb.WriteString("/")
			}
			if i < len(entries)-1 {
				sb.WriteString("\n")
			}
		}
		return starlark.String(sb.String()), nil
	}
}

func catFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path, encoding string
		encoding = "utf-8"
		var head, tail starlark.Value = starlark.None, starlark.None
		if err := starlark.UnpackArgs("cat", args, kwargs, "path", &path, "encoding?", &encoding, "head?", &head, "tail?", &tail); err != nil {
			return nil, err
		}
		resolved, err := resolve(wd, path)
		if err != nil {
			return nil, fmt.Errorf("cat: %w", err)
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return nil, fmt.Errorf("cat: not found: %s", path)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("cat: is a directory: %s", path)
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("cat: %w", err)
		}

		headN, headOK := intArg(head)
		tailN, tailOK := intArg(tail)

		if headOK {
			return starlark.String(firstNLines(string(data), headN)), nil
		}
		if tailOK {
			return starlark.String(lastNLines(string(data), tailN)), nil
		}
		return starlark.String(string(data)), nil
	}
}

func intArg(v starlark.Value) (int, bool) {
	if v == nil || v == starlark.None {
		return 0, false
	}
	i, ok := v.(starlark.Int)
	if !ok {
		return 0, false
	}
	n, _ := i.Int64()
	return int(n), true
}

func firstNLines(s string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := splitKeepEnds(s)
	if n > len(lines) {
		n = len(lines)
	}
	return strings.Join(lines[:n], "")
}

func lastNLines(s string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := splitKeepEnds(s)
	if n > len(lines) {
		n = len(lines)
	}
	return strings.Join(lines[len(lines)-n:], "")
}

func splitKeepEnds(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func mkdirFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		parents, existOK := true, true
		if err := starlark.UnpackArgs("mkdir", args, kwargs, "path", &path, "parents?", &parents, "exist_ok?", &existOK); err != nil {
			return nil, err
		}
		resolved, err := resolve(wd, path)
		if err != nil {
			return nil, fmt.Errorf("mkdir: %w", err)
		}
		if !existOK {
			if _, err := os.Stat(resolved); err == nil {
				return nil, fmt.Errorf("mkdir: already exists: %s", path)
			}
		}
		if parents {
			err = os.MkdirAll(resolved, 0o755)
		} else {
			err = os.Mkdir(resolved, 0o755)
			if os.IsExist(err) && existOK {
				err = nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("mkdir: %w", err)
		}
		return starlark.None, nil
	}
}

func touchFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackArgs("touch", args, kwargs, "path", &path); err != nil {
			return nil, err
		}
		resolved, err := resolve(wd, path)
		if err != nil {
			return nil, fmt.Errorf("touch: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return nil, fmt.Errorf("touch: %w", err)
		}
		now := time.Now()
		if f, err := os.OpenFile(resolved, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			f.Close()
		} else {
			return nil, fmt.Errorf("touch: %w", err)
		}
		if err := os.Chtimes(resolved, now, now); err != nil {
			return nil, fmt.Errorf("touch: %w", err)
		}
		return starlark.None, nil
	}
}

func rmFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		var recursive bool
		if err := starlark.UnpackArgs("rm", args, kwargs, "path", &path, "recursive?", &recursive); err != nil {
			return nil, err
		}
		resolved, err := resolve(wd, path)
		if err != nil {
			return nil, fmt.Errorf("rm: %w", err)
		}
		if _, err := os.Stat(resolved); err != nil {
			return nil, fmt.Errorf("rm: not found: %s", path)
		}
		if recursive {
			err = os.RemoveAll(resolved)
		} else {
			err = os.Remove(resolved)
		}
		if err != nil {
			return nil, fmt.Errorf("rm: %w", err)
		}
		return starlark.None, nil
	}
}

func cpFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var src, dst string
		if err := starlark.UnpackArgs("cp", args, kwargs, "src", &src, "dst", &dst); err != nil {
			return nil, err
		}
		resolvedSrc, err := resolve(wd, src)
		if err != nil {
			return nil, fmt.Errorf("cp: %w", err)
		}
		resolvedDst, err := resolve(wd, dst)
		if err != nil {
			return nil, fmt.Errorf("cp: %w", err)
		}
		info, err := os.Stat(resolvedSrc)
		if err != nil {
			return nil, fmt.Errorf("cp: not found: %s", src)
		}
		if info.IsDir() {
			err = copyDir(resolvedSrc, resolvedDst)
		} else {
			err = copyFile(resolvedSrc, resolvedDst, info.Mode())
		}
		if err != nil {
			return nil, fmt.Errorf("cp: %w", err)
		}
		return starlark.None, nil
	}
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, info.Mode())
	})
}

func mvFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var src, dst string
		if err := starlark.UnpackArgs("mv", args, kwargs, "src", &src, "dst", &dst); err != nil {
			return nil, err
		}
		resolvedSrc, err := resolve(wd, src)
		if err != nil {
			return nil, fmt.Errorf("mv: %w", err)
		}
		resolvedDst, err := resolve(wd, dst)
		if err != nil {
			return nil, fmt.Errorf("mv: %w", err)
		}
		if _, err := os.Stat(resolvedSrc); err != nil {
			return nil, fmt.Errorf("mv: not found: %s", src)
		}
		if err := os.MkdirAll(filepath.Dir(resolvedDst), 0o755); err != nil {
			return nil, fmt.Errorf("mv: %w", err)
		}
		if err := os.Rename(resolvedSrc, resolvedDst); err != nil {
			return nil, fmt.Errorf("mv: %w", err)
		}
		return starlark.None, nil
	}
}

func writeFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path, content, encoding string
		encoding = "utf-8"
		var appendFlag bool
		if err := starlark.UnpackArgs("write", args, kwargs, "path", &path, "content", &content, "encoding?", &encoding, "append?", &appendFlag); err != nil {
			return nil, err
		}
		resolved, err := resolve(wd, path)
		if err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if appendFlag {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(resolved, flags, 0o644)
		if err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
		return starlark.None, nil
	}
}

func existsFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackArgs("exists", args, kwargs, "path", &path); err != nil {
			return nil, err
		}
		resolved, err := resolve(wd, path)
		if err != nil {
			return starlark.False, nil
		}
		_, statErr := os.Stat(resolved)
		return starlark.Bool(statErr == nil), nil
	}
}

func isfileFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackArgs("isfile", args, kwargs, "path", &path); err != nil {
			return nil, err
		}
		resolved, err := resolve(wd, path)
		if err != nil {
			return starlark.False, nil
		}
		info, statErr := os.Stat(resolved)
		return starlark.Bool(statErr == nil && !info.IsDir()), nil
	}
}

func isdirFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackArgs("isdir", args, kwargs, "path", &path); err != nil {
			return nil, err
		}
		resolved, err := resolve(wd, path)
		if err != nil {
			return starlark.False, nil
		}
		info, statErr := os.Stat(resolved)
		return starlark.Bool(statErr == nil && info.IsDir()), nil
	}
}

func abspathFn(wd *Workdir) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackArgs("abspath", args, kwargs, "path", &path); err != nil {
			return nil, err
		}
		resolved, err := resolve(wd, path)
		if err != nil {
			return nil, fmt.Errorf("abspath: %w", err)
		}
		return starlark.String(resolved), nil
	}
}
