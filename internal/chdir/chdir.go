// Package chdir provides the process-wide mutual-exclusion region that
// pins the real working directory to a session's virtual workdir for the
// span of a single code execution.
package chdir

import (
	"os"
	"sync"
)

// Arbiter serializes access to the process's real working directory across
// every session. Only one execution in the entire service may have the
// process cwd pinned to its session's virtual workdir at a time.
type Arbiter struct {
	mu sync.Mutex
}

// New returns a ready-to-use arbiter.
func New() *Arbiter {
	return &Arbiter{}
}

// Pin enters the cwd-pinned region, sets the process cwd to dir, runs fn,
// then restores the prior cwd on the way out regardless of how fn
// terminates. The region is held only for the duration of fn, not for any
// classification or formatting work the caller does outside it.
func (a *Arbiter) Pin(dir string, fn func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := os.Chdir(dir); err != nil {
		return err
	}
	defer os.Chdir(prev)

	return fn()
}
