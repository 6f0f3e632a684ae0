// Package sessionmgr implements the session manager: the registry mapping
// session ids to sessions, guarded by its own serialization primitive
// separate from any individual session's.
package sessionmgr

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sessionhost/sessiond/internal/chdir"
	"github.com/sessionhost/sessiond/internal/session"
)

// ErrInvalidWorkdir is returned by Create when a caller-supplied workdir
// does not exist or is not a directory.
var ErrInvalidWorkdir = fmt.Errorf("workdir does not exist or is not a directory")

// ErrNotFound is returned by Close when the id is unknown.
var ErrNotFound = fmt.Errorf("session not found")

// Info is a snapshot of a session's public state, used by list/info
// endpoints.
type Info struct {
	ID          string
	CreatedAt   time.Time
	ExecCount   int
	Closed      bool
	UptimeSecs  float64
	Workdir     string
}

// Manager owns the set of live sessions.
type Manager struct {
	mu             sync.Mutex
	sessions       map[string]*session.Session
	arbiter        *chdir.Arbiter
	defaultWorkdir string
	defaultTimeout time.Duration
}

// New constructs a manager. defaultWorkdir must already be validated to
// exist; it is used whenever Create is called without an explicit
// workdir.
func New(defaultWorkdir string, defaultTimeout time.Duration) *Manager {
	return &Manager{
		sessions:       make(map[string]*session.Session),
		arbiter:        chdir.New(),
		defaultWorkdir: defaultWorkdir,
		defaultTimeout: defaultTimeout,
	}
}

// Create allocates and registers a new session. If workdir is non-empty
// it must be an existing directory; otherwise the manager's configured
// default is used.
func (m *Manager) Create(workdir string) (*session.Session, error) {
	dir := m.defaultWorkdir
	if workdir != "" {
		info, err := os.Stat(workdir)
		if err != nil || !info.IsDir() {
			return nil, ErrInvalidWorkdir
		}
		dir = workdir
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := session.New(dir, m.arbiter, m.defaultTimeout)
	if err != nil {
		return nil, err
	}
	m.sessions[s.ID()] = s
	return s, nil
}

// Get returns the session for id if present and not closed.
func (m *Manager) Get(id string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

// Close closes the session for id and removes it from the registry.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	s.Close()
	return nil
}

// List returns info records for every non-closed session, sorted by
// creation time.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Closed() {
			continue
		}
		out = append(out, Info{
			ID:         s.ID(),
			CreatedAt:  s.CreatedAt(),
			ExecCount:  s.ExecutionCount(),
			Closed:     false,
			UptimeSecs: now.Sub(s.CreatedAt()).Seconds(),
			Workdir:    s.Workdir(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Info returns a single session's info record.
func (m *Manager) Info(id string) (Info, bool) {
	s, ok := m.Get(id)
	if !ok {
		return Info{}, false
	}
	return Info{
		ID:         s.ID(),
		CreatedAt:  s.CreatedAt(),
		ExecCount:  s.ExecutionCount(),
		Closed:     false,
		UptimeSecs: time.Since(s.CreatedAt()).Seconds(),
		Workdir:    s.Workdir(),
	}, true
}

// ActiveCount returns the number of non-closed sessions, used by the
// health endpoint.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// CleanupClosed drops already-closed entries from the registry. Closed
// sessions are normally removed synchronously by Close, but this guards
// against any left behind by a future code path that closes a session
// without going through the manager.
func (m *Manager) CleanupClosed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for id, s := range m.sessions {
		if s.Closed() {
			delete(m.sessions, id)
			dropped++
		}
	}
	return dropped
}
