// Package daemon orchestrates sessiond's long-running process: the HTTP
// server, a periodic closed-session janitor, and graceful shutdown on
// signal or context cancellation.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sessionhost/sessiond/internal/api"
	"github.com/sessionhost/sessiond/internal/auth"
	"github.com/sessionhost/sessiond/internal/config"
	"github.com/sessionhost/sessiond/internal/sessionmgr"
)

const janitorInterval = 5 * time.Minute

// Daemon wires configuration, the session manager, and the HTTP server
// together and owns the process's run loop.
type Daemon struct {
	cfg       *config.Config
	mgr       *sessionmgr.Manager
	srv       *api.Server
	logger    *slog.Logger
	startTime time.Time

	mu      sync.RWMutex
	running bool
}

// New constructs a Daemon ready to Run. version is surfaced on
// GET /health.
func New(cfg *config.Config, version string, logger *slog.Logger) *Daemon {
	timeout := time.Duration(cfg.ExecTimeoutSec) * time.Second
	mgr := sessionmgr.New(cfg.Workdir, timeout)
	checker := auth.NewChecker(cfg.Token)
	srv := api.NewServer(mgr, checker, version)

	return &Daemon{
		cfg:    cfg,
		mgr:    mgr,
		srv:    srv,
		logger: logger,
	}
}

// Running reports whether Run is currently active.
func (d *Daemon) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

func (d *Daemon) setRunning(v bool) {
	d.mu.Lock()
	d.running = v
	d.mu.Unlock()
}

// StartTime returns when Run began.
func (d *Daemon) StartTime() time.Time { return d.startTime }

// Run starts the HTTP server and the closed-session janitor, blocking
// until ctx is cancelled or a component fails.
func (d *Daemon) Run(ctx context.Context) error {
	d.startTime = time.Now()
	d.setRunning(true)
	defer d.setRunning(false)

	addr := fmt.Sprintf(":%d", d.cfg.Port)
	d.logger.Info("starting sessiond", "addr", addr, "workdir", d.cfg.Workdir, "exec_timeout_sec", d.cfg.ExecTimeoutSec)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.srv.ListenAndServe(gctx, addr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		d.runJanitor(gctx)
		return nil
	})

	return g.Wait()
}

func (d *Daemon) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.mgr.CleanupClosed(); n > 0 {
				d.logger.Debug("janitor dropped closed sessions", "count", n)
			}
		}
	}
}
