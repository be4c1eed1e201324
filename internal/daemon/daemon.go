package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"loom/internal/config"
	"loom/internal/store"
	"loom/internal/watchdog"
)

// Daemon runs the lease watchdog and the status API, enforcing
// single-instance execution via a file lock. Workers and the CLI keep talking
// to the store directly; the daemon only provides liveness monitoring and a
// read surface, so the system still works with no daemon running at all.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	watchdog *watchdog.Watchdog
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	DBPath        string
	LockFilePath  string
	ActiveClaims  int
	TaskStats     store.TaskStats
	OnlineWorkers int
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, wd *watchdog.Watchdog) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil || wd == nil {
		return nil, errors.New("daemon requires config, store, logger, and watchdog")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "loomd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "daemon")),
		store:    st,
		watchdog: wd,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the watchdog and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another loom daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			cancel()
			d.cancel = nil
			_ = d.lock.Unlock()
			return err
		}
	}
	go d.watchdog.Run(runCtx)

	d.running.Store(true)
	d.logger.Info("loom daemon started", slog.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.api != nil {
		d.api.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", slog.Any("error", err))
	}
	d.running.Store(false)
	d.logger.Info("loom daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports current daemon and store state.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		status.TaskStats = stats
	}
	if claims, err := d.store.ListActiveClaims(ctx); err == nil {
		status.ActiveClaims = len(claims)
	}
	if workers, err := d.store.ListWorkers(ctx); err == nil {
		for _, worker := range workers {
			if worker.Status == store.WorkerOnline {
				status.OnlineWorkers++
			}
		}
	}
	return status
}

// APIAddr returns the bound API address, or empty when the API is disabled
// or not started.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}
