package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/config"
	"loom/internal/store"
)

// Watchdog periodically expires claims whose lease lapsed without renewal and
// marks workers with stale heartbeats offline. The store never does either on
// its own; this is the liveness monitor the claim engine depends on.
type Watchdog struct {
	store         *store.Store
	logger        *slog.Logger
	interval      time.Duration
	workerTimeout time.Duration

	now func() time.Time
}

// SweepResult summarizes one watchdog pass.
type SweepResult struct {
	ExpiredClaims   int
	OfflinedWorkers int64
}

// New constructs a watchdog from configuration.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Watchdog, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("watchdog requires config and store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		store:         st,
		logger:        logger.With(slog.String("component", "watchdog")),
		interval:      cfg.WatchdogInterval(),
		workerTimeout: cfg.WorkerTimeout(),
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock overrides the watchdog's time source. Intended for tests.
func (w *Watchdog) SetClock(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// Run sweeps on the configured cadence until the context is cancelled. Sweep
// failures are logged and the loop continues; a broken store connection will
// surface again on the next tick.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("watchdog started",
		slog.Duration("interval", w.interval),
		slog.Duration("worker_timeout", w.workerTimeout),
	)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error("sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep performs one pass: expire every active claim whose lease is past due,
// then offline workers whose heartbeat predates the worker timeout.
func (w *Watchdog) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := w.now()

	overdue, err := w.store.ListExpiredActive(ctx, now)
	if err != nil {
		return result, fmt.Errorf("list overdue claims: %w", err)
	}
	for _, claim := range overdue {
		if err := w.store.Expire(ctx, claim.ID); err != nil {
			// Someone released or expired it between the scan and now.
			if errors.Is(err, store.ErrClaimNotFound) {
				continue
			}
			return result, fmt.Errorf("expire claim %s: %w", claim.ID, err)
		}
		result.ExpiredClaims++
		w.logger.Warn("expired stale claim",
			slog.String("claim", claim.ID),
			slog.String("task", claim.TaskID),
			slog.String("worker", claim.WorkerID),
			slog.Time("lease_expired_at", claim.LeaseExpiresAt),
		)
	}

	offlined, err := w.store.MarkWorkersOffline(ctx, now.Add(-w.workerTimeout))
	if err != nil {
		return result, fmt.Errorf("offline stale workers: %w", err)
	}
	result.OfflinedWorkers = offlined
	if offlined > 0 {
		w.logger.Warn("marked workers offline", slog.Int64("count", offlined))
	}

	return result, nil
}
