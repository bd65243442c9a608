package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/gymops/internal/circuitbreaker"
)

// Reconciler periodically finishes commits left partially applied and
// resolves commits whose run died before it recorded an outcome.
type Reconciler struct {
	service  *Service
	store    CommitStore
	interval time.Duration
	batch    int
	logger   *slog.Logger
	backoff  *circuitbreaker.Breaker
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewReconciler creates a commit reconciler.
func NewReconciler(service *Service, store CommitStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		service:  service,
		store:    store,
		interval: time.Minute,
		batch:    50,
		logger:   logger,
		backoff:  circuitbreaker.New("reconciler", 3, 10*time.Minute).WithClock(func() time.Time { return service.now() }),
		stop:     make(chan struct{}),
	}
}

// WithBackoff skips a commit for coolDown after it fails threshold
// consecutive sweeps.
func (r *Reconciler) WithBackoff(threshold int, coolDown time.Duration) *Reconciler {
	r.backoff = circuitbreaker.New("reconciler", threshold, coolDown).WithClock(func() time.Time { return r.service.now() })
	return r
}

// WithInterval sets how often the reconciler sweeps.
func (r *Reconciler) WithInterval(d time.Duration) *Reconciler {
	if d > 0 {
		r.interval = d
	}
	return r
}

// Running reports whether the reconcile loop is actively running.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

// Start begins the reconcile loop. Call in a goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeSweep(ctx)
		}
	}
}

// Stop signals the reconciler to stop. A sweep in progress finishes first.
// Safe to call more than once.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Reconciler) safeSweep(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in commit reconciler", "panic", fmt.Sprint(rec))
		}
	}()
	r.Sweep(ctx)
}

// Sweep runs one reconcile pass and returns how many commits it completed.
func (r *Reconciler) Sweep(ctx context.Context) int {
	now := r.service.now()
	completed := 0

	// 1. Partially applied commits: retry their failed steps.
	partial, err := r.store.ListByStatus(ctx, StatusPartialFailure, now, r.batch)
	if err != nil {
		r.logger.Warn("failed to list partial commits", "error", err)
		return 0
	}
	// 2. Pending commits nobody has touched for twice the commit timeout.
	stale, err := r.store.ListByStatus(ctx, StatusPending, now.Add(-2*r.service.timeout), r.batch)
	if err != nil {
		r.logger.Warn("failed to list stale commits", "error", err)
	}

	for _, c := range append(partial, stale...) {
		if ctx.Err() != nil {
			return completed
		}
		if !r.backoff.Allow(c.ID) {
			continue
		}
		got, err := r.service.Retry(ctx, c.ID)
		switch {
		case err == nil:
			r.backoff.RecordSuccess(c.ID)
		case errors.Is(err, ErrCommitFailed):
			r.backoff.Forget(c.ID)
		default:
			r.backoff.RecordFailure(c.ID)
		}
		if err != nil {
			r.logger.Warn("commit still unresolved",
				"commit_id", c.ID, "member_id", c.MemberID, "error", err)
			continue
		}
		completed++
		r.logger.Info("reconciled commit",
			"commit_id", got.ID, "member_id", got.MemberID, "runs", got.Runs)
	}
	return completed
}
