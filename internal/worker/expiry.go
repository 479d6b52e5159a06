package worker

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// ExpiryStore is the single bulk operation the sweeper needs.
type ExpiryStore interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// SweepInterval is how often the background sweep runs. Lazy per-read
// expiry in the state machine covers the window in between; both paths
// apply the same idempotent transition.
const SweepInterval = 5 * time.Minute

// ExpiryWorker periodically transitions overdue pending authorizations to
// expired. Crash-idempotent: re-running a sweep changes nothing.
type ExpiryWorker struct {
	store     ExpiryStore
	interval  time.Duration
	alertFunc func(expired int64) // optional broadcast callback

	// Progress counters (atomic for safe concurrent reads)
	sweeps       atomic.Int64
	totalExpired atomic.Int64
}

func NewExpiryWorker(store ExpiryStore, alertFunc func(expired int64)) *ExpiryWorker {
	return &ExpiryWorker{
		store:     store,
		interval:  SweepInterval,
		alertFunc: alertFunc,
	}
}

// Progress reports lifetime sweep counters for the health surface.
func (w *ExpiryWorker) Progress() (sweeps, expired int64) {
	return w.sweeps.Load(), w.totalExpired.Load()
}

// Run loops until the context is cancelled.
func (w *ExpiryWorker) Run(ctx context.Context) {
	log.Printf("[ExpiryWorker] Starting sweep loop (every %s)", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ExpiryWorker] Stopping sweep loop")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep performs one bulk expiry pass.
func (w *ExpiryWorker) Sweep(ctx context.Context) {
	n, err := w.store.ExpireStale(ctx, time.Now())
	if err != nil {
		log.Printf("[ExpiryWorker] Sweep failed: %v", err)
		return
	}
	w.sweeps.Add(1)
	if n > 0 {
		w.totalExpired.Add(n)
		log.Printf("[ExpiryWorker] Expired %d stale pending authorizations", n)
		if w.alertFunc != nil {
			w.alertFunc(n)
		}
	}
}
