package worker

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type fakeExpiryStore struct {
	results []int64 // one per sweep, consumed in order
	calls   int
	fail    bool
}

func (f *fakeExpiryStore) ExpireStale(_ context.Context, _ time.Time) (int64, error) {
	if f.fail {
		return 0, fmt.Errorf("db unavailable")
	}
	n := int64(0)
	if f.calls < len(f.results) {
		n = f.results[f.calls]
	}
	f.calls++
	return n, nil
}

func TestSweep_AccumulatesCounters(t *testing.T) {
	store := &fakeExpiryStore{results: []int64{3, 0, 2}}
	var alerts []int64
	w := NewExpiryWorker(store, func(n int64) { alerts = append(alerts, n) })

	w.Sweep(context.Background())
	w.Sweep(context.Background())
	w.Sweep(context.Background())

	sweeps, expired := w.Progress()
	if sweeps != 3 {
		t.Fatalf("expected 3 sweeps, got %d", sweeps)
	}
	if expired != 5 {
		t.Fatalf("expected 5 total expired, got %d", expired)
	}
	// The alert fires only when a sweep actually expired something.
	if len(alerts) != 2 || alerts[0] != 3 || alerts[1] != 2 {
		t.Fatalf("unexpected alerts: %v", alerts)
	}
}

func TestSweep_FailureDoesNotCountAsSweep(t *testing.T) {
	store := &fakeExpiryStore{fail: true}
	w := NewExpiryWorker(store, nil)

	w.Sweep(context.Background())

	sweeps, expired := w.Progress()
	if sweeps != 0 || expired != 0 {
		t.Fatalf("failed sweep must not advance counters, got sweeps=%d expired=%d", sweeps, expired)
	}
}

func TestSweep_NilAlertFuncIsSafe(t *testing.T) {
	store := &fakeExpiryStore{results: []int64{1}}
	w := NewExpiryWorker(store, nil)
	w.Sweep(context.Background()) // must not panic

	_, expired := w.Progress()
	if expired != 1 {
		t.Fatalf("expected 1 expired, got %d", expired)
	}
}
