package sweeper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/starstore/internal/metrics"
)

type fakeStore struct {
	mu     sync.Mutex
	calls  int
	maxAge time.Duration
	n      int64
	err    error
	block  chan struct{}
}

func (f *fakeStore) SweepStaleUnpaidOrders(_ context.Context, maxAge time.Duration) (int64, error) {
	f.mu.Lock()
	f.calls++
	f.maxAge = maxAge
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.n, f.err
}

func (f *fakeStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRunOnceDefaults(t *testing.T) {
	store := &fakeStore{n: 3}
	rec := metrics.New()
	s := New(Config{}, store, rec)

	n, err := s.RunOnce(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	if store.maxAge != 72*time.Hour {
		t.Fatalf("max age = %v, want 72h", store.maxAge)
	}
	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "starstore_stale_orders_swept_total 3") {
		t.Fatalf("swept counter not exported:\n%s", rr.Body.String())
	}
}

func TestRunOnceError(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	s := New(Config{}, store, nil)
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunOnceSkipsWhenBusy(t *testing.T) {
	store := &fakeStore{block: make(chan struct{}), n: 1}
	s := New(Config{}, store, nil)

	done := make(chan struct{})
	go func() {
		_, _ = s.RunOnce(context.Background())
		close(done)
	}()
	for store.Calls() == 0 {
		time.Sleep(time.Millisecond)
	}
	if n, err := s.RunOnce(context.Background()); n != 0 || err != nil {
		t.Fatalf("concurrent RunOnce = %d, %v", n, err)
	}
	close(store.block)
	<-done
	if store.Calls() != 1 {
		t.Fatalf("calls = %d, want 1", store.Calls())
	}
}

func TestRunSweepsAtStartAndStops(t *testing.T) {
	store := &fakeStore{}
	s := New(Config{Interval: time.Hour}, store, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	for store.Calls() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
