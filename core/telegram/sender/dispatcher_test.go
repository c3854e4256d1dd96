package sender

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func dialErr() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})
	defer d.Close()

	var calls atomic.Int32
	err := d.Do(context.Background(), "send.text", "sendMessage", func() error {
		if calls.Add(1) < 3 {
			return dialErr()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if d.ErrorCount() != 0 {
		t.Fatalf("ErrorCount = %d", d.ErrorCount())
	}
}

func TestDoReturnsPermanentError(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})
	defer d.Close()

	boom := errors.New("telegram: Bad Request: chat not found (400)")
	var calls atomic.Int32
	err := d.Do(context.Background(), "send.text", "sendMessage", func() error {
		calls.Add(1)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Do = %v, want %v", err, boom)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if d.ErrorCount() != 1 {
		t.Fatalf("ErrorCount = %d, want 1", d.ErrorCount())
	}
}

func TestEnqueueRunsAndCloseDrains(t *testing.T) {
	d := NewDispatcher(Options{Workers: 2, QueueSize: 8})

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		if err := d.Enqueue(context.Background(), "send.text", "sendMessage", func() error {
			done.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	d.Close()
	if done.Load() != 5 {
		t.Fatalf("done = %d, want 5", done.Load())
	}
	if err := d.Enqueue(context.Background(), "send.text", "", func() error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Enqueue after Close = %v", err)
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:AAbb-cc_DD/sendMessage": timeout`)
	got := sanitizeErrorMessage(err)
	want := `Post "https://api.telegram.org/bot<redacted>/sendMessage": timeout`
	if got != want {
		t.Fatalf("sanitize = %q, want %q", got, want)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "timeout"},
		{dialErr(), "dial"},
		{errors.New("telegram: Internal Server Error (500)"), "http_5xx"},
		{errors.New("telegram: Forbidden: bot was blocked by the user (403)"), "forbidden"},
		{errors.New("telegram: Bad Request: chat not found (400)"), "http_4xx"},
		{tele.FloodError{RetryAfter: 5}, "flood"},
		{errors.New("weird"), "unknown"},
	}
	for _, tc := range cases {
		if got := classifyError(tc.err); got != tc.want {
			t.Errorf("classifyError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestIsForbidden(t *testing.T) {
	if !IsForbidden(errors.New("telegram: Forbidden: bot was blocked by the user (403)")) {
		t.Fatal("blocked user not detected")
	}
	if IsForbidden(errors.New("telegram: Bad Request: chat not found (400)")) || IsForbidden(nil) {
		t.Fatal("false positive")
	}
}

func TestDoWaitsForPacer(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, PerSecond: 0.001})
	defer d.Close()

	if err := d.Do(context.Background(), "send.text", "sendMessage", func() error { return nil }); err != nil {
		t.Fatalf("first Do: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := d.Do(ctx, "send.text", "sendMessage", func() error { ran = true; return nil })
	if err == nil || ran {
		t.Fatalf("second Do = %v, ran=%v; want pacing error before the call", err, ran)
	}
}

func TestDoWithoutPacing(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, PerSecond: -1})
	defer d.Close()

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := d.Do(context.Background(), "send.text", "sendMessage", func() error { return nil }); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if time.Since(start) > time.Second {
		t.Fatalf("unpaced calls took %v", time.Since(start))
	}
}
