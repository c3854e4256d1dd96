package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	coreconfig "github.com/m3rciful/starstore/core/config"
)

// capture logs through a handler writing to an in-memory buffer and returns
// the output once emit has run.
func capture(t *testing.T, format logFormat, emit func(*slog.Logger)) string {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	h := newStructuredHandler(handlerConfig{
		level:  slog.LevelDebug,
		format: format,
		sinks:  []sink{{w: aw, min: slog.LevelDebug}},
	})
	emit(slog.New(h))
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return strings.TrimSpace(buf.String())
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	ctx := WithUpdateMeta(WithRID(context.Background(), "rid-123"), 42, 7, 9)
	line := capture(t, formatKV, func(l *slog.Logger) {
		LogEvent(ctx, l.With("component", "app"), slog.LevelInfo, "test.event",
			slog.String("status", "OK"),
			slog.String("cause", "unit"),
		)
	})
	tokens := strings.Split(line, " ")
	want := []string{"ts=", "level=INFO", "component=app", "event=test.event", "status=ok", "rid=rid-123", "update_id=42", "user_id=7", "chat_id=9"}
	if len(tokens) < len(want) {
		t.Fatalf("too few tokens: %s", line)
	}
	for i, prefix := range want {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, want prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	ctx := WithRID(context.Background(), "rid-json")
	line := capture(t, formatJSON, func(l *slog.Logger) {
		LogEvent(ctx, l.With("component", "service.test"), slog.LevelError, "service.failed",
			slog.String("status", "fail"),
			slog.String("err", "boom"),
		)
	})
	pos := -1
	for _, pref := range []string{`{"ts":`, `"level":"ERROR"`, `"component":"service.test"`, `"event":"service.failed"`, `"status":"fail"`, `"rid":"rid-json"`} {
		idx := strings.Index(line, pref)
		if idx <= pos {
			t.Fatalf("%s out of order in %s", pref, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerCompactRID(t *testing.T) {
	ctx := WithRID(context.Background(), BuildRID(123, 456, 789))
	emit := func(l *slog.Logger) { LogEvent(ctx, l, slog.LevelInfo, "rid.test") }

	kv := capture(t, formatKV, emit)
	if !strings.Contains(kv, "rid=3f.co.lx") || strings.Contains(kv, "rid_full") {
		t.Fatalf("kv rid: %s", kv)
	}
	js := capture(t, formatJSON, emit)
	for _, want := range []string{`"rid":"3f.co.lx"`, `"rid_full":"123:456:789"`, `"ts_unix_nano"`} {
		if !strings.Contains(js, want) {
			t.Fatalf("expected %s in %s", want, js)
		}
	}
}

type priceStub struct{ v string }

func (p priceStub) String() string { return p.v }

func TestStructuredHandlerDomainAttrs(t *testing.T) {
	line := capture(t, formatKV, func(l *slog.Logger) {
		LogEvent(context.Background(), l.With("component", "service.admin"), slog.LevelInfo, "order.approve",
			slog.String("status", "ok"),
			slog.Int64("order_id", 7),
			slog.Int64("stars", 100),
			slog.Any("price", priceStub{"165.00"}),
			slog.Duration("notify_duration", 1500*time.Microsecond),
			slog.String("outcome", "exploded"),
			slog.String("recipient", ""),
			slog.Group("sweep", slog.Int("removed", 2)),
		)
	})
	for _, want := range []string{"order_id=7 stars=100 price=165.00", "notify_duration_ms=2", "sweep.removed=2"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %s", want, line)
		}
	}
	if strings.Contains(line, "recipient") {
		t.Fatalf("empty recipient kept: %s", line)
	}
	if strings.Contains(line, "outcome") {
		t.Fatalf("unknown outcome kept: %s", line)
	}
}

func TestDurationKey(t *testing.T) {
	tests := map[string]string{
		"duration":       "duration_ms",
		"sweep_duration": "sweep_duration_ms",
		"backoff_ms":     "backoff_ms",
		"delay":          "delay_ms",
	}
	for in, want := range tests {
		if got := durationKey(in); got != want {
			t.Errorf("durationKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStructuredHandlerRedactsSecrets(t *testing.T) {
	line := capture(t, formatKV, func(l *slog.Logger) {
		LogEvent(context.Background(), l.With("component", "tg"), slog.LevelError, "send.done",
			slog.String("status", "fail"),
			slog.String("payment_details", "card 4111 1111 1111 1111"),
			slog.String("err", `Post "https://api.telegram.org/bot123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw/sendMessage": timeout`),
		)
	})
	if strings.Contains(line, "4111") || strings.Contains(line, "AAHdqTcv") {
		t.Fatalf("secret leaked: %s", line)
	}
	if !strings.Contains(line, "bot<redacted>/sendMessage") {
		t.Fatalf("expected redacted token in %s", line)
	}
}

func TestWarningsReachErrorSink(t *testing.T) {
	all, errs := &bytes.Buffer{}, &bytes.Buffer{}
	allW := newAsyncWriter([]io.Writer{all}, 0)
	errW := newAsyncWriter([]io.Writer{errs}, 0)
	l := slog.New(newStructuredHandler(handlerConfig{
		level:  slog.LevelDebug,
		format: formatKV,
		sinks:  []sink{{w: allW, min: slog.LevelDebug}, {w: errW, min: slog.LevelWarn}},
	}))
	ctx := context.Background()
	LogEvent(ctx, l, slog.LevelInfo, "order.created")
	LogEvent(ctx, l, slog.LevelWarn, "rate.fallback")
	LogEvent(ctx, l, slog.LevelError, "order.approve")
	for _, w := range []*asyncWriter{allW, errW} {
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	if got := strings.Count(all.String(), "\n"); got != 3 {
		t.Fatalf("main sink got %d lines, want 3", got)
	}
	if strings.Contains(errs.String(), "order.created") || strings.Count(errs.String(), "\n") != 2 {
		t.Fatalf("error sink = %q", errs.String())
	}
}

func TestScopeIsCopiedOnWrite(t *testing.T) {
	parent := WithRID(context.Background(), "1:2:3")
	child := WithHandler(WithUpdateMeta(parent, 1, 3, 2), "buy_stars")
	if HandlerFrom(parent) != "" || UserIDFrom(parent) != 0 {
		t.Fatal("child values leaked into parent")
	}
	if RIDFrom(child) != "1:2:3" || HandlerFrom(child) != "buy_stars" || ChatIDFrom(child) != 2 {
		t.Fatalf("child scope = %+v", scopeOf(child))
	}
}

func TestSanitizeLimit(t *testing.T) {
	if got := SanitizeLimit("a\x00b\u200bc\td", 3); got != "abc" {
		t.Fatalf("SanitizeLimit = %q", got)
	}
	if got := SanitizeLimit("hello", 0); got != "" {
		t.Fatalf("SanitizeLimit(max=0) = %q", got)
	}
}

func TestOptionsFrom(t *testing.T) {
	cfg := &coreconfig.Config{Logging: coreconfig.LoggingConfig{
		Level:       "warning",
		Profile:     "Dev",
		DebugSample: "2/10",
		Dir:         "logs",
		BotFile:     "bot.log",
		ErrorsFile:  "errors.log",
	}}
	got := optionsFrom(cfg)
	want := options{
		level:      slog.LevelWarn,
		format:     formatKV,
		profile:    "dev",
		sampleNum:  2,
		sampleDen:  10,
		botFile:    filepath.Join("logs", "bot.log"),
		errorsFile: filepath.Join("logs", "errors.log"),
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(options{})); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}
	if d := optionsFrom(nil); d.format != formatJSON || d.sampleDen != 50 {
		t.Fatalf("defaults = %+v", d)
	}
}
