package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/starstore/core/buildinfo"
	coreconfig "github.com/m3rciful/starstore/core/config"
)

var (
	initOnce sync.Once
	closeMu  sync.Mutex
	writers  []*asyncWriter
	files    []io.Closer

	levelVar slog.LevelVar

	debugSampler = newKeyedSampler(1, 50)
	traceAll     bool

	// L is the base logger. It writes through slog.Default until InitLogger runs.
	L *slog.Logger

	// DB logs database connection events.
	DB *slog.Logger
	// TG logs Telegram transport events.
	TG *slog.Logger
	// MIG logs database migration events.
	MIG *slog.Logger
	// TWire logs Telegram wiring steps.
	TWire *slog.Logger
	// SEED logs database seeding.
	SEED *slog.Logger
	// SVCLedger logs ledger store activity.
	SVCLedger *slog.Logger
	// SVCAdmin logs admin workflow activity.
	SVCAdmin *slog.Logger
	// SVCShop logs conversation and purchase flow activity.
	SVCShop *slog.Logger
	// SVCSweeper logs the stale order sweep.
	SVCSweeper *slog.Logger
)

// components binds each package-level logger to its component name.
var components = []struct {
	dst  **slog.Logger
	name string
}{
	{&DB, "db"},
	{&MIG, "db.migrate"},
	{&SEED, "db.seed"},
	{&TG, "tg"},
	{&TWire, "tg.wire"},
	{&SVCLedger, "service.ledger"},
	{&SVCAdmin, "service.admin"},
	{&SVCShop, "service.shop"},
	{&SVCSweeper, "service.sweeper"},
}

func init() {
	L = slog.Default()
	bindComponents()
}

func bindComponents() {
	for _, c := range components {
		*c.dst = L.With("component", c.name)
	}
}

// options is the logging section of the config resolved to concrete values.
type options struct {
	level      slog.Level
	format     logFormat
	profile    string
	sampleNum  int
	sampleDen  int
	botFile    string
	errorsFile string
}

func optionsFrom(cfg *coreconfig.Config) options {
	o := options{level: slog.LevelInfo, format: formatJSON, profile: "prod", sampleNum: 1, sampleDen: 50}
	if cfg == nil {
		return o
	}
	lc := cfg.Logging
	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		o.profile = p
	}
	switch strings.ToLower(strings.TrimSpace(lc.Level)) {
	case "debug":
		o.level = slog.LevelDebug
	case "warn", "warning":
		o.level = slog.LevelWarn
	case "error":
		o.level = slog.LevelError
	}
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text":
		o.format = formatKV
	case "json":
	default:
		if o.profile == "debug" || o.profile == "dev" {
			o.format = formatKV
		}
	}
	if raw := strings.TrimSpace(lc.DebugSample); raw != "" {
		switch n, d := parseRatio(raw); {
		case n == 0 && d == 0:
			o.sampleNum, o.sampleDen = 0, 0
		case n > 0 && d > 0:
			o.sampleNum, o.sampleDen = n, d
		}
	}
	if dir := strings.TrimSpace(lc.Dir); dir != "" {
		if f := strings.TrimSpace(lc.BotFile); f != "" {
			o.botFile = filepath.Join(dir, f)
		}
		if f := strings.TrimSpace(lc.ErrorsFile); f != "" {
			o.errorsFile = filepath.Join(dir, f)
		}
	}
	return o
}

// InitLogger configures the global structured logger. Only the first call has
// an effect. Lines go to stdout and the bot file; warnings and errors are
// also copied to the errors file.
func InitLogger(cfg *coreconfig.Config) error {
	var err error
	initOnce.Do(func() { err = setup(optionsFrom(cfg)) })
	return err
}

func setup(o options) error {
	levelVar.Set(o.level)
	debugSampler.Set(o.sampleNum, o.sampleDen)
	traceAll = isTruthy(os.Getenv("TRACE")) || isTruthy(os.Getenv("LOG_TRACE"))

	primary := []io.Writer{os.Stdout}
	if f, err := openLogFile(o.botFile); err != nil {
		return err
	} else if f != nil {
		primary = append(primary, f)
	}
	sinks := []sink{{w: newAsyncWriter(primary, 0), min: slog.LevelDebug}}
	if f, err := openLogFile(o.errorsFile); err != nil {
		return err
	} else if f != nil {
		sinks = append(sinks, sink{w: newAsyncWriter([]io.Writer{f}, 0), min: slog.LevelWarn})
	}
	for _, s := range sinks {
		writers = append(writers, s.w)
	}

	L = slog.New(newStructuredHandler(handlerConfig{level: &levelVar, format: o.format, sinks: sinks}))
	slog.SetDefault(L)
	bindComponents()

	L.LogAttrs(context.Background(), slog.LevelInfo, "startup",
		slog.String("event", "startup"),
		slog.String("go_version", runtime.Version()),
		slog.String("build_version", buildinfo.Version),
		slog.String("build_commit", buildinfo.Commit),
		slog.String("build_time", buildinfo.Date),
		slog.String("cfg_profile", o.profile),
	)
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logger: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open %s: %w", path, err)
	}
	files = append(files, f)
	return f, nil
}

// Shutdown flushes buffered output and closes the log files. Later calls are
// no-ops.
func Shutdown() error {
	closeMu.Lock()
	defer closeMu.Unlock()
	var errs []error
	for _, w := range writers {
		errs = append(errs, w.Flush(), w.Close())
	}
	for _, f := range files {
		errs = append(errs, f.Close())
	}
	writers, files = nil, nil
	return errors.Join(errs...)
}

// LogEvent logs attrs with the event attribute first. A nil logger falls back
// to the one bound to ctx.
func LogEvent(ctx context.Context, logg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = FromContext(ctx)
	}
	if logg == nil {
		return
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, level, "", attrs...)
}

// Component returns L scoped to the named component.
func Component(name string) *slog.Logger {
	name = strings.TrimSpace(name)
	if L == nil || name == "" {
		return L
	}
	return L.With("component", name)
}

func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelDebug, event, attrs...)
}

func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelInfo, event, attrs...)
}

func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelWarn, event, attrs...)
}

func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), slog.LevelError, event, attrs...)
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// ShouldSampleDebug reports whether debug details for the next event of kind
// should be logged. Each kind is sampled on its own counter; TRACE=1 logs all.
func ShouldSampleDebug(kind string) bool {
	return traceAll || debugSampler.Allow(kind)
}
