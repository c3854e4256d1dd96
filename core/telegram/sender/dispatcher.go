package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/m3rciful/starstore/core/logger"
	"github.com/m3rciful/starstore/core/telegram/netutil"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after dispatcher stop.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")

	errNilRun = errors.New("telegram sender: nil run function")
)

// Telegram accepts about 30 messages per second from one bot.
const defaultPerSecond = 25

// Options controls the behaviour of the outbound dispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on a single call, pacing and retries included.
	MaxDuration time.Duration
	// PerSecond paces attempts across all callers; 0 -> 25, negative disables pacing.
	PerSecond float64
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	if o.PerSecond == 0 {
		o.PerSecond = defaultPerSecond
	}
	return o
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher executes outbound Telegram calls with pacing and retries, either
// queued on its workers or inline through Do.
type Dispatcher struct {
	opts   Options
	pacer  *rate.Limiter
	jobs   chan job
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	errs   atomic.Uint64
}

// NewDispatcher starts the workers. Zero options take defaults.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	limit := rate.Limit(opts.PerSecond)
	if opts.PerSecond < 0 {
		limit = rate.Inf
	}
	d := &Dispatcher{
		opts:   opts,
		pacer:  rate.NewLimiter(limit, 1),
		jobs:   make(chan job, opts.QueueSize),
		closed: make(chan struct{}),
	}
	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go func() {
			defer d.wg.Done()
			for j := range d.jobs {
				_ = d.execute(j)
			}
		}()
	}
	return d
}

// Enqueue schedules run on a worker and returns at once. run must be safe to
// repeat when retries are enabled.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errNilRun
	}
	select {
	case <-d.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Do runs the call on the caller's goroutine with the same pacing and retry
// policy as queued jobs and returns the last error. Callers that need the API
// response capture it inside run.
func (d *Dispatcher) Do(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errNilRun
	}
	return d.execute(job{ctx: ctx, action: action, endpoint: endpoint, run: run})
}

// ErrorCount returns the number of calls that failed for good.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Close stops accepting jobs and waits for the queued ones to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.closed)
		close(d.jobs)
		d.wg.Wait()
	})
}

func (d *Dispatcher) execute(j job) error {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = d.pacer.Wait(callCtx); err != nil {
			break
		}
		if err = j.run(); err == nil {
			d.log(ctx, j, slog.LevelDebug, "send.done", "ok", attempt, start)
			return nil
		}
		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}

		delay := d.opts.RetryBackoff * time.Duration(attempt)
		if wait, ok := floodWait(err); ok {
			delay = wait
		}
		d.log(ctx, j, slog.LevelDebug, "send.retry", "retry", attempt, start,
			slog.Duration("delay", delay),
			slog.String("error_kind", classifyError(err)),
		)
		timer := time.NewTimer(delay)
		select {
		case <-callCtx.Done():
			timer.Stop()
			err = callCtx.Err()
			attempt = attempts
		case <-timer.C:
		}
	}

	d.errs.Add(1)
	d.log(ctx, j, slog.LevelError, "send.done", logger.Status(err), attempts, start,
		slog.String("error", sanitizeErrorMessage(err)),
		slog.String("error_kind", classifyError(err)),
	)
	return err
}

func (d *Dispatcher) log(ctx context.Context, j job, level slog.Level, event, status string, attempt int, start time.Time, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("action", j.action),
		slog.Int("attempt", attempt),
		slog.Duration("duration", logger.Took(start)),
	}
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.endpoint))
	}
	logger.LogEvent(ctx, logger.TG, level, event, append(attrs, extra...)...)
}

func floodWait(err error) (time.Duration, bool) {
	return netutil.RetryAfter(err)
}
