// Package metrics exposes shop counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/starstore/core/logger"
)

const namespace = "starstore"

// Recorder owns the shop collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	updates     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	orders      *prometheus.CounterVec
	mailing     *prometheus.CounterVec
	bonus       *prometheus.CounterVec
	swept       prometheus.Counter
	failures    *prometheus.CounterVec
}

// New registers the shop collectors together with the Go and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Inbound chat events by kind.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Conversation transitions by target state.",
		}, []string{"state"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order lifecycle events.",
		}, []string{"outcome"}),
		mailing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mailing_messages_total",
			Help:      "Broadcast deliveries by result.",
		}, []string{"result"}),
		bonus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bonus_operations_total",
			Help:      "Daily bonus claims and exchanges.",
		}, []string{"operation"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_orders_swept_total",
			Help:      "Unpaid orders removed by the sweep.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Errors surfaced at the conversation boundary by kind.",
		}, []string{"kind"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.updates, r.transitions, r.orders, r.mailing, r.bonus, r.swept, r.failures,
	)
	return r
}

// Update counts an inbound event.
func (r *Recorder) Update(kind string) {
	if r != nil {
		r.updates.WithLabelValues(kind).Inc()
	}
}

// Transition counts a move into state.
func (r *Recorder) Transition(state string) {
	if r != nil {
		r.transitions.WithLabelValues(state).Inc()
	}
}

// Order counts an order event such as created, approved, rejected.
func (r *Recorder) Order(outcome string) {
	if r != nil {
		r.orders.WithLabelValues(outcome).Inc()
	}
}

// Mailing adds the results of one broadcast.
func (r *Recorder) Mailing(sent, failed int) {
	if r == nil {
		return
	}
	r.mailing.WithLabelValues("sent").Add(float64(sent))
	r.mailing.WithLabelValues("failed").Add(float64(failed))
}

// Bonus counts a bonus operation.
func (r *Recorder) Bonus(operation string) {
	if r != nil {
		r.bonus.WithLabelValues(operation).Inc()
	}
}

// Swept adds removed stale orders.
func (r *Recorder) Swept(n int64) {
	if r != nil && n > 0 {
		r.swept.Add(float64(n))
	}
}

// Failure counts an error by kind.
func (r *Recorder) Failure(kind string) {
	if r != nil {
		r.failures.WithLabelValues(kind).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, r *Recorder) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "metrics", "metrics.listen", slog.String("listen", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
