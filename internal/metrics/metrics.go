// Package metrics exports memory engine activity as Prometheus metrics.
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

	"github.com/user/recall/internal/memory"
)

const namespace = "recall"

// Observer implements memory.Observer with Prometheus collectors.
type Observer struct {
	operations      *prometheus.CounterVec
	affected        *prometheus.CounterVec
	historyBuilds   *prometheus.CounterVec
	historyMessages prometheus.Histogram
	sessions        prometheus.Gauge
	pruned          prometheus.Counter
}

var _ memory.Observer = (*Observer)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Observer {
	o := &Observer{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Memory operations by kind and outcome.",
		}, []string{"kind", "status"}),
		affected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_affected_total",
			Help:      "Messages inserted, removed or rewritten by operations.",
		}, []string{"kind"}),
		historyBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_builds_total",
			Help:      "BuildHistory calls by outcome.",
		}, []string{"status"}),
		historyMessages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_messages",
			Help:      "Messages per built history payload.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live sessions held by the manager.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_pruned_total",
			Help:      "Sessions removed by the janitor.",
		}),
	}
	reg.MustRegister(o.operations, o.affected, o.historyBuilds, o.historyMessages, o.sessions, o.pruned)
	return o
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, memory.ErrValidation):
		return "invalid"
	case errors.Is(err, memory.ErrNotFound):
		return "not_found"
	case errors.Is(err, memory.ErrToolChain):
		return "tool_chain"
	case errors.Is(err, memory.ErrCapacity):
		return "capacity"
	}
	return "error"
}

func (o *Observer) ObserveOperation(kind memory.OpKind, affected int, err error) {
	o.operations.WithLabelValues(string(kind), status(err)).Inc()
	if err == nil && affected > 0 {
		o.affected.WithLabelValues(string(kind)).Add(float64(affected))
	}
}

func (o *Observer) ObserveHistory(messages int, err error) {
	o.historyBuilds.WithLabelValues(status(err)).Inc()
	if err == nil {
		o.historyMessages.Observe(float64(messages))
	}
}

func (o *Observer) ObserveSessions(n int) {
	o.sessions.Set(float64(n))
}

// ObservePruned counts sessions removed by a prune pass.
func (o *Observer) ObservePruned(n int) {
	o.pruned.Add(float64(n))
}

// NewRegistry returns a registry with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Serve exposes reg on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", addr)
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
