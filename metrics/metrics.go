// Package metrics exposes interview engine counters and latencies to
// Prometheus. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readHeaderTimeout = 10 * time.Second

type Metrics struct {
	registry *prometheus.Registry

	Transitions      *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	ProviderErrors   *prometheus.CounterVec
	Exchanges        prometheus.Counter
	RecordingSeconds prometheus.Histogram
	SessionsTotal    *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "intervox"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turn_transitions_total",
				Help:      "Turn state transitions applied",
			},
			[]string{"from", "to"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_duration_seconds",
				Help:      "Latency of transcription, synthesis and session calls",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"op", "provider"},
		),
		ProviderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Failed transcription, synthesis and session calls",
			},
			[]string{"op", "provider"},
		),
		Exchanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Questions answered and accepted by the session service",
		}),
		RecordingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_seconds",
			Help:      "Length of captured responses",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Interview sessions by outcome",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.Transitions,
		m.ProviderDuration,
		m.ProviderErrors,
		m.Exchanges,
		m.RecordingSeconds,
		m.SessionsTotal,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

// Call records one provider round trip started at start.
func (m *Metrics) Call(op, provider string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ProviderDuration.WithLabelValues(op, provider).Observe(time.Since(start).Seconds())
	if err != nil {
		m.ProviderErrors.WithLabelValues(op, provider).Inc()
	}
}

func (m *Metrics) Exchange() {
	if m == nil {
		return
	}
	m.Exchanges.Inc()
}

func (m *Metrics) Recording(d time.Duration) {
	if m == nil {
		return
	}
	m.RecordingSeconds.Observe(d.Seconds())
}

func (m *Metrics) SessionEnd(status string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
