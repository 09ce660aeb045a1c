package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const metricsNamespace = "webpilot"

// Metrics collects run-level counters for the agent loop. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	iterations     *prometheus.CounterVec
	providerFaults *prometheus.CounterVec
	actionErrors   *prometheus.CounterVec
	runs           *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
}

// NewMetrics registers the agent collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetricsWith(reg, reg)
}

// NewMetricsWith registers the agent collectors on reg and serves them from g.
func NewMetricsWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: g,
		iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "iterations_total",
			Help:      "Loop iterations executed, by mode.",
		}, []string{"mode"}),
		providerFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_faults_total",
			Help:      "Reasoning provider failures, by provider and code.",
		}, []string{"provider", "code"}),
		actionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "action_errors_total",
			Help:      "Browser actions that failed, by action and code.",
		}, []string{"action", "code"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Completed runs, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one executor step, by mode and action.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"mode", "action"}),
	}
}

func (m *Metrics) ObserveStep(mode, action string, d time.Duration) {
	if m == nil {
		return
	}
	m.iterations.WithLabelValues(mode).Inc()
	m.stepDuration.WithLabelValues(mode, action).Observe(d.Seconds())
}

func (m *Metrics) ProviderFault(provider, code string) {
	if m == nil {
		return
	}
	m.providerFaults.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ActionError(action, code string) {
	if m == nil {
		return
	}
	m.actionErrors.WithLabelValues(action, code).Inc()
}

func (m *Metrics) RunFinished(mode, outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(mode, outcome).Inc()
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics endpoint listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics endpoint shutdown failed", zap.Error(err))
		}
		return nil
	}
}
