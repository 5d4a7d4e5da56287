// File: internal/observability/metrics.go
package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics exposes Prometheus collectors for the bridge, the action loop and
// the generation service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	bridgeRequests *prometheus.CounterVec
	bridgeLatency  prometheus.Histogram
	bridgePending  prometheus.Gauge
	bridgeDropped  *prometheus.CounterVec
	loopTicks      *prometheus.CounterVec
	tickDuration   prometheus.Histogram
	llmRequests    *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the instance registered with the global registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics builds and registers all collectors on reg. Tests pass a
// fresh prometheus.NewRegistry(). Registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		bridgeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "domrelay", Subsystem: "bridge",
			Name: "requests_total",
			Help: "Eval requests sent to the page realm, by outcome.",
		}, []string{"outcome"}),
		bridgeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "domrelay", Subsystem: "bridge",
			Name:    "request_duration_seconds",
			Help:    "Round trip time of eval requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		bridgePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "domrelay", Subsystem: "bridge",
			Name: "pending_requests",
			Help: "Eval requests awaiting a response.",
		}),
		bridgeDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "domrelay", Subsystem: "bridge",
			Name: "dropped_messages_total",
			Help: "Messages ignored by a bridge endpoint, by reason.",
		}, []string{"reason"}),
		loopTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "domrelay", Subsystem: "loop",
			Name: "ticks_total",
			Help: "Action loop ticks, by outcome.",
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "domrelay", Subsystem: "loop",
			Name:    "tick_duration_seconds",
			Help:    "Wall time of a full snapshot, generate, execute tick.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "domrelay", Subsystem: "llm",
			Name: "requests_total",
			Help: "Generation requests, by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
	reg.MustRegister(m.bridgeRequests, m.bridgeLatency, m.bridgePending, m.bridgeDropped,
		m.loopTicks, m.tickDuration, m.llmRequests)
	return m
}

// ObserveBridgeRequest records a settled eval request.
func (m *Metrics) ObserveBridgeRequest(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.bridgeRequests.WithLabelValues(outcome).Inc()
	m.bridgeLatency.Observe(elapsed.Seconds())
}

// SetBridgePending sets the pending request gauge.
func (m *Metrics) SetBridgePending(n int) {
	if m == nil {
		return
	}
	m.bridgePending.Set(float64(n))
}

// IncBridgeDropped counts a message the bridge ignored.
func (m *Metrics) IncBridgeDropped(reason string) {
	if m == nil {
		return
	}
	m.bridgeDropped.WithLabelValues(reason).Inc()
}

// ObserveTick records a finished loop tick.
func (m *Metrics) ObserveTick(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.loopTicks.WithLabelValues(outcome).Inc()
	m.tickDuration.Observe(elapsed.Seconds())
}

// IncLLMRequest counts a generation request.
func (m *Metrics) IncLLMRequest(provider, outcome string) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(provider, outcome).Inc()
}

// ServeMetrics exposes the gatherer on addr under /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics.", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
