package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	sessionDuration prometheus.Histogram

	turnsTotal      *prometheus.CounterVec
	turnLatency     *prometheus.HistogramVec
	providerEvents  *prometheus.CounterVec
	reconnectsTotal *prometheus.CounterVec
	eventQueueDrops prometheus.Counter
	outboundBytes   *prometheus.CounterVec

	toolInvocationsTotal   *prometheus.CounterVec
	toolInvocationDuration *prometheus.HistogramVec

	handoffsTotal *prometheus.CounterVec

	checkpointDuration *prometheus.HistogramVec
	definitionReloads  *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "vocalis_active_sessions",
					Help: "Current number of active sessions.",
				},
			),
			sessionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vocalis_sessions_total",
					Help: "Total sessions by terminal status.",
				},
				[]string{"status"},
			),
			sessionDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "vocalis_session_duration_seconds",
					Help:    "Session lifetime in seconds.",
					Buckets: prometheus.ExponentialBuckets(1, 4, 8),
				},
			),
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vocalis_turns_total",
					Help: "Completed model turns by agent community.",
				},
				[]string{"community"},
			),
			turnLatency: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "vocalis_turn_latency_seconds",
					Help:    "Latency from turn start to response completion.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerEvents: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vocalis_provider_events_total",
					Help: "Normalized provider events by provider and kind.",
				},
				[]string{"provider", "kind"},
			),
			reconnectsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vocalis_reconnects_total",
					Help: "Provider reconnect attempts by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			eventQueueDrops: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "vocalis_event_queue_overflows_total",
					Help: "Sessions failed because the provider event buffer overflowed.",
				},
			),
			outboundBytes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vocalis_outbound_bytes_total",
					Help: "Bytes sent to the provider by event kind.",
				},
				[]string{"kind"},
			),
			toolInvocationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vocalis_tool_invocations_total",
					Help: "Tool invocations by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolInvocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "vocalis_tool_invocation_duration_seconds",
					Help:    "Tool invocation duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			handoffsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vocalis_handoffs_total",
					Help: "Agent hand-offs by source and target community.",
				},
				[]string{"source", "target"},
			),
			checkpointDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "vocalis_checkpoint_duration_seconds",
					Help:    "Session checkpoint store operation duration by op.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			definitionReloads: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vocalis_definition_reloads_total",
					Help: "Agent definition reload attempts by outcome.",
				},
				[]string{"outcome"},
			),
			errorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vocalis_errors_total",
					Help: "Errors by kind.",
				},
				[]string{"kind"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsTotal,
			m.sessionDuration,
			m.turnsTotal,
			m.turnLatency,
			m.providerEvents,
			m.reconnectsTotal,
			m.eventQueueDrops,
			m.outboundBytes,
			m.toolInvocationsTotal,
			m.toolInvocationDuration,
			m.handoffsTotal,
			m.checkpointDuration,
			m.definitionReloads,
			m.errorsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionClosed(status string, lifetime time.Duration) {
	m := getMetrics()
	m.sessionsTotal.WithLabelValues(status).Inc()
	m.sessionDuration.Observe(lifetime.Seconds())
}

func RecordTurn(community, provider string, latency time.Duration) {
	m := getMetrics()
	m.turnsTotal.WithLabelValues(community).Inc()
	m.turnLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

func RecordProviderEvent(provider, kind string) {
	getMetrics().providerEvents.WithLabelValues(provider, kind).Inc()
}

func RecordReconnect(provider string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	getMetrics().reconnectsTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordEventQueueOverflow() {
	getMetrics().eventQueueDrops.Inc()
}

func RecordOutboundBytes(kind string, n int) {
	getMetrics().outboundBytes.WithLabelValues(kind).Add(float64(n))
}

func RecordToolInvocation(tool, status string, duration time.Duration) {
	m := getMetrics()
	m.toolInvocationsTotal.WithLabelValues(tool, status).Inc()
	m.toolInvocationDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordHandoff(sourceCommunity, targetCommunity string) {
	getMetrics().handoffsTotal.WithLabelValues(sourceCommunity, targetCommunity).Inc()
}

func RecordCheckpoint(op string, duration time.Duration) {
	getMetrics().checkpointDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordDefinitionReload(success bool) {
	outcome := "rejected"
	if success {
		outcome = "applied"
	}
	getMetrics().definitionReloads.WithLabelValues(outcome).Inc()
}

func RecordError(kind string) {
	getMetrics().errorsTotal.WithLabelValues(kind).Inc()
}
