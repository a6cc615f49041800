// Package observability provides the gateway's Prometheus metrics
// (connection counts, router throughput, approval-FSM transitions, pack
// executions) and its /healthz HTTP handler. The metrics register on the
// default Prometheus registry; /metrics itself is mounted by the caller.
package observability

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the gateway core's Prometheus instrumentation surface.
type Metrics struct {
	// AgentSessions is a gauge of currently connected agent sessions.
	AgentSessions prometheus.Gauge
	// PackSessions is a gauge of currently connected pack sessions.
	PackSessions prometheus.Gauge
	// ClientSubscriptions is a gauge of open StreamEvents subscriptions.
	ClientSubscriptions prometheus.Gauge

	// MessagesRouted counts SendMessage calls by outcome (accepted,
	// already_accepted, offline, queue_full).
	MessagesRouted *prometheus.CounterVec
	// EventsPublished counts router-fanned-out events by kind.
	EventsPublished *prometheus.CounterVec
	// SubscriberLagDrops counts StreamEvents subscribers dropped for lag.
	SubscriberLagDrops prometheus.Counter

	// ToolApprovalTransitions counts approval-FSM transitions by
	// destination state.
	ToolApprovalTransitions *prometheus.CounterVec
	// ToolApprovalLatency measures AwaitingApproval->terminal latency.
	ToolApprovalLatency prometheus.Histogram

	// PackToolExecutions counts ExecuteTool calls by outcome
	// (completed, timeout, cancelled, unknown_tool, pack_offline).
	PackToolExecutions *prometheus.CounterVec
}

// NewMetrics registers and returns the gateway core's metrics. Calling it
// twice against the default registry panics (prometheus's own collector
// double-registration guard), matching promauto's documented behavior.
func NewMetrics() *Metrics {
	return &Metrics{
		AgentSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_agent_sessions",
			Help: "Number of currently connected agent sessions.",
		}),
		PackSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_pack_sessions",
			Help: "Number of currently connected pack sessions.",
		}),
		ClientSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_client_subscriptions",
			Help: "Number of open StreamEvents subscriptions.",
		}),
		MessagesRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_messages_routed_total",
			Help: "Total SendMessage calls by outcome.",
		}, []string{"outcome"}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_events_published_total",
			Help: "Total events fanned out to client subscribers, by kind.",
		}, []string{"kind"}),
		SubscriberLagDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_subscriber_lag_drops_total",
			Help: "Total StreamEvents subscribers disconnected for falling behind.",
		}),
		ToolApprovalTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_approval_transitions_total",
			Help: "Total tool-approval FSM transitions by destination state.",
		}, []string{"state"}),
		ToolApprovalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_tool_approval_latency_seconds",
			Help:    "Seconds spent AwaitingApproval before a terminal transition.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		PackToolExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_pack_tool_executions_total",
			Help: "Total ExecuteTool dispatches by outcome.",
		}, []string{"outcome"}),
	}
}

// HealthStatus is the /healthz JSON payload.
type HealthStatus struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version,omitempty"`
}

// HealthHandler returns an http.HandlerFunc reporting process uptime since
// startedAt. It always reports "ok": the gateway only serves /healthz once
// its listeners are up, so reachability itself is the health signal.
func HealthHandler(startedAt time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthStatus{
			Status:  "ok",
			Uptime:  time.Since(startedAt).Round(time.Second).String(),
			Version: version,
		})
	}
}
