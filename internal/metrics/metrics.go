// Package metrics exposes Prometheus instrumentation for the billing
// agent's background workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UsagePublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billingagent_usage_published_total",
		Help: "The total number of usage records successfully published to billing/report",
	})

	UsagePublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billingagent_usage_publish_errors_total",
		Help: "The total number of failed usage publish attempts (re-enqueued)",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "billingagent_queue_depth",
		Help: "The current number of usage records pending delivery",
	})

	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billingagent_reconnect_attempts_total",
		Help: "The total number of reconnect attempts that passed the backoff gate",
	})

	ReconnectRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billingagent_reconnect_rejected_total",
		Help: "The total number of reconnect triggers rejected by the backoff gate or the in-flight interlock",
	})

	HeartbeatSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billingagent_heartbeat_success_total",
		Help: "The total number of successful heartbeat publishes",
	})

	HeartbeatTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billingagent_heartbeat_timeouts_total",
		Help: "The total number of heartbeat ticks that found the liveness window exceeded",
	})

	KeyUpdatesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billingagent_key_updates_applied_total",
		Help: "The total number of key-status updates applied to the key-state store",
	}, []string{"status"})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billingagent_decode_errors_total",
		Help: "The total number of malformed inbound key-update payloads skipped",
	})

	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "billingagent_session_state",
		Help: "Current session state: 0=Idle 1=Connecting 2=Connected 3=Reconnect 4=Backoff 5=Terminated",
	})
)
