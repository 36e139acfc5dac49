package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bot. A nil *Metrics records nothing.
type Metrics struct {
	GatewayRequestTotal *prometheus.CounterVec
	GatewayDurationMs   *prometheus.HistogramVec
	TokensTotal         *prometheus.CounterVec
	JobTotal            *prometheus.CounterVec
	JobDurationMs       *prometheus.HistogramVec
	JobStateTotal       *prometheus.CounterVec
	LockConflictTotal   *prometheus.CounterVec
	WebhookEventTotal   *prometheus.CounterVec
	CommandRejectTotal  *prometheus.CounterVec
	RateLimitHitTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GatewayRequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walle_gateway_request_total",
			Help: "Relay calls by answering provider and outcome.",
		}, []string{"provider", "status"}),

		GatewayDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "walle_gateway_duration_ms",
			Help:    "Relay call duration in milliseconds, including stream reassembly.",
			Buckets: []float64{500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000, 600000},
		}, []string{"provider"}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walle_tokens_total",
			Help: "Tokens reported by providers.",
		}, []string{"provider", "direction"}),

		JobTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walle_job_total",
			Help: "Jobs processed by command and outcome.",
		}, []string{"command", "outcome"}),

		JobDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "walle_job_duration_ms",
			Help:    "Job duration from enqueue to acknowledgement in milliseconds.",
			Buckets: []float64{1000, 5000, 10000, 30000, 60000, 120000, 300000, 600000, 900000},
		}, []string{"command"}),

		JobStateTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walle_job_state_total",
			Help: "Job state machine transitions.",
		}, []string{"state"}),

		LockConflictTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walle_lock_conflict_total",
			Help: "Lock acquisitions rejected because the conversation was already running.",
		}, []string{"stage"}),

		WebhookEventTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walle_webhook_event_total",
			Help: "Webhook deliveries by event type and result.",
		}, []string{"event", "result"}),

		CommandRejectTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walle_command_reject_total",
			Help: "Commands rejected at dispatch.",
		}, []string{"reason"}),

		RateLimitHitTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "walle_ratelimit_hit_total",
			Help: "Requests or commands denied by a rate limit or budget.",
		}, []string{"dimension"}),
	}
}

// GatewayLabels holds the values recorded for one relay call.
type GatewayLabels struct {
	Provider     string
	Status       string
	DurationMs   float64
	InputTokens  int64
	OutputTokens int64
}

func (m *Metrics) RecordGatewayCall(l GatewayLabels) {
	if m == nil {
		return
	}
	m.GatewayRequestTotal.WithLabelValues(l.Provider, l.Status).Inc()
	m.GatewayDurationMs.WithLabelValues(l.Provider).Observe(l.DurationMs)
	if l.InputTokens > 0 {
		m.TokensTotal.WithLabelValues(l.Provider, "input").Add(float64(l.InputTokens))
	}
	if l.OutputTokens > 0 {
		m.TokensTotal.WithLabelValues(l.Provider, "output").Add(float64(l.OutputTokens))
	}
}

func (m *Metrics) RecordJob(command, outcome string, durationMs float64) {
	if m == nil {
		return
	}
	m.JobTotal.WithLabelValues(command, outcome).Inc()
	m.JobDurationMs.WithLabelValues(command).Observe(durationMs)
}

func (m *Metrics) RecordJobState(state string) {
	if m == nil {
		return
	}
	m.JobStateTotal.WithLabelValues(state).Inc()
}

// RecordLockConflict counts a rejected acquisition; stage is "dispatch", "actor" or "worker".
func (m *Metrics) RecordLockConflict(stage string) {
	if m == nil {
		return
	}
	m.LockConflictTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordWebhook(event, result string) {
	if m == nil {
		return
	}
	m.WebhookEventTotal.WithLabelValues(event, result).Inc()
}

func (m *Metrics) RecordCommandReject(reason string) {
	if m == nil {
		return
	}
	m.CommandRejectTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRateLimitHit(dimension string) {
	if m == nil {
		return
	}
	m.RateLimitHitTotal.WithLabelValues(dimension).Inc()
}
