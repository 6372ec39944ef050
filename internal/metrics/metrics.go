package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ChatRequests    *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec
	TurnsRecorded   *prometheus.CounterVec
	RecordFailures  prometheus.Counter
	EnqueuedJobs    prometheus.Counter
	ProcessedJobs   prometheus.Counter
	FailedJobs      prometheus.Counter
	LoginAttempts   *prometheus.CounterVec
	LimiterErrors   *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(global.collectors()...)
	})
	return global
}

// New builds an unregistered set, for tests that need isolated counters.
func New() *Metrics {
	return &Metrics{
		ChatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "chat_requests_total",
			Help:      "Chat requests by provider and outcome",
		}, []string{"provider", "outcome"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relaychat",
			Name:      "upstream_latency_seconds",
			Help:      "Latency of upstream provider calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"provider"}),
		TurnsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "turns_recorded_total",
			Help:      "Conversation turns accepted by the recorder",
		}, []string{"message_type"}),
		RecordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "turn_record_failures_total",
			Help:      "Conversation turns that could not be recorded",
		}),
		EnqueuedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "queue_enqueued_total",
			Help:      "Total turn jobs enqueued to redis stream",
		}),
		ProcessedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "queue_processed_total",
			Help:      "Total turn jobs successfully persisted",
		}),
		FailedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "queue_failed_total",
			Help:      "Total turn jobs failed during processing",
		}),
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "admin_login_attempts_total",
			Help:      "Admin login attempts by outcome",
		}, []string{"outcome"}),
		LimiterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "rate_limiter_errors_total",
			Help:      "Rate limiter backend failures; the request was let through",
		}, []string{"limiter"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ChatRequests,
		m.UpstreamLatency,
		m.TurnsRecorded,
		m.RecordFailures,
		m.EnqueuedJobs,
		m.ProcessedJobs,
		m.FailedJobs,
		m.LoginAttempts,
		m.LimiterErrors,
	}
}
