package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "sentinelagent"

// Metrics holds all Prometheus metrics for the agent.
// Pass to components that need to record metrics; a nil *Metrics disables
// recording.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	EvalErrors      prometheus.Counter
	ProcessKills    *prometheus.CounterVec
	AuditQueueDepth prometheus.Gauge
	AuditDropsTotal prometheus.Counter
	AuditFlushes    *prometheus.CounterVec
	Syncs           *prometheus.CounterVec
	CachedPolicies  prometheus.Gauge
	BlockedDomains  prometheus.Gauge
	AccessRequests  *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "decisions_total",
				Help:      "Total enforcement decisions",
			},
			[]string{"kind", "result"}, // kind=process/file, result=allow/block
		),
		EvalErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "evaluation_errors_total",
				Help:      "Rules that could not be evaluated and were treated as no match",
			},
		),
		ProcessKills: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "process_terminations_total",
				Help:      "Process terminations attempted",
			},
			[]string{"status"}, // status=ok/error
		),
		AuditQueueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "audit_queue_depth",
				Help:      "Audit entries waiting for delivery",
			},
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "audit_drops_total",
				Help:      "Audit entries dropped because the queue was full",
			},
		),
		AuditFlushes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "audit_flushes_total",
				Help:      "Audit batch submissions",
			},
			[]string{"status"}, // status=ok/error
		),
		Syncs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "syncs_total",
				Help:      "Synchronization cycles with the management service",
			},
			[]string{"kind", "status"}, // kind=policy/url/heartbeat
		),
		CachedPolicies: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "cached_policies",
				Help:      "Policies held in the local cache",
			},
		),
		BlockedDomains: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "blocked_domains",
				Help:      "Domains in the applied URL blocklist",
			},
		),
		AccessRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "access_requests_total",
				Help:      "Access request workflow outcomes",
			},
			[]string{"outcome"}, // submitted/failed/duplicate/approved/denied
		),
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
