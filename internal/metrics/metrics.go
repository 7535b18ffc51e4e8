package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BreachesOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_breaches_opened_total",
			Help: "Total number of breaches opened",
		},
		[]string{"sla", "severity", "objective"},
	)

	BreachesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_breaches_resolved_total",
			Help: "Total number of breaches resolved",
		},
		[]string{"sla", "severity"},
	)

	ComplianceStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_sla_compliant",
			Help: "1 when the SLA instance is compliant, 0 when breached",
		},
		[]string{"sla", "workflow_id", "entity_id"},
	)

	CurrentValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_sla_current_value",
			Help: "Most recently observed metric value per SLA instance",
		},
		[]string{"sla", "workflow_id", "entity_id"},
	)

	TargetValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_sla_target_value",
			Help: "Configured target value per SLA definition",
		},
		[]string{"sla"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_evaluation_duration_seconds",
			Help:    "Time taken to run a full evaluation pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	EvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_evaluation_errors_total",
			Help: "Total number of per-definition evaluation failures",
		},
		[]string{"sla", "reason"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_published_total",
			Help: "Total number of events persisted by the publisher",
		},
		[]string{"type"},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_delivery_attempts_total",
			Help: "Total number of webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_delivery_duration_seconds",
			Help:    "Round-trip time of webhook POSTs",
			Buckets: prometheus.DefBuckets,
		},
	)

	EndpointDeactivations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_endpoint_deactivations_total",
			Help: "Total number of endpoints auto-deactivated after repeated failures",
		},
	)

	EndpointFailureCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_endpoint_failure_count",
			Help: "Consecutive exhausted-delivery failures per endpoint",
		},
		[]string{"endpoint"},
	)
)
