package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "keystone"

// Метрики Integration Gateway.
var (
	// GatewayCalls — вызовы модулей по результату (success, error, timeout, rate_limited, circuit_open).
	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "Module calls dispatched through the integration gateway.",
	}, []string{"module", "outcome"})

	// GatewayCallDuration — длительность вызовов, дошедших до адаптера.
	GatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "call_duration_seconds",
		Help:      "Latency of module adapter calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"module"})

	// BreakerState — текущее состояние circuit breaker (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per module: 0 closed, 1 half-open, 2 open.",
	}, []string{"module"})
)

// Метрики Event Bridge.
var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events published through the event bridge.",
	}, []string{"event_type"})

	EventDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "deliveries_total",
		Help:      "Fan-out deliveries to subscribed modules by outcome.",
	}, []string{"module", "outcome"})
)

// Метрики Workflow Engine.
var (
	WorkflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Workflow executions reaching a status.",
	}, []string{"workflow_type", "status"})

	WorkflowActivityAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "activity_attempts_total",
		Help:      "Activity attempts by outcome.",
	}, []string{"workflow_type", "outcome"})

	WorkflowTimersQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "timers_queued",
		Help:      "Suspended executions waiting in the in-process timer queue.",
	})
)

// Метрики анализа ограничений.
var (
	ConstraintAnalyses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "constraints",
		Name:      "analyses_total",
		Help:      "Constraint analyses by outcome.",
	}, []string{"outcome"})

	ConstraintsIdentified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "constraints",
		Name:      "identified_total",
		Help:      "Constraints identified by type and severity.",
	}, []string{"constraint_type", "severity"})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "constraints",
		Name:      "analysis_duration_seconds",
		Help:      "Duration of a full constraint analysis.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Метрики фасада оркестрации.
var (
	RecommendationsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recommendations",
		Name:      "generated_total",
		Help:      "Strategic recommendations generated by constraint type.",
	}, []string{"constraint_type"})

	AutoOrchestrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestration",
		Name:      "auto_runs_total",
		Help:      "Auto-orchestration runs by outcome.",
	}, []string{"outcome"})

	AutoWorkflowsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestration",
		Name:      "auto_workflows_triggered_total",
		Help:      "Follow-up workflows started by auto-orchestration.",
	})

	AnalysisCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestration",
		Name:      "analysis_cache_total",
		Help:      "Analysis cache lookups by result (hit, miss).",
	}, []string{"result"})
)

// Метрики планировщика.
var (
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Scheduler ticks executed.",
	})

	SchedulerTenantFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "tenant_failures_total",
		Help:      "Tenants whose scheduled auto-orchestration failed.",
	})
)

// Метрики брокера.
var (
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "connected",
		Help:      "1 while the AMQP connection is up.",
	})

	// BrokerReconnects — успешные переподключения к RabbitMQ.
	BrokerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "reconnects_total",
		Help:      "Successful AMQP reconnects.",
	})

	// MessagesConsumed — обработанные сообщения по очереди и исходу (ack, requeue, dead_letter).
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "messages_consumed_total",
		Help:      "Consumed messages by queue and settlement.",
	}, []string{"queue", "settlement"})
)
