package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run coordinator
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_runs_total",
			Help: "Total number of run batches by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "digest_run_duration_seconds",
			Help:    "Duration of run batches in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	TaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_task_runs_total",
			Help: "Total number of task executions by outcome",
		},
		[]string{"status"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "digest_queue_depth",
			Help: "Number of run requests waiting in the queue",
		},
	)

	WorkerBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "digest_worker_busy",
			Help: "1 while a run batch is executing",
		},
	)

	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_scheduler_triggers_total",
			Help: "Scheduler trigger evaluations by outcome",
		},
		[]string{"outcome"},
	)

	// Pipeline
	FeedFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_feed_fetches_total",
			Help: "Total number of feed fetches by status",
		},
		[]string{"status"},
	)

	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_items_total",
			Help: "Items seen by the pipeline by stage outcome",
		},
		[]string{"outcome"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_deliveries_total",
			Help: "Digest deliveries per recipient by status",
		},
		[]string{"status"},
	)

	ItemsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "digest_items_purged_total",
			Help: "Item records removed by the retention sweep",
		},
	)

	// AI
	AICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_ai_calls_total",
			Help: "Total number of AI completion calls",
		},
		[]string{"provider", "status"},
	)

	AICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "digest_ai_call_duration_seconds",
			Help:    "AI completion call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	EvaluatorMode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "digest_evaluator_active",
			Help: "1 for the evaluator variant currently selected by the policy",
		},
		[]string{"variant"},
	)

	// NATS
	NatsMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject", "status"},
	)

	// HTTP
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	ApplicationInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "application_info",
			Help: "Application information",
		},
		[]string{"service", "version"},
	)
)

func Init(serviceName, version string) {
	ApplicationInfo.WithLabelValues(serviceName, version).Set(1)
}
