package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler

	SchedulerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "crawler",
		Name:      "scheduler_queue_depth",
		Help:      "Number of repositories currently held by the in-memory scheduler.",
	})

	// Fetch manager

	FetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crawler",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of one repository fetch cycle, by outcome.",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"outcome"})

	FetchPagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crawler",
		Name:      "fetch_pages_total",
		Help:      "Total identifier-feed pages fetched, by outcome.",
	}, []string{"outcome"})

	RegistryErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crawler",
		Name:      "registry_errors_total",
		Help:      "Total consecutive-error increments recorded against repositories.",
	}, []string{"repo_id"})

	// Accounts poller

	AccountsPollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "crawler",
		Name:      "accounts_poll_duration_seconds",
		Help:      "Duration of one accounts-service listing poll.",
		Buckets:   prometheus.DefBuckets,
	})

	AccountsRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crawler",
		Name:      "accounts_registered_total",
		Help:      "Total previously-unknown repositories registered from an accounts listing.",
	})

	// Notification intake

	NotifyQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "crawler",
		Name:      "notify_queue_depth",
		Help:      "Depth of the Redis-backed notification queue at last drain.",
	})

	NotifyDrainedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crawler",
		Name:      "notify_drained_total",
		Help:      "Total notifications drained and rescheduled.",
	})

	// Index store

	IndexWriteRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crawler",
		Name:      "index_write_records_total",
		Help:      "Total identifier rows that passed validation and were submitted to the index store.",
	})

	IndexWriteErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crawler",
		Name:      "index_write_errors_total",
		Help:      "Total identifier rows rejected by validation before submission.",
	})

	// HTTP

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crawler",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crawler",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		SchedulerQueueDepth,
		FetchDuration,
		FetchPagesTotal,
		RegistryErrorsTotal,
		AccountsPollDuration,
		AccountsRegisteredTotal,
		NotifyQueueDepth,
		NotifyDrainedTotal,
		IndexWriteRecordsTotal,
		IndexWriteErrorsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
