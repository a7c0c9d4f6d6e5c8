package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadenza_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cadenza_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadenza_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadenza_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadenza_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadenza_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	workerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadenza_worker_ticks_total",
			Help: "Total number of worker poll ticks",
		},
		[]string{"result"},
	)

	workerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cadenza_worker_tick_duration_seconds",
			Help:    "Time spent processing one batch of due jobs",
			Buckets: []float64{.005, .025, .1, .5, 1, 5, 15, 60},
		},
	)

	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadenza_job_runs_total",
			Help: "Total number of job run attempts by trigger and outcome",
		},
		[]string{"trigger", "status"},
	)

	jobsDeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cadenza_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead letter state",
		},
	)

	jobsDue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadenza_jobs_due",
			Help: "Number of active jobs currently past their run instant",
		},
	)

	alertDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadenza_alert_deliveries_total",
			Help: "Total number of failure alert deliveries by result",
		},
		[]string{"result"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func IncrementInFlight() {
	httpRequestsInFlight.Inc()
}

func DecrementInFlight() {
	httpRequestsInFlight.Dec()
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}

// RecordTick observes one worker poll cycle. result is "ok" or "error".
func RecordTick(result string, duration time.Duration) {
	workerTicks.WithLabelValues(result).Inc()
	workerTickDuration.Observe(duration.Seconds())
}

func RecordRun(trigger, status string) {
	jobRunsTotal.WithLabelValues(trigger, status).Inc()
}

func RecordDeadLetter() {
	jobsDeadLettered.Inc()
}

func UpdateDueJobs(count int) {
	jobsDue.Set(float64(count))
}

// RecordAlertDelivery counts one notification outcome: "delivered",
// "dropped", or "failed".
func RecordAlertDelivery(result string) {
	alertDeliveries.WithLabelValues(result).Inc()
}

// NormalizePath collapses mux path parameters so metric labels stay low
// cardinality.
func NormalizePath(path string) string {
	if len(path) > 100 {
		path = path[:100]
	}

	normalized := ""
	inParam := false
	for i := 0; i < len(path); i++ {
		if path[i] == '{' {
			inParam = true
			normalized += ":"
			continue
		}
		if path[i] == '}' {
			inParam = false
			continue
		}
		if !inParam {
			normalized += string(path[i])
		}
	}
	return normalized
}
