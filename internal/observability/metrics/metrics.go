package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "hisens_"

	resultSuccess = "success"
	resultError   = "error"

	discoveryNode   = "node"
	discoverySensor = "sensor"

	alertSent           = "sent"
	alertFailed         = "failed"
	alertSkippedNoSMTP  = "skipped_no_smtp"
	alertSkippedNoRcpt  = "skipped_no_recipients"
	alertSuppressed     = "suppressed"
	alertDroppedOnQueue = "dropped"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	ingestRetries  prometheus.Counter

	discoveryTotal   *prometheus.CounterVec
	alarmEventsTotal *prometheus.CounterVec

	liveBroadcasts prometheus.Counter
	liveDropped    prometheus.Counter
	liveClients    prometheus.Gauge

	alertJobs        *prometheus.CounterVec
	alertSendLatency prometheus.Histogram
	alertQueueDepth  prometheus.Gauge
)

// Init registers metrics on the default registry and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	InitWith(prometheus.DefaultRegisterer, db, logger)
}

// InitWith registers metrics on reg. Only the first call has effect.
func InitWith(reg prometheus.Registerer, db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingestRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_conflict_retries_total",
				Help: "Ingest transactions retried after a duplicate create",
			},
		)

		discoveryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "discovery_total",
				Help: "Nodes and sensors auto-created by ingestion",
			},
			[]string{"kind"},
		)
		alarmEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_events_total",
				Help: "Threshold alarm events by type",
			},
			[]string{"event"},
		)

		liveBroadcasts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "live_broadcasts_total",
				Help: "Readings pushed to live subscribers",
			},
		)
		liveDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "live_dropped_total",
				Help: "Live messages dropped for slow subscribers",
			},
		)
		liveClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "live_clients",
				Help: "Connected live subscribers",
			},
		)

		alertJobs = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_jobs_total",
				Help: "Alert jobs by outcome",
			},
			[]string{"result"},
		)
		alertSendLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alert_send_latency_seconds",
				Help:    "Alert transport latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		alertQueueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alert_queue_depth",
				Help: "Alert jobs waiting for a worker",
			},
		)

		reg.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			ingestRetries,
			discoveryTotal,
			alarmEventsTotal,
			liveBroadcasts,
			liveDropped,
			liveClients,
			alertJobs,
			alertSendLatency,
			alertQueueDepth,
		)

		if db != nil {
			registerDBMetrics(reg, db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncIngestRetry counts a transaction retried after a conflict.
func IncIngestRetry() {
	if ingestRetries != nil {
		ingestRetries.Inc()
	}
}

// IncDiscovery counts an auto-created node or sensor.
func IncDiscovery(kind string) {
	if discoveryTotal != nil {
		discoveryTotal.WithLabelValues(kind).Inc()
	}
}

// IncAlarmEvent counts a recorded alarm event.
func IncAlarmEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alarmEventsTotal != nil {
		alarmEventsTotal.WithLabelValues(event).Inc()
	}
}

// ObserveLiveBroadcast records one broadcast and how many subscribers missed it.
func ObserveLiveBroadcast(dropped int) {
	if liveBroadcasts != nil {
		liveBroadcasts.Inc()
	}
	if dropped > 0 && liveDropped != nil {
		liveDropped.Add(float64(dropped))
	}
}

// SetLiveClients sets the subscriber gauge.
func SetLiveClients(count int) {
	if liveClients != nil {
		liveClients.Set(float64(count))
	}
}

// IncAlertJob counts an alert job outcome.
func IncAlertJob(result string) {
	if result == "" {
		result = "unknown"
	}
	if alertJobs != nil {
		alertJobs.WithLabelValues(result).Inc()
	}
}

// ObserveAlertSend records transport latency.
func ObserveAlertSend(duration time.Duration) {
	if alertSendLatency != nil {
		alertSendLatency.Observe(duration.Seconds())
	}
}

// SetAlertQueueDepth sets the pending alert gauge.
func SetAlertQueueDepth(depth int) {
	if alertQueueDepth != nil {
		alertQueueDepth.Set(float64(depth))
	}
}

// Exported constants for callers.
const (
	IngestResultSuccess = resultSuccess
	IngestResultError   = resultError

	DiscoveryNode   = discoveryNode
	DiscoverySensor = discoverySensor

	AlertSent                 = alertSent
	AlertFailed               = alertFailed
	AlertSkippedNoSMTP        = alertSkippedNoSMTP
	AlertSkippedNoRecipients  = alertSkippedNoRcpt
	AlertSuppressed           = alertSuppressed
	AlertDroppedQueueOverflow = alertDroppedOnQueue
)
