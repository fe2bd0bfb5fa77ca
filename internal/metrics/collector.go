package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the ingest and aggregation metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// Counters
	samplesIngested prometheus.Counter
	ingestFailures  *prometheus.CounterVec // stage: validate, vehicle, store, cache
	rawAlerts       *prometheus.CounterVec // alert_type, severity
	incidentsOpened *prometheus.CounterVec // alert_type
	incidentsMerged *prometheus.CounterVec // alert_type
	statusChanges   *prometheus.CounterVec // status
	conflictRetries prometheus.Counter
	httpRequests    *prometheus.CounterVec // method, route, status_code
	kafkaMessages   *prometheus.CounterVec // result: processed, partial, failed, rejected, decode_error, read_error

	// Histograms
	ingestDuration prometheus.Histogram
	httpDuration   *prometheus.HistogramVec
}

func NewCollector() *Collector {
	c := &Collector{
		samplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetguard_telemetry_samples_ingested_total",
			Help: "Telemetry samples stored",
		}),
		ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetguard_ingest_failures_total",
			Help: "Telemetry samples rejected or failed, by stage",
		}, []string{"stage"}),
		rawAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetguard_raw_alerts_total",
			Help: "Raw alerts emitted from telemetry",
		}, []string{"alert_type", "severity"}),
		incidentsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetguard_incidents_opened_total",
			Help: "Active alerts created",
		}, []string{"alert_type"}),
		incidentsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetguard_incidents_merged_total",
			Help: "Raw alerts folded into an existing active alert",
		}, []string{"alert_type"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetguard_incident_status_changes_total",
			Help: "Lifecycle transitions applied to active alerts",
		}, []string{"status"}),
		conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetguard_aggregation_conflict_retries_total",
			Help: "Aggregation transactions retried after a uniqueness conflict",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetguard_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "route", "status_code"}),
		kafkaMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetguard_kafka_messages_total",
			Help: "Kafka telemetry messages consumed",
		}, []string{"result"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetguard_ingest_duration_seconds",
			Help:    "Time to store a sample and aggregate its alerts",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetguard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		c.samplesIngested,
		c.ingestFailures,
		c.rawAlerts,
		c.incidentsOpened,
		c.incidentsMerged,
		c.statusChanges,
		c.conflictRetries,
		c.httpRequests,
		c.kafkaMessages,
		c.ingestDuration,
		c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) SampleIngested(d time.Duration) {
	if c == nil {
		return
	}
	c.samplesIngested.Inc()
	c.ingestDuration.Observe(d.Seconds())
}

func (c *Collector) IngestFailed(stage string) {
	if c == nil {
		return
	}
	c.ingestFailures.WithLabelValues(stage).Inc()
}

func (c *Collector) RawAlertEmitted(kind, severity string) {
	if c == nil {
		return
	}
	c.rawAlerts.WithLabelValues(kind, severity).Inc()
}

func (c *Collector) IncidentOpened(kind string) {
	if c == nil {
		return
	}
	c.incidentsOpened.WithLabelValues(kind).Inc()
}

func (c *Collector) IncidentMerged(kind string) {
	if c == nil {
		return
	}
	c.incidentsMerged.WithLabelValues(kind).Inc()
}

func (c *Collector) StatusChanged(status string) {
	if c == nil {
		return
	}
	c.statusChanges.WithLabelValues(status).Inc()
}

func (c *Collector) ConflictRetried() {
	if c == nil {
		return
	}
	c.conflictRetries.Inc()
}

func (c *Collector) KafkaMessage(result string) {
	if c == nil {
		return
	}
	c.kafkaMessages.WithLabelValues(result).Inc()
}

func (c *Collector) HTTPRequest(method, route, statusCode string, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, statusCode).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
