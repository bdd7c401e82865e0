package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds the service metrics. It satisfies the upload, cache and
// chemistry observer ports.
type AppMetrics struct {
	// HTTP
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// gRPC
	GRPCRequestsTotal   CounterVec
	GRPCRequestDuration HistogramVec

	// Uploads
	UploadsCreatedTotal    CounterVec
	UploadTransitionsTotal CounterVec
	UploadsExpiredTotal    CounterVec
	UploadRowsTotal        CounterVec
	UploadRowErrorsTotal   CounterVec
	UploadDuplicatesTotal  CounterVec
	UploadPhaseDuration    HistogramVec
	MoleculesWrittenTotal  CounterVec

	// Dependencies
	NormalizerCallsTotal   CounterVec
	CacheRequestsTotal     CounterVec
	MessagesProcessedTotal CounterVec
	ComponentHealthStatus  GaugeVec
}

var (
	DefaultHTTPDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultPhaseDurationBuckets = []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600, 1800}
)

// NewAppMetrics registers every metric on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "route", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "route")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "In-flight HTTP requests")

	m.GRPCRequestsTotal = collector.RegisterCounter("grpc_requests_total", "Total gRPC requests", "method", "code")
	m.GRPCRequestDuration = collector.RegisterHistogram("grpc_request_duration_seconds", "gRPC request duration", DefaultHTTPDurationBuckets, "method")

	m.UploadsCreatedTotal = collector.RegisterCounter("uploads_created_total", "Uploads accepted", "file_type")
	m.UploadTransitionsTotal = collector.RegisterCounter("upload_transitions_total", "Upload status transitions", "from", "to")
	m.UploadsExpiredTotal = collector.RegisterCounter("uploads_expired_total", "Uploads expired by the sweeper")
	m.UploadRowsTotal = collector.RegisterCounter("upload_rows_total", "Rows handled per phase", "phase", "outcome")
	m.UploadRowErrorsTotal = collector.RegisterCounter("upload_row_errors_total", "Row errors recorded", "code")
	m.UploadDuplicatesTotal = collector.RegisterCounter("upload_duplicates_total", "Duplicates detected", "kind")
	m.UploadPhaseDuration = collector.RegisterHistogram("upload_phase_duration_seconds", "Time spent per upload phase", DefaultPhaseDurationBuckets, "phase")
	m.MoleculesWrittenTotal = collector.RegisterCounter("molecules_written_total", "Molecules created or updated by uploads", "action")

	m.NormalizerCallsTotal = collector.RegisterCounter("normalizer_calls_total", "Chemistry engine calls", "engine", "op", "status")
	m.CacheRequestsTotal = collector.RegisterCounter("cache_requests_total", "Cache lookups", "backend", "result")
	m.MessagesProcessedTotal = collector.RegisterCounter("messages_processed_total", "Queue messages handled", "topic", "outcome")
	m.ComponentHealthStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")

	return m
}

// ─────────────────────────────────────────────────────────────────────────────
// upload.Observer
// ─────────────────────────────────────────────────────────────────────────────

func (m *AppMetrics) UploadCreated(fileType string) {
	m.UploadsCreatedTotal.WithLabelValues(fileType).Inc()
}

func (m *AppMetrics) UploadTransition(from, to string) {
	m.UploadTransitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *AppMetrics) RowProcessed(phase, outcome string) {
	m.UploadRowsTotal.WithLabelValues(phase, outcome).Inc()
}

func (m *AppMetrics) RowError(code string) {
	m.UploadRowErrorsTotal.WithLabelValues(code).Inc()
}

func (m *AppMetrics) Duplicate(kind string) {
	m.UploadDuplicatesTotal.WithLabelValues(kind).Inc()
}

func (m *AppMetrics) PhaseDuration(phase string, d time.Duration) {
	m.UploadPhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *AppMetrics) MoleculeWritten(action string) {
	m.MoleculesWrittenTotal.WithLabelValues(action).Inc()
}

func (m *AppMetrics) UploadExpired() {
	m.UploadsExpiredTotal.WithLabelValues().Inc()
}

// ─────────────────────────────────────────────────────────────────────────────
// Infrastructure observers
// ─────────────────────────────────────────────────────────────────────────────

func (m *AppMetrics) NormalizerCall(engine, op, status string) {
	m.NormalizerCallsTotal.WithLabelValues(engine, op, status).Inc()
}

func (m *AppMetrics) CacheHit(backend string) {
	m.CacheRequestsTotal.WithLabelValues(backend, "hit").Inc()
}

func (m *AppMetrics) CacheMiss(backend string) {
	m.CacheRequestsTotal.WithLabelValues(backend, "miss").Inc()
}

// MessageProcessed counts a settled queue message.
func (m *AppMetrics) MessageProcessed(topic, outcome string) {
	m.MessagesProcessedTotal.WithLabelValues(topic, outcome).Inc()
}

func (m *AppMetrics) SetHealth(component string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.ComponentHealthStatus.WithLabelValues(component).Set(v)
}

// RecordHTTPRequest records one finished request. route is the matched
// pattern, never the raw path.
func (m *AppMetrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordGRPCRequest records one finished gRPC call.
func (m *AppMetrics) RecordGRPCRequest(method, code string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}
