package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Acquisition metrics
	AcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinymistd_acquisitions_total",
			Help: "Binary acquisition requests by result (downloaded, downloading, scheduled, failed)",
		},
		[]string{"result"},
	)

	AcquisitionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tinymistd_acquisition_state",
			Help: "Current acquisition state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	// Download metrics
	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinymistd_downloads_total",
			Help: "Archive downloads by outcome",
		},
		[]string{"result"},
	)

	DownloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinymistd_download_bytes_total",
			Help: "Bytes extracted from downloaded archives",
		},
	)

	DownloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tinymistd_download_duration_seconds",
			Help:    "Time taken to download and extract the tool archive",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// Preview pool metrics
	PreviewServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tinymistd_preview_servers",
			Help: "Number of live preview servers in the pool",
		},
	)

	PreviewStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinymistd_preview_starts_total",
			Help: "Preview servers successfully started",
		},
	)

	PreviewStartFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinymistd_preview_start_failures_total",
			Help: "Preview servers that died or timed out before becoming ready",
		},
	)

	PreviewEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinymistd_preview_evictions_total",
			Help: "Preview servers evicted to make room for a new document",
		},
	)

	PreviewBootDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tinymistd_preview_boot_duration_seconds",
			Help:    "Time from spawn until the preview server printed its ready marker",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	TeardownStagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinymistd_teardown_stage_total",
			Help: "Teardown stages reached when releasing preview servers",
		},
		[]string{"stage"},
	)

	SweepRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinymistd_sweep_removed_total",
			Help: "Dead preview server entries removed by the background sweep",
		},
	)

	PortFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinymistd_port_fallbacks_total",
			Help: "Port allocations that exhausted their probes and fell back to an unverified port",
		},
	)

	// Language server metrics
	ServiceRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinymistd_service_restarts_total",
			Help: "Language server (re)starts",
		},
	)

	ReadinessWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tinymistd_readiness_wait_seconds",
			Help:    "Time spent waiting for a service to report running",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinymistd_api_requests_total",
			Help: "Total number of admin API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tinymistd_api_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(AcquisitionsTotal)
	prometheus.MustRegister(AcquisitionState)
	prometheus.MustRegister(DownloadsTotal)
	prometheus.MustRegister(DownloadBytes)
	prometheus.MustRegister(DownloadDuration)
	prometheus.MustRegister(PreviewServers)
	prometheus.MustRegister(PreviewStartsTotal)
	prometheus.MustRegister(PreviewStartFailures)
	prometheus.MustRegister(PreviewEvictionsTotal)
	prometheus.MustRegister(PreviewBootDuration)
	prometheus.MustRegister(TeardownStagesTotal)
	prometheus.MustRegister(SweepRemovedTotal)
	prometheus.MustRegister(PortFallbacksTotal)
	prometheus.MustRegister(ServiceRestartsTotal)
	prometheus.MustRegister(ReadinessWaitDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
