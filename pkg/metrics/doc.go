/*
Package metrics provides Prometheus metrics and health reporting for tinymistd.

All collectors are package-level variables registered with the default
Prometheus registry in init, so any package can record a value without
plumbing:

	metrics.AcquisitionsTotal.WithLabelValues("scheduled").Inc()

	timer := metrics.NewTimer()
	// ... boot preview server ...
	timer.ObserveDuration(metrics.PreviewBootDuration)

Handler exposes them for scraping on the admin API's /metrics path.

# Metric families

	Acquisition   tinymistd_acquisitions_total{result}
	              tinymistd_acquisition_state{state}
	Download      tinymistd_downloads_total{result}
	              tinymistd_download_bytes_total
	              tinymistd_download_duration_seconds
	Preview pool  tinymistd_preview_servers
	              tinymistd_preview_starts_total
	              tinymistd_preview_start_failures_total
	              tinymistd_preview_evictions_total
	              tinymistd_preview_boot_duration_seconds
	              tinymistd_teardown_stage_total{stage}
	              tinymistd_sweep_removed_total
	              tinymistd_port_fallbacks_total
	Service       tinymistd_service_restarts_total
	              tinymistd_readiness_wait_seconds{outcome}
	API           tinymistd_api_requests_total{route,status}
	              tinymistd_api_request_duration_seconds{route}

# Health

The component registry backs the /health, /ready and /live endpoints.
Components report themselves with UpdateComponent. A Collector samples a
Source every 15 seconds to refresh the pool gauge, the acquisition state
gauge, and the binary and language-server components.

	/health   200 healthy or degraded, 503 when a critical component is down
	/ready    200 once every critical component reported healthy
	/live     always 200

The binary and api components are critical by default. The language server
and preview pool only degrade health: a daemon that cannot start the language
server can still install binaries and answer API calls.
*/
package metrics
