/*
Package api serves the local admin HTTP interface of tinymistd.

Editors and scripts use it to report document lifecycle events and to ask for
preview servers. It only ever listens on the configured address, loopback by
default, and has no authentication.

# Routes

	GET  /health                 component health, 503 when a critical one is down
	GET  /ready                  readiness of the binary and the API itself
	GET  /live                   200 while the process serves HTTP
	GET  /metrics                Prometheus exposition
	GET  /v1/binary              resolved location and acquisition state
	POST /v1/documents/open      ?path= report a document was opened
	POST /v1/documents/close     ?path= stop its preview server
	GET  /v1/previews            running preview servers
	POST /v1/previews            ?path= start or reuse a preview server

Every response is JSON. Errors use {"error": "..."}. A preview that fails to
boot is reported as 502, a request after shutdown as 503.

Each route is counted in tinymistd_api_requests_total by route and status and
timed in tinymistd_api_request_duration_seconds.

# Usage

	srv := api.NewServer(mgr)
	addr, err := srv.Start("127.0.0.1:23600")
	if err != nil {
		return err
	}
	defer srv.Shutdown(ctx)
*/
package api
