package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/tinymistd/pkg/health"
	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/metrics"
	"github.com/cuemby/tinymistd/pkg/network"
	"github.com/cuemby/tinymistd/pkg/pool"
	"github.com/cuemby/tinymistd/pkg/types"
)

const reachTimeout = 250 * time.Millisecond

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// DocumentResponse reports the acquisition outcome of an open
type DocumentResponse struct {
	Path   string             `json:"path"`
	Status types.DownloadKind `json:"status"`
	Binary string             `json:"binary,omitempty"`
}

// PreviewResponse describes a running preview server
type PreviewResponse struct {
	Path        string    `json:"path"`
	DataPort    int       `json:"data_port"`
	ControlPort int       `json:"control_port"`
	PID         int       `json:"pid"`
	TaskID      string    `json:"task_id"`
	StartTime   time.Time `json:"start_time"`

	// Reachable is only set by the list endpoint
	Reachable *bool `json:"reachable,omitempty"`
}

// CloseResponse reports how a preview server was torn down
type CloseResponse struct {
	Path     string   `json:"path"`
	Found    bool     `json:"found"`
	Exited   bool     `json:"exited"`
	Stages   []string `json:"stages,omitempty"`
	Duration string   `json:"duration,omitempty"`
}

func (s *Server) routes() {
	s.mux.Handle("GET /health", instrument("health", metrics.HealthHandler()))
	s.mux.Handle("GET /ready", instrument("ready", metrics.ReadyHandler()))
	s.mux.Handle("GET /live", instrument("live", metrics.LivenessHandler()))
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.Handle("GET /v1/binary", instrument("binary", http.HandlerFunc(s.binaryHandler)))
	s.mux.Handle("POST /v1/documents/open", instrument("documents_open", http.HandlerFunc(s.openHandler)))
	s.mux.Handle("POST /v1/documents/close", instrument("documents_close", http.HandlerFunc(s.closeHandler)))
	s.mux.Handle("GET /v1/previews", instrument("previews_list", http.HandlerFunc(s.listPreviewsHandler)))
	s.mux.Handle("POST /v1/previews", instrument("previews_request", http.HandlerFunc(s.previewHandler)))
}

func (s *Server) binaryHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.BinaryInfo())
}

func (s *Server) openHandler(w http.ResponseWriter, r *http.Request) {
	path, ok := documentPath(w, r)
	if !ok {
		return
	}
	status := s.backend.DocumentOpened(r.Context(), path)
	writeJSON(w, http.StatusOK, DocumentResponse{
		Path:   path,
		Status: status.Kind,
		Binary: status.Path,
	})
}

func (s *Server) closeHandler(w http.ResponseWriter, r *http.Request) {
	path, ok := documentPath(w, r)
	if !ok {
		return
	}
	report := s.backend.DocumentClosed(path)

	resp := CloseResponse{Path: path, Found: report.Found, Exited: report.Exited}
	if report.Found {
		resp.Duration = report.Duration.String()
		for _, stage := range report.Stages {
			resp.Stages = append(resp.Stages, stage.String())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	path, ok := documentPath(w, r)
	if !ok {
		return
	}

	info, err := s.backend.RequestPreview(r.Context(), path)
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, pool.ErrClosed):
			code = http.StatusServiceUnavailable
		case errors.Is(err, pool.ErrStartFailed):
			code = http.StatusBadGateway
		}
		logger := log.WithDocument(path)
		logger.Warn().Err(err).Msg("Preview request failed")
		writeJSON(w, code, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, previewResponse(info))
}

func (s *Server) listPreviewsHandler(w http.ResponseWriter, r *http.Request) {
	infos := s.backend.Previews()
	out := make([]PreviewResponse, len(infos))

	var wg sync.WaitGroup
	for i, info := range infos {
		out[i] = previewResponse(info)
		wg.Add(1)
		go func() {
			defer wg.Done()
			checker := health.NewTCPChecker(network.HostPort(info.DataPort)).WithTimeout(reachTimeout)
			reachable := checker.Check(r.Context()).Healthy
			out[i].Reachable = &reachable
		}()
	}
	wg.Wait()

	writeJSON(w, http.StatusOK, out)
}

func previewResponse(info *pool.ServerInfo) PreviewResponse {
	return PreviewResponse{
		Path:        info.Key,
		DataPort:    info.DataPort,
		ControlPort: info.ControlPort,
		PID:         info.PID,
		TaskID:      info.TaskID,
		StartTime:   info.StartTime,
	}
}

func documentPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing path query parameter"})
		return "", false
	}
	return path, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency for route
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
