package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/metrics"
	"github.com/cuemby/tinymistd/pkg/pool"
	"github.com/cuemby/tinymistd/pkg/types"
)

// Backend is what the admin API drives. *manager.Manager implements it.
type Backend interface {
	DocumentOpened(ctx context.Context, path string) types.DownloadStatus
	DocumentClosed(path string) pool.TeardownReport
	RequestPreview(ctx context.Context, path string) (*pool.ServerInfo, error)
	Previews() []*pool.ServerInfo
	BinaryInfo() types.BinaryInfo
}

// Server is the local admin HTTP server
type Server struct {
	backend Backend
	mux     *http.ServeMux
	srv     *http.Server
}

// NewServer registers every route on a fresh mux
func NewServer(backend Backend) *Server {
	s := &Server{
		backend: backend,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and serves until Shutdown. It returns once the
// listener is bound so callers can report bind errors synchronously.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s.srv = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger := log.WithComponent("api")
	logger.Info().Str("addr", ln.Addr().String()).Msg("Admin API listening")
	metrics.UpdateComponent(metrics.ComponentAPI, true, "")

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Admin API stopped")
		}
	}()
	return ln.Addr(), nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	return s.srv.Shutdown(ctx)
}
