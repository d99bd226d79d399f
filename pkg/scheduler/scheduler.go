package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/metrics"
	"github.com/cuemby/tinymistd/pkg/types"
)

// CancelledMessage is shown to the user when a download is cancelled
const CancelledMessage = "The Typst Language Server download was cancelled. To retry, restart tinymistd."

// State is the acquisition state of a Scheduler
type State int32

const (
	StateIdle State = iota
	StateDownloading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDownloading:
		return "downloading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Resolver computes where the binary lives and where to download it from
type Resolver interface {
	Resolve() types.BinaryLocation
}

// Fetcher downloads an archive and installs the binary at dest
type Fetcher interface {
	Download(ctx context.Context, url, dest string) error
}

// Starter is invoked with the binary path after a successful install
type Starter interface {
	Start(ctx context.Context, path string) error
}

// StarterFunc adapts a function to Starter
type StarterFunc func(ctx context.Context, path string) error

func (f StarterFunc) Start(ctx context.Context, path string) error { return f(ctx, path) }

type run struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// Scheduler makes sure the tool binary is downloaded at most once at a time.
// ObtainBinary never blocks on the network: it either reports the installed
// path or starts a background download and returns immediately.
type Scheduler struct {
	resolver Resolver
	fetcher  Fetcher
	fs       Filesystem
	starter  Starter
	notifier events.Notifier
	broker   *events.Broker

	// mu publishes a new run together with StateDownloading, so anyone who
	// observed the state finds the run in Wait or CancelDownload
	mu      sync.Mutex
	state   atomic.Int32
	current *run

	baseCtx context.Context
	stop    context.CancelFunc
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithFilesystem replaces the OS filesystem
func WithFilesystem(fs Filesystem) Option {
	return func(s *Scheduler) { s.fs = fs }
}

// WithStarter sets the callback run after a successful install
func WithStarter(st Starter) Option {
	return func(s *Scheduler) { s.starter = st }
}

// WithNotifier sets where the cancellation warning goes
func WithNotifier(n events.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithEvents publishes install outcomes on broker
func WithEvents(b *events.Broker) Option {
	return func(s *Scheduler) { s.broker = b }
}

// New creates a scheduler in the idle state
func New(resolver Resolver, fetcher Fetcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		resolver: resolver,
		fetcher:  fetcher,
		fs:       OSFilesystem{},
		notifier: events.Discard{},
	}
	s.baseCtx, s.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current acquisition state
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// ObtainBinary reports the installed binary or schedules its download.
// ctx is only used for this call; a scheduled download outlives it and is
// stopped with CancelDownload or Close.
func (s *Scheduler) ObtainBinary(ctx context.Context) types.DownloadStatus {
	status := s.obtain()
	metrics.AcquisitionsTotal.WithLabelValues(string(status.Kind)).Inc()
	return status
}

func (s *Scheduler) obtain() types.DownloadStatus {
	logger := log.WithComponent("scheduler")

	switch s.State() {
	case StateDownloading:
		return types.DownloadStatus{Kind: types.DownloadDownloading}
	case StateFailed:
		return types.DownloadStatus{Kind: types.DownloadFailed}
	}

	loc := s.resolver.Resolve()
	if s.fs.Exists(loc.LocalPath) {
		s.state.CompareAndSwap(int32(StateIdle), int32(StateReady))
		return types.DownloadStatus{Kind: types.DownloadDownloaded, Path: loc.LocalPath}
	}

	s.mu.Lock()
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateDownloading)) &&
		!s.state.CompareAndSwap(int32(StateReady), int32(StateDownloading)) {
		s.mu.Unlock()
		if s.State() == StateFailed {
			return types.DownloadStatus{Kind: types.DownloadFailed}
		}
		return types.DownloadStatus{Kind: types.DownloadDownloading}
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	r := &run{done: make(chan struct{}), cancel: cancel}
	s.current = r
	s.mu.Unlock()

	logger.Info().
		Str("url", loc.RemoteURL).
		Str("path", loc.LocalPath).
		Str("version", loc.VersionTag).
		Msg("Binary missing, download scheduled")

	go s.pipeline(ctx, loc, r)

	return types.DownloadStatus{Kind: types.DownloadScheduled}
}

func (s *Scheduler) pipeline(ctx context.Context, loc types.BinaryLocation, r *run) {
	defer close(r.done)
	defer r.cancel()

	logger := log.WithVersion(loc.VersionTag)

	err := s.install(ctx, loc)
	switch {
	case err == nil:
		s.state.Store(int32(StateIdle))
		logger.Info().Str("path", loc.LocalPath).Msg("Binary installed")
		s.broker.Emit(events.EventBinaryInstalled, "binary installed", map[string]string{
			"path":    loc.LocalPath,
			"version": loc.VersionTag,
		})

		if s.starter != nil {
			if serr := s.starter.Start(s.baseCtx, loc.LocalPath); serr != nil {
				logger.Error().Err(serr).Msg("Failed to start language server after install")
			}
		}

	case errors.Is(err, context.Canceled):
		s.state.Store(int32(StateFailed))
		logger.Warn().Msg("Binary download cancelled, acquisition disabled until restart")
		s.notifier.Warn(CancelledMessage)
		s.broker.Emit(events.EventDownloadCancelled, CancelledMessage, nil)
		r.err = err

	default:
		s.state.Store(int32(StateIdle))
		logger.Error().Err(err).Msg("Binary download failed")
		s.broker.Emit(events.EventBinaryFailed, err.Error(), map[string]string{"url": loc.RemoteURL})
		r.err = err
	}
}

func (s *Scheduler) install(ctx context.Context, loc types.BinaryLocation) error {
	if err := s.fs.MkdirAll(filepath.Dir(loc.LocalPath)); err != nil {
		return fmt.Errorf("failed to create install directory: %w", err)
	}
	if err := s.fetcher.Download(ctx, loc.RemoteURL, loc.LocalPath); err != nil {
		return fmt.Errorf("failed to download binary: %w", err)
	}
	if err := s.fs.SetExecutable(loc.LocalPath); err != nil {
		return fmt.Errorf("failed to mark binary executable: %w", err)
	}
	return nil
}

// Wait blocks until the most recently scheduled download finishes and
// returns its error. It returns nil at once if nothing was ever scheduled.
func (s *Scheduler) Wait(ctx context.Context) error {
	r := s.latest()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelDownload cancels the in-flight download, if any. A cancelled
// download leaves the scheduler in StateFailed for the rest of the process
// lifetime. Reports whether a download was running.
func (s *Scheduler) CancelDownload() bool {
	r := s.latest()
	if r == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
	}
	r.cancel()
	return true
}

func (s *Scheduler) latest() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close cancels any in-flight download and waits for it to finish
func (s *Scheduler) Close(ctx context.Context) error {
	s.stop()
	err := s.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
