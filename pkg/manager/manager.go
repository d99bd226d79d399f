package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/tinymistd/pkg/config"
	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/fetch"
	"github.com/cuemby/tinymistd/pkg/locations"
	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/metrics"
	"github.com/cuemby/tinymistd/pkg/network"
	"github.com/cuemby/tinymistd/pkg/pool"
	"github.com/cuemby/tinymistd/pkg/readiness"
	"github.com/cuemby/tinymistd/pkg/scheduler"
	"github.com/cuemby/tinymistd/pkg/service"
	"github.com/cuemby/tinymistd/pkg/types"
	"github.com/cuemby/tinymistd/pkg/validation"
)

// ErrBinaryNotReady is returned when a preview is requested before the
// binary is installed
var ErrBinaryNotReady = errors.New("tinymist binary is not installed yet")

// Manager wires acquisition, the language server and the preview pool
// together
type Manager struct {
	store     *config.Store
	broker    *events.Broker
	resolver  *locations.Resolver
	scheduler *scheduler.Scheduler
	services  *service.Registry
	starter   *service.Starter
	waiter    *readiness.Waiter
	pool      *pool.Pool
	validator *validation.ExecutionValidator
	collector *metrics.Collector

	readinessTimeout time.Duration
	onReady          func(service.Handle)

	keysMu sync.Mutex
	keys   map[string]*keyLock

	baseCtx     context.Context
	stop        context.CancelFunc
	watchCancel context.CancelFunc
	readyWG     sync.WaitGroup
}

type options struct {
	fetcher        scheduler.Fetcher
	progress       fetch.ProgressFunc
	platform       *types.Platform
	serviceConfig  *service.Config
	poolEnv        []string
	onReady        func(service.Handle)
	notifier       events.Notifier
	collectorEvery time.Duration
}

// Option configures a Manager
type Option func(*options)

// WithFetcher replaces the HTTP archive fetcher
func WithFetcher(f scheduler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithProgress reports download progress
func WithProgress(fn fetch.ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// WithPlatform overrides host platform detection
func WithPlatform(p types.Platform) Option {
	return func(o *options) { o.platform = &p }
}

// WithServiceConfig overrides how the language server is run
func WithServiceConfig(cfg service.Config) Option {
	return func(o *options) { o.serviceConfig = &cfg }
}

// WithPoolEnv adds environment variables to every preview server
func WithPoolEnv(env ...string) Option {
	return func(o *options) { o.poolEnv = env }
}

// WithOnReady sets the callback run once the language server is running,
// or with nil after the readiness timeout
func WithOnReady(fn func(service.Handle)) Option {
	return func(o *options) { o.onReady = fn }
}

// WithCollectorInterval sets how often gauges are sampled
func WithCollectorInterval(d time.Duration) Option {
	return func(o *options) { o.collectorEvery = d }
}

// WithNotifier replaces the broker backed user notifier
func WithNotifier(n events.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// New builds a manager from the store's current configuration. Nothing is
// started until Start.
func New(store *config.Store, broker *events.Broker, opts ...Option) (*Manager, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := store.Config()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = events.NewNotifier(broker)
	}

	resolverOpts := []locations.Option{
		locations.WithReleasesHost(cfg.ReleasesHost),
		locations.WithNotifier(notifier),
	}
	if o.platform != nil {
		resolverOpts = append(resolverOpts, locations.WithPlatform(*o.platform))
	}
	resolver := locations.NewResolver(store, cfg.DataDir, resolverOpts...)

	fetcher := o.fetcher
	if fetcher == nil {
		fetchOpts := []fetch.Option{fetch.WithTimeout(cfg.Download.Timeout)}
		if o.progress != nil {
			fetchOpts = append(fetchOpts, fetch.WithProgress(o.progress))
		}
		fetcher = fetch.NewFetcher(notifier, fetchOpts...)
	}

	svcCfg := service.DefaultConfig()
	if o.serviceConfig != nil {
		svcCfg = *o.serviceConfig
	}
	services := service.NewRegistry()

	m := &Manager{
		store:            store,
		broker:           broker,
		resolver:         resolver,
		services:         services,
		starter:          service.NewStarter(services, svcCfg, broker),
		validator:        validation.NewExecutionValidator(),
		readinessTimeout: cfg.Readiness.Timeout,
		onReady:          o.onReady,
		keys:             make(map[string]*keyLock),
	}
	m.baseCtx, m.stop = context.WithCancel(context.Background())
	m.waiter = readiness.NewWaiter(services).
		WithInterval(cfg.Readiness.Interval).
		WithTimeout(cfg.Readiness.Timeout)

	m.scheduler = scheduler.New(resolver, fetcher,
		scheduler.WithStarter(scheduler.StarterFunc(m.startService)),
		scheduler.WithNotifier(notifier),
		scheduler.WithEvents(broker),
	)

	poolCfg := pool.DefaultConfig()
	poolCfg.Capacity = cfg.Pool.Capacity
	poolCfg.BootTimeout = cfg.Pool.BootTimeout
	poolCfg.SweepInterval = cfg.Pool.SweepInterval
	poolCfg.Marker = cfg.Pool.Marker
	poolCfg.Preview = cfg.Preview
	poolCfg.Env = o.poolEnv

	p, err := pool.New(poolCfg, m.installedBinary,
		pool.WithPorts(network.NewPortAllocator(cfg.Pool.StartPort)),
		pool.WithEvents(broker),
	)
	if err != nil {
		return nil, err
	}
	m.pool = p
	m.collector = metrics.NewCollector(m, o.collectorEvery)
	store.OnChange(m.settingsChanged)

	return m, nil
}

// Start begins background work: sweeping, metrics sampling and config
// watching when the store has a file
func (m *Manager) Start(ctx context.Context) error {
	m.pool.StartSweeper()
	m.collector.Start()

	if m.store.Path() != "" {
		watchCtx, cancel := context.WithCancel(ctx)
		if err := m.store.Watch(watchCtx); err != nil {
			cancel()
			logger := log.WithComponent("manager")
			logger.Warn().Err(err).Msg("Config watching disabled")
			return nil
		}
		m.watchCancel = cancel
	}
	return nil
}

// DocumentOpened makes sure the binary is installed and the language server
// is started for it. It never waits for a download.
func (m *Manager) DocumentOpened(ctx context.Context, path string) types.DownloadStatus {
	logger := log.WithDocument(path)

	status := m.scheduler.ObtainBinary(ctx)
	logger.Debug().Str("status", string(status.Kind)).Msg("Document opened")

	if status.Kind == types.DownloadDownloaded {
		if err := m.startService(ctx, status.Path); err != nil {
			logger.Error().Err(err).Msg("Failed to start language server")
		}
	}
	return status
}

// startService starts the language server on path and schedules the ready
// callback. The scheduler calls it after installs.
func (m *Manager) startService(ctx context.Context, path string) error {
	if err := m.starter.Start(ctx, path); err != nil {
		return err
	}
	if m.onReady == nil {
		return nil
	}

	m.readyWG.Add(1)
	go func() {
		defer m.readyWG.Done()
		m.waiter.WaitThen(m.baseCtx, service.LanguageServerKey, m.readinessTimeout, m.onReady)
	}()
	return nil
}

// WaitForLanguageServer blocks until the language server runs or timeout
func (m *Manager) WaitForLanguageServer(ctx context.Context, timeout time.Duration) (service.Handle, bool) {
	return m.waiter.WaitUntilRunning(ctx, service.LanguageServerKey, timeout)
}

// RequestPreview returns the preview server for path, starting it if needed
func (m *Manager) RequestPreview(ctx context.Context, path string) (*pool.ServerInfo, error) {
	defer m.lockKey(path)()
	return m.pool.Acquire(ctx, path)
}

// DocumentClosed stops the preview server for path, if any
func (m *Manager) DocumentClosed(path string) pool.TeardownReport {
	defer m.lockKey(path)()
	return m.pool.Release(path)
}

// Previews lists running preview servers, oldest first
func (m *Manager) Previews() []*pool.ServerInfo {
	var out []*pool.ServerInfo
	for _, key := range m.pool.Keys() {
		if info, ok := m.pool.Get(key); ok {
			out = append(out, info)
		}
	}
	return out
}

// keyLock serializes pool calls for one document. It lives in the map only
// while someone holds or waits for it.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lockKey locks key and returns the matching unlock
func (m *Manager) lockKey(key string) func() {
	m.keysMu.Lock()
	l, ok := m.keys[key]
	if !ok {
		l = &keyLock{}
		m.keys[key] = l
	}
	l.refs++
	m.keysMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.keysMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.keys, key)
		}
		m.keysMu.Unlock()
	}
}

// installedBinary is the pool's binary source
func (m *Manager) installedBinary() (string, error) {
	loc := m.resolver.Resolve()
	if _, err := os.Stat(loc.LocalPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotReady, loc.LocalPath)
	}
	return loc.LocalPath, nil
}

// Install obtains the binary and waits for the download, if one is needed
func (m *Manager) Install(ctx context.Context) (string, error) {
	status := m.scheduler.ObtainBinary(ctx)
	switch status.Kind {
	case types.DownloadDownloaded:
		return status.Path, nil
	case types.DownloadFailed:
		return "", errors.New(scheduler.CancelledMessage)
	}
	if err := m.scheduler.Wait(ctx); err != nil {
		return "", err
	}
	return m.resolver.Resolve().LocalPath, nil
}

// CancelDownload cancels a running download
func (m *Manager) CancelDownload() bool {
	return m.scheduler.CancelDownload()
}

// BinaryInfo reports where the binary is and whether it is installed
func (m *Manager) BinaryInfo() types.BinaryInfo {
	loc := m.resolver.Resolve()
	return types.BinaryInfo{
		Location:  loc,
		Platform:  m.resolver.Platform(),
		State:     m.scheduler.State().String(),
		Present:   fileExists(loc.LocalPath),
		CheckedAt: time.Now(),
	}
}

// Probe runs the version check against the resolved binary
func (m *Manager) Probe(ctx context.Context) validation.ExecutionResult {
	return m.validator.Validate(ctx, m.resolver.Resolve().LocalPath)
}

// Events returns the broker
func (m *Manager) Events() *events.Broker {
	return m.broker
}

func (m *Manager) settingsChanged(old, updated config.Config) {
	if old.Settings() == updated.Settings() {
		return
	}
	logger := log.WithComponent("manager")
	logger.Info().
		Str("binary_source", string(updated.BinarySource)).
		Str("custom_binary_path", updated.CustomBinaryPath).
		Msg("Binary settings changed")

	if _, running := m.languageServer(); !running {
		return
	}
	// a missing binary is started by the scheduler once installed
	status := m.scheduler.ObtainBinary(context.Background())
	if status.Kind != types.DownloadDownloaded {
		return
	}
	if err := m.startService(context.Background(), status.Path); err != nil {
		logger.Error().Err(err).Msg("Failed to restart language server")
	}
}

func (m *Manager) languageServer() (*service.Process, bool) {
	p, ok := m.services.Get(service.LanguageServerKey)
	if !ok {
		return nil, false
	}
	state := p.State()
	return p, state == types.ServiceRunning || state == types.ServiceStarting
}

// Shutdown stops everything started by the manager
func (m *Manager) Shutdown(ctx context.Context) error {
	logger := log.WithComponent("manager")
	logger.Info().Msg("Shutting down")

	m.stop()
	if m.watchCancel != nil {
		m.watchCancel()
	}
	m.collector.Stop()

	var errs []error
	if err := m.scheduler.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := m.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("preview pool: %w", err))
	}
	if err := m.services.StopAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("services: %w", err))
	}
	m.readyWG.Wait()

	return errors.Join(errs...)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
