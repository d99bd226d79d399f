package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/metrics"
	"github.com/cuemby/tinymistd/pkg/network"
	"github.com/cuemby/tinymistd/pkg/preview"
)

var (
	// ErrStartFailed is returned when a preview server does not become ready
	ErrStartFailed = errors.New("preview server failed to start")
	// ErrClosed is returned by Acquire after Shutdown
	ErrClosed = errors.New("pool is shut down")
)

// DefaultMarker is the stdout text that signals a ready server
const DefaultMarker = "listening"

// Config controls pool sizing and timing
type Config struct {
	Capacity         int
	BootTimeout      time.Duration
	PollInterval     time.Duration
	Marker           string
	GracefulTimeout  time.Duration
	ForceKillTimeout time.Duration
	SweepInterval    time.Duration
	ShutdownTimeout  time.Duration
	OutputLines      int

	// Env is appended to the daemon's environment for every server
	Env     []string
	Preview preview.Options
}

// DefaultConfig returns the default pool configuration
func DefaultConfig() Config {
	return Config{
		Capacity:         5,
		BootTimeout:      5 * time.Second,
		PollInterval:     50 * time.Millisecond,
		Marker:           DefaultMarker,
		GracefulTimeout:  3 * time.Second,
		ForceKillTimeout: 2 * time.Second,
		SweepInterval:    30 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		OutputLines:      DefaultOutputLines,
		Preview:          preview.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.BootTimeout <= 0 {
		c.BootTimeout = d.BootTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Marker == "" {
		c.Marker = d.Marker
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = d.GracefulTimeout
	}
	if c.ForceKillTimeout <= 0 {
		c.ForceKillTimeout = d.ForceKillTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}

// BinaryFunc returns the path of the tool binary to spawn
type BinaryFunc func() (string, error)

// Pool keeps at most Capacity preview servers alive, one per document key.
// Acquire calls for the same key must be serialized by the caller; calls for
// different keys may run concurrently.
type Pool struct {
	cfg    Config
	binary BinaryFunc
	ports  *network.PortAllocator
	broker *events.Broker
	cache  *lru.Cache[string, *ServerInfo]

	// starting counts servers booting outside the registry. Registered plus
	// starting never exceeds Capacity.
	mu       sync.Mutex
	starting int
	changed  chan struct{}
	closed   bool
	stopSwp  chan struct{}
	sweeping bool
	wg       sync.WaitGroup
}

// Option configures a Pool
type Option func(*Pool)

// WithPorts replaces the port allocator
func WithPorts(a *network.PortAllocator) Option {
	return func(p *Pool) { p.ports = a }
}

// WithEvents publishes server lifecycle events on broker
func WithEvents(b *events.Broker) Option {
	return func(p *Pool) { p.broker = b }
}

// New creates an empty pool
func New(cfg Config, binary BinaryFunc, opts ...Option) (*Pool, error) {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:     cfg,
		binary:  binary,
		ports:   network.NewPortAllocator(network.DefaultStartPort),
		changed: make(chan struct{}),
		stopSwp: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	// onEvict stops anything the LRU pushes out on its own
	cache, err := lru.NewWithEvict[string, *ServerInfo](cfg.Capacity, p.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	p.cache = cache
	metrics.UpdateComponent(metrics.ComponentPreviewPool, true, "")
	return p, nil
}

// Config returns the effective configuration
func (p *Pool) Config() Config {
	return p.cfg
}

// Acquire returns the live server for key, starting one if needed. When the
// pool is full the oldest server is torn down first.
func (p *Pool) Acquire(ctx context.Context, key string) (*ServerInfo, error) {
	logger := log.WithDocument(key)

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if info, ok := p.cache.Peek(key); ok {
		if info.Alive() {
			return info, nil
		}
		logger.Warn().Int("pid", info.PID).Msg("Preview server exited, restarting")
		p.drop(info, events.EventPreviewCrashed)
	}

	victims, err := p.reserve(ctx)
	p.evict(ctx, key, victims)
	if err != nil {
		return nil, err
	}
	defer p.wg.Done()

	info, err := p.start(ctx, key)

	p.mu.Lock()
	p.starting--
	closed = p.closed
	if err == nil && !closed {
		p.cache.Add(key, info)
	}
	p.notifyLocked()
	p.mu.Unlock()

	if err != nil {
		metrics.PreviewStartFailures.Inc()
		logger.Error().Err(err).Msg("Preview server did not start")
		return nil, err
	}
	if closed {
		info.claim()
		p.teardown(context.Background(), info)
		return nil, ErrClosed
	}

	metrics.PreviewStartsTotal.Inc()
	metrics.PreviewServers.Set(float64(p.cache.Len()))
	p.broker.Emit(events.EventPreviewStarted, "preview server started", map[string]string{
		"document":     key,
		"task_id":      info.TaskID,
		"data_port":    strconv.Itoa(info.DataPort),
		"control_port": strconv.Itoa(info.ControlPort),
	})

	logger.Info().
		Int("pid", info.PID).
		Int("data_port", info.DataPort).
		Int("control_port", info.ControlPort).
		Str("task_id", info.TaskID).
		Msg("Preview server ready")

	return info, nil
}

// reserve takes a start slot for the caller, evicting the oldest servers
// while registered plus starting servers fill the pool. It waits when every
// slot belongs to a server still booting. Evicted entries are already out of
// the registry and claimed; the caller tears them down even on error.
func (p *Pool) reserve(ctx context.Context) ([]*ServerInfo, error) {
	var victims []*ServerInfo

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return victims, ErrClosed
		}
		if p.cache.Len()+p.starting < p.cfg.Capacity {
			p.starting++
			p.wg.Add(1)
			return victims, nil
		}

		if oldest, ok := p.oldest(); ok {
			// an entry claimed elsewhere is already on its way out
			if oldest.claim() {
				victims = append(victims, oldest)
			}
			p.cache.Remove(oldest.Key)
			metrics.PreviewServers.Set(float64(p.cache.Len()))
			continue
		}

		changed := p.changed
		p.mu.Unlock()
		select {
		case <-changed:
			p.mu.Lock()
		case <-ctx.Done():
			p.mu.Lock()
			return victims, fmt.Errorf("%w: %w", ErrStartFailed, ctx.Err())
		}
	}
}

// notifyLocked wakes callers waiting in reserve. p.mu must be held.
func (p *Pool) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// oldest returns the registered entry with the earliest StartTime
func (p *Pool) oldest() (*ServerInfo, bool) {
	var oldest *ServerInfo
	for _, key := range p.cache.Keys() {
		info, ok := p.cache.Peek(key)
		if !ok {
			continue
		}
		if oldest == nil || info.StartTime.Before(oldest.StartTime) {
			oldest = info
		}
	}
	return oldest, oldest != nil
}

// evict tears down servers reserve pushed out for key
func (p *Pool) evict(ctx context.Context, key string, victims []*ServerInfo) {
	logger := log.WithDocument(key)
	for _, info := range victims {
		logger.Info().
			Str("evicted", info.Key).
			Time("started", info.StartTime).
			Msg("Preview pool full, evicting oldest server")
		p.teardown(ctx, info)
		metrics.PreviewEvictionsTotal.Inc()
		p.broker.Emit(events.EventPreviewEvicted, "preview server evicted", map[string]string{"document": info.Key})
	}
}

func (p *Pool) start(ctx context.Context, key string) (*ServerInfo, error) {
	bin, err := p.binary()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	return p.spawn(ctx, bin, key)
}

func (p *Pool) spawn(ctx context.Context, bin, key string) (*ServerInfo, error) {
	data := p.ports.Allocate()
	control := p.ports.Allocate()
	taskID := uuid.NewString()

	opts := p.cfg.Preview.WithPorts(taskID, data, control)
	cmd := exec.Command(bin, opts.Args(key)...)
	cmd.Dir = filepath.Dir(key)
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	cmd.WaitDelay = time.Second

	output := NewOutputBuffer(p.cfg.OutputLines)
	cmd.Stdout = output
	cmd.Stderr = output

	timer := metrics.NewTimer()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	info := newServerInfo(key, cmd, output)
	info.DataPort = data
	info.ControlPort = control
	info.TaskID = taskID

	if err := p.waitReady(ctx, info); err != nil {
		info.claim()
		p.teardown(context.Background(), info)
		return nil, err
	}
	timer.ObserveDuration(metrics.PreviewBootDuration)

	return info, nil
}

// waitReady polls the captured output for the marker
func (p *Pool) waitReady(ctx context.Context, info *ServerInfo) error {
	deadline := time.NewTimer(p.cfg.BootTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if info.output.Contains(p.cfg.Marker) {
			return nil
		}
		select {
		case <-info.done:
			if info.output.Contains(p.cfg.Marker) {
				return fmt.Errorf("%w: exited right after becoming ready: %v", ErrStartFailed, info.exitErr)
			}
			return fmt.Errorf("%w: process exited: %v: %s", ErrStartFailed, info.exitErr, lastLine(info.output))
		case <-deadline.C:
			return fmt.Errorf("%w: no %q on output within %s", ErrStartFailed, p.cfg.Marker, p.cfg.BootTimeout)
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrStartFailed, ctx.Err())
		case <-ticker.C:
		}
	}
}

func lastLine(b *OutputBuffer) string {
	tail := b.Tail(1)
	if len(tail) == 0 {
		return "no output"
	}
	return tail[0]
}

// Release tears down the server for key. The entry is always removed.
func (p *Pool) Release(key string) TeardownReport {
	info, ok := p.cache.Peek(key)
	if !ok {
		return TeardownReport{Key: key}
	}
	if !info.claim() {
		// already being torn down by the sweeper or an eviction
		p.removeIfSame(info)
		return TeardownReport{Key: key, PID: info.PID, Found: true, Exited: !info.Alive()}
	}
	report := p.teardown(context.Background(), info)
	p.removeIfSame(info)
	p.broker.Emit(events.EventPreviewStopped, "preview server stopped", map[string]string{"document": key})
	return report
}

// drop removes an entry whose process already exited
func (p *Pool) drop(info *ServerInfo, event events.EventType) {
	if !info.claim() {
		return
	}
	p.teardown(context.Background(), info)
	p.removeIfSame(info)
	p.broker.Emit(event, "preview server exited", map[string]string{
		"document": info.Key,
		"pid":      strconv.Itoa(info.PID),
	})
}

func (p *Pool) removeIfSame(info *ServerInfo) {
	if cur, ok := p.cache.Peek(info.Key); ok && cur == info {
		p.cache.Remove(info.Key)
	}
	metrics.PreviewServers.Set(float64(p.cache.Len()))
}

// onEvict runs for every entry leaving the cache. Entries removed by this
// package are already claimed; anything else was pushed out by the LRU
// itself and still needs stopping.
func (p *Pool) onEvict(key string, info *ServerInfo) {
	if !info.claim() {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.teardown(context.Background(), info)
		metrics.PreviewEvictionsTotal.Inc()
		metrics.PreviewServers.Set(float64(p.cache.Len()))
		p.broker.Emit(events.EventPreviewEvicted, "preview server evicted", map[string]string{"document": key})
	}()
}

// Get returns the entry for key without touching its position
func (p *Pool) Get(key string) (*ServerInfo, bool) {
	return p.cache.Peek(key)
}

// Keys returns document keys, oldest first
func (p *Pool) Keys() []string {
	return p.cache.Keys()
}

// Len returns the number of entries
func (p *Pool) Len() int {
	return p.cache.Len()
}

// Sweep removes entries whose process has exited and returns their keys
func (p *Pool) Sweep() []string {
	var removed []string
	for _, key := range p.cache.Keys() {
		info, ok := p.cache.Peek(key)
		if !ok || info.Alive() {
			continue
		}
		logger := log.WithDocument(key)
		logger.Warn().
			Int("pid", info.PID).
			AnErr("exit", info.ExitErr()).
			Msg("Removing exited preview server")
		p.drop(info, events.EventPreviewCrashed)
		metrics.SweepRemovedTotal.Inc()
		removed = append(removed, key)
	}
	return removed
}

// StartSweeper runs Sweep every SweepInterval until Shutdown
func (p *Pool) StartSweeper() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sweeping || p.closed {
		return
	}
	p.sweeping = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Sweep()
			case <-p.stopSwp:
				return
			}
		}
	}()
}

// Shutdown tears down every server concurrently. It returns once all are
// gone or ShutdownTimeout has passed, whichever is first.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopSwp)
	p.notifyLocked()
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
	defer cancel()

	logger := log.WithComponent("pool")
	keys := p.cache.Keys()
	logger.Info().Int("servers", len(keys)).Msg("Shutting down preview servers")

	var g errgroup.Group
	for _, key := range keys {
		info, ok := p.cache.Peek(key)
		if !ok || !info.claim() {
			continue
		}
		g.Go(func() error {
			report := p.teardown(ctx, info)
			p.removeIfSame(info)
			if !report.Exited {
				return fmt.Errorf("preview server for %s (pid %d) still running", info.Key, info.PID)
			}
			return nil
		})
	}

	err := g.Wait()
	p.wg.Wait()
	metrics.PreviewServers.Set(float64(p.cache.Len()))
	metrics.UpdateComponent(metrics.ComponentPreviewPool, false, "shut down")
	return err
}
