package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/metrics"
	"github.com/cuemby/tinymistd/pkg/types"
)

// Lister looks up the services registered under a key
type Lister interface {
	Services(key string) []Handle
}

// Registry holds one Process per service key
type Registry struct {
	mu    sync.RWMutex
	procs map[string]*Process
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]*Process)}
}

// Put registers p, returning the process it replaced
func (r *Registry) Put(p *Process) *Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.procs[p.Key()]
	r.procs[p.Key()] = p
	return old
}

// Get returns the process for key
func (r *Registry) Get(key string) (*Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[key]
	return p, ok
}

// Services implements Lister
func (r *Registry) Services(key string) []Handle {
	if p, ok := r.Get(key); ok {
		return []Handle{p}
	}
	return nil
}

// Keys returns the registered keys in sorted order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.procs))
	for k := range r.procs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StopAll stops every registered process concurrently
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	procs := make([]*Process, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	r.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, p := range procs {
		g.Go(func() error {
			if err := p.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
				return err
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Starter starts the service for a freshly installed binary. It replaces the
// registered process when the binary changed or the process is not alive.
type Starter struct {
	Key      string
	Config   Config
	Registry *Registry
	Events   *events.Broker

	mu sync.Mutex
}

// NewStarter creates a starter for the language server
func NewStarter(registry *Registry, cfg Config, broker *events.Broker) *Starter {
	return &Starter{
		Key:      LanguageServerKey,
		Config:   cfg,
		Registry: registry,
		Events:   broker,
	}
}

// Start implements the scheduler's Starter
func (s *Starter) Start(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.WithServiceKey(s.Key)

	if cur, ok := s.Registry.Get(s.Key); ok {
		state := cur.State()
		running := state == types.ServiceStarting || state == types.ServiceRunning
		if running && cur.Binary() == path {
			return nil
		}
		if running {
			logger.Info().
				Str("old", cur.Binary()).
				Str("new", path).
				Msg("Binary changed, restarting service")
			if err := cur.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
				return err
			}
		}
		metrics.ServiceRestartsTotal.Inc()
	}

	p := NewProcess(s.Key, path, s.Config, s.Events)
	s.Registry.Put(p)
	return p.Start(ctx)
}
