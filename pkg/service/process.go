package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/health"
	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/types"
)

// LanguageServerKey identifies the tinymist language server
const LanguageServerKey = "tinymist-lsp"

// ErrNotRunning is returned by Stop when there is no process
var ErrNotRunning = errors.New("service not running")

// Handle is a read-only view of a managed service
type Handle interface {
	Key() string
	State() types.ServiceState
	PID() int
}

// Config describes how to run a service
type Config struct {
	Args        []string
	Env         []string
	Dir         string
	Health      health.Config
	StopTimeout time.Duration

	// Checker builds the readiness check. Nil checks process liveness.
	Checker func(p *Process) health.Checker
}

// DefaultConfig runs `tinymist lsp`
func DefaultConfig() Config {
	return Config{
		Args:        []string{"lsp"},
		Health:      health.DefaultConfig(),
		StopTimeout: 10 * time.Second,
	}
}

// Process is a long running child process with an observable state
type Process struct {
	key    string
	binary string
	cfg    Config
	broker *events.Broker

	mu       sync.Mutex
	state    types.ServiceState
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	done     chan struct{}
	exitErr  error
	stopping bool
	status   *health.Status
	cancel   context.CancelFunc
}

// NewProcess creates a process that is not started yet
func NewProcess(key, binary string, cfg Config, broker *events.Broker) *Process {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.Health.Interval <= 0 {
		cfg.Health = health.DefaultConfig()
	}
	return &Process{
		key:    key,
		binary: binary,
		cfg:    cfg,
		broker: broker,
		state:  types.ServiceNotStarted,
	}
}

func (p *Process) Key() string    { return p.key }
func (p *Process) Binary() string { return p.binary }

func (p *Process) State() types.ServiceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Alive reports whether the child has been started and not exited
func (p *Process) Alive() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Health returns a copy of the latest health status
func (p *Process) Health() health.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == nil {
		return health.Status{}
	}
	return *p.status
}

func (p *Process) logger() *zerolog.Logger {
	l := log.WithServiceKey(p.key)
	return &l
}

// Start launches the child. The child is not tied to ctx; it runs until Stop.
// Starting a process that is starting or running is a no-op.
func (p *Process) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == types.ServiceStarting || p.state == types.ServiceRunning {
		return nil
	}

	cmd := exec.Command(p.binary, p.cfg.Args...)
	cmd.Dir = p.cfg.Dir
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	cmd.WaitDelay = time.Second

	// the language server exits when its stdin closes
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		p.state = types.ServiceCrashed
		return fmt.Errorf("failed to start %s: %w", p.key, err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.done = make(chan struct{})
	p.exitErr = nil
	p.stopping = false
	p.state = types.ServiceStarting
	p.status = health.NewStatus()

	checkCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	checker := health.Checker(health.NewProcessChecker(p.key, p.Alive))
	if p.cfg.Checker != nil {
		checker = p.cfg.Checker(p)
	}

	go p.wait(cmd, p.done)
	go p.healthLoop(checkCtx, checker, p.status)

	p.logger().Info().
		Str("binary", p.binary).
		Int("pid", cmd.Process.Pid).
		Msg("Service started")

	return nil
}

func (p *Process) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	close(done)
	stopping := p.stopping
	if p.cmd == cmd {
		p.cancel()
		if stopping {
			p.state = types.ServiceStopped
		} else {
			p.state = types.ServiceCrashed
		}
	}
	p.mu.Unlock()

	if stopping {
		p.logger().Info().Msg("Service stopped")
		p.broker.Emit(events.EventServiceStopped, "service stopped", map[string]string{"service": p.key})
		return
	}

	p.logger().Error().Err(err).Msg("Service exited unexpectedly")
	p.broker.Emit(events.EventServiceCrashed, "service exited unexpectedly", map[string]string{"service": p.key})
}

func (p *Process) healthLoop(ctx context.Context, checker health.Checker, status *health.Status) {
	ticker := time.NewTicker(p.cfg.Health.Interval)
	defer ticker.Stop()

	p.runCheck(ctx, checker, status)
	for {
		select {
		case <-ticker.C:
			p.runCheck(ctx, checker, status)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Process) runCheck(ctx context.Context, checker health.Checker, status *health.Status) {
	checkCtx, cancel := context.WithTimeout(ctx, p.cfg.Health.Timeout)
	defer cancel()

	result := checker.Check(checkCtx)

	p.mu.Lock()
	status.Update(result, p.cfg.Health)
	promoted := false
	if status.Healthy && p.state == types.ServiceStarting && p.status == status {
		p.state = types.ServiceRunning
		promoted = true
	}
	p.mu.Unlock()

	if promoted {
		p.logger().Info().Dur("after", time.Since(status.StartedAt)).Msg("Service running")
		p.broker.Emit(events.EventServiceStarted, "service running", map[string]string{"service": p.key})
		return
	}
	if !result.Healthy {
		p.logger().Debug().Str("check", string(checker.Type())).Msg(result.Message)
	}
}

// Stop closes stdin, sends SIGTERM and waits StopTimeout before killing
func (p *Process) Stop() error {
	p.mu.Lock()
	if p.cmd == nil || p.done == nil {
		p.mu.Unlock()
		return ErrNotRunning
	}
	select {
	case <-p.done:
		p.mu.Unlock()
		return nil
	default:
	}
	p.stopping = true
	cmd, done, stdin := p.cmd, p.done, p.stdin
	p.mu.Unlock()

	_ = stdin.Close()
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.logger().Debug().Err(err).Msg("SIGTERM not delivered")
	}

	select {
	case <-done:
		return nil
	case <-time.After(p.cfg.StopTimeout):
		p.logger().Warn().Dur("timeout", p.cfg.StopTimeout).Msg("Service did not stop, killing")
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill process: %w", err)
		}
		<-done
		return nil
	}
}

// ExitErr returns the error from the last exit, if any
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}
