package readiness

import (
	"context"
	"time"

	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/metrics"
	"github.com/cuemby/tinymistd/pkg/service"
	"github.com/cuemby/tinymistd/pkg/types"
)

const (
	// DefaultInterval is the time between two lookups
	DefaultInterval = 300 * time.Millisecond
	// DefaultTimeout bounds a wait when the caller passes zero
	DefaultTimeout = 15 * time.Second
)

// Waiter polls a Lister until a service is running
type Waiter struct {
	lister   service.Lister
	interval time.Duration
	timeout  time.Duration
}

// NewWaiter creates a waiter with the default interval and timeout
func NewWaiter(lister service.Lister) *Waiter {
	return &Waiter{
		lister:   lister,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
	}
}

// WithInterval sets the polling interval
func (w *Waiter) WithInterval(d time.Duration) *Waiter {
	if d > 0 {
		w.interval = d
	}
	return w
}

// WithTimeout sets the timeout used when a call passes zero
func (w *Waiter) WithTimeout(d time.Duration) *Waiter {
	if d > 0 {
		w.timeout = d
	}
	return w
}

// WaitUntilRunning returns the first handle registered under key whose state
// is running. It gives up after timeout or when ctx is done and returns
// (nil, false). A zero timeout uses the waiter's default.
func (w *Waiter) WaitUntilRunning(ctx context.Context, key string, timeout time.Duration) (service.Handle, bool) {
	if timeout <= 0 {
		timeout = w.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timer := metrics.NewTimer()
	logger := log.WithServiceKey(key)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if h := w.running(key); h != nil {
			timer.ObserveDurationVec(metrics.ReadinessWaitDuration, "ready")
			logger.Debug().Dur("waited", timer.Duration()).Msg("Service is running")
			return h, true
		}

		select {
		case <-ctx.Done():
			timer.ObserveDurationVec(metrics.ReadinessWaitDuration, "timeout")
			logger.Warn().Dur("timeout", timeout).Msg("Gave up waiting for service")
			return nil, false
		case <-ticker.C:
		}
	}
}

func (w *Waiter) running(key string) service.Handle {
	for _, h := range w.lister.Services(key) {
		if h.State() == types.ServiceRunning {
			return h
		}
	}
	return nil
}

// WaitThen waits like WaitUntilRunning and then calls fn with the handle, or
// with nil when the wait timed out. fn always runs.
func (w *Waiter) WaitThen(ctx context.Context, key string, timeout time.Duration, fn func(service.Handle)) {
	h, _ := w.WaitUntilRunning(ctx, key, timeout)
	fn(h)
}
