package readiness

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tinymistd/pkg/service"
	"github.com/cuemby/tinymistd/pkg/types"
)

type fakeHandle struct {
	key   string
	state atomic.Value
}

func newHandle(key string, state types.ServiceState) *fakeHandle {
	h := &fakeHandle{key: key}
	h.state.Store(state)
	return h
}

func (h *fakeHandle) Key() string               { return h.key }
func (h *fakeHandle) PID() int                  { return 42 }
func (h *fakeHandle) State() types.ServiceState { return h.state.Load().(types.ServiceState) }

type fakeLister struct {
	mu      sync.Mutex
	handles map[string][]service.Handle
	calls   atomic.Int32
}

func (l *fakeLister) Services(key string) []service.Handle {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[key]
}

func (l *fakeLister) set(key string, hs ...service.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handles == nil {
		l.handles = map[string][]service.Handle{}
	}
	l.handles[key] = hs
}

func TestWaitUntilRunningImmediate(t *testing.T) {
	l := &fakeLister{}
	running := newHandle("lsp", types.ServiceRunning)
	l.set("lsp", newHandle("lsp", types.ServiceCrashed), running)

	h, ok := NewWaiter(l).WaitUntilRunning(context.Background(), "lsp", time.Second)
	require.True(t, ok)
	assert.Same(t, running, h)
	assert.Equal(t, int32(1), l.calls.Load())
}

func TestWaitUntilRunningPolls(t *testing.T) {
	l := &fakeLister{}
	h := newHandle("lsp", types.ServiceStarting)
	l.set("lsp", h)

	go func() {
		time.Sleep(50 * time.Millisecond)
		h.state.Store(types.ServiceRunning)
	}()

	w := NewWaiter(l).WithInterval(10 * time.Millisecond)
	got, ok := w.WaitUntilRunning(context.Background(), "lsp", 2*time.Second)
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.Greater(t, l.calls.Load(), int32(1))
}

func TestWaitUntilRunningTimeout(t *testing.T) {
	l := &fakeLister{}
	l.set("lsp", newHandle("lsp", types.ServiceStarting))

	w := NewWaiter(l).WithInterval(10 * time.Millisecond)
	start := time.Now()
	h, ok := w.WaitUntilRunning(context.Background(), "lsp", 100*time.Millisecond)

	assert.False(t, ok)
	assert.Nil(t, h)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitUntilRunningContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h, ok := NewWaiter(&fakeLister{}).WaitUntilRunning(ctx, "lsp", time.Minute)
	assert.False(t, ok)
	assert.Nil(t, h)
}

func TestWaiterDefaults(t *testing.T) {
	w := NewWaiter(&fakeLister{})
	assert.Equal(t, 300*time.Millisecond, w.interval)
	assert.Equal(t, 15*time.Second, w.timeout)

	w.WithInterval(0).WithTimeout(-1)
	assert.Equal(t, DefaultInterval, w.interval)
	assert.Equal(t, DefaultTimeout, w.timeout)

	w.WithTimeout(50 * time.Millisecond)
	_, ok := w.WaitUntilRunning(context.Background(), "missing", 0)
	assert.False(t, ok)
}

func TestWaitThenRunsInBothOutcomes(t *testing.T) {
	l := &fakeLister{}
	running := newHandle("lsp", types.ServiceRunning)
	l.set("lsp", running)
	w := NewWaiter(l).WithInterval(10 * time.Millisecond)

	var got []service.Handle
	w.WaitThen(context.Background(), "lsp", time.Second, func(h service.Handle) { got = append(got, h) })
	w.WaitThen(context.Background(), "other", 30*time.Millisecond, func(h service.Handle) { got = append(got, h) })

	require.Len(t, got, 2)
	assert.Same(t, running, got[0])
	assert.Nil(t, got[1])
}
