package pool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/test/faketool"
)

func TestMain(m *testing.M) {
	faketool.Main()
	os.Exit(m.Run())
}

func testConfig(mode faketool.Mode) Config {
	cfg := DefaultConfig()
	cfg.Env = faketool.Env(mode)
	cfg.BootTimeout = 5 * time.Second
	cfg.GracefulTimeout = time.Second
	cfg.ForceKillTimeout = time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func newTestPool(t *testing.T, cfg Config, opts ...Option) *Pool {
	t.Helper()
	p, err := New(cfg, func() (string, error) { return faketool.Binary(), nil }, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func document(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("= Title\n"), 0o644))
	return path
}

func TestAcquireStartsAndReuses(t *testing.T) {
	p := newTestPool(t, testConfig(faketool.ModeReady))
	doc := document(t, "main.typ")

	info, err := p.Acquire(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, doc, info.Key)
	assert.True(t, info.Alive())
	assert.NotZero(t, info.PID)
	assert.NotEmpty(t, info.TaskID)
	assert.Greater(t, info.ControlPort, info.DataPort)
	assert.Contains(t, info.Cmd, "--task-id")
	assert.Contains(t, info.Cmd, "--partial-rendering")
	assert.Equal(t, doc, info.Cmd[len(info.Cmd)-1])
	assert.True(t, info.Output().Contains(faketool.Marker))

	again, err := p.Acquire(context.Background(), doc)
	require.NoError(t, err)
	assert.Same(t, info, again)
	assert.Equal(t, 1, p.Len())

	got, ok := p.Get(doc)
	require.True(t, ok)
	assert.Same(t, info, got)
}

func TestAcquireEvictsOldest(t *testing.T) {
	cfg := testConfig(faketool.ModeReady)
	cfg.Capacity = 2

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	p := newTestPool(t, cfg, WithEvents(broker))

	a, b, c := document(t, "a.typ"), document(t, "b.typ"), document(t, "c.typ")

	first, err := p.Acquire(context.Background(), a)
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), b)
	require.NoError(t, err)

	// a lookup must not refresh a's position
	_, err = p.Acquire(context.Background(), a)
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, []string{b, c}, p.Keys())
	assert.False(t, first.Alive())

	var evicted bool
	timeout := time.After(2 * time.Second)
	for !evicted {
		select {
		case ev := <-sub:
			if ev.Type == events.EventPreviewEvicted {
				assert.Equal(t, a, ev.Metadata["document"])
				evicted = true
			}
		case <-timeout:
			t.Fatal("no eviction event")
		}
	}
}

func TestAcquireConcurrentKeysRespectCapacity(t *testing.T) {
	cfg := testConfig(faketool.ModeReady)
	cfg.Capacity = 2
	p := newTestPool(t, cfg)

	first, err := p.Acquire(context.Background(), document(t, "a.typ"))
	require.NoError(t, err)

	var maxLen atomic.Int32
	stop := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			if n := int32(p.Len()); n > maxLen.Load() {
				maxLen.Store(n)
			}
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
			}
		}
	}()

	docs := []string{document(t, "b.typ"), document(t, "c.typ"), document(t, "d.typ")}
	infos := make([]*ServerInfo, len(docs))
	var wg sync.WaitGroup
	for i, doc := range docs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := p.Acquire(context.Background(), doc)
			if assert.NoError(t, err) {
				infos[i] = info
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-sampled

	assert.Equal(t, 2, p.Len())
	assert.LessOrEqual(t, maxLen.Load(), int32(2))
	assert.False(t, first.Alive())

	alive := 0
	for _, info := range infos {
		require.NotNil(t, info)
		if info.Alive() {
			alive++
			got, ok := p.Get(info.Key)
			require.True(t, ok)
			assert.Same(t, info, got)
		}
	}
	assert.Equal(t, 2, alive, "only registered servers keep running")
}

// exitedEntry registers an entry whose process is already gone
func exitedEntry(p *Pool, key string, started time.Time) *ServerInfo {
	done := make(chan struct{})
	close(done)
	info := &ServerInfo{Key: key, StartTime: started, done: done}
	p.cache.Add(key, info)
	return info
}

func TestEvictionPicksEarliestStart(t *testing.T) {
	cfg := testConfig(faketool.ModeReady)
	cfg.Capacity = 2
	p, err := New(cfg, func() (string, error) { return faketool.Binary(), nil })
	require.NoError(t, err)

	now := time.Now()
	// registered in the opposite order of their start times
	later := exitedEntry(p, "later.typ", now)
	earlier := exitedEntry(p, "earlier.typ", now.Add(-time.Second))

	victims, err := p.reserve(context.Background())
	require.NoError(t, err)
	require.Len(t, victims, 1)
	assert.Same(t, earlier, victims[0])
	assert.Equal(t, []string{later.Key}, p.Keys())

	p.evict(context.Background(), "new.typ", victims)
	p.mu.Lock()
	p.starting--
	p.mu.Unlock()
	p.wg.Done()
}

func TestAcquireWaitsForBootingSlot(t *testing.T) {
	cfg := testConfig(faketool.ModeReady)
	cfg.Capacity = 1
	p := newTestPool(t, cfg)

	// every slot is held by a server still booting
	_, err := p.reserve(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, document(t, "main.typ"))
	assert.ErrorIs(t, err, ErrStartFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.mu.Lock()
	p.starting--
	p.notifyLocked()
	p.mu.Unlock()
	p.wg.Done()

	info, err := p.Acquire(context.Background(), document(t, "main.typ"))
	require.NoError(t, err)
	assert.True(t, info.Alive())
	assert.Equal(t, 1, p.Len())
}

func TestAcquireBootFailures(t *testing.T) {
	tests := []struct {
		name    string
		mode    faketool.Mode
		boot    time.Duration
		message string
	}{
		{"never ready", faketool.ModeSilent, 300 * time.Millisecond, "no \"listening\" on output"},
		{"crashes", faketool.ModeCrash, 5 * time.Second, "process exited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.mode)
			cfg.BootTimeout = tt.boot
			p := newTestPool(t, cfg)

			info, err := p.Acquire(context.Background(), document(t, "main.typ"))
			assert.Nil(t, info)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStartFailed)
			assert.Contains(t, err.Error(), tt.message)
			assert.Equal(t, 0, p.Len())
		})
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	p := newTestPool(t, testConfig(faketool.ModeSilent))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx, document(t, "main.typ"))
	assert.ErrorIs(t, err, ErrStartFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, p.Len())
}

func TestAcquireBinaryUnavailable(t *testing.T) {
	missing := errors.New("binary not installed")
	p, err := New(testConfig(faketool.ModeReady), func() (string, error) { return "", missing })
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), document(t, "main.typ"))
	assert.ErrorIs(t, err, ErrStartFailed)
	assert.ErrorIs(t, err, missing)
}

func TestReleaseGraceful(t *testing.T) {
	p := newTestPool(t, testConfig(faketool.ModeReady))
	doc := document(t, "main.typ")

	info, err := p.Acquire(context.Background(), doc)
	require.NoError(t, err)

	report := p.Release(doc)
	assert.True(t, report.Found)
	assert.True(t, report.Exited)
	assert.Equal(t, info.PID, report.PID)
	assert.Equal(t, StageRemoved, report.Last())

	if runtime.GOOS == "windows" {
		assert.Equal(t, []Stage{StageGraceful, StageForceKill, StageRemoved}, report.Stages)
	} else {
		assert.Equal(t, []Stage{StageGraceful, StageRemoved}, report.Stages)
		assert.False(t, report.Escalated())
	}

	assert.False(t, info.Alive())
	assert.Equal(t, 0, p.Len())

	missing := p.Release(doc)
	assert.False(t, missing.Found)
	assert.Empty(t, missing.Stages)
}

func TestReleaseWhileTornDownElsewhere(t *testing.T) {
	p := newTestPool(t, testConfig(faketool.ModeReady))
	doc := document(t, "main.typ")

	info, err := p.Acquire(context.Background(), doc)
	require.NoError(t, err)

	// the sweeper or an eviction got there first
	require.True(t, info.claim())

	report := p.Release(doc)
	assert.True(t, report.Found)
	assert.Equal(t, info.PID, report.PID)
	assert.Empty(t, report.Stages)
	assert.Equal(t, 0, p.Len())
	_, ok := p.Get(doc)
	assert.False(t, ok)

	p.teardown(context.Background(), info)
	assert.False(t, info.Alive())
}

func TestReleaseEscalatesToKill(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("SIGTERM is not delivered on windows")
	}

	cfg := testConfig(faketool.ModeStubborn)
	cfg.GracefulTimeout = 300 * time.Millisecond
	p := newTestPool(t, cfg)
	doc := document(t, "main.typ")

	info, err := p.Acquire(context.Background(), doc)
	require.NoError(t, err)

	report := p.Release(doc)
	assert.Equal(t, []Stage{StageGraceful, StageForceKill, StageRemoved}, report.Stages)
	assert.True(t, report.Exited)
	assert.True(t, report.Escalated())
	assert.False(t, info.Alive())
}

func TestSweepRemovesExited(t *testing.T) {
	p := newTestPool(t, testConfig(faketool.ModeExitAfterReady))
	doc := document(t, "main.typ")

	info, err := p.Acquire(context.Background(), doc)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !info.Alive() }, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{doc}, p.Sweep())
	assert.Equal(t, 0, p.Len())
	assert.Empty(t, p.Sweep())
}

func TestAcquireReplacesExited(t *testing.T) {
	p := newTestPool(t, testConfig(faketool.ModeExitAfterReady))
	doc := document(t, "main.typ")

	first, err := p.Acquire(context.Background(), doc)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !first.Alive() }, 5*time.Second, 20*time.Millisecond)

	second, err := p.Acquire(context.Background(), doc)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.TaskID, second.TaskID)
	assert.Equal(t, 1, p.Len())
}

func TestShutdown(t *testing.T) {
	p := newTestPool(t, testConfig(faketool.ModeReady))
	p.StartSweeper()

	var infos []*ServerInfo
	for _, name := range []string{"a.typ", "b.typ", "c.typ"} {
		info, err := p.Acquire(context.Background(), document(t, name))
		require.NoError(t, err)
		infos = append(infos, info)
	}

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 0, p.Len())
	for _, info := range infos {
		assert.False(t, info.Alive())
	}

	_, err := p.Acquire(context.Background(), document(t, "d.typ"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, p.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 5, cfg.Capacity)
	assert.Equal(t, 5*time.Second, cfg.BootTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, DefaultMarker, cfg.Marker)
	assert.Equal(t, 3*time.Second, cfg.GracefulTimeout)
	assert.Equal(t, 2*time.Second, cfg.ForceKillTimeout)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "graceful", StageGraceful.String())
	assert.Equal(t, "force_kill", StageForceKill.String())
	assert.Equal(t, "os_kill", StageOSKill.String())
	assert.Equal(t, "removed", StageRemoved.String())
}
