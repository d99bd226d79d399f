package manager

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tinymistd/pkg/config"
	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/pool"
	"github.com/cuemby/tinymistd/pkg/service"
	"github.com/cuemby/tinymistd/pkg/types"
	"github.com/cuemby/tinymistd/test/faketool"
)

func TestMain(m *testing.M) {
	faketool.Main()
	os.Exit(m.Run())
}

// copyFetcher installs the test binary instead of downloading
type copyFetcher struct {
	mu   sync.Mutex
	urls []string
}

func (f *copyFetcher) Download(ctx context.Context, url, dest string) error {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()

	data, err := os.ReadFile(faketool.Binary())
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o755)
}

type readyRecorder struct {
	mu      sync.Mutex
	handles []service.Handle
}

func (r *readyRecorder) OnReady(h service.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = append(r.handles, h)
}

func (r *readyRecorder) Handles() []service.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]service.Handle(nil), r.handles...)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Pool.StartPort = 41000
	cfg.Pool.Capacity = 2
	cfg.Readiness.Timeout = 5 * time.Second
	cfg.Readiness.Interval = 20 * time.Millisecond
	return cfg
}

func customConfig(t *testing.T) config.Config {
	cfg := testConfig(t)
	cfg.BinarySource = types.BinarySourceCustom
	cfg.CustomBinaryPath = faketool.Binary()
	return cfg
}

func serviceConfig() service.Config {
	cfg := service.DefaultConfig()
	cfg.Env = faketool.Env(faketool.ModeReady)
	cfg.Health.Interval = 50 * time.Millisecond
	cfg.StopTimeout = 2 * time.Second
	return cfg
}

func newManager(t *testing.T, store *config.Store, opts ...Option) *Manager {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	opts = append([]Option{
		WithServiceConfig(serviceConfig()),
		WithPoolEnv(faketool.Env(faketool.ModeReady)...),
	}, opts...)
	m, err := New(store, broker, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func TestDocumentOpenedWithInstalledBinary(t *testing.T) {
	rec := &readyRecorder{}
	m := newManager(t, config.NewStore("", customConfig(t), nil), WithOnReady(rec.OnReady))

	status := m.DocumentOpened(context.Background(), "/work/main.typ")
	assert.Equal(t, types.DownloadDownloaded, status.Kind)
	assert.Equal(t, faketool.Binary(), status.Path)

	require.Eventually(t, func() bool { return len(rec.Handles()) == 1 }, 5*time.Second, 10*time.Millisecond)
	h := rec.Handles()[0]
	require.NotNil(t, h)
	assert.Equal(t, service.LanguageServerKey, h.Key())
	assert.Equal(t, types.ServiceRunning, h.State())

	info := m.BinaryInfo()
	assert.True(t, info.Present)
	assert.True(t, info.Location.Custom)
	assert.Equal(t, "ready", info.State)

	running, _ := m.LanguageServerRunning()
	assert.True(t, running)

	// opening another document keeps the same server
	m.DocumentOpened(context.Background(), "/work/other.typ")
	p, ok := m.services.Get(service.LanguageServerKey)
	require.True(t, ok)
	assert.Equal(t, h.PID(), p.PID())
}

func TestDocumentOpenedSchedulesDownload(t *testing.T) {
	rec := &readyRecorder{}
	fetcher := &copyFetcher{}
	m := newManager(t, config.NewStore("", testConfig(t), nil),
		WithFetcher(fetcher), WithOnReady(rec.OnReady))

	assert.False(t, m.BinaryPresent())

	status := m.DocumentOpened(context.Background(), "/work/main.typ")
	assert.Equal(t, types.DownloadScheduled, status.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.scheduler.Wait(ctx))

	require.Eventually(t, func() bool { return len(rec.Handles()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NotNil(t, rec.Handles()[0])

	assert.True(t, m.BinaryPresent())
	assert.Len(t, fetcher.urls, 1)

	p, ok := m.services.Get(service.LanguageServerKey)
	require.True(t, ok)
	assert.Equal(t, m.resolver.Resolve().LocalPath, p.Binary())
}

func TestInstall(t *testing.T) {
	m := newManager(t, config.NewStore("", testConfig(t), nil), WithFetcher(&copyFetcher{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path, err := m.Install(ctx)
	require.NoError(t, err)
	assert.FileExists(t, path)

	again, err := m.Install(ctx)
	require.NoError(t, err)
	assert.Equal(t, path, again)

	t.Setenv(faketool.EnvVar, "1")
	result := m.Probe(ctx)
	assert.True(t, result.Valid, result.Message)
}

func TestRequestPreview(t *testing.T) {
	m := newManager(t, config.NewStore("", customConfig(t), nil))
	doc := filepath.Join(t.TempDir(), "main.typ")

	info, err := m.RequestPreview(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, doc, info.Key)
	assert.NotZero(t, info.DataPort)

	again, err := m.RequestPreview(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, info.PID, again.PID)

	previews := m.Previews()
	require.Len(t, previews, 1)
	assert.Equal(t, 1, m.PreviewCount())

	report := m.DocumentClosed(doc)
	assert.True(t, report.Found)
	assert.Empty(t, m.Previews())

	report = m.DocumentClosed(doc)
	assert.False(t, report.Found)
}

func TestRequestPreviewConcurrentSameDocument(t *testing.T) {
	m := newManager(t, config.NewStore("", customConfig(t), nil))
	doc := filepath.Join(t.TempDir(), "main.typ")

	var wg sync.WaitGroup
	pids := make(chan int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := m.RequestPreview(context.Background(), doc)
			if assert.NoError(t, err) {
				pids <- info.PID
			}
		}()
	}
	wg.Wait()
	close(pids)

	seen := map[int]bool{}
	for pid := range pids {
		seen[pid] = true
	}
	assert.Len(t, seen, 1)
	assert.Equal(t, 1, m.PreviewCount())
	assert.Zero(t, lockedKeys(m), "document locks are dropped once released")

	report := m.DocumentClosed(doc)
	assert.True(t, report.Found)
	assert.Zero(t, lockedKeys(m))
}

func lockedKeys(m *Manager) int {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()
	return len(m.keys)
}

func TestRequestPreviewWithoutBinary(t *testing.T) {
	m := newManager(t, config.NewStore("", testConfig(t), nil))

	_, err := m.RequestPreview(context.Background(), "/work/main.typ")
	require.Error(t, err)
	assert.ErrorIs(t, err, pool.ErrStartFailed)
	assert.ErrorIs(t, err, ErrBinaryNotReady)
}

func TestSettingsChangeRestartsLanguageServer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tinymistd.yaml")
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: "+dataDir+"\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	store := config.NewStore(path, cfg, nil)

	m := newManager(t, store, WithFetcher(&copyFetcher{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	installed, err := m.Install(ctx)
	require.NoError(t, err)

	require.Equal(t, types.DownloadDownloaded, m.DocumentOpened(ctx, "/work/main.typ").Kind)
	_, ok := m.WaitForLanguageServer(ctx, 5*time.Second)
	require.True(t, ok)

	custom := "data_dir: " + dataDir + "\nbinary_source: custom\ncustom_binary_path: " + faketool.Binary() + "\n"
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o644))
	require.NoError(t, store.Reload())

	require.Eventually(t, func() bool {
		p, ok := m.services.Get(service.LanguageServerKey)
		return ok && p.Binary() == faketool.Binary() && p.State() == types.ServiceRunning
	}, 5*time.Second, 20*time.Millisecond)
	assert.NotEqual(t, installed, faketool.Binary())
}

func TestShutdown(t *testing.T) {
	m := newManager(t, config.NewStore("", customConfig(t), nil))
	require.NoError(t, m.Start(context.Background()))

	m.DocumentOpened(context.Background(), "/work/main.typ")
	_, err := m.RequestPreview(context.Background(), filepath.Join(t.TempDir(), "main.typ"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.Zero(t, m.PreviewCount())
	_, err = m.RequestPreview(context.Background(), "/work/other.typ")
	assert.ErrorIs(t, err, pool.ErrClosed)
}

func TestTwoDocumentsOpenedBeforeInstall(t *testing.T) {
	fetcher := &copyFetcher{}
	m := newManager(t, config.NewStore("", testConfig(t), nil), WithFetcher(fetcher))

	dir := t.TempDir()
	docA := filepath.Join(dir, "a.typ")
	docB := filepath.Join(dir, "b.typ")

	var wg sync.WaitGroup
	statuses := make(chan types.DownloadKind, 2)
	for _, doc := range []string{docA, docB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses <- m.DocumentOpened(context.Background(), doc).Kind
		}()
	}
	wg.Wait()
	close(statuses)

	kinds := map[types.DownloadKind]int{}
	for k := range statuses {
		kinds[k]++
	}
	assert.Equal(t, 1, kinds[types.DownloadScheduled])
	assert.Equal(t, 1, kinds[types.DownloadDownloading])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.scheduler.Wait(ctx))
	assert.Len(t, fetcher.urls, 1)

	a, err := m.RequestPreview(ctx, docA)
	require.NoError(t, err)
	b, err := m.RequestPreview(ctx, docB)
	require.NoError(t, err)

	assert.NotEqual(t, a.PID, b.PID)
	assert.NotEqual(t, a.DataPort, b.DataPort)
	assert.NotEqual(t, a.ControlPort, b.ControlPort)

	report := m.DocumentClosed(docA)
	assert.True(t, report.Found)

	previews := m.Previews()
	require.Len(t, previews, 1)
	assert.Equal(t, docB, previews[0].Key)
	assert.True(t, previews[0].Alive())
}
