package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, types.BinarySourceAutomatic, cfg.BinarySource)
	assert.Equal(t, 5, cfg.Pool.Capacity)
	assert.Equal(t, 23627, cfg.Pool.StartPort)
	assert.Equal(t, 15*time.Second, cfg.Readiness.Timeout)
	assert.True(t, cfg.Preview.PartialRendering)
}

func TestLoadFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "tinymistd.yaml")
	writeFile(t, path, `
binary_source: custom
custom_binary_path: /opt/tinymist/bin/tinymist
formatter: typstfmt
data_dir: /var/lib/tinymistd
pool:
  capacity: 3
  boot_timeout: 8s
preview:
  invert_colors:
    rest: always
    image: never
  font_paths: [/usr/share/fonts]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, types.Settings{
		BinarySource:     types.BinarySourceCustom,
		CustomBinaryPath: "/opt/tinymist/bin/tinymist",
		Formatter:        types.FormatterTypstfmt,
	}, cfg.Settings())
	assert.Equal(t, "/var/lib/tinymistd", cfg.DataDir)
	assert.Equal(t, 3, cfg.Pool.Capacity)
	assert.Equal(t, 8*time.Second, cfg.Pool.BootTimeout)
	assert.Equal(t, 23627, cfg.Pool.StartPort, "unset keys keep defaults")
	assert.Equal(t, []string{"/usr/share/fonts"}, cfg.Preview.FontPaths)
	assert.Equal(t, `{"rest":"always","image":"never"}`, cfg.Preview.InvertColors.Value())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Pool, cfg.Pool)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "tinymistd.yaml")
	writeFile(t, path, "data_dir: /from/file\nlog:\n  level: debug\n")

	t.Setenv("TINYMISTD_DATA_DIR", "/from/env")
	t.Setenv("TINYMISTD_BINARY_SOURCE", "CUSTOM")
	t.Setenv("TINYMISTD_CUSTOM_BINARY_PATH", "/usr/local/bin/tinymist")
	t.Setenv("TINYMISTD_LOG_JSON", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.DataDir)
	assert.Equal(t, types.BinarySourceCustom, cfg.BinarySource)
	assert.Equal(t, "/usr/local/bin/tinymist", cfg.CustomBinaryPath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, filepath.Join(dir, ".env"), "TINYMISTD_POOL_CAPACITY=9\n")
	t.Setenv("TINYMISTD_POOL_CAPACITY", "")
	require.NoError(t, os.Unsetenv("TINYMISTD_POOL_CAPACITY"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Pool.Capacity)
}

func TestLoadErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name    string
		content string
		env     map[string]string
		message string
	}{
		{"bad yaml", "pool: [", nil, "failed to parse config"},
		{"bad source", "binary_source: sideloaded", nil, "binary_source must be"},
		{"custom without path", "binary_source: custom", nil, "custom_binary_path is required"},
		{"bad formatter", "formatter: gofmt", nil, "formatter must be"},
		{"zero capacity", "pool:\n  capacity: 0", nil, "pool.capacity must be at least 1"},
		{"low port", "pool:\n  start_port: 80", nil, "pool.start_port must be between"},
		{"bad env bool", "", map[string]string{"TINYMISTD_LOG_JSON": "maybe"}, "TINYMISTD_LOG_JSON"},
		{"bad env int", "", map[string]string{"TINYMISTD_POOL_CAPACITY": "many"}, "TINYMISTD_POOL_CAPACITY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "c.yaml")
			writeFile(t, path, tt.content)

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestStoreReload(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "tinymistd.yaml")
	writeFile(t, path, "formatter: typstyle\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	s := NewStore(path, cfg, nil)

	var changes []types.Formatter
	s.OnChange(func(old, updated Config) {
		changes = append(changes, old.Formatter, updated.Formatter)
	})

	writeFile(t, path, "formatter: typstfmt\n")
	require.NoError(t, s.Reload())
	assert.Equal(t, types.FormatterTypstfmt, s.Snapshot().Formatter)
	assert.Equal(t, []types.Formatter{types.FormatterTypstyle, types.FormatterTypstfmt}, changes)

	writeFile(t, path, "formatter: nope\n")
	assert.Error(t, s.Reload())
	assert.Equal(t, types.FormatterTypstfmt, s.Snapshot().Formatter, "invalid file keeps previous config")
}

func TestStoreWatch(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "tinymistd.yaml")
	writeFile(t, path, "binary_source: automatic\n")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	s := NewStore(path, Default(), broker)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))

	writeFile(t, path, "binary_source: custom\ncustom_binary_path: /bin/tinymist\n")

	require.Eventually(t, func() bool {
		return s.Snapshot().BinarySource == types.BinarySourceCustom
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventSettingsReloaded, ev.Type)
		assert.Equal(t, "custom", ev.Metadata["binary_source"])
	case <-time.After(2 * time.Second):
		t.Fatal("no reload event")
	}
}

func TestStoreWatchWithoutPath(t *testing.T) {
	assert.Error(t, NewStore("", Default(), nil).Watch(context.Background()))
}
