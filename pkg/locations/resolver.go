package locations

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/types"
	"github.com/cuemby/tinymistd/pkg/validation"
)

// SettingsSource returns the current settings snapshot
type SettingsSource interface {
	Snapshot() types.Settings
}

// StaticSettings is a SettingsSource that never changes
type StaticSettings types.Settings

func (s StaticSettings) Snapshot() types.Settings { return types.Settings(s) }

// Resolver computes where the tool binary lives. Nothing is cached: each call
// reads the current settings, so a changed custom path takes effect at once.
type Resolver struct {
	settings     SettingsSource
	version      types.ToolVersion
	platform     types.Platform
	dataDir      string
	releasesHost string
	notifier     events.Notifier
	validate     func(string) validation.PathResult
}

// Option configures a Resolver
type Option func(*Resolver)

// WithVersion overrides the pinned tool version
func WithVersion(v types.ToolVersion) Option {
	return func(r *Resolver) { r.version = v }
}

// WithPlatform overrides host platform detection
func WithPlatform(p types.Platform) Option {
	return func(r *Resolver) { r.platform = p }
}

// WithReleasesHost overrides the download host
func WithReleasesHost(host string) Option {
	return func(r *Resolver) { r.releasesHost = host }
}

// WithNotifier sets where invalid custom path warnings go
func WithNotifier(n events.Notifier) Option {
	return func(r *Resolver) { r.notifier = n }
}

// NewResolver creates a resolver installing under dataDir
func NewResolver(settings SettingsSource, dataDir string, opts ...Option) *Resolver {
	r := &Resolver{
		settings:     settings,
		version:      types.RequiredVersion,
		platform:     HostPlatform().Platform,
		dataDir:      dataDir,
		releasesHost: DefaultReleasesHost,
		notifier:     events.Discard{},
		validate:     validation.ValidateBinaryFile,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Platform returns the platform binaries are resolved for
func (r *Resolver) Platform() types.Platform {
	return r.platform
}

// Version returns the pinned tool version
func (r *Resolver) Version() types.ToolVersion {
	return r.version
}

// DownloadURL is the release archive for the pinned version and platform
func (r *Resolver) DownloadURL() string {
	return DownloadURL(r.releasesHost, r.version, r.platform)
}

// BinaryPath returns the custom binary when configured and valid, otherwise
// the automatic install path. An invalid custom path is reported through the
// notifier on every call.
func (r *Resolver) BinaryPath() (path string, custom bool) {
	s := r.settings.Snapshot()

	if s.BinarySource == types.BinarySourceCustom {
		result := r.validate(s.CustomBinaryPath)
		if result.Valid {
			return s.CustomBinaryPath, true
		}

		logger := log.WithComponent("locations")
		logger.Warn().
			Str("path", s.CustomBinaryPath).
			Str("reason", result.Message).
			Msg("Custom binary is invalid, using automatic download")

		r.notifier.Warn(fmt.Sprintf(
			"Your specified Tinymist binary (%s) is invalid: %s. Falling back to automatically downloaded Tinymist.",
			s.CustomBinaryPath, result.Message))
	}

	return InstallPath(r.dataDir, r.version, r.platform), false
}

// Resolve returns the full location for the current settings
func (r *Resolver) Resolve() types.BinaryLocation {
	path, custom := r.BinaryPath()
	return types.BinaryLocation{
		LocalPath:  path,
		RemoteURL:  r.DownloadURL(),
		VersionTag: r.version.PathString(),
		Custom:     custom,
	}
}

// DefaultDataDir is the per-user directory downloaded binaries are kept in
func DefaultDataDir() string {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "tinymistd")
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tinymistd")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".tinymistd")
	}
	return filepath.Join(os.TempDir(), "tinymistd")
}
