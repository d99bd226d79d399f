package types

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/coreos/go-semver/semver"
)

// ToolVersion is a major.minor.patch release of the language tool
type ToolVersion struct {
	Major int
	Minor int
	Patch int
}

// RequiredVersion is the release fetched by automatic acquisition and the
// minimum accepted from a user-supplied binary
var RequiredVersion = ToolVersion{Major: 0, Minor: 13, Patch: 12}

// ToolName is the executable name of the language tool, without extension
const ToolName = "tinymist"

var versionPattern = regexp.MustCompile(`(?i)\b` + ToolName + `\s+(\d+)\.(\d+)\.(\d+)\b`)

// ParseToolVersion extracts "tinymist <major>.<minor>.<patch>" from free text.
// The second return value is false when no version could be found.
func ParseToolVersion(text string) (ToolVersion, bool) {
	m := versionPattern.FindStringSubmatch(text)
	if m == nil {
		return ToolVersion{}, false
	}

	parts := make([]int, 3)
	for i := range parts {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return ToolVersion{}, false
		}
		parts[i] = n
	}

	return ToolVersion{Major: parts[0], Minor: parts[1], Patch: parts[2]}, true
}

func (v ToolVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// PathString returns the release tag form, e.g. "v0.13.12"
func (v ToolVersion) PathString() string {
	return "v" + v.String()
}

func (v ToolVersion) semver() semver.Version {
	return semver.Version{
		Major: int64(v.Major),
		Minor: int64(v.Minor),
		Patch: int64(v.Patch),
	}
}

// Compare returns -1, 0 or 1 comparing components left to right
func (v ToolVersion) Compare(other ToolVersion) int {
	return v.semver().Compare(other.semver())
}

// Less reports whether v sorts before other
func (v ToolVersion) Less(other ToolVersion) bool {
	return v.Compare(other) < 0
}

// OSFamily is the operating system half of a platform
type OSFamily string

const (
	OSMac     OSFamily = "mac"
	OSWindows OSFamily = "windows"
	OSLinux   OSFamily = "linux"
)

// ArchFamily is the CPU architecture half of a platform
type ArchFamily string

const (
	ArchARM64 ArchFamily = "arm64"
	ArchX64   ArchFamily = "x64"
)

// Platform identifies which release build of the tool to fetch
type Platform struct {
	OS   OSFamily   `json:"os"`
	Arch ArchFamily `json:"arch"`
}

func (p Platform) String() string {
	return fmt.Sprintf("%s/%s", p.OS, p.Arch)
}

// BinaryLocation is where the tool lives locally and where it is fetched from.
// LocalPath and RemoteURL always refer to the same VersionTag.
type BinaryLocation struct {
	LocalPath  string `json:"local_path"`
	RemoteURL  string `json:"remote_url"`
	VersionTag string `json:"version_tag"`
	// Custom is set when LocalPath is a validated user-supplied binary
	Custom bool `json:"custom"`
}

// BinarySource selects between the downloaded tool and a user binary
type BinarySource string

const (
	BinarySourceAutomatic BinarySource = "automatic"
	BinarySourceCustom    BinarySource = "custom"
)

// Formatter selects the formatter the language tool is configured with
type Formatter string

const (
	FormatterTypstyle Formatter = "typstyle"
	FormatterTypstfmt Formatter = "typstfmt"
)

// Settings is the read-only configuration snapshot consumed by resolution
type Settings struct {
	BinarySource     BinarySource
	CustomBinaryPath string
	Formatter        Formatter
}

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() Settings {
	return Settings{
		BinarySource: BinarySourceAutomatic,
		Formatter:    FormatterTypstyle,
	}
}

// DownloadKind is the outcome of asking for the tool binary
type DownloadKind string

const (
	// DownloadDownloaded means the binary is on disk at Path
	DownloadDownloaded DownloadKind = "downloaded"
	// DownloadDownloading means another request already started the download
	DownloadDownloading DownloadKind = "downloading"
	// DownloadScheduled means this request started a background download
	DownloadScheduled DownloadKind = "scheduled"
	// DownloadFailed means acquisition is disabled until the process restarts
	DownloadFailed DownloadKind = "failed"
)

// DownloadStatus is returned by the acquisition scheduler without blocking
type DownloadStatus struct {
	Kind DownloadKind
	Path string
}

// ServiceState is the lifecycle stage of a managed background service
type ServiceState string

const (
	ServiceNotStarted ServiceState = "not_started"
	ServiceStarting   ServiceState = "starting"
	ServiceRunning    ServiceState = "running"
	ServiceCrashed    ServiceState = "crashed"
	ServiceStopped    ServiceState = "stopped"
)

// BinaryInfo reports the current resolution and acquisition state
type BinaryInfo struct {
	Location  BinaryLocation `json:"location"`
	Platform  Platform       `json:"platform"`
	State     string         `json:"state"`
	Present   bool           `json:"present"`
	CheckedAt time.Time      `json:"checked_at"`
}
