package locations

import (
	"runtime"
	"strings"

	"github.com/cuemby/tinymistd/pkg/types"
)

// Match records whether a platform axis was recognized or defaulted
type Match string

const (
	MatchExact    Match = "exact"
	MatchFallback Match = "fallback"
)

// Fallback branches taken when a host name is not recognized
const (
	OSFallbackLinux = types.OSLinux
	ArchFallbackX64 = types.ArchX64
)

// Detection is a detected platform plus how each axis was matched
type Detection struct {
	Platform  types.Platform
	OSMatch   Match
	ArchMatch Match
}

// DetectPlatform maps free-form OS and architecture names onto a release
// platform. Matching is a case-insensitive substring test and the first match
// wins; unrecognized operating systems become linux and unrecognized
// architectures become x64.
func DetectPlatform(osName, archName string) Detection {
	osName = strings.ToLower(strings.TrimSpace(osName))
	archName = strings.ToLower(strings.TrimSpace(archName))

	d := Detection{OSMatch: MatchExact, ArchMatch: MatchExact}

	switch {
	case strings.Contains(osName, "mac"), strings.Contains(osName, "darwin"):
		d.Platform.OS = types.OSMac
	case strings.Contains(osName, "windows"):
		d.Platform.OS = types.OSWindows
	case strings.Contains(osName, "linux"):
		d.Platform.OS = types.OSLinux
	default:
		d.Platform.OS = OSFallbackLinux
		d.OSMatch = MatchFallback
	}

	switch {
	case strings.Contains(archName, "arch64"), strings.Contains(archName, "arm64"):
		d.Platform.Arch = types.ArchARM64
	case strings.Contains(archName, "amd64"), strings.Contains(archName, "x86_64"), strings.Contains(archName, "x64"):
		d.Platform.Arch = types.ArchX64
	default:
		d.Platform.Arch = ArchFallbackX64
		d.ArchMatch = MatchFallback
	}

	return d
}

// HostPlatform detects the platform this process runs on
func HostPlatform() Detection {
	return DetectPlatform(runtime.GOOS, runtime.GOARCH)
}
