package locations

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cuemby/tinymistd/pkg/types"
)

// DefaultReleasesHost serves the tool's release archives
const DefaultReleasesHost = "https://github.com/Myriad-Dreamin/tinymist/releases/download"

// OSSegment is the target triple suffix used in release archive names
func OSSegment(os types.OSFamily) string {
	switch os {
	case types.OSMac:
		return "apple-darwin"
	case types.OSWindows:
		return "pc-windows-msvc"
	default:
		return "unknown-linux-gnu"
	}
}

// ArchSegment is the CPU prefix used in release archive names
func ArchSegment(arch types.ArchFamily) string {
	if arch == types.ArchARM64 {
		return "aarch64"
	}
	return "x86_64"
}

// ArchiveExtension is the archive format published for os
func ArchiveExtension(os types.OSFamily) string {
	if os == types.OSWindows {
		return "zip"
	}
	return "tar.gz"
}

// BinaryName is the executable file name on os
func BinaryName(os types.OSFamily) string {
	if os == types.OSWindows {
		return types.ToolName + ".exe"
	}
	return types.ToolName
}

// ArchiveName is the release asset name, e.g. tinymist-x86_64-unknown-linux-gnu.tar.gz
func ArchiveName(p types.Platform) string {
	return fmt.Sprintf("%s-%s-%s.%s", types.ToolName, ArchSegment(p.Arch), OSSegment(p.OS), ArchiveExtension(p.OS))
}

// DownloadURL is where the release archive for version and platform lives
func DownloadURL(host string, v types.ToolVersion, p types.Platform) string {
	if host == "" {
		host = DefaultReleasesHost
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(host, "/"), v.PathString(), ArchiveName(p))
}

// InstallPath is where the downloaded binary is placed under dataDir:
// <dataDir>/language-server/v<M>.<m>.<p>/tinymist[.exe]
func InstallPath(dataDir string, v types.ToolVersion, p types.Platform) string {
	return filepath.Join(dataDir, "language-server", v.PathString(), BinaryName(p.OS))
}
