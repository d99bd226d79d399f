/*
Package types defines the value types shared across tinymistd.

Nothing in this package performs I/O. The types describe the tool release
being managed (ToolVersion, Platform, BinaryLocation), the settings snapshot
consumed from the outside (Settings, BinarySource, Formatter), and the status
values that the acquisition and service layers hand back to callers
(DownloadStatus, ServiceState).

# Versions

ToolVersion is ordered component by component, so 1.9.9 sorts before 2.0.0.
ParseToolVersion reads the output of the tool's version flag:

	v, ok := types.ParseToolVersion("tinymist 0.13.12")
	// v == ToolVersion{0, 13, 12}, ok == true

	_, ok = types.ParseToolVersion("tinymist 0.13")
	// ok == false: an unknown version is not an error

# Download status

DownloadStatus is what a caller gets back from the acquisition scheduler.
It never blocks:

	┌──────────────┬──────────────────────────────────────────────┐
	│ Kind         │ Meaning                                      │
	├──────────────┼──────────────────────────────────────────────┤
	│ downloaded   │ Path exists on disk, use it                  │
	│ downloading  │ another caller's download is still running   │
	│ scheduled    │ this call started the download               │
	│ failed       │ download was cancelled, restart to retry     │
	└──────────────┴──────────────────────────────────────────────┘
*/
package types
