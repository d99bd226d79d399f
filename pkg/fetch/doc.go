/*
Package fetch downloads a tinymist release archive and extracts the tool
binary from it.

# Download pipeline

	GET url ──▶ response body
	            │
	            ├─ .tar.gz/.tgz ─▶ gzip ─▶ tar ─┐
	            ├─ .tar ──────────────▶ tar ────┤ stream entries
	            └─ .zip ─▶ spool to disk ─▶ zip ┘
	                                            │
	                       pick entry ◀─────────┘
	                       copy in 4 KiB chunks ─▶ dest.tmp ─▶ rename ─▶ dest

The archive format comes from the URL suffix; anything else fails with
ErrUnsupportedArchive before a request is made. Directory entries are skipped.
The first regular file is extracted, unless a later entry is named like the
destination file, in which case that one wins. Zip archives are spooled to a
temporary file next to dest because their central directory sits at the end.

dest is only ever written by renaming a finished temp file, and the temp file
is removed on every failure path.

# Errors

Download does not retry. Context cancellation is returned unchanged and not
reported. Any other failure is classified:

	┌────────────────────┬──────────────────────────────────────────────┐
	│ Kind               │ User message                                 │
	├────────────────────┼──────────────────────────────────────────────┤
	│ host_resolution    │ No internet connection available             │
	│ connection_refused │ Unable to connect to download server         │
	│ timeout            │ Download timed out - please check your ...   │
	│ tls                │ Secure connection failed                     │
	│ io                 │ Download failed due to network error         │
	│ unexpected         │ Failed to download Tinymist Language Server  │
	└────────────────────┴──────────────────────────────────────────────┘

The detailed message is logged and "Tinymist download failed: <user message>"
is sent to the notifier.

# Timeouts

NewClient dials with a 10 second connect timeout and waits at most 30 seconds
for response headers. The whole download is bounded by WithTimeout, five
minutes by default.
*/
package fetch
