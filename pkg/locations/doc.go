/*
Package locations decides where the tinymist binary is installed and where its
release archive is downloaded from.

Everything here is a pure function of the pinned version, the detected
platform and the current settings snapshot:

	version   v0.13.12
	platform  linux/x64
	          │
	          ├─▶ URL   <host>/v0.13.12/tinymist-x86_64-unknown-linux-gnu.tar.gz
	          └─▶ path  <data-dir>/language-server/v0.13.12/tinymist

Platform detection is a substring match on the host names. Anything that is
not recognized lands on linux and x64 through the OSFallbackLinux and
ArchFallbackX64 branches, and the Detection result records which axes fell
back.

When the settings select a custom binary, Resolver validates the path on
every call. An invalid custom path produces a user warning and the automatic
install path is returned instead.
*/
package locations
