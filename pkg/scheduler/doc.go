/*
Package scheduler makes sure the tinymist binary is installed at most once,
no matter how many documents trigger the check at the same time.

# State machine

	            ObtainBinary, binary missing
	  ┌──────┐ ─────────────────────────────▶ ┌─────────────┐
	  │ Idle │                                │ Downloading │
	  └──────┘ ◀───────────────────────────── └─────────────┘
	     │       install finished or failed          │
	     │ binary on disk                            │ CancelDownload / Close
	     ▼                                           ▼
	  ┌───────┐                                 ┌────────┐
	  │ Ready │                                 │ Failed │  (until restart)
	  └───────┘                                 └────────┘

Every transition out of Idle or Ready is a compare-and-swap on an atomic
state, so exactly one caller wins the right to start the download. Everyone
else sees Downloading and returns at once.

ObtainBinary never waits on the network. It reports one of:

  - Downloaded: the binary exists at the resolved path
  - Scheduled: this call started the background install
  - Downloading: another call already started it
  - Failed: a previous download was cancelled

# Install pipeline

The background goroutine creates the version directory, asks the Fetcher to
download and extract the archive, then sets the execute bits. On success the
Starter is invoked with the installed path so the language server comes up
without another document event. A network failure returns the scheduler to
Idle; the next ObtainBinary retries. A cancelled download is terminal and the
user is told to restart.

Wait blocks until the last scheduled install finishes and returns its error.

# Usage

	s := scheduler.New(resolver, fetcher,
		scheduler.WithStarter(services),
		scheduler.WithNotifier(notifier),
	)

	switch st := s.ObtainBinary(ctx); st.Kind {
	case types.DownloadDownloaded:
		start(st.Path)
	case types.DownloadScheduled, types.DownloadDownloading:
		// the starter runs once the install completes
	}
*/
package scheduler
