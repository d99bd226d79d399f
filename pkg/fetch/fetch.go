package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/metrics"
)

const (
	chunkSize = 4096

	// DefaultConnectTimeout bounds dialing and the TLS handshake
	DefaultConnectTimeout = 10 * time.Second

	// DefaultReadTimeout bounds waiting for response headers
	DefaultReadTimeout = 30 * time.Second

	// DefaultTimeout bounds the whole download
	DefaultTimeout = 5 * time.Minute
)

// Progress is reported after every chunk written. Total is -1 when the
// archive does not record the entry size.
type Progress struct {
	Entry   string
	Chunk   int
	Written int64
	Total   int64
}

// ProgressFunc receives download progress
type ProgressFunc func(Progress)

// StatusError is returned when the server answers with a non-2xx status
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.StatusCode, e.URL)
}

// Fetcher downloads a release archive and extracts the tool binary from it.
// A failed download is not retried or resumed; calling Download again starts over.
type Fetcher struct {
	client   *http.Client
	notifier events.Notifier
	progress ProgressFunc
	timeout  time.Duration
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithClient replaces the HTTP client
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithProgress sets the progress callback
func WithProgress(p ProgressFunc) Option {
	return func(f *Fetcher) { f.progress = p }
}

// WithTimeout bounds the whole download
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// NewClient returns an HTTP client with the download connect and read timeouts
func NewClient() *http.Client {
	dialer := &net.Dialer{Timeout: DefaultConnectTimeout}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   DefaultConnectTimeout,
			ResponseHeaderTimeout: DefaultReadTimeout,
			ForceAttemptHTTP2:     true,
		},
	}
}

// NewFetcher creates a fetcher that reports failures to notifier
func NewFetcher(notifier events.Notifier, opts ...Option) *Fetcher {
	if notifier == nil {
		notifier = events.Discard{}
	}
	f := &Fetcher{
		client:   NewClient(),
		notifier: notifier,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Download fetches the archive at url and writes its tool binary to dest.
// The binary is written to dest+".tmp" first and renamed into place, so dest
// either does not exist or is complete. Cancellation is returned as is;
// every other failure is classified, logged and reported to the notifier
// before being returned.
func (f *Fetcher) Download(ctx context.Context, url, dest string) error {
	logger := log.WithComponent("fetch")
	timer := metrics.NewTimer()

	err := f.download(ctx, url, dest)
	if err == nil {
		metrics.DownloadsTotal.WithLabelValues("success").Inc()
		timer.ObserveDuration(metrics.DownloadDuration)
		return nil
	}

	if !errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled) {
		err = fmt.Errorf("%w: %w", context.Canceled, err)
	}

	if errors.Is(err, context.Canceled) {
		metrics.DownloadsTotal.WithLabelValues("cancelled").Inc()
		logger.Warn().Str("url", url).Msg("Download cancelled")
		return err
	}

	failure := Classify(err)
	metrics.DownloadsTotal.WithLabelValues(string(failure.Kind)).Inc()
	logger.Error().
		Err(err).
		Str("url", url).
		Str("kind", string(failure.Kind)).
		Msg(failure.LogMessage)
	f.notifier.Error("Tinymist download failed: " + failure.UserMessage)

	return err
}

func (f *Fetcher) download(ctx context.Context, url, dest string) (err error) {
	logger := log.WithComponent("fetch")

	kind, err := KindFromURL(url)
	if err != nil {
		return err
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	logger.Info().Str("url", url).Str("dest", dest).Msg("Downloading tool archive")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	tmp := dest + ".tmp"
	defer func() {
		if err != nil {
			if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logger.Error().Err(rmErr).Str("path", tmp).Msg("Failed to clean up temp file")
			}
		}
	}()

	x := newExtractor(ctx, tmp, filepath.Base(dest), f.progress)

	switch kind {
	case ArchiveTarGz:
		err = x.fromTarGz(resp.Body)
	case ArchiveTar:
		err = x.fromTar(resp.Body)
	case ArchiveZip:
		err = f.spoolZip(ctx, resp.Body, filepath.Dir(dest), x)
	}
	if err != nil {
		return err
	}

	if !x.found {
		return ErrNoEntry
	}

	if err = os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("failed to move binary into place: %w", err)
	}

	metrics.DownloadBytes.Add(float64(x.written))
	logger.Info().
		Str("entry", x.entry).
		Str("size", humanize.Bytes(uint64(x.written))).
		Str("dest", dest).
		Msg("Tool archive downloaded and extracted")

	return nil
}

// spoolZip writes the response to a temporary file because a zip central
// directory sits at the end of the archive
func (f *Fetcher) spoolZip(ctx context.Context, body io.Reader, dir string, x *extractor) error {
	spool, err := os.CreateTemp(dir, ".archive-*.zip")
	if err != nil {
		return fmt.Errorf("failed to create archive spool: %w", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	size, err := io.CopyBuffer(spool, &ctxReader{ctx: ctx, r: body}, make([]byte, chunkSize))
	if err != nil {
		return fmt.Errorf("failed to download archive: %w", err)
	}

	logger := log.WithComponent("fetch")
	logger.Debug().Str("size", humanize.Bytes(uint64(size))).Msg("Zip archive spooled")

	return x.fromZip(spool, size)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
