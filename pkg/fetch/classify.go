package fetch

import (
	"archive/tar"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"io/fs"
	"net"
	"syscall"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// FailureKind groups download errors by what the user can do about them
type FailureKind string

const (
	FailureHostResolution    FailureKind = "host_resolution"
	FailureConnectionRefused FailureKind = "connection_refused"
	FailureTimeout           FailureKind = "timeout"
	FailureTLS               FailureKind = "tls"
	FailureIO                FailureKind = "io"
	FailureUnexpected        FailureKind = "unexpected"
)

// Failure is a classified download error. UserMessage is short and safe to
// show; LogMessage carries the detail.
type Failure struct {
	Kind        FailureKind
	UserMessage string
	LogMessage  string
}

// Classify maps a download error onto a Failure
func Classify(err error) Failure {
	detail := ""
	if err != nil {
		detail = err.Error()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Failure{
			Kind:        FailureHostResolution,
			UserMessage: "No internet connection available",
			LogMessage:  "Failed to resolve host: " + detail,
		}
	}

	if isTLSError(err) {
		return Failure{
			Kind:        FailureTLS,
			UserMessage: "Secure connection failed",
			LogMessage:  "SSL error: " + detail,
		}
	}

	if isTimeout(err) {
		return Failure{
			Kind:        FailureTimeout,
			UserMessage: "Download timed out - please check your internet connection",
			LogMessage:  "Download timeout: " + detail,
		}
	}

	if isConnectError(err) {
		return Failure{
			Kind:        FailureConnectionRefused,
			UserMessage: "Unable to connect to download server",
			LogMessage:  "Connection failed: " + detail,
		}
	}

	if isIOError(err) {
		return Failure{
			Kind:        FailureIO,
			UserMessage: "Download failed due to network error",
			LogMessage:  "IO error during download: " + detail,
		}
	}

	return Failure{
		Kind:        FailureUnexpected,
		UserMessage: "Failed to download Tinymist Language Server",
		LogMessage:  "Unexpected error: " + detail,
	}
}

func isTLSError(err error) bool {
	var (
		recordErr  tls.RecordHeaderError
		verifyErr  *tls.CertificateVerificationError
		unknownErr x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
		alertErr   tls.AlertError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unknownErr) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &alertErr)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isIOError(err error) bool {
	var (
		statusErr *StatusError
		pathErr   *fs.PathError
		opErr     *net.OpError
	)
	return errors.As(err, &statusErr) ||
		errors.As(err, &pathErr) ||
		errors.As(err, &opErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, gzip.ErrHeader) ||
		errors.Is(err, gzip.ErrChecksum) ||
		errors.Is(err, zip.ErrFormat) ||
		errors.Is(err, zip.ErrChecksum) ||
		errors.Is(err, tar.ErrHeader) ||
		errors.Is(err, ErrUnsupportedArchive) ||
		errors.Is(err, ErrNoEntry)
}
