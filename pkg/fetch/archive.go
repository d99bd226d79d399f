package fetch

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// ArchiveKind is the container format of a release archive
type ArchiveKind string

const (
	ArchiveZip   ArchiveKind = "zip"
	ArchiveTarGz ArchiveKind = "tar.gz"
	ArchiveTar   ArchiveKind = "tar"
)

var (
	// ErrUnsupportedArchive is returned for URLs without a known archive suffix
	ErrUnsupportedArchive = errors.New("archive is not in a recognized format")

	// ErrNoEntry is returned when an archive holds no regular file
	ErrNoEntry = errors.New("archive contains no file to extract")
)

// KindFromURL infers the archive format from the URL suffix, ignoring case
// and any query string
func KindFromURL(rawURL string) (ArchiveKind, error) {
	u := strings.ToLower(rawURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}

	switch {
	case strings.HasSuffix(u, ".zip"):
		return ArchiveZip, nil
	case strings.HasSuffix(u, ".tar.gz"), strings.HasSuffix(u, ".tgz"):
		return ArchiveTarGz, nil
	case strings.HasSuffix(u, ".tar"):
		return ArchiveTar, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedArchive, rawURL)
	}
}

// extractor copies one archive entry into the temp file
type extractor struct {
	ctx      context.Context
	tmp      string
	want     string
	progress ProgressFunc
	buf      []byte

	found   bool
	exact   bool
	entry   string
	written int64
}

func newExtractor(ctx context.Context, tmp, want string, progress ProgressFunc) *extractor {
	return &extractor{
		ctx:      ctx,
		tmp:      tmp,
		want:     want,
		progress: progress,
		buf:      make([]byte, chunkSize),
	}
}

// consider decides whether the named entry should be extracted. The first
// regular file is taken; a later entry whose base name matches the binary
// replaces it.
func (x *extractor) consider(name string) bool {
	if x.exact {
		return false
	}
	if path.Base(name) == x.want {
		return true
	}
	return !x.found
}

func (x *extractor) extract(name string, size int64, r io.Reader) error {
	out, err := os.OpenFile(x.tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	var written int64
	for {
		if err := x.ctx.Err(); err != nil {
			_ = out.Close()
			return err
		}

		n, rerr := r.Read(x.buf)
		if n > 0 {
			if _, werr := out.Write(x.buf[:n]); werr != nil {
				_ = out.Close()
				return fmt.Errorf("failed to write %s: %w", x.tmp, werr)
			}
			written += int64(n)
			if x.progress != nil {
				x.progress(Progress{Entry: name, Chunk: n, Written: written, Total: size})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = out.Close()
			return fmt.Errorf("failed to read entry %s: %w", name, rerr)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	x.found = true
	x.exact = path.Base(name) == x.want
	x.entry = name
	x.written = written
	return nil
}

func (x *extractor) fromTar(r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		if !hdr.FileInfo().Mode().IsRegular() || !x.consider(hdr.Name) {
			continue
		}
		if err := x.extract(hdr.Name, hdr.Size, tr); err != nil {
			return err
		}
		if x.exact {
			return nil
		}
	}
}

func (x *extractor) fromTarGz(r io.Reader) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()
	return x.fromTar(gz)
}

func (x *extractor) fromZip(f *os.File, size int64) error {
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}

	for _, zf := range zr.File {
		if !zf.Mode().IsRegular() || !x.consider(zf.Name) {
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("failed to open zip entry %s: %w", zf.Name, err)
		}
		err = x.extract(zf.Name, int64(zf.UncompressedSize64), rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
		if x.exact {
			return nil
		}
	}
	return nil
}
