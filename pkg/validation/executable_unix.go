//go:build !windows

package validation

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

func isExecutable(path string, _ fs.FileInfo) bool {
	return unix.Access(path, unix.X_OK) == nil
}
