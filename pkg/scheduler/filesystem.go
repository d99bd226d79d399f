package scheduler

import (
	"os"
	"runtime"
)

// Filesystem is the subset of file operations the install pipeline needs
type Filesystem interface {
	Exists(path string) bool
	MkdirAll(path string) error
	SetExecutable(path string) error
}

// OSFilesystem implements Filesystem on the local disk
type OSFilesystem struct{}

func (OSFilesystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OSFilesystem) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

// SetExecutable adds the execute bits. Windows has none, so it is a no-op there.
func (OSFilesystem) SetExecutable(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, info.Mode().Perm()|0o111)
}
