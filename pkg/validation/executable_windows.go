//go:build windows

package validation

import (
	"io/fs"
	"path/filepath"
	"strings"
)

func isExecutable(path string, _ fs.FileInfo) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".exe", ".bat", ".cmd", ".com":
		return true
	}
	return false
}
