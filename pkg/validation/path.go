package validation

import (
	"errors"
	"io/fs"
	"os"
)

// PathResult is the outcome of checking a binary path. Message is set when
// Valid is false and is suitable for showing to a user.
type PathResult struct {
	Valid   bool
	Message string
}

// PathOK is the successful PathResult
var PathOK = PathResult{Valid: true}

func pathFailed(msg string) PathResult {
	return PathResult{Message: msg}
}

// ValidateBinaryFile checks that path names an existing executable file
func ValidateBinaryFile(path string) PathResult {
	if path == "" {
		return pathFailed("Binary path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pathFailed("Binary file does not exist")
		}
		if errors.Is(err, fs.ErrPermission) {
			return pathFailed("Permission denied - check file permissions")
		}
		return pathFailed("Binary file cannot be read: " + err.Error())
	}

	if info.IsDir() {
		return pathFailed("Binary path is a directory")
	}

	if !isExecutable(path, info) {
		return pathFailed("Binary file is not executable")
	}

	return PathOK
}
