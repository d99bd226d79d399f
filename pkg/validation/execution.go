package validation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/tinymistd/pkg/health"
	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/types"
)

// ExecutionResult is the outcome of running a binary's version probe.
// Version is only meaningful when Valid is true.
type ExecutionResult struct {
	Valid   bool
	Version types.ToolVersion
	Message string
}

// Runner executes argv in dir and reports the captured result
type Runner func(ctx context.Context, argv []string, dir string, timeout time.Duration) health.Result

// ExecRunner runs the command through a health.ExecChecker
func ExecRunner(ctx context.Context, argv []string, dir string, timeout time.Duration) health.Result {
	return health.NewExecChecker(argv).WithDir(dir).WithTimeout(timeout).Check(ctx)
}

// ExecutionValidator checks that a binary runs and reports a new enough version
type ExecutionValidator struct {
	Required types.ToolVersion
	Timeout  time.Duration
	Run      Runner
}

// NewExecutionValidator returns a validator requiring types.RequiredVersion
func NewExecutionValidator() *ExecutionValidator {
	return &ExecutionValidator{
		Required: types.RequiredVersion,
		Timeout:  10 * time.Second,
		Run:      ExecRunner,
	}
}

// Validate runs `<path> -V` from the binary's directory. It never returns an
// error: every failure is described by the result's Message.
func (v *ExecutionValidator) Validate(ctx context.Context, path string) ExecutionResult {
	if pr := ValidateBinaryFile(path); !pr.Valid {
		return ExecutionResult{Message: pr.Message}
	}

	run := v.Run
	if run == nil {
		run = ExecRunner
	}

	r := run(ctx, []string{path, "-V"}, filepath.Dir(path), v.Timeout)

	logger := log.WithComponent("validation")
	logger.Debug().
		Str("path", path).
		Int("exit_code", r.ExitCode).
		Dur("duration", r.Duration).
		Msg("Version probe finished")

	if r.ExitCode == -1 && r.Err != nil {
		return ExecutionResult{Message: describeStartError(r.Err)}
	}

	if r.ExitCode != 0 {
		return ExecutionResult{Message: describeFailedRun(r)}
	}

	version, ok := types.ParseToolVersion(strings.TrimSpace(r.Stdout))
	if !ok {
		return ExecutionResult{Message: "No version information could be found."}
	}

	if version.Less(v.Required) {
		return ExecutionResult{
			Version: version,
			Message: fmt.Sprintf("Tinymist version %s is below required version %s",
				version.PathString(), v.Required.PathString()),
		}
	}

	return ExecutionResult{Valid: true, Version: version}
}

var blockedMarkers = []string{
	"cannot be opened because the developer cannot be verified",
	"malware",
	"not trusted",
}

func describeFailedRun(r health.Result) string {
	output := strings.TrimSpace(r.Stderr)
	if output == "" {
		output = strings.TrimSpace(r.Stdout)
	}

	if r.ExitCode == 126 {
		return "macOS blocked execution - check Security & Privacy settings"
	}
	for _, m := range blockedMarkers {
		if strings.Contains(output, m) {
			return "macOS blocked execution - check Security & Privacy settings"
		}
	}

	switch {
	case strings.Contains(output, "Permission denied"):
		return "Permission denied - make binary executable"
	case strings.Contains(output, "No such file"):
		return "Binary not found at specified path"
	default:
		return "Binary validation failed: " + head(output, 50)
	}
}

func describeStartError(err error) string {
	switch {
	case errors.Is(err, syscall.EPERM):
		return "Cannot execute binary - may be blocked by macOS security"
	case errors.Is(err, fs.ErrPermission):
		return "Permission denied - check file permissions"
	case errors.Is(err, fs.ErrNotExist):
		return "Binary file not found"
	case errors.Is(err, context.DeadlineExceeded):
		return "Failed to execute binary: timed out"
	default:
		return "Failed to execute binary: " + head(err.Error(), 50)
	}
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
