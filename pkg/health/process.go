package health

import (
	"context"
	"fmt"
	"time"
)

// ProcessChecker reports healthy while a process is alive
type ProcessChecker struct {
	Name  string
	Alive func() bool
}

// NewProcessChecker wraps a liveness probe for the named process
func NewProcessChecker(name string, alive func() bool) *ProcessChecker {
	return &ProcessChecker{Name: name, Alive: alive}
}

// Check calls Alive once
func (p *ProcessChecker) Check(ctx context.Context) Result {
	start := time.Now()

	healthy := p.Alive != nil && p.Alive()
	msg := fmt.Sprintf("process %s is running", p.Name)
	if !healthy {
		msg = fmt.Sprintf("process %s is not running", p.Name)
	}

	return Result{
		Healthy:   healthy,
		Message:   msg,
		CheckedAt: start,
		Duration:  time.Since(start),
		ExitCode:  -1,
	}
}

// Type returns the health check type
func (p *ProcessChecker) Type() CheckType {
	return CheckTypeProcess
}
