package pool

import (
	"os/exec"
	"sync/atomic"
	"time"
)

// ServerInfo describes one running preview server
type ServerInfo struct {
	Key         string    `json:"key"`
	Cmd         []string  `json:"cmd"`
	DataPort    int       `json:"data_port"`
	ControlPort int       `json:"control_port"`
	StartTime   time.Time `json:"start_time"`
	PID         int       `json:"pid"`
	TaskID      string    `json:"task_id"`

	cmd     *exec.Cmd
	output  *OutputBuffer
	done    chan struct{}
	exitErr error
	claimed atomic.Bool
}

func newServerInfo(key string, cmd *exec.Cmd, output *OutputBuffer) *ServerInfo {
	info := &ServerInfo{
		Key:       key,
		Cmd:       cmd.Args,
		StartTime: time.Now(),
		PID:       cmd.Process.Pid,
		cmd:       cmd,
		output:    output,
		done:      make(chan struct{}),
	}
	go func() {
		info.exitErr = cmd.Wait()
		close(info.done)
	}()
	return info
}

// Alive reports whether the process has not exited yet
func (s *ServerInfo) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done is closed when the process exits
func (s *ServerInfo) Done() <-chan struct{} {
	return s.done
}

// ExitErr is the result of waiting on the process. Only valid after Done.
func (s *ServerInfo) ExitErr() error {
	select {
	case <-s.done:
		return s.exitErr
	default:
		return nil
	}
}

// Output returns what the server printed so far
func (s *ServerInfo) Output() *OutputBuffer {
	return s.output
}

// claim marks the entry as being torn down. Only the first caller wins.
func (s *ServerInfo) claim() bool {
	return s.claimed.CompareAndSwap(false, true)
}

// waitExit waits up to d for the process to exit
func (s *ServerInfo) waitExit(d time.Duration, abort <-chan struct{}) bool {
	if d <= 0 {
		return !s.Alive()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.done:
		return true
	case <-t.C:
		return false
	case <-abort:
		return !s.Alive()
	}
}
