//go:build !windows

package pool

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

func signalGraceful(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

func osKillCommand(pid int) *exec.Cmd {
	return exec.Command("kill", "-9", strconv.Itoa(pid))
}
