//go:build windows

package pool

import (
	"os"
	"os/exec"
	"strconv"
)

// Windows has no SIGTERM. os.Interrupt is not implemented for child
// processes, so this fails and teardown moves on to ForceKill.
func signalGraceful(p *os.Process) error {
	return p.Signal(os.Interrupt)
}

func osKillCommand(pid int) *exec.Cmd {
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid))
}
