//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// exitStatus extracts the exit code and terminating signal name from a
// finished command. A signaled exit reports code -1 and the signal.
func exitStatus(cmd *exec.Cmd) (code int, signal string) {
	ps := cmd.ProcessState
	if ps == nil {
		return -1, ""
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal().String()
	}
	return ps.ExitCode(), ""
}
