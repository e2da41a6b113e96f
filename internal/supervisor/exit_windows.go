//go:build windows

package supervisor

import "os/exec"

func exitStatus(cmd *exec.Cmd) (code int, signal string) {
	ps := cmd.ProcessState
	if ps == nil {
		return -1, ""
	}
	return ps.ExitCode(), ""
}
