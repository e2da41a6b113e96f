//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Windows has no POSIX signals or process groups. Graceful and forced
// termination both go through taskkill with /T so the child's tree is
// taken down, mirroring the negative-PID semantics on Unix.

const gracefulSignal = syscall.Signal(0x0f)
const forcedSignal = syscall.Signal(0x09)

func signalGroup(pid int, sig syscall.Signal) error {
	args := []string{"/PID", strconv.Itoa(pid), "/T"}
	if sig == forcedSignal {
		args = append(args, "/F")
	}
	out, err := exec.Command("taskkill", args...).CombinedOutput()
	if err != nil && strings.Contains(string(out), "not found") {
		return os.ErrProcessDone
	}
	return err
}

func signalProcess(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func pidAlive(pid int) bool {
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

func alreadyDead(err error) bool {
	return err == os.ErrProcessDone
}
