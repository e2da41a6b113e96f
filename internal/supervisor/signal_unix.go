//go:build !windows

package supervisor

import (
	"errors"
	"syscall"
)

const gracefulSignal = syscall.SIGTERM
const forcedSignal = syscall.SIGKILL

// signalGroup signals the whole process group rooted at pid. The child
// is spawned with its own group, so negative-PID targeting reaches any
// grandchildren it forked (dev servers routinely do).
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// signalProcess signals only the direct child.
func signalProcess(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// pidAlive is the signal-0 liveness probe.
func pidAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// alreadyDead reports whether a signal delivery failure means the
// target is gone, which the kill path treats as success.
func alreadyDead(err error) bool {
	return errors.Is(err, syscall.ESRCH)
}
