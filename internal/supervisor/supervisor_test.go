package supervisor

import (
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yoyosuperman/procwatch/internal/event"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
}

func waitUntil(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type eventLog struct {
	mu  sync.Mutex
	evs []event.Event
}

func (l *eventLog) add(e event.Event) {
	l.mu.Lock()
	l.evs = append(l.evs, e)
	l.mu.Unlock()
}

func (l *eventLog) count(typ event.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.evs {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (l *eventLog) last(typ event.Type) (event.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.evs) - 1; i >= 0; i-- {
		if l.evs[i].Type == typ {
			return l.evs[i], true
		}
	}
	return event.Event{}, false
}

func newTestSup(t *testing.T, script string, opts Options) (*Supervisor, *eventLog) {
	t.Helper()
	s, err := New(Descriptor{
		InstanceID: strings.ReplaceAll(t.Name(), "/", "_"),
		Command:    "/bin/sh",
		Args:       []string{"-c", script},
	}, opts, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lg := &eventLog{}
	s.Subscribe(lg.add)
	t.Cleanup(func() { _ = s.Close() })
	return s, lg
}

func TestCleanExitStopsWithoutRestart(t *testing.T) {
	requireUnix(t)
	s, lg := newTestSup(t, "exit 0", Options{AutoRestart: true, MaxRestarts: 3, RestartDelay: 10 * time.Millisecond})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, "stopped state", func() bool { return s.State() == StateStopped })
	if n := s.Restarts(); n != 0 {
		t.Fatalf("restarts = %d, want 0", n)
	}
	if n := lg.count(event.Crashed); n != 0 {
		t.Fatalf("crashed events = %d, want 0", n)
	}
	if n := lg.count(event.Stopped); n != 1 {
		t.Fatalf("stopped events = %d, want 1", n)
	}
	d := s.Snapshot()
	if d.ExitCode == nil || *d.ExitCode != 0 {
		t.Fatalf("exit code not recorded: %+v", d)
	}
}

func TestCrashLoopExhaustsRestartBudget(t *testing.T) {
	requireUnix(t)
	s, lg := newTestSup(t, "exit 1", Options{
		AutoRestart:  true,
		MaxRestarts:  3,
		RestartDelay: 10 * time.Millisecond,
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Initial crash plus three restart attempts that each crash again.
	waitUntil(t, 10*time.Second, "budget exhaustion", func() bool {
		return s.Restarts() == 3 && s.State() == StateCrashed && lg.count(event.Crashed) == 4
	})
	// No further attempts once the budget is spent.
	time.Sleep(100 * time.Millisecond)
	if n := s.Restarts(); n != 3 {
		t.Fatalf("restarts = %d, want 3", n)
	}
	if last, ok := lg.last(event.Crashed); !ok || last.WillRestart {
		t.Fatalf("final crash should not announce a restart: %+v", last)
	}
	if n := lg.count(event.Stopped); n != 0 {
		t.Fatalf("stopped events = %d, want 0", n)
	}
}

func TestStopRejectedWhileStarting(t *testing.T) {
	requireUnix(t)
	s, _ := newTestSup(t, "sleep 5", Options{AutoRestart: false, MaxRestarts: 0})
	errCh := make(chan error, 1)
	var once sync.Once
	s.Subscribe(func(e event.Event) {
		if e.Type == event.StateChanged && e.NewState == StateStarting.String() {
			once.Do(func() { errCh <- s.Stop() })
		}
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Stop during starting should fail")
		}
	case <-time.After(time.Second):
		t.Fatal("starting transition never observed")
	}
	waitUntil(t, 3*time.Second, "running state", func() bool { return s.State() == StateRunning })
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop after running: %v", err)
	}
}

func TestStopSuppressesRestart(t *testing.T) {
	requireUnix(t)
	s, lg := newTestSup(t, "sleep 30", Options{
		AutoRestart:  true,
		MaxRestarts:  3,
		RestartDelay: 10 * time.Millisecond,
		KillTimeout:  2 * time.Second,
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, "running state", func() bool { return s.State() == StateRunning })
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := s.State(); st != StateStopped {
		t.Fatalf("state = %s, want stopped", st)
	}
	time.Sleep(100 * time.Millisecond)
	if n := s.Restarts(); n != 0 {
		t.Fatalf("restarts = %d, want 0", n)
	}
	if n := lg.count(event.Crashed); n != 0 {
		t.Fatalf("crashed events = %d, want 0", n)
	}
	if n := lg.count(event.Stopped); n != 1 {
		t.Fatalf("stopped events = %d, want 1", n)
	}
}

func TestStopWhileStoppedIsNoop(t *testing.T) {
	s, lg := newTestSup(t, "true", Options{})
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop on stopped: %v", err)
	}
	if n := lg.count(event.Stopped); n != 0 {
		t.Fatalf("stopped events = %d, want 0", n)
	}
}

func TestStartRejectedWhileRunning(t *testing.T) {
	requireUnix(t)
	s, _ := newTestSup(t, "sleep 30", Options{KillTimeout: 2 * time.Second})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, "running state", func() bool { return s.State() == StateRunning })
	if err := s.Start(); err == nil {
		t.Fatal("second Start should fail while running")
	}
}

func TestOutputCapturedInRing(t *testing.T) {
	requireUnix(t)
	s, _ := newTestSup(t, `printf 'alpha\nbeta\n'; printf 'warn line\n' 1>&2; sleep 30`, Options{KillTimeout: 2 * time.Second})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, "lines in ring", func() bool { return len(s.RecentLogs(10)) >= 3 })
	var out, errs []string
	for _, l := range s.RecentLogs(10) {
		switch l.Stream {
		case "stdout":
			out = append(out, l.Content)
		case "stderr":
			errs = append(errs, l.Content)
		}
	}
	if len(out) != 2 || out[0] != "alpha" || out[1] != "beta" {
		t.Fatalf("stdout lines = %v", out)
	}
	if len(errs) != 1 || errs[0] != "warn line" {
		t.Fatalf("stderr lines = %v", errs)
	}
}

func TestSignalDeathRestarts(t *testing.T) {
	requireUnix(t)
	s, lg := newTestSup(t, "sleep 30", Options{
		AutoRestart:  true,
		MaxRestarts:  3,
		RestartDelay: 10 * time.Millisecond,
		KillTimeout:  2 * time.Second,
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, "running state", func() bool { return s.State() == StateRunning })
	pid := s.Snapshot().PID
	if err := signalProcess(pid, gracefulSignal); err != nil {
		t.Fatalf("kill: %v", err)
	}
	waitUntil(t, 5*time.Second, "restart after external kill", func() bool {
		return s.Restarts() == 1 && s.State() == StateRunning
	})
	if ev, ok := lg.last(event.Crashed); !ok || !ev.WillRestart || ev.Signal == "" {
		t.Fatalf("crash event should carry signal and restart intent: %+v", ev)
	}
}

func TestStableRunResetsRestartCounter(t *testing.T) {
	requireUnix(t)
	s, _ := newTestSup(t, "sleep 30", Options{
		AutoRestart:     true,
		MaxRestarts:     3,
		StabilityWindow: 50 * time.Millisecond,
		KillTimeout:     2 * time.Second,
	})
	s.mu.Lock()
	s.restarts = 2
	s.mu.Unlock()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, "running state", func() bool { return s.State() == StateRunning })
	time.Sleep(100 * time.Millisecond) // outlive the stability window
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if n := s.Restarts(); n != 0 {
		t.Fatalf("restarts = %d, want 0 after stable run", n)
	}
}

func TestStopDuringRestartDelayCancelsRestart(t *testing.T) {
	requireUnix(t)
	s, lg := newTestSup(t, "exit 1", Options{
		AutoRestart:  true,
		MaxRestarts:  3,
		RestartDelay: 500 * time.Millisecond,
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, "crashed state", func() bool { return s.State() == StateCrashed })
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := s.State(); st != StateStopped {
		t.Fatalf("state = %s, want stopped", st)
	}
	time.Sleep(700 * time.Millisecond)
	if st := s.State(); st != StateStopped {
		t.Fatalf("restart fired despite Stop, state = %s", st)
	}
	if n := lg.count(event.Started); n != 1 {
		t.Fatalf("started events = %d, want 1", n)
	}
}

func TestLateExitAfterStopStaysStopped(t *testing.T) {
	requireUnix(t)
	s, lg := newTestSup(t, "true", Options{
		AutoRestart:  true,
		MaxRestarts:  3,
		RestartDelay: 10 * time.Millisecond,
	})
	// A run whose exit notification arrives only after Stop's
	// kill-timeout fallback already finalized the stopped state.
	cmd := exec.Command("/bin/sh", "-c", "kill -TERM $$")
	waitErr := cmd.Run()
	if cmd.ProcessState == nil || cmd.ProcessState.Success() {
		t.Fatalf("probe child should die by signal: %v", waitErr)
	}
	s.mu.Lock()
	s.gen = 3
	s.state = StateStopped
	s.desc = &Descriptor{InstanceID: s.desc.InstanceID, Command: s.desc.Command, PID: cmd.Process.Pid, Status: StateStopped.String()}
	s.mu.Unlock()

	s.handleExit(3, cmd, waitErr)

	if st := s.State(); st != StateStopped {
		t.Fatalf("state = %s, want stopped", st)
	}
	if n := s.Restarts(); n != 0 {
		t.Fatalf("restarts = %d, want 0", n)
	}
	if n := lg.count(event.Crashed); n != 0 {
		t.Fatalf("crashed events = %d, want 0", n)
	}
	if n := lg.count(event.Stopped); n != 0 {
		t.Fatalf("late exit must not re-emit stopped, got %d", n)
	}
	time.Sleep(100 * time.Millisecond)
	if st := s.State(); st != StateStopped {
		t.Fatalf("restart fired after late exit, state = %s", st)
	}
}

func TestExitObservedWhileOrphanHoldsPipe(t *testing.T) {
	requireUnix(t)
	// The backgrounded sleep inherits stdout and keeps the pipe open
	// well past the shell's own exit; exit handling must not wait for
	// stream EOF.
	s, lg := newTestSup(t, "sleep 5 & exit 0", Options{
		AutoRestart: false,
		KillTimeout: 2 * time.Second,
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, "prompt stopped state", func() bool {
		return s.State() == StateStopped
	})
	if ev, ok := lg.last(event.Stopped); !ok || ev.ExitCode == nil || *ev.ExitCode != 0 {
		t.Fatalf("expected clean stop event: %+v", ev)
	}
}

func TestStopUnaffectedByEscapedGrandchild(t *testing.T) {
	requireUnix(t)
	// setsid moves the grandchild out of the kill group while it still
	// holds the inherited pipe; an explicit Stop must finalize promptly
	// and never turn the eventual exit into a restart.
	s, lg := newTestSup(t, "setsid sleep 2 & printf 'ready\\n'; sleep 30", Options{
		AutoRestart:  true,
		MaxRestarts:  3,
		RestartDelay: 10 * time.Millisecond,
		KillTimeout:  500 * time.Millisecond,
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, "ready line", func() bool { return len(s.RecentLogs(1)) == 1 })
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := s.State(); st != StateStopped {
		t.Fatalf("state = %s, want stopped", st)
	}
	// Outlive the grandchild and any restart delay.
	time.Sleep(2500 * time.Millisecond)
	if st := s.State(); st != StateStopped {
		t.Fatalf("supervisor left stopped state after Stop, state = %s", st)
	}
	if n := s.Restarts(); n != 0 {
		t.Fatalf("restarts = %d, want 0", n)
	}
	if n := lg.count(event.Crashed); n != 0 {
		t.Fatalf("crashed events = %d, want 0", n)
	}
	if n := lg.count(event.Started); n != 1 {
		t.Fatalf("started events = %d, want 1", n)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Descriptor{Command: "true"}, Options{}, nil, nil, nil); err == nil {
		t.Fatal("missing instance id should fail")
	}
	if _, err := New(Descriptor{InstanceID: "x"}, Options{}, nil, nil, nil); err == nil {
		t.Fatal("missing command should fail")
	}
}

func TestStartMissingBinaryFails(t *testing.T) {
	s, lg := newTestSup(t, "", Options{})
	s.mu.Lock()
	s.desc = &Descriptor{InstanceID: s.desc.InstanceID, Command: "/nonexistent/definitely-not-a-binary"}
	s.mu.Unlock()
	if err := s.Start(); err == nil {
		t.Fatal("Start with missing binary should fail")
	}
	if st := s.State(); st != StateStopped {
		t.Fatalf("state = %s, want stopped after failed spawn", st)
	}
	if n := lg.count(event.Started); n != 0 {
		t.Fatalf("started events = %d, want 0", n)
	}
	if s.Snapshot().LastError == "" {
		t.Fatal("spawn failure not recorded in descriptor")
	}
}
