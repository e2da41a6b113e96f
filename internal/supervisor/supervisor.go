package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/yoyosuperman/procwatch/internal/env"
	"github.com/yoyosuperman/procwatch/internal/event"
	"github.com/yoyosuperman/procwatch/internal/logfile"
	"github.com/yoyosuperman/procwatch/internal/metrics"
	"github.com/yoyosuperman/procwatch/internal/ringbuf"
	"github.com/yoyosuperman/procwatch/internal/sink"
)

// Supervisor owns one OS child process: it spawns it detached into its
// own process group, frames its output into lines (ring buffer + log
// file + JSON inspection), watches its health, and applies the restart
// policy when it dies.
//
// Public operations return errors instead of panicking across the
// boundary; all internal logging and telemetry is fire-and-forget.
//
// State machine:
//
//	stopped/crashed -> starting -> running -> stopping -> stopped
//	                               running -> crashed (-> restart)
type Supervisor struct {
	mu   sync.Mutex
	opts Options
	desc *Descriptor

	state    State
	stopping bool // explicit Stop in progress; suppresses restart
	restarts int
	gen      int // spawn generation; guards stale exit handlers

	cmd            *exec.Cmd
	waitDone       chan struct{} // closed after the exit handler ran
	childStartUnix int64         // /proc start time, PID-reuse guard

	restartTimer *time.Timer
	healthStop   chan struct{} // non-nil while the monitor runs

	lastActivity time.Time
	lastStartAt  time.Time

	portConfirmed bool
	portFailures  int
	recovering    bool // health-triggered restart in flight

	ring   *ringbuf.Buffer[event.LogLine]
	outDec lineDecoder
	errDec lineDecoder

	logs *logfile.Manager
	sink sink.Sink
	bus  *event.Bus
	log  *slog.Logger
}

// New validates the descriptor and builds a supervisor in the stopped
// state. logs may be nil (no on-disk capture); sk may be nil (errors
// are not persisted).
func New(desc Descriptor, opts Options, logs *logfile.Manager, sk sink.Sink, log *slog.Logger) (*Supervisor, error) {
	if strings.TrimSpace(desc.InstanceID) == "" {
		return nil, errors.New("supervisor: instance id required")
	}
	if strings.TrimSpace(desc.Command) == "" {
		return nil, errors.New("supervisor: command required")
	}
	opts.applyDefaults()
	if sk == nil {
		sk = sink.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	d := desc.clone()
	d.Status = StateStopped.String()
	return &Supervisor{
		opts: opts,
		desc: d,
		ring: ringbuf.New[event.LogLine](opts.RingCapacity),
		logs: logs,
		sink: sk,
		bus:  event.NewBus(),
		log:  log.With("instance", desc.InstanceID),
	}, nil
}

// Subscribe registers a lifecycle event listener and returns its
// unsubscribe function. Delivery is synchronous; slow consumers should
// hand off to their own goroutine.
func (s *Supervisor) Subscribe(fn func(event.Event)) func() {
	return s.bus.Subscribe(fn)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the current descriptor.
func (s *Supervisor) Snapshot() Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.desc.clone()
}

// Restarts returns the current restart counter.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// RecentLogs returns up to n newest captured lines, oldest first.
func (s *Supervisor) RecentLogs(n int) []event.LogLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Last(n)
}

// Start spawns the child. Valid only from stopped or crashed.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.state != StateStopped && s.state != StateCrashed {
		st := s.state
		id := s.desc.InstanceID
		s.mu.Unlock()
		return fmt.Errorf("cannot start %q while %s", id, st)
	}
	// A previous run that outlived the stability window earns a fresh
	// attempt budget.
	if !s.desc.StartedAt.IsZero() && !s.desc.EndedAt.IsZero() &&
		s.desc.EndedAt.Sub(s.desc.StartedAt) > s.opts.StabilityWindow {
		s.restarts = 0
	}
	s.ring.Clear()
	s.outDec.reset()
	s.errDec.reset()
	s.portConfirmed = false
	s.portFailures = 0
	s.recovering = false

	var evs []event.Event
	if ev := s.setStateLocked(StateStarting); ev != nil {
		evs = append(evs, *ev)
	}
	desc := s.desc
	opts := s.opts
	s.mu.Unlock()
	s.publish(evs...)

	// No shell interpretation: command and args pass through verbatim.
	cmd := exec.Command(desc.Command, desc.Args...)
	if desc.WorkDir != "" {
		cmd.Dir = desc.WorkDir
	}
	cmd.Env = env.Merge(opts.Env, desc.Env)
	configureSysProcAttr(cmd)

	// Plain os.Pipe instead of StdoutPipe: cmd.Wait must be free to
	// reap the child the moment the OS reports it gone, regardless of
	// who still holds the write end of the pipes.
	outR, outW, err := os.Pipe()
	if err != nil {
		return s.failStart(fmt.Errorf("stdout pipe: %w", err))
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return s.failStart(fmt.Errorf("stderr pipe: %w", err))
	}
	cmd.Stdout = outW
	cmd.Stderr = errW
	if err := cmd.Start(); err != nil {
		_ = outR.Close()
		_ = outW.Close()
		_ = errR.Close()
		_ = errW.Close()
		return s.failStart(fmt.Errorf("spawn: %w", err))
	}
	// The child owns the write ends now; holding them open here would
	// deny the pumps their EOF.
	_ = outW.Close()
	_ = errW.Close()
	if cmd.Process == nil || cmd.Process.Pid == 0 {
		return s.failStart(errors.New("spawn reported no PID"))
	}

	pid := cmd.Process.Pid
	now := time.Now()
	done := make(chan struct{})
	pumps := &sync.WaitGroup{}
	pumps.Add(2)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.cmd = cmd
	s.waitDone = done
	s.childStartUnix = processStartUnix(pid)
	s.lastActivity = now
	s.lastStartAt = now
	s.updateDescLocked(func(d *Descriptor) {
		d.PID = pid
		d.StartedAt = now
		d.EndedAt = time.Time{}
		d.ExitCode = nil
		d.Signal = ""
		d.LastError = ""
	})
	evs = evs[:0]
	if ev := s.setStateLocked(StateRunning); ev != nil {
		evs = append(evs, *ev)
	}
	s.startHealthMonitorLocked()
	id := s.desc.InstanceID
	s.mu.Unlock()

	go s.pump(outR, "stdout", &s.outDec, pumps)
	go s.pump(errR, "stderr", &s.errDec, pumps)
	go s.waitForExit(gen, cmd, done, pumps, outR, errR)

	metrics.IncStart(id)
	s.log.Info("child started", "pid", pid)
	if s.logs != nil {
		_ = s.logs.AppendMonitor(fmt.Sprintf("started pid %d", pid))
	}
	evs = append(evs, event.Event{Type: event.Started, InstanceID: id, PID: pid, At: now})
	s.publish(evs...)
	return nil
}

// failStart reverts a failed spawn to stopped and reports the failure
// as a result value, never a panic.
func (s *Supervisor) failStart(cause error) error {
	now := time.Now()
	s.mu.Lock()
	s.updateDescLocked(func(d *Descriptor) {
		d.LastError = cause.Error()
		d.PID = 0
	})
	var evs []event.Event
	if ev := s.setStateLocked(StateStopped); ev != nil {
		evs = append(evs, *ev)
	}
	id := s.desc.InstanceID
	s.mu.Unlock()

	s.log.Error("start failed", "error", cause)
	if s.logs != nil {
		_ = s.logs.AppendMonitor("start failed: " + cause.Error())
	}
	// Spawn failures are OS-level errors worth persisting too.
	rec := sink.ErrorRecord{At: now, Level: sink.LevelError, Message: cause.Error(), Raw: cause.Error()}
	if err := s.sink.StoreError(context.Background(), id, 0, rec); err != nil {
		s.log.Warn("error record not stored", "error", err)
	}
	s.publish(evs...)
	return cause
}

// Stop terminates the child gracefully, escalating to SIGKILL after the
// kill timeout. It is rejected while starting (spawn is not
// interruptible) and is a no-op success when already stopped.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	id := s.desc.InstanceID
	switch s.state {
	case StateStarting:
		s.mu.Unlock()
		return fmt.Errorf("instance %q is starting; wait for the spawn to settle", id)
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateStopping:
		s.mu.Unlock()
		return fmt.Errorf("instance %q is already stopping", id)
	}
	s.stopping = true
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.stopHealthMonitorLocked()

	var evs []event.Event
	if s.state == StateCrashed {
		// No live child; cancelling the pending restart is all there is.
		if ev := s.setStateLocked(StateStopped); ev != nil {
			evs = append(evs, *ev)
		}
		evs = append(evs, event.Event{Type: event.Stopped, InstanceID: id, At: time.Now(), Reason: "stop requested"})
		s.stopping = false
		s.mu.Unlock()
		s.publish(evs...)
		return nil
	}
	if ev := s.setStateLocked(StateStopping); ev != nil {
		evs = append(evs, *ev)
	}
	s.mu.Unlock()
	s.publish(evs...)

	// Anything still sitting in a stream carry-over becomes a final line.
	s.flushCarry()
	s.killProcess(false)

	// The exit handler normally lands the stopped transition; if the
	// exit was never observed within the kill window, finalize here so
	// stopped is emitted exactly once either way.
	s.mu.Lock()
	s.stopping = false
	evs = evs[:0]
	if s.state == StateStopping {
		s.updateDescLocked(func(d *Descriptor) { d.EndedAt = time.Now() })
		if ev := s.setStateLocked(StateStopped); ev != nil {
			evs = append(evs, *ev)
		}
		evs = append(evs, event.Event{Type: event.Stopped, InstanceID: id, At: time.Now(), Reason: "kill timeout"})
	}
	s.mu.Unlock()
	s.publish(evs...)
	return nil
}

// Close shuts the supervisor down, waiting out an in-flight spawn.
func (s *Supervisor) Close() error {
	deadline := time.Now().Add(s.opts.KillTimeout)
	for s.State() == StateStarting && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	err := s.Stop()
	if err != nil && s.State() == StateStopped {
		return nil
	}
	return err
}

// pipeDrainTimeout bounds how long exit handling waits for the output
// pumps after the child died. An orphaned grandchild can inherit the
// pipes and hold them open indefinitely.
const pipeDrainTimeout = 200 * time.Millisecond

func (s *Supervisor) waitForExit(gen int, cmd *exec.Cmd, done chan struct{}, pumps *sync.WaitGroup, pipes ...*os.File) {
	err := cmd.Wait()
	// Bounded drain, then force the pumps off any orphan-held pipe.
	drained := make(chan struct{})
	go func() {
		pumps.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(pipeDrainTimeout):
		for _, p := range pipes {
			_ = p.Close()
		}
		<-drained
	}
	s.handleExit(gen, cmd, err)
	close(done)
}

// handleExit is the sole owner of the crash-vs-clean-exit decision. It
// captures the stop flag before mutating state, transitions to exactly
// one of crashed or stopped, and schedules a restart when warranted.
func (s *Supervisor) handleExit(gen int, cmd *exec.Cmd, waitErr error) {
	code, sig := exitStatus(cmd)
	now := time.Now()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return // a newer run owns the state by now
	}
	// A state of stopped here means Stop already finalized this run
	// (kill-timeout fallback) and the exit notification arrived late;
	// it counts as an explicit stop, never as a crash.
	alreadyStopped := s.state == StateStopped
	wasStopping := s.stopping || s.state == StateStopping || alreadyStopped
	s.stopHealthMonitorLocked()
	s.cmd = nil

	restart := s.shouldRestartLocked(code, sig, wasStopping, now)
	exhausted := !restart && !wasStopping && s.opts.AutoRestart &&
		s.restarts >= s.opts.MaxRestarts && (sig != "" || code != 0)
	cleanExit := !restart && (wasStopping || (code == 0 && sig == ""))

	codeCopy := code
	s.updateDescLocked(func(d *Descriptor) {
		d.ExitCode = &codeCopy
		d.Signal = sig
		d.EndedAt = now
		if waitErr != nil && !wasStopping {
			d.LastError = waitErr.Error()
		}
	})
	id := s.desc.InstanceID
	pid := s.desc.PID

	var evs []event.Event
	if cleanExit {
		if ev := s.setStateLocked(StateStopped); ev != nil {
			evs = append(evs, *ev)
		}
		// Stop's fallback already emitted stopped for an
		// already-finalized run.
		if !alreadyStopped {
			reason := "exited"
			if wasStopping {
				reason = "stop requested"
			}
			evs = append(evs, event.Event{
				Type: event.Stopped, InstanceID: id, PID: pid, At: now,
				ExitCode: &codeCopy, Reason: reason,
			})
		}
	} else {
		if ev := s.setStateLocked(StateCrashed); ev != nil {
			evs = append(evs, *ev)
		}
		evs = append(evs, event.Event{
			Type: event.Crashed, InstanceID: id, PID: pid, At: now,
			ExitCode: &codeCopy, Signal: sig, WillRestart: restart,
		})
		if restart {
			s.scheduleRestartLocked()
		}
	}
	maxRestarts := s.opts.MaxRestarts
	s.mu.Unlock()

	if cleanExit {
		metrics.IncStop(id)
	} else {
		metrics.IncCrash(id)
	}
	s.log.Info("child exited", "pid", pid, "code", code, "signal", sig, "restart", restart)
	if s.logs != nil {
		_ = s.logs.AppendMonitor(fmt.Sprintf("exited pid=%d code=%d signal=%s restart=%v", pid, code, sig, restart))
		if exhausted {
			_ = s.logs.AppendMonitor(fmt.Sprintf("restart limit reached (%d), giving up", maxRestarts))
		}
	}
	s.publish(evs...)
}

// scheduleRestartLocked arms the restart timer. Idempotent: any pending
// timer is cancelled first so two crashes can never race two restarts.
// Caller holds s.mu.
func (s *Supervisor) scheduleRestartLocked() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
	}
	s.restarts++
	attempt := s.restarts
	metrics.IncRestart(s.desc.InstanceID)
	s.restartTimer = time.AfterFunc(s.opts.RestartDelay, func() {
		s.runScheduledRestart(attempt)
	})
}

func (s *Supervisor) runScheduledRestart(attempt int) {
	s.mu.Lock()
	// The delay window lets a concurrent Stop cancel the restart.
	if s.stopping || s.state == StateStopping || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	id := s.desc.InstanceID
	s.mu.Unlock()

	s.log.Info("restarting child", "attempt", attempt)
	if err := s.Start(); err != nil {
		s.publish(event.Event{
			Type: event.RestartFailed, InstanceID: id, At: time.Now(),
			Attempt: attempt, Message: err.Error(),
		})
	}
}

// killProcess terminates the process group, solving the already-exited
// race: the exit may have been observed before Stop was even called, in
// which case there is nothing to wait for.
func (s *Supervisor) killProcess(force bool) {
	s.mu.Lock()
	cmd := s.cmd
	done := s.waitDone
	timeout := s.opts.KillTimeout
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil || done == nil {
		return // nothing to kill
	}
	// Check once, then hold the exit notification channel before the
	// signal goes out; re-checking through the same channel closes the
	// window between check and registration.
	select {
	case <-done:
		return
	default:
	}

	pid := cmd.Process.Pid
	sig := gracefulSignal
	if force {
		sig = forcedSignal
	}
	if err := signalGroup(pid, sig); err != nil && !alreadyDead(err) {
		// Group delivery failed; fall back to the process handle.
		_ = cmd.Process.Kill()
	}

	select {
	case <-done:
		return
	case <-time.After(timeout):
	}
	if err := signalGroup(pid, forcedSignal); err != nil && !alreadyDead(err) {
		_ = cmd.Process.Kill()
	}
	// Resolve regardless of the kill outcome: a delivery failure here
	// almost certainly means the process already died.
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
	}
}

func (s *Supervisor) flushCarry() {
	if line := s.outDec.flush(); line != "" {
		s.handleLine("stdout", line)
	}
	if line := s.errDec.flush(); line != "" {
		s.handleLine("stderr", line)
	}
}

// handleLine processes one complete output line: activity bookkeeping,
// ring buffer, durable log, JSON inspection.
func (s *Supervisor) handleLine(stream, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	now := time.Now()
	s.mu.Lock()
	s.lastActivity = now
	id := s.desc.InstanceID
	pid := s.desc.PID
	s.ring.Push(event.LogLine{Content: line, At: now, Stream: stream, InstanceID: id, PID: pid})
	s.mu.Unlock()

	metrics.IncLogLine(id, stream)
	if s.logs != nil {
		if err := s.logs.Append(stream, line); err != nil {
			// Logging must never block or break the lifecycle.
			s.log.Warn("log append failed", "error", err)
		}
	}
	s.inspectLine(line)
}

// setStateLocked flips the state and returns the state_changed event to
// publish, or nil when nothing changed; every transition path goes
// through here so the event fires exactly once per genuine change.
// Caller holds s.mu and publishes after unlocking.
func (s *Supervisor) setStateLocked(ns State) *event.Event {
	if s.state == ns {
		return nil
	}
	old := s.state
	s.state = ns
	s.updateDescLocked(func(d *Descriptor) { d.Status = ns.String() })
	metrics.RecordStateTransition(s.desc.InstanceID, old.String(), ns.String())
	return &event.Event{
		Type:       event.StateChanged,
		InstanceID: s.desc.InstanceID,
		PID:        s.desc.PID,
		At:         time.Now(),
		OldState:   old.String(),
		NewState:   ns.String(),
	}
}

// updateDescLocked replaces the descriptor with a mutated copy so
// snapshots handed out earlier stay consistent. Caller holds s.mu.
func (s *Supervisor) updateDescLocked(mut func(*Descriptor)) {
	cp := s.desc.clone()
	mut(cp)
	s.desc = cp
}

func (s *Supervisor) publish(evs ...event.Event) {
	for _, e := range evs {
		s.bus.Publish(e)
	}
}
