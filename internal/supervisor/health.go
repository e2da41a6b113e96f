package supervisor

import (
	"fmt"
	"net/http"
	"time"

	"github.com/yoyosuperman/procwatch/internal/event"
	"github.com/yoyosuperman/procwatch/internal/metrics"
)

// startHealthMonitorLocked launches the periodic health loop for the
// current run. Caller holds s.mu. Disabled when the interval is zero or
// negative.
func (s *Supervisor) startHealthMonitorLocked() {
	if s.opts.HealthCheckInterval <= 0 {
		return
	}
	if s.healthStop != nil {
		close(s.healthStop)
	}
	stop := make(chan struct{})
	s.healthStop = stop
	go s.healthLoop(stop, s.opts.HealthCheckInterval)
}

// stopHealthMonitorLocked halts the loop. Caller holds s.mu.
func (s *Supervisor) stopHealthMonitorLocked() {
	if s.healthStop != nil {
		close(s.healthStop)
		s.healthStop = nil
	}
}

func (s *Supervisor) healthLoop(stop chan struct{}, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.healthTick()
		}
	}
}

// healthTick runs one aggregated health pass: liveness via PID plus
// start-time identity, TCP port probe with a post-start grace period,
// and an output-inactivity soft warning. All findings of one pass go
// out as a single health_check_failed event.
func (s *Supervisor) healthTick() {
	now := time.Now()

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	id := s.desc.InstanceID
	pid := s.desc.PID
	startUnix := s.childStartUnix
	lastActivity := s.lastActivity
	startedAt := s.lastStartAt
	confirmed := s.portConfirmed
	failures := s.portFailures
	recovering := s.recovering
	opts := s.opts
	s.mu.Unlock()

	var issues []string

	// PID alone is not identity: the kernel recycles them. The recorded
	// start time disambiguates a reused PID from our child.
	dead := pid <= 0 || !pidAlive(pid)
	if !dead && startUnix > 0 {
		if cur := processStartUnix(pid); cur > 0 && cur != startUnix {
			dead = true
		}
	}
	if dead {
		issues = append(issues, fmt.Sprintf("process %d is not running", pid))
	}

	portBad := false
	if !dead && opts.ExpectedPort > 0 {
		if s.probePort(opts.ExpectedPort, opts.ProbeTimeout) {
			// A reachable port clears the failure counter and any
			// in-flight recovery.
			confirmed = true
			failures = 0
			recovering = false
		} else if confirmed || now.Sub(startedAt) > opts.PortGracePeriod {
			// Before the grace period ends an unreachable port only
			// means a slow boot, not a failure.
			failures++
			if failures >= opts.FailureThreshold {
				portBad = true
				issues = append(issues, fmt.Sprintf("port %d unreachable (%d consecutive probes)", opts.ExpectedPort, failures))
			}
		}
	}

	if !dead && !lastActivity.IsZero() && now.Sub(lastActivity) > 2*opts.HealthCheckInterval {
		// Soft signal only: a quiet process is not necessarily a sick
		// one, so this never raises health_check_failed on its own.
		s.log.Debug("no output activity", "since", lastActivity)
	}

	critical := dead || portBad

	s.mu.Lock()
	if s.state != StateRunning || s.desc.PID != pid {
		s.mu.Unlock()
		return // the run ended while we were probing
	}
	s.portConfirmed = confirmed
	s.portFailures = failures
	s.recovering = recovering
	triggerKill := critical && !s.recovering
	if triggerKill {
		s.recovering = true
	}
	s.mu.Unlock()

	if len(issues) == 0 {
		return
	}
	metrics.IncHealthFailure(id)
	s.publish(event.Event{
		Type:         event.HealthCheckFailed,
		InstanceID:   id,
		PID:          pid,
		At:           now,
		Issues:       issues,
		LastActivity: lastActivity,
	})
	if !triggerKill {
		return
	}
	s.log.Warn("health check failed, terminating child", "pid", pid, "issues", issues)
	if s.logs != nil {
		_ = s.logs.AppendMonitor(fmt.Sprintf("health check failed: %v", issues))
	}
	// Let the exit handler classify the death and apply restart policy.
	go s.killProcess(false)
}

// probePort reports whether anything answers on the local port. Any
// HTTP response counts, including errors; only a connection-level
// failure means unreachable.
func (s *Supervisor) probePort(port int, timeout time.Duration) bool {
	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/", port), nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "*/*")
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}
