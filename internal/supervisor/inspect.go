package supervisor

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/yoyosuperman/procwatch/internal/event"
	"github.com/yoyosuperman/procwatch/internal/metrics"
	"github.com/yoyosuperman/procwatch/internal/sink"
)

// Conditions that make a child unrecoverable regardless of log level.
var fatalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)heap out of memory|out of memory`),
	regexp.MustCompile(`(?i)segmentation fault`),
	regexp.MustCompile(`(?i)EADDRINUSE|address already in use`),
	regexp.MustCompile(`(?i)cannot find module|module not found`),
	regexp.MustCompile(`(?i)maximum call stack size exceeded|stack overflow`),
	regexp.MustCompile(`(?i)failed to compile|compilation failed`),
}

func matchesFatalPattern(msg string) bool {
	if msg == "" {
		return false
	}
	for _, re := range fatalPatterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

// inspectLine looks for structured error output. Only lines that look
// like a JSON object are considered; most child output is plain text
// and not every brace-opened line is JSON, so parse failures stay at
// debug level.
func (s *Supervisor) inspectLine(line string) {
	if !strings.HasPrefix(line, "{") {
		return
	}
	if !gjson.Valid(line) {
		if strings.HasSuffix(line, "}") {
			s.log.Debug("unparseable JSON-looking log line", "line", line)
		}
		return
	}

	level := int(gjson.Get(line, "level").Int())
	msg := gjson.Get(line, "msg").String()
	if msg == "" {
		msg = gjson.Get(line, "message").String()
	}

	if level >= sink.LevelError {
		rec := sink.ErrorRecord{
			At:      time.Now().UTC(),
			Level:   level,
			Message: msg,
			Raw:     line,
		}
		s.mu.Lock()
		id := s.desc.InstanceID
		pid := s.desc.PID
		s.mu.Unlock()

		// Fire-and-forget: a failing sink must never stall the child's
		// output path.
		if err := s.sink.StoreError(context.Background(), id, pid, rec); err != nil {
			s.log.Warn("error record not stored", "error", err)
		} else {
			metrics.IncErrorDetected(id)
			s.publish(event.Event{
				Type:       event.ErrorDetected,
				InstanceID: id,
				PID:        pid,
				At:         rec.At,
				Level:      level,
				Message:    msg,
			})
		}
	}

	if level >= sink.LevelFatal || matchesFatalPattern(msg) {
		s.handleFatalError(msg)
	}
}

// handleFatalError escalates a detected fatal condition to a graceful
// SIGTERM of the child, but only while running; the normal exit and
// restart pipeline decides what happens next.
func (s *Supervisor) handleFatalError(msg string) {
	s.mu.Lock()
	if s.state != StateRunning || s.desc.PID == 0 {
		s.mu.Unlock()
		return
	}
	pid := s.desc.PID
	s.mu.Unlock()

	s.log.Warn("fatal condition in child output, terminating", "pid", pid, "message", msg)
	if s.logs != nil {
		_ = s.logs.AppendMonitor("fatal error detected: " + msg)
	}
	_ = signalProcess(pid, gracefulSignal)
}
