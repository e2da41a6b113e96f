package supervisor

import "time"

// shouldRestartLocked decides whether an observed exit warrants a
// scheduled restart. Caller holds s.mu.
//
// Order matters:
//  1. an explicit stop never restarts, whatever the exit looked like;
//  2. the attempt budget is a hard cap;
//  3. death by signal means an external kill, not a clean application
//     exit, so it restarts;
//  4. exit code 0 after a long output silence is treated as a likely
//     hang-then-kill rather than a genuine shutdown (heuristic,
//     tunable via InactivityThreshold, negative disables);
//  5. any other non-zero exit restarts.
func (s *Supervisor) shouldRestartLocked(exitCode int, signal string, wasStopping bool, now time.Time) bool {
	if wasStopping {
		return false
	}
	if !s.opts.AutoRestart {
		return false
	}
	if s.restarts >= s.opts.MaxRestarts {
		return false
	}
	if signal != "" {
		return true
	}
	if exitCode == 0 {
		if s.opts.InactivityThreshold < 0 {
			return false
		}
		return !s.lastActivity.IsZero() && now.Sub(s.lastActivity) > s.opts.InactivityThreshold
	}
	return true
}
