package event

import "time"

// Type enumerates supervisor lifecycle events.
type Type string

const (
	Started           Type = "started"
	Stopped           Type = "stopped"
	Crashed           Type = "crashed"
	StateChanged      Type = "state_changed"
	ErrorDetected     Type = "error_detected"
	HealthCheckFailed Type = "health_check_failed"
	RestartFailed     Type = "restart_failed"
)

// Event is the tagged union published on every lifecycle transition.
// Only the fields relevant to Type are populated. Events are ephemeral:
// published to subscribers and never stored.
type Event struct {
	Type       Type      `json:"type"`
	InstanceID string    `json:"instance_id"`
	PID        int       `json:"pid,omitempty"`
	At         time.Time `json:"at"`

	// stopped / crashed
	ExitCode    *int   `json:"exit_code,omitempty"`
	Signal      string `json:"signal,omitempty"`
	Reason      string `json:"reason,omitempty"`
	WillRestart bool   `json:"will_restart,omitempty"`

	// state_changed
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state,omitempty"`

	// error_detected / restart_failed
	Message string `json:"message,omitempty"`
	Level   int    `json:"level,omitempty"`
	Attempt int    `json:"attempt,omitempty"`

	// health_check_failed
	Issues       []string  `json:"issues,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

// LogLine is one captured line of child output.
type LogLine struct {
	Content    string    `json:"content"`
	At         time.Time `json:"at"`
	Stream     string    `json:"stream"` // stdout, stderr or monitor
	InstanceID string    `json:"instance_id"`
	PID        int       `json:"pid"`
}
