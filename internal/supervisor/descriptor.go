package supervisor

import "time"

// State is the supervisor lifecycle state. Exactly one is active at a
// time; stopped and crashed are re-enterable via Start.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Descriptor is the identity and observed state of one supervised
// instance. The supervisor replaces it wholesale on every lifecycle
// event instead of mutating in place, so snapshots handed out earlier
// stay internally consistent.
type Descriptor struct {
	InstanceID string            `json:"instance_id"`
	Command    string            `json:"command"`
	Args       []string          `json:"args,omitempty"`
	WorkDir    string            `json:"work_dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`

	PID       int       `json:"pid,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Signal    string    `json:"signal,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Status    string    `json:"status"`
}

func (d *Descriptor) clone() *Descriptor {
	cp := *d
	if d.Args != nil {
		cp.Args = append([]string(nil), d.Args...)
	}
	if d.Env != nil {
		cp.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			cp.Env[k] = v
		}
	}
	if d.ExitCode != nil {
		c := *d.ExitCode
		cp.ExitCode = &c
	}
	return &cp
}
