package supervisor

import "time"

// Options configures monitoring and restart policy. It is immutable
// after construction; New copies it and fills defaults.
type Options struct {
	// AutoRestart enables the restart policy after unexpected exits.
	AutoRestart bool
	// MaxRestarts caps scheduled restart attempts. Zero means never
	// restart; the counter resets after a stable run (StabilityWindow).
	MaxRestarts int
	// RestartDelay is the fixed back-off before a scheduled restart.
	RestartDelay time.Duration
	// HealthCheckInterval is the monitor tick. Zero or negative
	// disables health monitoring entirely.
	HealthCheckInterval time.Duration
	// KillTimeout bounds the graceful SIGTERM phase before SIGKILL.
	KillTimeout time.Duration
	// ExpectedPort, when > 0, enables the HTTP liveness probe against
	// 127.0.0.1:<port>.
	ExpectedPort int
	// RingCapacity is the in-memory log line buffer size.
	RingCapacity int
	// Env holds extra environment variables applied to every spawn,
	// below the per-instance overrides in precedence.
	Env map[string]string

	// StabilityWindow: a run longer than this resets the restart
	// counter on the next Start.
	StabilityWindow time.Duration
	// InactivityThreshold: a zero exit after this much output silence
	// is treated as a hang-then-kill and restarted. Negative disables
	// the heuristic; zero takes the default.
	InactivityThreshold time.Duration
	// PortGracePeriod suppresses probe failures until the server had a
	// chance to bind its port, unless a probe already succeeded once.
	PortGracePeriod time.Duration
	// FailureThreshold is the number of counted probe failures that
	// triggers a health restart.
	FailureThreshold int
	// ProbeTimeout bounds a single HTTP health probe.
	ProbeTimeout time.Duration
}

// Defaults applied by New for unset fields.
const (
	DefaultMaxRestarts         = 3
	DefaultRestartDelay        = 2 * time.Second
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultKillTimeout         = 5 * time.Second
	DefaultRingCapacity        = 1000
	DefaultStabilityWindow     = 5 * time.Minute
	DefaultInactivity          = 30 * time.Second
	DefaultPortGracePeriod     = 30 * time.Second
	DefaultFailureThreshold    = 3
	DefaultProbeTimeout        = 2 * time.Second
)

// DefaultOptions returns the baseline configuration with auto-restart
// enabled and no expected port.
func DefaultOptions() Options {
	return Options{
		AutoRestart:         true,
		MaxRestarts:         DefaultMaxRestarts,
		RestartDelay:        DefaultRestartDelay,
		HealthCheckInterval: DefaultHealthCheckInterval,
		KillTimeout:         DefaultKillTimeout,
		RingCapacity:        DefaultRingCapacity,
		StabilityWindow:     DefaultStabilityWindow,
		InactivityThreshold: DefaultInactivity,
		PortGracePeriod:     DefaultPortGracePeriod,
		FailureThreshold:    DefaultFailureThreshold,
		ProbeTimeout:        DefaultProbeTimeout,
	}
}

func (o *Options) applyDefaults() {
	if o.RestartDelay <= 0 {
		o.RestartDelay = DefaultRestartDelay
	}
	if o.KillTimeout <= 0 {
		o.KillTimeout = DefaultKillTimeout
	}
	if o.RingCapacity <= 0 {
		o.RingCapacity = DefaultRingCapacity
	}
	if o.StabilityWindow <= 0 {
		o.StabilityWindow = DefaultStabilityWindow
	}
	if o.InactivityThreshold == 0 {
		o.InactivityThreshold = DefaultInactivity
	}
	if o.PortGracePeriod <= 0 {
		o.PortGracePeriod = DefaultPortGracePeriod
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	// HealthCheckInterval and MaxRestarts keep their zero values:
	// zero interval disables monitoring, zero max means no restarts.
}
