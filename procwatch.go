// Package procwatch supervises a single OS child process: spawn,
// output capture, structured-error detection, health monitoring,
// restart policy, and cross-process-safe log files.
package procwatch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yoyosuperman/procwatch/internal/config"
	"github.com/yoyosuperman/procwatch/internal/event"
	"github.com/yoyosuperman/procwatch/internal/logfile"
	"github.com/yoyosuperman/procwatch/internal/logger"
	"github.com/yoyosuperman/procwatch/internal/metrics"
	"github.com/yoyosuperman/procwatch/internal/server"
	"github.com/yoyosuperman/procwatch/internal/sink"
	"github.com/yoyosuperman/procwatch/internal/supervisor"
)

// Re-exported so embedders don't need to reach into internal packages.
type (
	Descriptor = supervisor.Descriptor
	Options    = supervisor.Options
	Event      = event.Event
	LogLine    = event.LogLine
)

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*config.Config, error) { return config.Load(path) }

// Agent ties one supervised instance to its log manager, error sink,
// and optional HTTP observation server.
type Agent struct {
	cfg  *config.Config
	sup  *supervisor.Supervisor
	logs *logfile.Manager
	sink sink.Sink
	srv  *http.Server
	log  *slog.Logger
}

// NewAgent wires an agent from configuration. The returned agent owns
// the sink and must be released with Close.
func NewAgent(cfg *config.Config) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("procwatch: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Setup(cfg.Logger)
	_ = metrics.Register(prometheus.DefaultRegisterer)

	sk, err := sink.FromDSN(cfg.Sink.DSN)
	if err != nil {
		return nil, err
	}
	var logs *logfile.Manager
	if cfg.Log.Dir != "" {
		logs = logfile.NewManager(cfg.Log.Dir, cfg.Instance.ID, cfg.LogOptions())
	}
	sup, err := supervisor.New(cfg.Descriptor(), cfg.SupervisorOptions(), logs, sk, log)
	if err != nil {
		_ = sk.Close()
		return nil, err
	}
	return &Agent{cfg: cfg, sup: sup, logs: logs, sink: sk, log: log}, nil
}

// Supervisor exposes the underlying supervisor for status queries and
// event subscriptions.
func (a *Agent) Supervisor() *supervisor.Supervisor { return a.sup }

// Logs returns the instance log manager, or nil when log.dir is unset.
func (a *Agent) Logs() *logfile.Manager { return a.logs }

// Run starts the instance (and the observation server when enabled) and
// supervises it until ctx is cancelled, then shuts everything down.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.sup.Start(); err != nil {
		return err
	}
	if a.cfg.Server.Enabled {
		a.srv = server.NewServer(a.cfg.Server.Listen, "", a.sup)
		a.log.Info("observation server listening", "addr", a.cfg.Server.Listen)
	}
	<-ctx.Done()
	return a.Close()
}

// Close stops the instance and releases the sink and server. Safe to
// call after Run returned.
func (a *Agent) Close() error {
	var firstErr error
	if a.srv != nil {
		shctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.srv.Shutdown(shctx); err != nil {
			firstErr = err
		}
		cancel()
		a.srv = nil
	}
	if err := a.sup.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.sink.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
