package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yoyosuperman/procwatch/internal/logfile"
	"github.com/yoyosuperman/procwatch/internal/logger"
	"github.com/yoyosuperman/procwatch/internal/supervisor"
)

// Config is the top-level TOML structure:
//
//	env = { NODE_ENV = "production" }
//	env_files = [".env"]
//
//	[instance]
//	id = "web"
//	command = "node"
//	args = ["server.js"]
//
//	[monitor]
//	auto_restart = true
//	max_restarts = 3
//	restart_delay = "2s"
//	expected_port = 3000
//
//	[log]
//	dir = "/var/log/procwatch"
//
//	[sink]
//	dsn = "errors.db"
//
//	[server]
//	listen = ":8870"
type Config struct {
	Env      map[string]string `mapstructure:"env"`
	EnvFiles []string          `mapstructure:"env_files"`
	UseOSEnv bool              `mapstructure:"use_os_env"`
	Instance InstanceConfig    `mapstructure:"instance"`
	Monitor  MonitorConfig     `mapstructure:"monitor"`
	Log      LogConfig         `mapstructure:"log"`
	Sink     SinkConfig        `mapstructure:"sink"`
	Server   ServerConfig      `mapstructure:"server"`
	Logger   logger.Config     `mapstructure:"logger"`
}

type InstanceConfig struct {
	ID      string            `mapstructure:"id"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	WorkDir string            `mapstructure:"workdir"`
	Env     map[string]string `mapstructure:"env"`
}

type MonitorConfig struct {
	AutoRestart         bool          `mapstructure:"auto_restart"`
	MaxRestarts         int           `mapstructure:"max_restarts"`
	RestartDelay        time.Duration `mapstructure:"restart_delay"`
	HealthInterval      time.Duration `mapstructure:"health_interval"`
	KillTimeout         time.Duration `mapstructure:"kill_timeout"`
	ExpectedPort        int           `mapstructure:"expected_port"`
	RingCapacity        int           `mapstructure:"ring_capacity"`
	StabilityWindow     time.Duration `mapstructure:"stability_window"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
	PortGrace           time.Duration `mapstructure:"port_grace"`
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`
}

type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxBytes   int64  `mapstructure:"max_bytes"`
	CheckBytes int64  `mapstructure:"check_bytes"`
	MaxLines   int    `mapstructure:"max_lines"`
}

type SinkConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

const DefaultListen = ":8870"

// Load reads a TOML config file and resolves env_files.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if err := c.resolveEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Instance.ID) == "" {
		return fmt.Errorf("config: instance.id is required")
	}
	if strings.TrimSpace(c.Instance.Command) == "" {
		return fmt.Errorf("config: instance.command is required")
	}
	return nil
}

// resolveEnv folds env_files into the top-level env map. Precedence,
// lowest to highest: env files in listed order, then the inline env
// table. Relative file paths resolve against the config file directory.
func (c *Config) resolveEnv(baseDir string) error {
	if len(c.EnvFiles) == 0 {
		return nil
	}
	merged := make(map[string]string)
	for _, p := range c.EnvFiles {
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		pairs, err := loadEnvFile(p)
		if err != nil {
			return fmt.Errorf("config: env file %s: %w", p, err)
		}
		for k, val := range pairs {
			merged[k] = val
		}
	}
	for k, val := range c.Env {
		merged[k] = val
	}
	c.Env = merged
	return nil
}

// loadEnvFile parses KEY=VALUE lines; blank lines and # comments are
// ignored, no export keyword, no quoting.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			val := strings.TrimSpace(line[i+1:])
			m[k] = val
		}
	}
	return m, nil
}

// Descriptor builds the supervisor descriptor for the configured
// instance.
func (c *Config) Descriptor() supervisor.Descriptor {
	return supervisor.Descriptor{
		InstanceID: c.Instance.ID,
		Command:    c.Instance.Command,
		Args:       c.Instance.Args,
		WorkDir:    c.Instance.WorkDir,
		Env:        c.Instance.Env,
	}
}

// SupervisorOptions maps the monitor section onto supervisor options;
// zero values fall through to the supervisor defaults.
func (c *Config) SupervisorOptions() supervisor.Options {
	// In the file, omitted means "use the default"; the supervisor
	// itself reserves zero for "disabled" on these two, so the mapping
	// happens here. Disable explicitly with a negative value.
	health := c.Monitor.HealthInterval
	if health == 0 {
		health = supervisor.DefaultHealthCheckInterval
	}
	maxRestarts := c.Monitor.MaxRestarts
	if c.Monitor.AutoRestart && maxRestarts == 0 {
		maxRestarts = supervisor.DefaultMaxRestarts
	}
	return supervisor.Options{
		AutoRestart:         c.Monitor.AutoRestart,
		MaxRestarts:         maxRestarts,
		RestartDelay:        c.Monitor.RestartDelay,
		HealthCheckInterval: health,
		KillTimeout:         c.Monitor.KillTimeout,
		ExpectedPort:        c.Monitor.ExpectedPort,
		RingCapacity:        c.Monitor.RingCapacity,
		Env:                 c.Env,
		StabilityWindow:     c.Monitor.StabilityWindow,
		InactivityThreshold: c.Monitor.InactivityThreshold,
		PortGracePeriod:     c.Monitor.PortGrace,
		FailureThreshold:    c.Monitor.FailureThreshold,
		ProbeTimeout:        c.Monitor.ProbeTimeout,
	}
}

// LogOptions maps the log section onto log manager options.
func (c *Config) LogOptions() logfile.Options {
	return logfile.Options{
		MaxBytes:   c.Log.MaxBytes,
		CheckBytes: c.Log.CheckBytes,
		MaxLines:   c.Log.MaxLines,
	}
}
