package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	procwatch "github.com/yoyosuperman/procwatch"
	"github.com/yoyosuperman/procwatch/internal/config"
	"github.com/yoyosuperman/procwatch/internal/logfile"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func buildRoot() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "procwatch",
		Short:         "Supervise a single child process with restart policy and log capture",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "procwatch.toml", "path to TOML config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newDrainCmd(&configPath))
	root.AddCommand(newCleanupCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Supervise the configured instance until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := procwatch.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			agent, err := procwatch.NewAgent(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return agent.Run(ctx)
		},
	}
}

// logManagerFromConfig builds a standalone log manager for commands
// that operate on the instance log from outside the supervising
// process. The cross-process lock keeps them safe against a live agent.
func logManagerFromConfig(path string) (*logfile.Manager, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Log.Dir == "" {
		return nil, fmt.Errorf("log.dir is not configured in %s", path)
	}
	return logfile.NewManager(cfg.Log.Dir, cfg.Instance.ID, cfg.LogOptions()), nil
}

func newDrainCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Atomically read and reset the instance log",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := logManagerFromConfig(*configPath)
			if err != nil {
				return err
			}
			content, err := m.DrainAndReset()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), content)
			return err
		},
	}
}

func newCleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the instance log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := logManagerFromConfig(*configPath)
			if err != nil {
				return err
			}
			return m.Cleanup()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the procwatch version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "procwatch", Version)
		},
	}
}
