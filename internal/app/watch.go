package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/gittrack/internal/auth"
	"github.com/blackwell-systems/gittrack/internal/config"
	"github.com/blackwell-systems/gittrack/internal/output"
	"github.com/blackwell-systems/gittrack/internal/watcher"
)

var (
	watchDaemon      bool
	watchDaemonChild bool
	watchPIDFile     string
	watchLogFile     string
	watchStop        bool
	watchDryRun      bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Mirror new commits into the shared commit log",
		Long: `Start watching the configured repositories and append an entry to the
shared commit log for every new commit.

Watch modes:
  • Foreground (default): Run in current terminal with Ctrl+C to stop
  • Daemon: Run as a detached background process
  • Stop: Stop a running daemon

A running watcher reacts to signals:
  • SIGHUP re-reads the stored credential (see 'gittrack auth login')
  • SIGUSR1 retries every repository (see 'gittrack resync')

Commits that fail to log stay pending and are retried on the next change,
on resync and on the resync schedule.`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  gittrack watch

  # Run as background daemon
  gittrack watch --daemon

  # Stop running daemon
  gittrack watch --stop

  # Try the configuration without writing anywhere
  gittrack watch --dry-run`,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "run as background daemon")
	watchCmd.Flags().BoolVar(&watchDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	watchCmd.Flags().StringVar(&watchPIDFile, "pid-file", "", "PID file path (default: ~/.config/gittrack/watch.pid)")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "log file path (default: ~/.config/gittrack/watch.log)")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop running daemon")
	watchCmd.Flags().BoolVar(&watchDryRun, "dry-run", false, "log to an in-memory commit log instead of the tracking backend")

	watchCmd.Flags().MarkHidden("daemon-child")

	RootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchPIDFile == "" {
		defaultPID, err := getDefaultPIDFile()
		if err != nil {
			return fmt.Errorf("failed to get default PID file path: %w", err)
		}
		watchPIDFile = defaultPID
	}

	if watchLogFile == "" {
		defaultLog, err := getDefaultLogFile()
		if err != nil {
			return fmt.Errorf("failed to get default log file path: %w", err)
		}
		watchLogFile = defaultLog
	}

	if watchStop {
		return stopWatchDaemon()
	}
	if watchDaemon {
		return startWatchDaemon()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return runWatchProcess(commandContext(cmd), cfg)
}

func stopWatchDaemon() error {
	running, err := watcher.IsDaemonRunning(watchPIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Println("Daemon is not running")
		return nil
	}

	err = output.Spin(os.Stdout, "Stopping daemon", func() error {
		return watcher.StopDaemon(watchPIDFile, shutdownTimeout+5*time.Second)
	})
	if err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	return nil
}

func startWatchDaemon() error {
	// Fail here rather than in the detached child where nobody sees it.
	if _, err := loadConfig(); err != nil {
		return err
	}

	childArgs, err := daemonChildArgs()
	if err != nil {
		return err
	}

	var pid int
	err = output.Spin(os.Stdout, "Starting daemon", func() error {
		p, err := watcher.StartDaemon(watchPIDFile, watchLogFile, childArgs)
		pid = p
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("\nCommit mirroring daemon started (PID %d)\n", pid)
	fmt.Printf("  PID file: %s\n", watchPIDFile)
	fmt.Printf("  Log file: %s\n", watchLogFile)
	fmt.Printf("\nTo stop: gittrack watch --stop\n")
	return nil
}

// daemonChildArgs forwards the flags the child needs, with absolute paths
// since the child outlives the caller's working directory.
func daemonChildArgs() ([]string, error) {
	args := []string{"--pid-file", watchPIDFile, "--log-file", watchLogFile}
	for _, f := range []struct {
		flag  string
		value string
	}{
		{"--config", configPath},
		{"--db", dbPath},
	} {
		if f.value == "" {
			continue
		}
		abs, err := filepath.Abs(f.value)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", f.flag, err)
		}
		args = append(args, f.flag, abs)
	}
	if watchDryRun {
		args = append(args, "--dry-run")
	}
	return args, nil
}

func runWatchProcess(ctx context.Context, cfg *config.Config) error {
	if !watchDaemonChild {
		running, err := watcher.IsDaemonRunning(watchPIDFile)
		if err != nil {
			return fmt.Errorf("failed to check daemon status: %w", err)
		}
		if running {
			return fmt.Errorf("a daemon is already running (PID file: %s); stop it with 'gittrack watch --stop'", watchPIDFile)
		}
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	connector, err := watchConnector(cfg)
	if err != nil {
		return err
	}
	var prompter auth.Prompter
	if !watchDaemonChild {
		prompter = auth.NewTerminalPrompter()
	}

	svc, err := newService(ctx, serviceOptions{
		Config:    cfg,
		Store:     st,
		Connector: connector,
		Prompter:  prompter,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := svc.start(); err != nil {
		return err
	}

	if err := watcher.WritePIDFile(watchPIDFile); err != nil {
		logger.Warn("failed to write PID file", "path", watchPIDFile, "err", err)
	}
	defer watcher.RemovePIDFile(watchPIDFile)

	if !watchDaemonChild {
		fmt.Println("Mirroring commits (press Ctrl+C to stop)...")
		if info := svc.info(); info.Target != "" {
			fmt.Printf("  Log: %s\n", info.Target)
		}
		if cfg.Server.Address != "" {
			fmt.Printf("  Status: http://%s/status\n", cfg.Server.Address)
		}
		fmt.Println()
	}

	sig := watcher.WaitForShutdown(ctx, watcher.SignalHandlers{
		Reauthenticate: func() {
			_ = svc.reauthenticate(ctx)
		},
		Resync: func() {
			n := svc.resync("signal")
			logger.Info("resync requested by signal", "repositories", n)
		},
	})
	logger.Info("shutting down", "signal", sig)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return svc.stop(stopCtx)
}

// watchConnector picks the backend connector, honoring --dry-run.
func watchConnector(cfg *config.Config) (auth.Connector, error) {
	if watchDryRun {
		return auth.NewMemoryConnector(), nil
	}
	return auth.NewConnector(cfg.Tracking)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
