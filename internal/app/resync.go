package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/gittrack/internal/config"
	"github.com/blackwell-systems/gittrack/internal/server"
	"github.com/blackwell-systems/gittrack/internal/watcher"
)

var resyncCmd = &cobra.Command{
	Use:   "resync [path]",
	Short: "Retry commits that have not been logged yet",
	Long: `Ask the running watcher to re-evaluate repositories now instead of
waiting for the next change or the resync schedule.

Without a path every watched repository is re-evaluated. A path needs the
status server; without one the daemon is signalled with SIGUSR1.`,
	Example: `  # Retry everything
  gittrack resync

  # Retry one repository
  gittrack resync ~/src/api`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResync,
}

func init() {
	RootCmd.AddCommand(resyncCmd)
}

func runResync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var path string
	if len(args) == 1 {
		path, err = config.ExpandPath(args[0])
		if err != nil {
			return err
		}
	}

	if cfg.Server.Address != "" {
		ctx, cancel := context.WithTimeout(commandContext(cmd), 5*time.Second)
		defer cancel()
		n, err := server.NewClient(cfg.Server.Address).Resync(ctx, path)
		switch {
		case err == nil:
			fmt.Printf("✓ Resync queued for %d repositor%s\n", n, pluralY(n))
			return nil
		case errors.Is(err, watcher.ErrUnknownRepository):
			return fmt.Errorf("%s is not watched by the running daemon", path)
		}
	}

	if path != "" {
		return fmt.Errorf("resyncing a single repository needs the status server (server.address)")
	}

	pidFile, err := getDefaultPIDFile()
	if err != nil {
		return err
	}
	if err := watcher.SignalResync(pidFile); err != nil {
		if errors.Is(err, watcher.ErrDaemonNotRunning) {
			return fmt.Errorf("no running daemon; start one with 'gittrack watch --daemon'")
		}
		return err
	}
	fmt.Println("✓ Resync requested")
	return nil
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
