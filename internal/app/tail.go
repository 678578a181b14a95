package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/gittrack/internal/output"
	"github.com/blackwell-systems/gittrack/internal/server"
	"github.com/blackwell-systems/gittrack/internal/watcher"
)

var (
	tailFailures bool

	tailCmd = &cobra.Command{
		Use:   "tail",
		Short: "Follow commits as the running watcher logs them",
		Long: `Stream live reports from the running watcher: repositories opening and
closing, commits logged, failures and resyncs. Needs the status server.`,
		Example: `  # Follow everything
  gittrack tail

  # Only failures
  gittrack tail --failures`,
		RunE: runTail,
	}
)

func init() {
	tailCmd.Flags().BoolVar(&tailFailures, "failures", false, "only show failed commits")
	RootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.Address == "" {
		return fmt.Errorf("tail needs the status server; set server.address in the configuration")
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Following %s (Ctrl+C to stop)\n", cfg.Server.Address)
	return followEvents(ctx, server.NewClient(cfg.Server.Address), func(r watcher.Report) {
		if tailFailures && r.Kind != watcher.ReportFailed {
			return
		}
		fmt.Println(output.FormatReport(r))
	})
}

// eventSource is the part of *server.Client tail uses.
type eventSource interface {
	Events(ctx context.Context, fn func(watcher.Report)) error
}

func followEvents(ctx context.Context, src eventSource, fn func(watcher.Report)) error {
	if err := src.Events(ctx, fn); err != nil {
		return fmt.Errorf("%w (is 'gittrack watch' running?)", err)
	}
	return nil
}
