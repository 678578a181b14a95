package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/gittrack/internal/config"
	"github.com/blackwell-systems/gittrack/internal/output"
	"github.com/blackwell-systems/gittrack/internal/server"
	"github.com/blackwell-systems/gittrack/internal/store"
	"github.com/blackwell-systems/gittrack/internal/watcher"
)

var (
	statusJSON bool

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show watched repositories and mirror statistics",
		Long: `Display the state of the commit mirror.

When a watcher is running with a status server, its live view is shown:
every watched repository with branch, HEAD, lifecycle state and counts.
Otherwise the last state recorded in the database is shown.

Shows:
  • Daemon running status and PID
  • Session and commit log location
  • Watched repositories
  • Logged and failed commit totals
  • Commits waiting for a retry`,
		Example: `  # Check status
  gittrack status

  # Machine readable
  gittrack status --json`,
		RunE: runStatus,
	}
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the live status as JSON")
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Server.Address != "" {
		ctx, cancel := context.WithTimeout(commandContext(cmd), 3*time.Second)
		defer cancel()
		if live, err := server.NewClient(cfg.Server.Address).Status(ctx); err == nil {
			if statusJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(live)
			}
			printLiveStatus(os.Stdout, live)
			return printStoredTotals(os.Stdout)
		}
	}

	if statusJSON {
		return fmt.Errorf("no status server reachable at %q", cfg.Server.Address)
	}
	return printOfflineStatus(os.Stdout, cfg)
}

func printLiveStatus(w io.Writer, st *server.Status) {
	fmt.Fprintf(w, "Daemon:        running (PID %d, %s)\n", st.PID, st.Version)
	fmt.Fprintf(w, "Started:       %s\n", st.StartedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "Backend:       %s\n", st.Session.Backend)
	if st.Session.Target != "" {
		fmt.Fprintf(w, "Commit log:    %s\n", st.Session.Target)
	}
	if st.Session.Identity != "" {
		fmt.Fprintf(w, "Identity:      %s\n", st.Session.Identity)
	}
	if st.NextResync != nil {
		fmt.Fprintf(w, "Next resync:   %s\n", st.NextResync.Local().Format("15:04:05"))
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, output.RenderRepositoryTable(st.Repositories))
}

func printOfflineStatus(w io.Writer, cfg *config.Config) error {
	pidFile, err := getDefaultPIDFile()
	if err != nil {
		return fmt.Errorf("failed to get PID file path: %w", err)
	}
	running, err := watcher.IsDaemonRunning(pidFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	switch {
	case running:
		pid, _ := watcher.ReadPID(pidFile)
		fmt.Fprintf(w, "Daemon:        running (PID %d, no status server)\n", pid)
	default:
		fmt.Fprintln(w, "Daemon:        not running")
		fmt.Fprintln(w, "               Run 'gittrack watch --daemon' to start mirroring")
	}
	fmt.Fprintf(w, "Backend:       %s\n", cfg.Tracking.Backend)
	fmt.Fprintf(w, "Commit log:    %s\n", describeTarget(cfg.Tracking, ""))
	fmt.Fprintln(w)

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	repos, err := st.ListRepositories()
	if err != nil {
		return err
	}
	if running {
		fmt.Fprint(w, output.RenderStoredRepositories(repos))
	} else {
		fmt.Fprintf(w, "Configured repositories: %d, roots: %d\n", len(cfg.Repositories), len(cfg.Roots))
	}
	return writeTotals(w, st)
}

func printStoredTotals(w io.Writer) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return writeTotals(w, st)
}

func writeTotals(w io.Writer, st *store.Store) error {
	logged, err := st.CountHistory(store.StatusLogged)
	if err != nil {
		return err
	}
	failed, err := st.CountHistory(store.StatusFailed)
	if err != nil {
		return err
	}
	pending, err := st.ListPending()
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Commits logged: %d   Failed attempts: %d   Pending: %d\n", logged, failed, len(pending))
	if len(pending) > 0 {
		fmt.Fprintln(w)
		fmt.Fprint(w, output.RenderPendingTable(pending))
		fmt.Fprintln(w, "\nRun 'gittrack resync' to retry now.")
	}
	return nil
}
