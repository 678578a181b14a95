package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/gittrack/internal/commitlog"
	"github.com/blackwell-systems/gittrack/internal/config"
	"github.com/blackwell-systems/gittrack/internal/output"
	"github.com/blackwell-systems/gittrack/internal/remotelog"
)

var (
	logLimit   int
	logRepo    string
	logLocal   bool
	logPending bool

	logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show entries of the shared commit log",
		Long: `Read the shared commit log from the tracking backend and list its entries,
newest first.

With --local the mirror history recorded in the database is shown instead,
including failed attempts. --pending lists commits waiting for a retry.`,
		Example: `  # Latest 20 entries
  gittrack log

  # Entries for one repository
  gittrack log --repo api

  # Local attempt history
  gittrack log --local`,
		RunE: runLog,
	}
)

func init() {
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "maximum number of entries (0 for all)")
	logCmd.Flags().StringVar(&logRepo, "repo", "", "only show entries for this repository name (or path with --local)")
	logCmd.Flags().BoolVar(&logLocal, "local", false, "show the local attempt history instead of the remote log")
	logCmd.Flags().BoolVar(&logPending, "pending", false, "show commits waiting for a retry")

	RootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	if logLocal || logPending {
		return runLocalLog()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	boot, _, err := newBootstrapper(cfg, st, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), cfg.Timeouts.Remote+5*time.Second)
	defer cancel()

	var entries []commitlog.Entry
	err = output.Spin(os.Stderr, "Reading commit log", func() error {
		sess, err := boot.Authenticate(ctx)
		if err != nil {
			return err
		}
		remote := remotelog.NewStore(sess.Backend, remotelog.Options{Timeout: cfg.Timeouts.Remote, Location: cfg.Location()})
		entries, err = remote.Entries(ctx)
		return err
	})
	if err != nil {
		return explainAuthError(err)
	}

	fmt.Print(output.RenderLogEntries(filterEntries(entries, logRepo, logLimit)))
	return nil
}

// filterEntries keeps entries for repo (all when empty), at most limit.
func filterEntries(entries []commitlog.Entry, repo string, limit int) []commitlog.Entry {
	var out []commitlog.Entry
	for _, e := range entries {
		if repo != "" && e.Repository != repo {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func runLocalLog() error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if logPending {
		pending, err := st.ListPending()
		if err != nil {
			return err
		}
		fmt.Print(output.RenderPendingTable(pending))
		return nil
	}

	repo := logRepo
	if repo != "" {
		if abs, err := config.ExpandPath(repo); err == nil {
			repo = abs
		}
	}
	history, err := st.RecentHistory(repo, logLimit)
	if err != nil {
		return err
	}
	fmt.Print(output.RenderHistoryTable(history))
	return nil
}
