package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/gittrack/internal/auth"
	"github.com/blackwell-systems/gittrack/internal/config"
	"github.com/blackwell-systems/gittrack/internal/repos"
	"github.com/blackwell-systems/gittrack/internal/server"
	"github.com/blackwell-systems/gittrack/internal/watcher"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common issues and check system health",
	Long: `Runs diagnostic checks on your gittrack installation.

Checks:
  • git is installed
  • Configuration is valid
  • Configured repositories and roots exist
  • Database is accessible
  • A credential is available
  • Daemon and status server are running
  • No commits are stuck waiting for a retry`,
	RunE: runDoctor,
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}

// doctorReport counts findings while printing them.
type doctorReport struct {
	w        io.Writer
	critical int
	warnings int
}

func (d *doctorReport) ok(format string, args ...any) {
	fmt.Fprintf(d.w, "✓ "+format+"\n", args...)
}

func (d *doctorReport) warn(action, format string, args ...any) {
	fmt.Fprintf(d.w, "⚠ "+format+"\n", args...)
	if action != "" {
		fmt.Fprintf(d.w, "  Action: %s\n", action)
	}
	d.warnings++
}

func (d *doctorReport) fail(action, format string, args ...any) {
	fmt.Fprintf(d.w, "✗ "+format+"\n", args...)
	if action != "" {
		fmt.Fprintf(d.w, "  Action: %s\n", action)
	}
	d.critical++
}

func runDoctor(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Running gittrack diagnostics...")
	fmt.Fprintln(w)

	d := &doctorReport{w: w}

	// git is needed to inspect commits.
	if gitPath, err := exec.LookPath("git"); err != nil {
		d.fail("Install git and make sure it is in PATH", "git not found")
	} else {
		version := gitPath
		if out, err := exec.Command(gitPath, "--version").Output(); err == nil {
			version = strings.TrimSpace(string(out))
		}
		d.ok("%s", version)
	}

	cfgPath, _ := getConfigPath()
	cfg, err := loadConfig()
	if err != nil {
		d.fail("Fix the configuration file or rerun 'gittrack init --force'", "Configuration invalid: %v", err)
	} else {
		if _, statErr := os.Stat(cfgPath); statErr != nil {
			d.warn("Run 'gittrack init'", "No configuration file at %s, using defaults", cfgPath)
		} else {
			d.ok("Configuration valid: %s", cfgPath)
		}
		checkWatchTargets(d, cfg)
	}

	st, err := openStore()
	if err != nil {
		d.fail("Check permissions on the gittrack directory", "Cannot open database: %v", err)
	} else {
		defer st.Close()
		path, _ := getDBPath()
		d.ok("Database is accessible: %s", path)

		if cfg != nil {
			connector, err := auth.NewConnector(cfg.Tracking)
			if err == nil {
				src := credentialSource(commandContext(cmd), connector, st)
				if src == "missing" {
					d.fail("Run 'gittrack auth login'", "No %s credential found", connector.Name())
				} else {
					d.ok("Credential: %s", src)
				}
			}
		}

		if pending, err := st.ListPending(); err == nil && len(pending) > 0 {
			d.warn("Run 'gittrack log --pending' for details and 'gittrack resync' to retry",
				"%d commit(s) waiting for a retry", len(pending))
		}
	}

	checkDaemon(commandContext(cmd), d, cfg)

	fmt.Fprintln(w)
	if d.critical == 0 && d.warnings == 0 {
		fmt.Fprintln(w, "✓ All checks passed!")
		return nil
	}
	if d.critical > 0 {
		fmt.Fprintf(w, "Found %d critical issue(s) and %d warning(s).\n", d.critical, d.warnings)
		return fmt.Errorf("diagnostics failed")
	}
	fmt.Fprintf(w, "Found %d warning(s). gittrack is functional but not fully set up.\n", d.warnings)
	return nil
}

func checkWatchTargets(d *doctorReport, cfg *config.Config) {
	if len(cfg.Repositories) == 0 && len(cfg.Roots) == 0 {
		d.warn("Add repositories with 'gittrack init --repo <path>' or a root directory", "Nothing configured to watch")
		return
	}

	found := 0
	for _, repo := range cfg.Repositories {
		if repos.IsRepository(repo) {
			found++
			continue
		}
		d.warn("", "Not a git repository (yet): %s", repo)
	}
	for _, root := range cfg.Roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			d.warn("", "Root directory missing: %s", root)
		}
	}
	d.ok("%d of %d configured repositories found, %d root(s)", found, len(cfg.Repositories), len(cfg.Roots))
}

func checkDaemon(ctx context.Context, d *doctorReport, cfg *config.Config) {
	pidFile, err := getDefaultPIDFile()
	if err != nil {
		d.warn("", "Failed to get PID file path: %v", err)
		return
	}
	running, err := watcher.IsDaemonRunning(pidFile)
	switch {
	case err != nil:
		d.warn("", "Failed to check daemon status: %v", err)
		return
	case !running:
		d.warn("Run 'gittrack watch --daemon'", "Daemon not running")
		return
	}

	pid, _ := watcher.ReadPID(pidFile)
	d.ok("Daemon running (PID %d)", pid)

	if cfg == nil || cfg.Server.Address == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	st, err := server.NewClient(cfg.Server.Address).Status(ctx)
	if err != nil {
		d.warn("Check server.address and the daemon log", "Status server unreachable at %s", cfg.Server.Address)
		return
	}
	d.ok("Status server up, %d repositories watched", len(st.Repositories))
}
