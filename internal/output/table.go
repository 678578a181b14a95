// Package output provides terminal output utilities for gittrack.
//
// This package includes:
//   - Table rendering for watched repositories, mirror history and pending commits
//   - One-line rendering of live coordinator reports for `gittrack tail`
//   - Spinners for indeterminate operations such as authentication
//   - Human-readable formatting for durations, dates and hashes
//
// Tables use plain characters and ANSI color codes when stdout is a terminal.
package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/gittrack/internal/commitlog"
	"github.com/blackwell-systems/gittrack/internal/store"
	"github.com/blackwell-systems/gittrack/internal/watcher"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderRepositoryTable renders the live status of watched repositories,
// sorted by path.
func RenderRepositoryTable(repos []watcher.RepoStatus) string {
	if len(repos) == 0 {
		return "No repositories watched.\n"
	}

	sorted := make([]watcher.RepoStatus, len(repos))
	copy(sorted, repos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-20s %-16s %-11s %-8s %-7s %-7s %s\n",
		"Repository", "Branch", "State", "Head", "Logged", "Failed", "Last Error"))
	sb.WriteString(strings.Repeat("─", 90))
	sb.WriteString("\n")

	for _, r := range sorted {
		lastErr := "—"
		if r.LastError != "" {
			lastErr = fmt.Sprintf("%s (%s)", truncate(r.LastError, 30), formatRelativeTime(r.LastErrorAt))
		}
		sb.WriteString(fmt.Sprintf("%-20s %-16s %s %-8s %-7d %-7d %s\n",
			truncate(r.Name, 20),
			truncate(orDash(r.Branch), 16),
			colorize(stateColor(r.State), fmt.Sprintf("%-11s", r.State)),
			ShortHash(r.Head),
			r.Logged,
			r.Failed,
			lastErr))
	}

	return sb.String()
}

// RenderStoredRepositories renders repository rows persisted by a daemon
// that is no longer reachable.
func RenderStoredRepositories(repos []*store.Repository) string {
	if len(repos) == 0 {
		return "No repositories recorded.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-20s %-11s %-8s %-16s %s\n",
		"Repository", "State", "Last", "Updated", "Path"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	for _, r := range repos {
		sb.WriteString(fmt.Sprintf("%-20s %-11s %-8s %-16s %s\n",
			truncate(r.Name, 20),
			r.State,
			ShortHash(r.LastProcessed),
			formatRelativeTime(r.UpdatedAt),
			r.Path))
	}

	return sb.String()
}

// RenderHistoryTable renders mirror attempts, newest first as given.
func RenderHistoryTable(entries []*store.HistoryEntry) string {
	if len(entries) == 0 {
		return "No commits mirrored yet.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-16s %-18s %-8s %-7s %s\n",
		"When", "Repository", "Commit", "Status", "Message"))
	sb.WriteString(strings.Repeat("─", 90))
	sb.WriteString("\n")

	for _, e := range entries {
		msg := firstLine(e.Message)
		if e.Status == store.StatusFailed && e.Error != "" {
			msg = e.Error
		}
		sb.WriteString(fmt.Sprintf("%-16s %-18s %-8s %s %s\n",
			formatRelativeTime(e.CreatedAt),
			truncate(e.RepoName, 18),
			ShortHash(e.Hash),
			colorize(statusColor(e.Status), fmt.Sprintf("%-7s", e.Status)),
			truncate(msg, 40)))
	}

	return sb.String()
}

// RenderPendingTable renders commits waiting for a retry.
func RenderPendingTable(pending []*store.PendingCommit) string {
	if len(pending) == 0 {
		return "No pending commits.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-8s %-9s %-16s %-30s %s\n",
		"Commit", "Attempts", "Last Attempt", "Repository", "Error"))
	sb.WriteString(strings.Repeat("─", 90))
	sb.WriteString("\n")

	for _, p := range pending {
		sb.WriteString(fmt.Sprintf("%-8s %-9d %-16s %-30s %s\n",
			ShortHash(p.Hash),
			p.Attempts,
			formatRelativeTime(p.LastAttempt),
			truncate(p.RepoPath, 30),
			colorize(colorRed, truncate(p.LastError, 40))))
	}

	return sb.String()
}

// RenderLogEntries renders entries parsed from the remote commit log.
func RenderLogEntries(entries []commitlog.Entry) string {
	if len(entries) == 0 {
		return "The commit log is empty.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-25s %-18s %-16s %-8s %s\n",
		"Timestamp", "Repository", "Branch", "Commit", "Message"))
	sb.WriteString(strings.Repeat("─", 100))
	sb.WriteString("\n")

	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("%-25s %-18s %-16s %-8s %s\n",
			e.Timestamp,
			truncate(e.Repository, 18),
			truncate(e.Branch, 16),
			ShortHash(e.Hash),
			truncate(firstLine(e.Message), 40)))
	}

	return sb.String()
}

// FormatReport renders one coordinator report as a single line.
func FormatReport(r watcher.Report) string {
	ts := r.Time.Local().Format("15:04:05")
	name := r.RepoName
	if name == "" {
		name = r.RepoPath
	}

	switch r.Kind {
	case watcher.ReportLogged:
		return fmt.Sprintf("%s %s %s %s@%s %s (%s)",
			ts, colorize(colorGreen, "logged"), ShortHash(r.Commit), name, r.Branch,
			truncate(firstLine(r.Message), 50), formatDuration(r.Duration))
	case watcher.ReportFailed:
		return fmt.Sprintf("%s %s %s %s %s/%s: %s",
			ts, colorize(colorRed, "failed"), ShortHash(r.Commit), name, r.Stage, r.Reason, r.Error)
	case watcher.ReportOpened:
		return fmt.Sprintf("%s %s %s (%d watched)", ts, colorize(colorGray, "opened"), name, r.Watched)
	case watcher.ReportClosed:
		return fmt.Sprintf("%s %s %s (%d watched)", ts, colorize(colorGray, "closed"), name, r.Watched)
	case watcher.ReportResync:
		target := name
		if target == "" {
			target = "all repositories"
		}
		return fmt.Sprintf("%s %s %s (%s)", ts, colorize(colorYellow, "resync"), target, r.Trigger)
	default:
		return fmt.Sprintf("%s %s %s", ts, r.Kind, name)
	}
}

// ShortHash returns the first seven characters of a commit hash.
func ShortHash(hash string) string {
	if hash == "" {
		return "—"
	}
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

func stateColor(s watcher.State) string {
	switch s {
	case watcher.StateListening:
		return colorGreen
	case watcher.StateEvaluating:
		return colorYellow
	case watcher.StateClosed:
		return colorRed
	default:
		return colorGray
	}
}

func statusColor(status string) string {
	switch status {
	case store.StatusLogged:
		return colorGreen
	case store.StatusFailed:
		return colorRed
	default:
		return colorGray
	}
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	case diff < 30*24*time.Hour:
		return plural(int(diff.Hours()/24/7), "week")
	case diff < 365*24*time.Hour:
		return plural(int(diff.Hours()/24/30), "month")
	default:
		return plural(int(diff.Hours()/24/365), "year")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// formatDuration rounds d for display: milliseconds below a second,
// otherwise tenths of a second.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
