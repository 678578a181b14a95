package watcher

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/blackwell-systems/gittrack/internal/inspector"
	"github.com/blackwell-systems/gittrack/internal/metrics"
	"github.com/blackwell-systems/gittrack/internal/remotelog"
	"github.com/blackwell-systems/gittrack/internal/store"
)

// ReportKind tells what a Report is about.
type ReportKind string

const (
	ReportOpened ReportKind = "opened"
	ReportClosed ReportKind = "closed"
	ReportLogged ReportKind = "logged"
	ReportFailed ReportKind = "failed"
	ReportResync ReportKind = "resync"
)

// Stage names the step a failed commit did not get past.
const (
	StageInspect = "inspect"
	StageAppend  = "append"
)

// Report describes one coordinator outcome. Failed reports are
// recoverable: the commit stays pending and is retried.
type Report struct {
	ID       string        `json:"id"`
	Kind     ReportKind    `json:"kind"`
	Time     time.Time     `json:"time"`
	RepoPath string        `json:"repo_path,omitempty"`
	RepoName string        `json:"repo_name,omitempty"`
	Commit   string        `json:"commit,omitempty"`
	Branch   string        `json:"branch,omitempty"`
	Message  string        `json:"message,omitempty"`
	Stage    string        `json:"stage,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	// Trigger is set on resync reports.
	Trigger string `json:"trigger,omitempty"`
	// Watched is the number of watched repositories after an open or close.
	Watched int `json:"watched,omitempty"`
}

// Reporter receives coordinator reports. Report is called from several
// goroutines and must not block for long.
type Reporter interface {
	Report(Report)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Report)

func (f ReporterFunc) Report(r Report) { f(r) }

// Reporters fans a report out to every element.
type Reporters []Reporter

func (rs Reporters) Report(r Report) {
	for _, rep := range rs {
		if rep != nil {
			rep.Report(r)
		}
	}
}

// FailureReason returns a short lowercase class for a failed commit.
func FailureReason(err error) string {
	var ie *inspector.InspectionError
	if errors.As(err, &ie) {
		return ie.Reason.String()
	}
	return remotelog.ReasonOf(err).String()
}

// LogReporter writes reports to a structured logger.
type LogReporter struct {
	logger *log.Logger
}

func NewLogReporter(logger *log.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (l *LogReporter) Report(r Report) {
	switch r.Kind {
	case ReportOpened:
		l.logger.Info("watching repository", "repo", r.RepoPath, "head", short(r.Commit), "branch", r.Branch)
	case ReportClosed:
		l.logger.Info("stopped watching repository", "repo", r.RepoPath)
	case ReportLogged:
		l.logger.Info("commit logged", "repo", r.RepoName, "commit", short(r.Commit), "branch", r.Branch, "message", r.Message, "took", r.Duration.Round(time.Millisecond))
	case ReportFailed:
		l.logger.Warn("commit not logged, will retry", "repo", r.RepoName, "commit", short(r.Commit), "stage", r.Stage, "reason", r.Reason, "err", r.Error)
	case ReportResync:
		l.logger.Debug("resync requested", "repo", r.RepoPath, "trigger", r.Trigger)
	}
}

// MetricsReporter feeds the prometheus collector.
type MetricsReporter struct {
	collector *metrics.Collector
}

func NewMetricsReporter(c *metrics.Collector) *MetricsReporter {
	return &MetricsReporter{collector: c}
}

func (m *MetricsReporter) Report(r Report) {
	switch r.Kind {
	case ReportOpened, ReportClosed:
		m.collector.LifecycleEvent(string(r.Kind))
		m.collector.SetWatched(r.Watched)
	case ReportLogged:
		m.collector.CommitLogged(r.RepoName, r.Duration)
	case ReportFailed:
		m.collector.CommitFailed(r.RepoName, r.Reason)
	case ReportResync:
		m.collector.Resync(r.Trigger)
	}
}

// StoreReporter persists history, pending commits and repository rows.
type StoreReporter struct {
	st     *store.Store
	logger *log.Logger

	mu sync.Mutex
}

func NewStoreReporter(st *store.Store, logger *log.Logger) *StoreReporter {
	return &StoreReporter{st: st, logger: logger}
}

func (s *StoreReporter) Report(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch r.Kind {
	case ReportOpened:
		err = s.st.UpsertRepository(&store.Repository{
			Path:          r.RepoPath,
			Name:          r.RepoName,
			State:         StateListening.String(),
			LastProcessed: r.Commit,
			UpdatedAt:     r.Time,
		})
	case ReportClosed:
		err = s.st.DeleteRepository(r.RepoPath)
		if err == nil {
			err = s.st.ClearPendingForRepo(r.RepoPath)
		}
	case ReportLogged:
		err = s.st.InsertHistory(s.history(r, store.StatusLogged))
		if err == nil {
			err = s.st.ClearPending(r.RepoPath, r.Commit)
		}
		if err == nil {
			err = s.st.UpsertRepository(&store.Repository{
				Path:          r.RepoPath,
				Name:          r.RepoName,
				State:         StateListening.String(),
				LastProcessed: r.Commit,
				UpdatedAt:     r.Time,
			})
		}
	case ReportFailed:
		err = s.st.InsertHistory(s.history(r, store.StatusFailed))
		if err == nil {
			err = s.st.RecordPending(r.RepoPath, r.Commit, r.Error)
		}
	}
	if err != nil {
		s.logger.Warn("failed to persist report", "kind", r.Kind, "repo", r.RepoPath, "err", err)
	}
}

func (s *StoreReporter) history(r Report, status string) *store.HistoryEntry {
	return &store.HistoryEntry{
		ID:        r.ID,
		RepoPath:  r.RepoPath,
		RepoName:  r.RepoName,
		Hash:      r.Commit,
		Branch:    r.Branch,
		Message:   r.Message,
		Status:    status,
		Error:     r.Error,
		CreatedAt: r.Time,
	}
}

func short(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
