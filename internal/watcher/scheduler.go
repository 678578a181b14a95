package watcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/blackwell-systems/gittrack/internal/config"
)

// Resyncer is implemented by Coordinator.
type Resyncer interface {
	ResyncAll(trigger string) int
}

// Scheduler runs periodic resyncs from a cron expression so commits whose
// append failed are retried without waiting for another commit.
type Scheduler struct {
	target   Resyncer
	schedule string
	cron     *cron.Cron
	logger   *log.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler. An empty schedule or "off" disables it.
func NewScheduler(target Resyncer, schedule string, logger *log.Logger) *Scheduler {
	return &Scheduler{
		target:   target,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.WithPrefix("scheduler"),
	}
}

// Start validates the schedule and begins running it.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" || s.schedule == config.ScheduleDisabled {
		s.logger.Debug("resync schedule disabled")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid resync schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		n := s.target.ResyncAll("schedule")
		s.logger.Debug("scheduled resync", "repositories", n)
	}); err != nil {
		return fmt.Errorf("failed to schedule resync: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("resync scheduler started", "schedule", s.schedule)
	return nil
}

// Stop halts the scheduler and waits for a running resync to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
	}
}

// NextRun returns the next scheduled resync, or nil when disabled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
