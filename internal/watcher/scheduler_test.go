package watcher

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/blackwell-systems/gittrack/internal/logging"
)

type countingResyncer struct {
	calls atomic.Int32
}

func (c *countingResyncer) ResyncAll(string) int {
	c.calls.Add(1)
	return 0
}

func TestScheduler_Runs(t *testing.T) {
	target := &countingResyncer{}
	s := NewScheduler(target, "@every 1s", logging.Discard())
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if s.NextRun() == nil {
		t.Error("NextRun() = nil, want a scheduled time")
	}

	deadline := time.Now().Add(5 * time.Second)
	for target.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if target.calls.Load() == 0 {
		t.Error("scheduled resync never ran")
	}
}

func TestScheduler_Disabled(t *testing.T) {
	for _, schedule := range []string{"", "off"} {
		s := NewScheduler(&countingResyncer{}, schedule, logging.Discard())
		if err := s.Start(); err != nil {
			t.Errorf("Start(%q) error = %v", schedule, err)
		}
		if s.NextRun() != nil {
			t.Errorf("NextRun() for %q should be nil", schedule)
		}
		s.Stop()
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(&countingResyncer{}, "every tuesday", logging.Discard())
	if err := s.Start(); err == nil {
		t.Error("Start() expected error for invalid schedule")
	}
}
