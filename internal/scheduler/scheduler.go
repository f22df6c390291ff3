package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the daily task on a cron spec (with seconds field).
type Scheduler struct {
	cron *cron.Cron
}

func New(spec string, task func()) (*Scheduler, error) {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(spec, task); err != nil {
		return nil, fmt.Errorf("register daily task %q: %w", spec, err)
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started")
}

// Stop stops the scheduler; a task already running is allowed to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	slog.Info("scheduler stopped")
}
