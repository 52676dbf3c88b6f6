package jobs

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// Scheduler runs the background maintenance jobs on cron schedules.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a scheduler pinned to UTC
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// RegisterCron registers a job on a standard 5-field cron expression. The
// expression is validated up front so a bad config fails at startup, not at
// first fire time.
func (s *Scheduler) RegisterCron(name, expr string, fn func()) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q for job %s: %w", expr, name, err)
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(fn),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}

	log.Printf("⏰ [JOBS] Registered %s (%s)", name, expr)
	return nil
}

// Start begins running registered jobs
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for running jobs to finish
func (s *Scheduler) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️ [JOBS] Scheduler shutdown error: %v", err)
	}
}
