// internal/scheduler/scheduler.go
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named callback fired on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func()
}

// Sweeper removes stale staging directories.
type Sweeper interface {
	Sweep(retention time.Duration) (int, error)
}

// Scheduler fires housekeeping jobs on their cron schedules.
type Scheduler struct {
	jobs []Job
	cron *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler for jobs. Nothing fires until Start.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs: jobs,
		cron: cron.New(cron.WithParser(cronParser)),
	}
}

// SweepJob returns a job that removes unlocked staging directories older
// than retention.
func SweepJob(s Sweeper, schedule string, retention time.Duration) Job {
	return Job{
		Name:     "staging-sweep",
		Schedule: schedule,
		Run: func() {
			removed, err := s.Sweep(retention)
			if err != nil {
				slog.Error("staging sweep failed", "error", err)
				return
			}
			if removed > 0 {
				slog.Info("staging sweep removed boards", "count", removed, "retention", retention)
			}
		},
	}
}

// Validate reports whether schedule parses.
func Validate(schedule string) error {
	_, err := cronParser.Parse(schedule)
	return err
}

// Start registers every job that has a schedule and starts the cron
// ticker. Jobs with an invalid schedule are logged and skipped.
func (s *Scheduler) Start() error {
	for _, job := range s.jobs {
		if job.Schedule == "" || job.Run == nil {
			continue
		}

		name := job.Name
		run := job.Run
		_, err := s.cron.AddFunc(job.Schedule, func() {
			slog.Debug("cron firing job", "name", name)
			run()
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", name, "schedule", job.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled job", "name", name, "schedule", job.Schedule)
	}

	s.cron.Start()
	return nil
}

// Entries returns how many jobs are registered with the ticker.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	return s.Start()
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
