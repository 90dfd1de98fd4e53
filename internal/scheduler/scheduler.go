// Package scheduler runs recurring maintenance jobs.
// Supports cron expressions and fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus/makemagic/internal/config"
	"github.com/marcus/makemagic/internal/logging"
)

var (
	ErrNoSchedule     = errors.New("no cron expression or interval configured")
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler fires its jobs on a cron expression or a fixed interval.
type Scheduler struct {
	mu       sync.Mutex
	cronExpr string
	interval time.Duration
	jobs     []Job
	cron     *cron.Cron
	cancel   context.CancelFunc
	log      *logging.Logger
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{log: logging.Component("scheduler")}
}

// NewFromConfig creates a scheduler for the purge settings in cfg.
func NewFromConfig(cfg *config.MaintenanceConfig) (*Scheduler, error) {
	if cfg.PurgeCron == "" {
		return nil, ErrNoSchedule
	}
	s := New()
	if err := s.SetCron(cfg.PurgeCron); err != nil {
		return nil, err
	}
	return s, nil
}

// SetCron sets a standard five-field cron expression or descriptor.
func (s *Scheduler) SetCron(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronExpr = expr
	s.interval = 0
	return nil
}

// SetInterval runs jobs every d. Intervals are rounded down to the second.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %v", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	s.cronExpr = ""
	return nil
}

// AddJob registers a job. Jobs run in registration order.
func (s *Scheduler) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start begins firing jobs until Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyRunning
	}

	var sched cron.Schedule
	switch {
	case s.cronExpr != "":
		parsed, err := cron.ParseStandard(s.cronExpr)
		if err != nil {
			return err
		}
		sched = parsed
	case s.interval > 0:
		sched = cron.Every(s.interval)
	default:
		return ErrNoSchedule
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() { s.RunNow(runCtx) }))
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.log.InfoCtx("scheduler started", map[string]any{
		"cron":     s.cronExpr,
		"interval": s.interval.String(),
	})
	return nil
}

// Stop halts the scheduler and waits for a running job to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return ErrNotRunning
	}
	cancel()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether the scheduler has been started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// NextRun returns the next fire time, or zero when not running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return time.Time{}
	}
	entries := c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow runs every job once, in order. A failing job is logged and does not
// stop the rest.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	for i, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if err := job(ctx); err != nil {
			s.log.Err(err).Int("job", i).Msg("scheduled job failed")
		}
	}
}

// Purger deletes finished tasks past a retention period.
type Purger interface {
	PurgeFinished(ctx context.Context, retention time.Duration) ([]string, error)
}

// PurgeJob returns a job that purges tasks finished more than retention ago.
func PurgeJob(p Purger, retention time.Duration) Job {
	return func(ctx context.Context) error {
		_, err := p.PurgeFinished(ctx, retention)
		return err
	}
}
