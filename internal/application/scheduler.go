package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// triggerRequest represents a manual run of one job.
type triggerRequest struct {
	done chan error
}

type jobRunner struct {
	job     Job
	trigger chan triggerRequest
}

// Scheduler runs each job on its own ticker and accepts manual triggers.
// Errors of scheduled runs are logged only in debug mode; the job simply
// waits for its next tick.
type Scheduler struct {
	runners map[string]*jobRunner
	order   []string
	debug   bool
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler for jobs. Jobs with a non-positive
// interval run only when triggered.
func NewScheduler(jobs []Job, debug bool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		runners: make(map[string]*jobRunner, len(jobs)),
		debug:   debug,
		logger:  logger,
	}
	for _, job := range jobs {
		s.runners[job.Name] = &jobRunner{job: job, trigger: make(chan triggerRequest)}
		s.order = append(s.order, job.Name)
	}
	return s
}

// Jobs returns the job names in registration order.
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.order...)
}

// Start runs every job loop and blocks until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range s.order {
		r := s.runners[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, r)
		}()
	}
	wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, r *jobRunner) {
	var tick <-chan time.Time
	if r.job.Interval > 0 {
		ticker := time.NewTicker(r.job.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if err := s.run(ctx, r.job); err != nil && s.debug {
				s.logger.Error("scheduled job failed", "job", r.job.Name, "error", err)
			}
		case req := <-r.trigger:
			req.done <- s.run(ctx, r.job)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	start := time.Now()
	err := job.Run(ctx)
	s.logger.Debug("job finished",
		"job", job.Name,
		"ok", err == nil,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return err
}

// Trigger runs the named job now, bypassing its interval, and returns its
// error. It blocks until the run completes or ctx is canceled. Runs of one
// job never overlap.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	r, ok := s.runners[name]
	if !ok {
		return fmt.Errorf("trigger %q: unknown job: %w", name, driven.ErrValidation)
	}

	done := make(chan error, 1)
	select {
	case r.trigger <- triggerRequest{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
