// Package scheduler re-runs crawl jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnknownJob is returned by RunNow for a name that was never added.
var ErrUnknownJob = errors.New("unknown job")

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name     string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
}

type entry struct {
	id       cron.EntryID
	schedule string
	job      Job
}

// Scheduler runs jobs on cron schedules. A job that is still running when
// its next tick arrives skips that tick.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration

	mu   sync.Mutex
	base context.Context
	jobs map[string]entry
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	location *time.Location
	logger   *slog.Logger
	timeout  time.Duration
}

// WithLocation evaluates schedules in loc instead of the local time zone.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.location = loc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithJobTimeout bounds every job run. Zero means no bound.
func WithJobTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// ValidateSpec reports whether spec is a valid five-field cron expression
// or descriptor such as "@every 6h".
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	o := options{location: time.Local, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	cl := cronLogger{logger: o.logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(o.location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  o.logger,
		timeout: o.timeout,
		base:    context.Background(),
		jobs:    make(map[string]entry),
	}
}

// AddJob schedules job under name. Adding a name twice replaces the
// earlier schedule.
func (s *Scheduler) AddJob(name, spec string, job Job) error {
	if err := ValidateSpec(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.id)
	}
	id, err := s.cron.AddFunc(spec, func() { _ = s.run(name, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	s.jobs[name] = entry{id: id, schedule: spec, job: job}
	s.logger.Info("scheduled job", "job", name, "schedule", spec)
	return nil
}

// RemoveJob unschedules name.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
	}
}

// RunNow runs a scheduled job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(name, e.job)
}

// Run starts the schedule and blocks until ctx is done. Jobs receive a
// context derived from ctx, and Run waits for running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs", len(s.Jobs()))
	s.cron.Start()
	<-ctx.Done()

	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// Jobs lists the scheduled jobs.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		ce := s.cron.Entry(e.id)
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: e.schedule,
			NextRun:  ce.Next,
			LastRun:  ce.Prev,
		})
	}
	return infos
}

func (s *Scheduler) run(name string, job Job) error {
	s.mu.Lock()
	ctx := s.base
	s.mu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Info("job started", "job", name)
	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("job failed", "job", name, "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
		return err
	}
	s.logger.Info("job finished", "job", name, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
