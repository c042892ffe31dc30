// Package scheduler runs the engine's periodic jobs on gocron: the
// reconciliation sweep and the end-of-challenge results announcement.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job.
	// The context is cancelled when the scheduler is stopping.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
}

// Observer receives job outcomes, e.g. for Prometheus.
type Observer interface {
	JobFinished(job string, err error)
}

var (
	// ErrJobExists is returned when a job name is registered twice.
	ErrJobExists = errors.New("scheduler: job already registered")

	// ErrJobNotFound is returned for an unknown job name.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrJobPanicked wraps a recovered panic.
	ErrJobPanicked = errors.New("scheduler: job panicked")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULES
// ══════════════════════════════════════════════════════════════════════════════

// Every runs a job at a fixed interval.
func Every(d time.Duration) gocron.JobDefinition {
	return gocron.DurationJob(d)
}

// DailyAt runs a job once a day at hour:minute in the scheduler's timezone.
func DailyAt(hour, minute uint) gocron.JobDefinition {
	return gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0)))
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler manages and executes scheduled jobs.
type Scheduler struct {
	cron     gocron.Scheduler
	logger   *slog.Logger
	timezone *time.Location
	timeout  time.Duration
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	jobs     map[string]Job
	lastRuns map[string]JobResult
}

// SchedulerConfig contains configuration for the Scheduler.
type SchedulerConfig struct {
	// Logger for structured logging.
	Logger *slog.Logger

	// Timezone for daily schedules (default: UTC).
	Timezone *time.Location

	// JobTimeout bounds one run of a job.
	JobTimeout time.Duration

	// Observer is optional.
	Observer Observer
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Logger:     slog.Default(),
		Timezone:   time.UTC,
		JobTimeout: 5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler with the given configuration.
func NewScheduler(config SchedulerConfig) (*Scheduler, error) {
	defaults := DefaultSchedulerConfig()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Timezone == nil {
		config.Timezone = defaults.Timezone
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}

	cron, err := gocron.NewScheduler(
		gocron.WithLocation(config.Timezone),
		gocron.WithStopTimeout(config.JobTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron,
		logger:   config.Logger.With("component", "scheduler"),
		timezone: config.Timezone,
		timeout:  config.JobTimeout,
		observer: config.Observer,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]Job),
		lastRuns: make(map[string]JobResult),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB REGISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// Register adds a job with the given schedule. A run that is still in
// progress when the next one is due makes gocron skip that tick.
func (s *Scheduler) Register(job Job, schedule gocron.JobDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name())
	}

	_, err := s.cron.NewJob(
		schedule,
		gocron.NewTask(func() { _ = s.execute(s.ctx, job) }),
		gocron.WithName(job.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", job.Name(), err)
	}
	s.jobs[job.Name()] = job

	s.logger.Info("job registered",
		"job", job.Name(),
		"description", job.Description(),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs), "timezone", s.timezone.String())
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

// RunNow executes a job immediately, ignoring its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (JobResult, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobName]
	s.mu.RUnlock()
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	err := s.execute(ctx, job)
	result, _ := s.LastRun(jobName)
	return result, err
}

// LastRun returns the most recent result of a job.
func (s *Scheduler) LastRun(jobName string) (JobResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.lastRuns[jobName]
	return r, ok
}

func (s *Scheduler) execute(parent context.Context, job Job) (err error) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	result := JobResult{JobName: job.Name(), StartedAt: time.Now()}
	s.logger.Debug("job started", "job", job.Name())

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrJobPanicked, job.Name(), r)
		}

		result.CompletedAt = time.Now()
		result.Duration = result.CompletedAt.Sub(result.StartedAt)
		result.Success = err == nil
		result.Error = err

		s.mu.Lock()
		s.lastRuns[job.Name()] = result
		s.mu.Unlock()

		if s.observer != nil {
			s.observer.JobFinished(job.Name(), err)
		}

		if err != nil {
			s.logger.Error("job failed",
				"job", job.Name(),
				"duration", result.Duration,
				"error", err,
			)
			return
		}
		s.logger.Info("job completed",
			"job", job.Name(),
			"duration", result.Duration,
		)
	}()

	return job.Run(ctx)
}
