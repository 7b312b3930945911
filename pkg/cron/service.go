package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrStopped is returned once the service has been stopped
var ErrStopped = errors.New("service is stopped")

// Service runs recurring jobs on their schedules
type Service struct {
	jobs    map[string]*Job
	timers  map[string]*time.Timer
	logger  zerolog.Logger
	now     func() time.Time
	mu      sync.Mutex
	wg      sync.WaitGroup
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a new cron service
func NewService(opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		jobs:   make(map[string]*Job),
		timers: make(map[string]*time.Timer),
		logger: log.Logger.With().Str("component", "cron").Logger(),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob schedules run under name and returns a snapshot of the new job
func (s *Service) AddJob(name string, schedule Schedule, run JobFunc) (Job, error) {
	if name == "" {
		return Job{}, fmt.Errorf("job name is required")
	}
	if run == nil {
		return Job{}, fmt.Errorf("job %s has no function", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return Job{}, ErrStopped
	}

	next, err := CalculateNextRun(schedule, s.now())
	if err != nil {
		return Job{}, fmt.Errorf("invalid schedule: %w", err)
	}

	job := &Job{
		ID:       uuid.New().String(),
		Name:     name,
		Schedule: schedule,
		State:    JobState{NextRunAt: next},
		run:      run,
	}
	s.jobs[job.ID] = job
	s.scheduleJobLocked(job)

	s.logger.Info().
		Str("jobId", job.ID).
		Str("name", name).
		Time("nextRun", next).
		Msg("Job created")

	return *job, nil
}

// RemoveJob cancels and forgets a job
func (s *Service) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	s.cancelJobLocked(id)
	delete(s.jobs, id)
	s.logger.Info().Str("jobId", id).Msg("Job removed")
	return nil
}

// RunJob executes a job now, outside its schedule
func (s *Service) RunJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeJob(id, false)
	}()
	return nil
}

// ListJobs returns snapshots of all jobs ordered by next run
func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].State.NextRunAt.Before(jobs[j].State.NextRunAt)
	})
	return jobs
}

// GetJob returns a snapshot of one job
func (s *Service) GetJob(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// Stop cancels all timers and running jobs and waits for them to return
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	for id := range s.timers {
		s.cancelJobLocked(id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Cron service stopped")
}

// scheduleJobLocked arms the timer for the job's next run (must hold lock)
func (s *Service) scheduleJobLocked(job *Job) {
	delay := job.State.NextRunAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	id := job.ID
	s.timers[id] = time.AfterFunc(delay, func() {
		if !s.track() {
			return
		}
		defer s.wg.Done()
		s.executeJob(id, true)
	})

	s.logger.Debug().
		Str("jobId", id).
		Dur("delay", delay).
		Msg("Job scheduled")
}

// track registers a timer run with the wait group unless Stop has begun
func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// cancelJobLocked cancels a job's timer (must hold lock)
func (s *Service) cancelJobLocked(id string) {
	if timer, exists := s.timers[id]; exists {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) executeJob(id string, scheduled bool) {
	s.mu.Lock()
	job, exists := s.jobs[id]
	if !exists || s.stopped {
		s.mu.Unlock()
		return
	}
	if job.State.running {
		if scheduled {
			s.rescheduleLocked(job)
		}
		s.mu.Unlock()
		s.logger.Debug().Str("jobId", id).Msg("Job already running, skipping execution")
		return
	}
	job.State.running = true
	run := job.run
	s.mu.Unlock()

	start := s.now()
	err := runSafely(s.ctx, run)
	duration := s.now().Sub(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	job.State.running = false
	job.State.LastRunAt = start
	job.State.LastDuration = duration

	if err != nil {
		job.State.LastStatus = StatusError
		job.State.LastError = err.Error()
		job.State.ConsecutiveErrors++
		s.logger.Error().
			Str("jobId", id).
			Err(err).
			Int("consecutiveErrors", job.State.ConsecutiveErrors).
			Msg("Job execution failed")
	} else {
		job.State.LastStatus = StatusOK
		job.State.LastError = ""
		job.State.ConsecutiveErrors = 0
		s.logger.Info().
			Str("jobId", id).
			Str("name", job.Name).
			Dur("duration", duration).
			Msg("Job execution completed")
	}

	if !scheduled || s.stopped {
		return
	}
	if _, exists := s.jobs[id]; !exists {
		return
	}
	s.rescheduleLocked(job)
}

func (s *Service) rescheduleLocked(job *Job) {
	next, err := CalculateNextRun(job.Schedule, s.now())
	if err != nil {
		s.logger.Error().Str("jobId", job.ID).Err(err).Msg("Failed to calculate next run")
		return
	}
	job.State.NextRunAt = next
	s.scheduleJobLocked(job)
}

func runSafely(ctx context.Context, run JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return run(ctx)
}
