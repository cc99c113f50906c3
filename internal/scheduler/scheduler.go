package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/drover-ai/drover/internal/agent"
	"github.com/drover-ai/drover/internal/config"
)

// JobCategory classifies jobs for semaphore-based concurrency limits.
type JobCategory string

const (
	CategoryAgent   JobCategory = "agent"
	CategoryDefault JobCategory = "default"
)

// Job is a schedulable invocation with an already-resolved prompt.
type Job struct {
	Name     string
	Schedule *Schedule
	Category JobCategory
	Prompt   string
	Options  agent.RunOptions
}

// Sink receives dispatched jobs. Satisfied by *dispatch.Dispatcher.
type Sink interface {
	SubmitJob(ctx context.Context, name, prompt string, opts agent.RunOptions) (*agent.Result, error)
}

// Scheduler manages job registration, tick dispatch, and concurrency control.
type Scheduler struct {
	cfg        config.SchedulerConfig
	sink       Sink
	jobs       map[string]*Job
	mu         sync.RWMutex
	semaphores map[JobCategory]*Semaphore
	lock       *FileLock
}

// New creates a Scheduler.
func New(cfg config.SchedulerConfig, sink Sink) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.MaxConcAgent <= 0 {
		cfg.MaxConcAgent = 3
	}
	if cfg.MaxConcDefault <= 0 {
		cfg.MaxConcDefault = 5
	}

	return &Scheduler{
		cfg:  cfg,
		sink: sink,
		jobs: make(map[string]*Job),
		semaphores: map[JobCategory]*Semaphore{
			CategoryAgent:   NewSemaphore(cfg.MaxConcAgent),
			CategoryDefault: NewSemaphore(cfg.MaxConcDefault),
		},
		lock: NewFileLock(cfg.LockPath),
	}
}

// Register adds a job to the scheduler.
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.Category == "" {
		job.Category = CategoryAgent
	}
	s.jobs[job.Name] = job
	slog.Info("Scheduler job registered", "name", job.Name, "group", job.Options.Group)
}

// RegisterConfigured parses and registers all jobs from config. Jobs with
// invalid cron expressions are skipped with a warning.
func (s *Scheduler) RegisterConfigured(jobs []config.JobConfig) {
	for _, jc := range jobs {
		sched, err := Parse(jc.Cron)
		if err != nil {
			slog.Warn("Scheduler job skipped: bad cron expression", "name", jc.Name, "error", err)
			continue
		}
		s.Register(&Job{
			Name:     jc.Name,
			Schedule: sched,
			Category: CategoryAgent,
			Prompt:   jc.Prompt,
			Options: agent.RunOptions{
				Group:     jc.Group,
				Stateless: jc.Stateless,
				Model:     jc.Model,
				Effort:    jc.Effort,
				MaxTurns:  jc.MaxTurns,
			},
		})
	}
}

// Jobs returns a snapshot of the registered jobs.
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Run starts the scheduler tick loop. Blocks until context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started", "tick", s.cfg.TickInterval, "jobs", len(s.jobs))
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick acquires the global file lock, then dispatches any matching jobs.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	acquired, err := s.lock.TryLock()
	if err != nil {
		slog.Warn("Scheduler lock error", "error", err)
		return
	}
	if !acquired {
		slog.Debug("Scheduler tick skipped: lock held by another process")
		return
	}
	defer s.lock.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobs {
		if !job.Schedule.Matches(now) {
			continue
		}
		s.dispatch(ctx, job)
	}
}

// dispatch submits a job asynchronously if a semaphore slot is available.
// Per-group ordering is the execution queue's concern, not the semaphore's.
func (s *Scheduler) dispatch(ctx context.Context, job *Job) {
	sem := s.semaphores[job.Category]
	if sem == nil {
		sem = s.semaphores[CategoryDefault]
	}

	if !sem.TryAcquire() {
		slog.Warn("Scheduler job skipped: concurrency limit", "job", job.Name, "category", job.Category)
		return
	}

	slog.Info("Scheduler dispatching job", "job", job.Name)

	go func() {
		defer sem.Release()
		if _, err := s.sink.SubmitJob(ctx, job.Name, job.Prompt, job.Options); err != nil {
			slog.Error("Scheduler job failed", "job", job.Name, "error", err)
		}
	}()
}
