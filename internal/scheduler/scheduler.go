// Package scheduler runs the daemon's periodic jobs. Jobs are
// interval-based, and a job still running when its next tick arrives is
// skipped rather than stacked.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"watchpod/internal/logging"
	"watchpod/internal/services"
)

// Job is a unit of scheduled work. The context is cancelled on shutdown.
type Job func(ctx context.Context)

// Scheduler wraps a cron runner with named interval jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
	running bool
}

// New constructs a scheduler.
func New(logger *slog.Logger) *Scheduler {
	componentLogger := logging.NewComponentLogger(logger, "scheduler")
	adapter := &cronLogAdapter{logger: componentLogger}
	return &Scheduler{
		cron: cron.New(
			cron.WithChain(
				cron.SkipIfStillRunning(adapter),
				cron.Recover(adapter),
			),
		),
		logger:  componentLogger,
		entries: make(map[string]cron.EntryID),
	}
}

// AddIntervalJob registers a named job to run at a fixed interval. The first
// run happens one interval after Start.
func (s *Scheduler) AddIntervalJob(name string, interval time.Duration, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[name]; ok {
		s.cron.Remove(existing)
	}

	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		ctx = services.WithJob(ctx, name)
		started := time.Now()
		s.logger.Debug("job started", logging.String(logging.FieldJob, name))
		job(ctx)
		s.logger.Debug("job finished",
			logging.String(logging.FieldJob, name),
			logging.Duration("elapsed", time.Since(started)),
		)
	}))
	s.entries[name] = id

	s.logger.Info("job scheduled",
		logging.String(logging.FieldJob, name),
		logging.Duration("interval", interval),
	)
}

// RemoveJob unregisters a named job. Unknown names are ignored.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.running = true
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
}

// cronLogAdapter bridges cron's logger interface onto slog.
type cronLogAdapter struct {
	logger *slog.Logger
}

func (a *cronLogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a *cronLogAdapter) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{logging.Error(err)}, keysAndValues...)
	a.logger.Error(msg, args...)
}
