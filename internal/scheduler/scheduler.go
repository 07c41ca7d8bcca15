package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Job is one unit of periodic work. It receives a context that is cancelled
// when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler runs a job at a fixed interval. A run that overlaps the next
// tick is not started twice.
type Scheduler struct {
	scheduler *gocron.Scheduler
	job       Job
	interval  time.Duration
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	// held while the job runs
	running sync.Mutex
}

// New creates a new Scheduler.
func New(interval time.Duration, job Job, logger *zap.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		job:       job,
		interval:  interval,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the periodic job, runs it once immediately and starts the
// underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}

	_, err := s.scheduler.Every(s.interval).StartImmediately().Do(func() {
		s.running.Lock()
		defer s.running.Unlock()
		if s.ctx.Err() != nil {
			return
		}

		started := time.Now()
		s.logger.Debug("scheduler: running job")
		s.job(s.ctx)
		s.logger.Debug("scheduler: completed job", zap.Duration("took", time.Since(started)))
	})
	if err != nil {
		return err
	}

	s.logger.Info("scheduler: started", zap.Duration("interval", s.interval))
	s.scheduler.StartAsync()
	return nil
}

// Stop cancels the running job, waits for it to return and stops the
// underlying scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.running.Lock()
	s.running.Unlock()
}
