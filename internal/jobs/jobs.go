package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Task is one periodic unit of work. It receives the scheduler's context.
type Task func(ctx context.Context)

// Scheduler runs recurring background tasks such as the idle sweep.
type Scheduler struct {
	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
}

func New(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("jobs: create scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{scheduler: s, ctx: ctx, cancel: cancel, logger: logger}, nil
}

// Every registers task to run at a fixed interval. A run that is still busy
// when the next one is due makes that one skip, so runs never overlap.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	if task == nil {
		return errors.New("jobs: task must not be nil")
	}
	if interval <= 0 {
		return fmt.Errorf("jobs: %s: interval must be positive", name)
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			start := time.Now()
			task(s.ctx)
			s.logger.Debug("job finished", "job", name, "took", time.Since(start))
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("jobs: register %s: %w", name, err)
	}
	s.logger.Info("job registered", "job", name, "interval", interval)
	return nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown cancels running tasks and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.scheduler.Shutdown()
}
