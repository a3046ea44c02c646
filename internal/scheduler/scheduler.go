package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Snapshot runner contract; satisfied by *Snapshotter.
type Runner interface {
	Run(ctx context.Context) error
}

type Config struct {
	Enabled  bool
	Schedule string
}

// Scheduler runs the compliance snapshot job on a cron schedule. The
// notifier and cache invalidator are injected by the caller; nothing
// here reaches for process-global state.
type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	schedule string
	logger   *slog.Logger
}

func New(cfg Config, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "0 2 * * *"
	}

	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		runner:   runner,
		schedule: schedule,
		logger:   logger,
	}
}

func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()

		if err := s.runner.Run(ctx); err != nil {
			s.logger.Error("snapshot run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling snapshot job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("snapshot scheduler started", "schedule", s.schedule)
	return nil
}

func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
