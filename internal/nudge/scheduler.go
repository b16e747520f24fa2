package nudge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/nhle/lifeflow/internal/model"
)

// Scheduler owns the process-wide recurrent jobs: the nudge tick and the
// daily plan regeneration. One instance is created at startup and
// stopped on teardown.
type Scheduler struct {
	cron   *cron.Cron
	nudger *Nudger
	logger *slog.Logger
}

// NewScheduler wires the recurrent jobs. planJob regenerates plans for
// every user and runs at cfg.PlanGenerationTime; a nil planJob skips it.
func NewScheduler(n *Nudger, planJob func(context.Context), cfg *model.AppConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New()

	c.Schedule(cron.Every(cfg.TickInterval), cron.FuncJob(func() {
		if _, err := n.Tick(context.Background()); err != nil {
			logger.Error("nudge tick failed", "error", err)
		}
	}))

	if planJob != nil {
		ct, err := model.ParseClockTime(cfg.PlanGenerationTime)
		if err != nil {
			return nil, fmt.Errorf("plan_generation_time: %w", err)
		}
		spec := fmt.Sprintf("%d %d * * *", ct.Minute, ct.Hour)
		if _, err := c.AddFunc(spec, func() { planJob(context.Background()) }); err != nil {
			return nil, fmt.Errorf("scheduling plan generation: %w", err)
		}
	}

	return &Scheduler{cron: c, nudger: n, logger: logger}, nil
}

// Start launches the recurrent jobs in their own goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started")
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
