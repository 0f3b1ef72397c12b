package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StaleReaper periodically fails non-terminal instances whose last
// transition is older than the configured horizon. In-memory wait timers do
// not survive a restart; the reaper is the durable backstop.
type StaleReaper struct {
	engine   Reapable
	schedule string
	horizon  time.Duration
	logger   *zap.Logger
	cron     *cron.Cron
}

// Reapable is the engine surface the reaper needs
type Reapable interface {
	ReapStale(ctx context.Context, horizon time.Duration) (int, error)
}

// NewStaleReaper creates a reaper running on the given cron schedule
func NewStaleReaper(engine Reapable, schedule string, horizon time.Duration, logger *zap.Logger) *StaleReaper {
	return &StaleReaper{
		engine:   engine,
		schedule: schedule,
		horizon:  horizon,
		logger:   logger,
	}
}

// Name identifies the worker
func (r *StaleReaper) Name() string {
	return "stale-instance-reaper"
}

// Start schedules the reap job
func (r *StaleReaper) Start(ctx context.Context) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.schedule, func() {
		reaped, err := r.engine.ReapStale(ctx, r.horizon)
		if err != nil {
			r.logger.Error("Reap pass failed", zap.Error(err))
			return
		}
		if reaped > 0 {
			r.logger.Warn("Reaped stale instances", zap.Int("count", reaped))
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish
func (r *StaleReaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}
