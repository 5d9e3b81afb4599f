package broker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/models"
)

// ReaperConfig tunes the stuck-task sweep. When Schedule is a non-empty cron
// expression it gates the sweep cadence instead of Interval: the reaper
// wakes at each of the expression's occurrences rather than ticking at a
// fixed period. Interval is always used as the poll granularity for
// deciding whether a scheduled occurrence has arrived.
type ReaperConfig struct {
	Interval time.Duration
	Schedule string
}

// Reaper periodically sweeps tasks stuck past their processing deadline and
// fails them, per §7's worker-silent-timeout error kind: a task whose
// worker claimed it (status_code=processing) but never reported a terminal
// update before processing_deadline elapsed.
type Reaper struct {
	service  *Service
	logger   arbor.ILogger
	cfg      ReaperConfig
	schedule cron.Schedule
}

// NewReaper constructs a Reaper. An invalid cfg.Schedule is logged and
// ignored rather than returned as an error, falling back to cfg.Interval
// alone; config loading already rejects malformed schedules up front via
// validateReaperSchedule, so this is a defensive fallback, not the primary
// validation path.
func NewReaper(service *Service, logger arbor.ILogger, cfg ReaperConfig) *Reaper {
	r := &Reaper{service: service, logger: logger, cfg: cfg}
	if cfg.Schedule != "" {
		sched, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			logger.Warn().Err(err).Str("schedule", cfg.Schedule).
				Msg("reaper: invalid schedule, falling back to fixed interval")
		} else {
			r.schedule = sched
		}
	}
	return r
}

// Run blocks until ctx is cancelled, polling at cfg.Interval. With no
// schedule configured it sweeps on every poll; with one configured it only
// sweeps once the schedule's next occurrence has arrived, so Interval acts
// as the polling granularity rather than the sweep cadence itself.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	var next time.Time
	if r.schedule != nil {
		next = r.schedule.Next(time.Now())
	}

	r.logger.Info().Dur("interval", r.cfg.Interval).Str("schedule", r.cfg.Schedule).Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reaper stopped")
			return
		case now := <-ticker.C:
			if r.schedule == nil {
				r.tick()
				continue
			}
			if !now.Before(next) {
				r.tick()
				next = r.schedule.Next(now)
			}
		}
	}
}

func (r *Reaper) tick() {
	stuck, err := r.service.tasks.ListStuckProcessing(time.Now())
	if err != nil {
		r.logger.Warn().Err(err).Msg("reaper: failed to list stuck tasks")
		return
	}

	for _, task := range stuck {
		failed := models.StatusFailed
		status := "worker-timeout"
		if _, err := r.service.UpdateTask(task.ID, models.UpdateTaskRequest{
			StatusCode: &failed,
			Status:     &status,
		}); err != nil {
			r.logger.Warn().Err(err).Str("task_id", task.ID).Msg("reaper: failed to fail stuck task")
			continue
		}
		r.logger.Info().Str("task_id", task.ID).Msg("reaped stuck task past its processing deadline")
	}
}
