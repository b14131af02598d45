package aggregation

import (
	"context"
	"time"

	"github.com/arequipa/aire-server/internal/logger"
	"github.com/arequipa/aire-server/internal/metrics"
	"github.com/arequipa/aire-server/internal/scheduler"
	"github.com/arequipa/aire-server/pkg/config"
)

const (
	hourlyJob = "aggregation-hourly"
	dailyJob  = "aggregation-daily"
)

// AlertPurger deletes alerts created before a cutoff
type AlertPurger interface {
	DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention drops alerts older than a number of days
type Retention struct {
	store AlertPurger
	days  int
}

// NewRetention creates a purger; days <= 0 keeps alerts forever
func NewRetention(store AlertPurger, days int) *Retention {
	return &Retention{store: store, days: days}
}

// Purge deletes the alerts older than the retention period
func (r *Retention) Purge(ctx context.Context, now time.Time) (int64, error) {
	if r == nil || r.days <= 0 {
		return 0, nil
	}

	n, err := r.store.DeleteAlertsBefore(ctx, now.AddDate(0, 0, -r.days))
	if err != nil {
		metrics.AggregationRunsTotal.WithLabelValues("retention", "failed").Inc()
		return 0, err
	}
	metrics.AggregationRunsTotal.WithLabelValues("retention", "success").Inc()
	metrics.AggregationRowsTotal.WithLabelValues("retention").Add(float64(n))
	return n, nil
}

// Runner schedules the hourly and daily jobs and re-arms each after it runs
type Runner struct {
	sched     *scheduler.Scheduler
	hourly    *HourlyAggregator
	daily     *DailyAggregator
	retention *Retention

	hourlyDelay time.Duration
	dailyHour   int
	dailyMinute int

	ctx context.Context
	now func() time.Time
}

// NewRunner creates a runner. retention may be nil.
func NewRunner(sched *scheduler.Scheduler, hourly *HourlyAggregator, daily *DailyAggregator, retention *Retention, cfg config.AggregationConfig) (*Runner, error) {
	hour, minute, err := config.ParseClock(cfg.DailyTime)
	if err != nil {
		return nil, err
	}
	return &Runner{
		sched:       sched,
		hourly:      hourly,
		daily:       daily,
		retention:   retention,
		hourlyDelay: cfg.HourlyDelay,
		dailyHour:   hour,
		dailyMinute: minute,
		now:         time.Now,
	}, nil
}

// Start arms both jobs; they run until ctx is cancelled or the scheduler stops
func (r *Runner) Start(ctx context.Context) error {
	r.ctx = ctx
	if err := r.scheduleHourly(); err != nil {
		return err
	}
	return r.scheduleDaily()
}

func (r *Runner) scheduleHourly() error {
	next := NextHourlyRun(r.now(), r.hourlyDelay)
	log := logger.WithComponent("aggregator")
	log.Info().Time("next_run", next).Msg("hourly aggregation scheduled")
	return r.sched.Schedule(hourlyJob, next, r.runHourly)
}

func (r *Runner) scheduleDaily() error {
	next := NextDailyRun(r.now(), r.dailyHour, r.dailyMinute)
	log := logger.WithComponent("aggregator")
	log.Info().Time("next_run", next).Msg("daily aggregation scheduled")
	return r.sched.Schedule(dailyJob, next, r.runDaily)
}

func (r *Runner) runHourly() {
	if r.ctx.Err() != nil {
		return
	}
	log := logger.WithComponent("aggregator")

	if _, err := r.hourly.AggregatePreviousHour(r.ctx, r.now()); err != nil {
		log.Error().Err(err).Msg("hourly aggregation failed")
	}
	if err := r.scheduleHourly(); err != nil {
		log.Warn().Err(err).Msg("hourly aggregation not rescheduled")
	}
}

func (r *Runner) runDaily() {
	if r.ctx.Err() != nil {
		return
	}
	log := logger.WithComponent("aggregator")
	now := r.now()

	if _, err := r.daily.AggregatePreviousDay(r.ctx, now); err != nil {
		log.Error().Err(err).Msg("daily aggregation failed")
	}

	purged, err := r.retention.Purge(r.ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("alert purge failed")
	} else if purged > 0 {
		log.Info().Int64("alerts", purged).Msg("purged old alerts")
	}

	if err := r.scheduleDaily(); err != nil {
		log.Warn().Err(err).Msg("daily aggregation not rescheduled")
	}
}
