package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/arequipa/aire-server/internal/aqi"
	"github.com/arequipa/aire-server/internal/database"
	"github.com/arequipa/aire-server/internal/logger"
	"github.com/arequipa/aire-server/internal/metrics"
)

// DailyStore reads station-hours and stores station-days
type DailyStore interface {
	HourlyAQIRange(ctx context.Context, start, end time.Time) ([]database.HourlyAQI, error)
	UpsertDailySummary(ctx context.Context, d *database.DailySummary) error
}

// DailyAggregator summarises the hourly index of each station per day
type DailyAggregator struct {
	store DailyStore
}

// NewDailyAggregator creates a new daily aggregator
func NewDailyAggregator(store DailyStore) *DailyAggregator {
	return &DailyAggregator{store: store}
}

// Aggregate stores the summaries of the calendar day containing target,
// in target's location
func (d *DailyAggregator) Aggregate(ctx context.Context, target time.Time) (int, error) {
	day := startOfDay(target)
	log := logger.WithComponent("daily-aggregator")

	hours, err := d.store.HourlyAQIRange(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		metrics.AggregationRunsTotal.WithLabelValues("daily", "failed").Inc()
		return 0, fmt.Errorf("failed to read hourly index: %w", err)
	}

	summaries := Summarize(day, hours)
	for i := range summaries {
		if err := d.store.UpsertDailySummary(ctx, &summaries[i]); err != nil {
			metrics.AggregationRunsTotal.WithLabelValues("daily", "failed").Inc()
			return i, fmt.Errorf("failed to store station %d: %w", summaries[i].StationID, err)
		}
	}

	metrics.AggregationRunsTotal.WithLabelValues("daily", "success").Inc()
	metrics.AggregationRowsTotal.WithLabelValues("daily").Add(float64(len(summaries)))
	log.Info().
		Str("date", day.Format("2006-01-02")).
		Int("stations", len(summaries)).
		Msg("daily aggregation completed")
	return len(summaries), nil
}

// AggregatePreviousDay aggregates the day before now
func (d *DailyAggregator) AggregatePreviousDay(ctx context.Context, now time.Time) (int, error) {
	return d.Aggregate(ctx, now.AddDate(0, 0, -1))
}

// Summarize folds station-hours into one summary per station, in the
// order stations first appear. Hours without an index are ignored.
func Summarize(day time.Time, hours []database.HourlyAQI) []database.DailySummary {
	var out []database.DailySummary
	pos := make(map[int64]int)
	sums := make(map[int64]int)

	for _, h := range hours {
		if h.AQI == nil {
			continue
		}
		v := *h.AQI

		i, ok := pos[h.StationID]
		if !ok {
			i = len(out)
			pos[h.StationID] = i
			out = append(out, database.DailySummary{
				StationID: h.StationID,
				Date:      day,
				MinAQI:    v,
				MaxAQI:    v,
			})
		}

		s := &out[i]
		if v < s.MinAQI {
			s.MinAQI = v
		}
		if v > s.MaxAQI {
			s.MaxAQI = v
		}
		s.HoursReported++
		sums[h.StationID] += v
	}

	for i := range out {
		s := &out[i]
		s.AvgAQI = float64(sums[s.StationID]) / float64(s.HoursReported)
		s.WorstCategory = aqi.CategoryFor(s.MaxAQI).Label()
	}
	return out
}

// NextDailyRun returns the next hour:minute wall-clock time after now
func NextDailyRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
