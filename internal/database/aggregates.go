package database

import (
	"context"
	"time"
)

// HourlyAverages returns the mean pollutant concentrations per station
// for samplings in [start, end)
func (db *DB) HourlyAverages(ctx context.Context, start, end time.Time) ([]HourlyAverage, error) {
	query := `
		SELECT
			station_id,
			AVG(pm25), AVG(pm10), AVG(no2), AVG(o3), AVG(co),
			COUNT(*)
		FROM measurements
		WHERE measured_at >= $1 AND measured_at < $2
		GROUP BY station_id
		ORDER BY station_id
	`

	rows, err := db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HourlyAverage
	for rows.Next() {
		avg := HourlyAverage{Hour: start}
		if err := rows.Scan(&avg.StationID, &avg.PM25, &avg.PM10, &avg.NO2, &avg.O3, &avg.CO, &avg.SampleCount); err != nil {
			return nil, err
		}
		out = append(out, avg)
	}
	return out, rows.Err()
}

// UpsertHourlyAQI stores one station-hour
func (db *DB) UpsertHourlyAQI(ctx context.Context, h *HourlyAQI) error {
	query := `
		INSERT INTO hourly_station_aqi (
			station_id, hour_timestamp, avg_pm25, avg_pm10, avg_no2, avg_o3, avg_co,
			aqi, aqi_category, dominant_pollutant, sample_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (station_id, hour_timestamp) DO UPDATE
		SET avg_pm25 = EXCLUDED.avg_pm25,
		    avg_pm10 = EXCLUDED.avg_pm10,
		    avg_no2 = EXCLUDED.avg_no2,
		    avg_o3 = EXCLUDED.avg_o3,
		    avg_co = EXCLUDED.avg_co,
		    aqi = EXCLUDED.aqi,
		    aqi_category = EXCLUDED.aqi_category,
		    dominant_pollutant = EXCLUDED.dominant_pollutant,
		    sample_count = EXCLUDED.sample_count
	`

	_, err := db.ExecContext(ctx, query,
		h.StationID, h.Hour,
		h.PM25, h.PM10, h.NO2, h.O3, h.CO,
		h.AQI, h.AQICategory, h.DominantPollutant,
		h.SampleCount,
	)
	return err
}

// HourlyAQIRange returns the stored station-hours in [start, end) that
// carry an index
func (db *DB) HourlyAQIRange(ctx context.Context, start, end time.Time) ([]HourlyAQI, error) {
	query := `
		SELECT station_id, hour_timestamp, aqi, aqi_category, dominant_pollutant, sample_count
		FROM hourly_station_aqi
		WHERE hour_timestamp >= $1 AND hour_timestamp < $2 AND aqi IS NOT NULL
		ORDER BY station_id, hour_timestamp
	`

	rows, err := db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HourlyAQI
	for rows.Next() {
		var h HourlyAQI
		if err := rows.Scan(&h.StationID, &h.Hour, &h.AQI, &h.AQICategory, &h.DominantPollutant, &h.SampleCount); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpsertDailySummary stores one station-day
func (db *DB) UpsertDailySummary(ctx context.Context, d *DailySummary) error {
	query := `
		INSERT INTO daily_aqi_summary (
			station_id, summary_date, min_aqi, max_aqi, avg_aqi, worst_category, hours_reported
		) VALUES ($1, $2::date, $3, $4, $5, $6, $7)
		ON CONFLICT (station_id, summary_date) DO UPDATE
		SET min_aqi = EXCLUDED.min_aqi,
		    max_aqi = EXCLUDED.max_aqi,
		    avg_aqi = EXCLUDED.avg_aqi,
		    worst_category = EXCLUDED.worst_category,
		    hours_reported = EXCLUDED.hours_reported
	`

	_, err := db.ExecContext(ctx, query,
		d.StationID, d.Date,
		d.MinAQI, d.MaxAQI, d.AvgAQI,
		d.WorstCategory, d.HoursReported,
	)
	return err
}
