package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/arequipa/aire-server/internal/alerts"
	"github.com/arequipa/aire-server/internal/logger"
)

// DB wraps the PostgreSQL connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	log := logger.WithComponent("migrations")

	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		log.Info().Str("file", filename).Msg("running migration")

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	log.Info().Int("count", len(sqlFiles)).Msg("migrations completed")
	return nil
}

// UpsertStation inserts or updates a station. Optional fields already
// stored are kept when the update leaves them empty.
func (db *DB) UpsertStation(ctx context.Context, st *Station) error {
	query := `
		INSERT INTO stations (id, name, district, lat, lon)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    district = COALESCE(EXCLUDED.district, stations.district),
		    lat = COALESCE(EXCLUDED.lat, stations.lat),
		    lon = COALESCE(EXCLUDED.lon, stations.lon),
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query, st.ID, st.Name, st.District, st.Lat, st.Lon)
	return err
}

// GetStation retrieves a station by id. It returns nil, nil when the
// station does not exist.
func (db *DB) GetStation(ctx context.Context, id int64) (*Station, error) {
	query := `
		SELECT id, name, district, lat, lon, active, created_at, updated_at
		FROM stations
		WHERE id = $1
	`

	var st Station
	err := db.QueryRowContext(ctx, query, id).Scan(
		&st.ID,
		&st.Name,
		&st.District,
		&st.Lat,
		&st.Lon,
		&st.Active,
		&st.CreatedAt,
		&st.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &st, nil
}

// InsertMeasurement stores a sampling. A repeated sampling for the same
// station and time replaces the stored values.
func (db *DB) InsertMeasurement(ctx context.Context, m *Measurement) error {
	query := `
		INSERT INTO measurements (
			station_id, measured_at, pm25, pm10, no2, o3, co, so2,
			aqi, aqi_category, aqi_color, dominant_pollutant,
			temperature, humidity, pressure, wind_speed, wind_direction,
			source, reliability, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (station_id, measured_at) DO UPDATE
		SET pm25 = EXCLUDED.pm25,
		    pm10 = EXCLUDED.pm10,
		    no2 = EXCLUDED.no2,
		    o3 = EXCLUDED.o3,
		    co = EXCLUDED.co,
		    so2 = EXCLUDED.so2,
		    aqi = EXCLUDED.aqi,
		    aqi_category = EXCLUDED.aqi_category,
		    aqi_color = EXCLUDED.aqi_color,
		    dominant_pollutant = EXCLUDED.dominant_pollutant,
		    received_at = EXCLUDED.received_at
		RETURNING id
	`

	return db.QueryRowContext(ctx,
		query,
		m.StationID,
		m.MeasuredAt,
		m.PM25,
		m.PM10,
		m.NO2,
		m.O3,
		m.CO,
		m.SO2,
		m.AQI,
		m.AQICategory,
		m.AQIColor,
		m.DominantPollutant,
		m.Temperature,
		m.Humidity,
		m.Pressure,
		m.WindSpeed,
		m.WindDirection,
		m.Source,
		m.Reliability,
		m.ReceivedAt,
	).Scan(&m.ID)
}

// ActiveThresholds returns the active thresholds that cover a station,
// including those configured for every station
func (db *DB) ActiveThresholds(ctx context.Context, stationID int64) ([]alerts.Threshold, error) {
	query := `
		SELECT id, user_id, station_id, pollutant, threshold_value
		FROM alert_thresholds
		WHERE is_active = true AND (station_id = $1 OR station_id IS NULL)
		ORDER BY user_id, pollutant
	`

	rows, err := db.QueryContext(ctx, query, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var thresholds []alerts.Threshold
	for rows.Next() {
		var (
			t       alerts.Threshold
			station sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &station, &t.Pollutant, &t.Value); err != nil {
			return nil, err
		}
		if station.Valid {
			id := station.Int64
			t.StationID = &id
		}
		thresholds = append(thresholds, t)
	}

	return thresholds, rows.Err()
}
