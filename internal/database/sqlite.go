package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arequipa/aire-server/internal/alerts"
	"github.com/arequipa/aire-server/internal/logger"
)

// SQLiteStore keeps alerts in a local SQLite file for single node runs.
// Timestamps are stored as Unix nanoseconds so range filters compare
// numerically.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id         INTEGER NOT NULL,
	station_id      INTEGER,
	station_name    TEXT,
	type            TEXT NOT NULL,
	severity        TEXT NOT NULL,
	title           TEXT NOT NULL,
	message         TEXT NOT NULL,
	measured_value  REAL,
	threshold_value REAL,
	pollutant       TEXT,
	color           TEXT NOT NULL,
	read            INTEGER NOT NULL DEFAULT 0,
	read_at         INTEGER,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_similar ON alerts (user_id, type, pollutant, created_at);
`

// OpenSQLite opens (or creates) the database at path and applies the schema
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		log := logger.WithComponent("sqlite")
		log.Warn().Err(err).Msg("could not enable WAL mode")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertAlert stores a new alert and sets its ID
func (s *SQLiteStore) InsertAlert(ctx context.Context, a *alerts.Record) error {
	if s == nil || s.db == nil {
		return errors.New("alert store: nil db")
	}
	if a == nil {
		return errors.New("alert store: nil alert")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			user_id, station_id, station_name, type, severity, title, message,
			measured_value, threshold_value, pollutant, color, read, read_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID,
		a.StationID,
		nullString(a.StationName),
		string(a.Type),
		a.Severity.String(),
		a.Title,
		a.Message,
		a.MeasuredValue,
		a.Threshold,
		a.Pollutant,
		a.Color,
		a.Read,
		unixNanoPtr(a.ReadAt),
		a.CreatedAt.UnixNano(),
	)
	if err != nil {
		return err
	}

	a.ID, err = result.LastInsertId()
	return err
}

// FindSimilarAlerts returns the user's alerts of the same type and
// pollutant created at or after since, newest first
func (s *SQLiteStore) FindSimilarAlerts(ctx context.Context, userID int64, alertType alerts.Type, pollutant string, since time.Time) ([]alerts.Record, error) {
	return s.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE user_id = ? AND type = ? AND pollutant = ? AND created_at >= ?
		ORDER BY created_at DESC`,
		userID, string(alertType), pollutant, since.UnixNano())
}

// GetAlert retrieves one alert of a user
func (s *SQLiteStore) GetAlert(ctx context.Context, id, userID int64) (*alerts.Record, error) {
	a, err := scanSQLiteAlert(s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	return a, err
}

// MarkAlertRead marks a user's alert as read. Alerts already read keep
// their original read time.
func (s *SQLiteStore) MarkAlertRead(ctx context.Context, id, userID int64, at time.Time) (*alerts.Record, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET read = 1, read_at = COALESCE(read_at, ?) WHERE id = ? AND user_id = ?`,
		at.UnixNano(), id, userID)
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrAlertNotFound
	}
	return s.GetAlert(ctx, id, userID)
}

// MarkAllAlertsRead marks every unread alert of a user as read
func (s *SQLiteStore) MarkAllAlertsRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET read = 1, read_at = ? WHERE user_id = ? AND read = 0`,
		at.UnixNano(), userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountUnreadAlerts counts a user's unread alerts
func (s *SQLiteStore) CountUnreadAlerts(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE user_id = ? AND read = 0`, userID).Scan(&n)
	return n, err
}

// ListUnreadAlerts returns a user's unread alerts, newest first
func (s *SQLiteStore) ListUnreadAlerts(ctx context.Context, userID int64, limit int) ([]alerts.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE user_id = ? AND read = 0
		ORDER BY created_at DESC
		LIMIT ?`,
		userID, limit)
}

// DeleteAlertsBefore removes alerts created before cutoff
func (s *SQLiteStore) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]alerts.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.Record
	for rows.Next() {
		a, err := scanSQLiteAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanSQLiteAlert(row rowScanner) (*alerts.Record, error) {
	var (
		a           alerts.Record
		station     sql.NullInt64
		stationName sql.NullString
		alertType   string
		severity    string
		measured    sql.NullFloat64
		threshold   sql.NullFloat64
		pollutant   sql.NullString
		read        int
		readAt      sql.NullInt64
		createdAt   int64
	)

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&station,
		&stationName,
		&alertType,
		&severity,
		&a.Title,
		&a.Message,
		&measured,
		&threshold,
		&pollutant,
		&a.Color,
		&read,
		&readAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type, a.Severity, err = decodeKind(alertType, severity, measured, threshold)
	if err != nil {
		return nil, err
	}
	a.StationName = stationName.String
	a.MeasuredValue = measured.Float64
	a.Threshold = threshold.Float64
	a.Pollutant = pollutant.String
	a.Read = read != 0
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	if station.Valid {
		id := station.Int64
		a.StationID = &id
	}
	if readAt.Valid {
		t := time.Unix(0, readAt.Int64).UTC()
		a.ReadAt = &t
	}
	return &a, nil
}

func unixNanoPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
