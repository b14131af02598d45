package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arequipa/aire-server/internal/alerts"
)

// ErrAlertNotFound is returned when an alert does not exist or belongs
// to another user
var ErrAlertNotFound = errors.New("alert not found")

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const alertColumns = `id, user_id, station_id, station_name, type, severity, title, message,
	measured_value, threshold_value, pollutant, color, read, read_at, created_at`

// InsertAlert stores a new alert and sets its ID
func (db *DB) InsertAlert(ctx context.Context, a *alerts.Record) error {
	if a == nil {
		return errors.New("alert store: nil alert")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO alerts (
			user_id, station_id, station_name, type, severity, title, message,
			measured_value, threshold_value, pollutant, color, read, read_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`

	return db.QueryRowContext(ctx,
		query,
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
		a.ReadAt,
		a.CreatedAt,
	).Scan(&a.ID)
}

// FindSimilarAlerts returns the user's alerts of the same type and
// pollutant created at or after since, newest first
func (db *DB) FindSimilarAlerts(ctx context.Context, userID int64, alertType alerts.Type, pollutant string, since time.Time) ([]alerts.Record, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE user_id = $1 AND type = $2 AND pollutant = $3 AND created_at >= $4
		ORDER BY created_at DESC
	`
	return db.queryAlerts(ctx, query, userID, string(alertType), pollutant, since)
}

// GetAlert retrieves one alert of a user
func (db *DB) GetAlert(ctx context.Context, id, userID int64) (*alerts.Record, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1 AND user_id = $2`

	a, err := scanAlert(db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	return a, err
}

// MarkAlertRead marks a user's alert as read. Alerts already read keep
// their original read time.
func (db *DB) MarkAlertRead(ctx context.Context, id, userID int64, at time.Time) (*alerts.Record, error) {
	query := `
		UPDATE alerts
		SET read = true, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2
		RETURNING ` + alertColumns

	a, err := scanAlert(db.QueryRowContext(ctx, query, id, userID, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	return a, err
}

// MarkAllAlertsRead marks every unread alert of a user as read
func (db *DB) MarkAllAlertsRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE alerts SET read = true, read_at = $2 WHERE user_id = $1 AND NOT read`,
		userID, at)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountUnreadAlerts counts a user's unread alerts
func (db *DB) CountUnreadAlerts(ctx context.Context, userID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE user_id = $1 AND NOT read`, userID).Scan(&n)
	return n, err
}

// ListUnreadAlerts returns a user's unread alerts, newest first
func (db *DB) ListUnreadAlerts(ctx context.Context, userID int64, limit int) ([]alerts.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE user_id = $1 AND NOT read
		ORDER BY created_at DESC
		LIMIT $2
	`
	return db.queryAlerts(ctx, query, userID, limit)
}

// DeleteAlertsBefore removes alerts created before cutoff
func (db *DB) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge alerts: %w", err)
	}
	return result.RowsAffected()
}

func (db *DB) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]alerts.Record, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.Record
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAlert(row rowScanner) (*alerts.Record, error) {
	var (
		a           alerts.Record
		station     sql.NullInt64
		stationName sql.NullString
		alertType   string
		severity    string
		measured    sql.NullFloat64
		threshold   sql.NullFloat64
		pollutant   sql.NullString
		readAt      sql.NullTime
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
		&a.Read,
		&readAt,
		&a.CreatedAt,
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
	if station.Valid {
		id := station.Int64
		a.StationID = &id
	}
	if readAt.Valid {
		t := readAt.Time
		a.ReadAt = &t
	}
	return &a, nil
}

// decodeKind resolves the type and severity of a stored alert. Alerts
// written by other producers may leave severity blank; it is then graded
// from the stored values.
func decodeKind(alertType, severity string, measured, threshold sql.NullFloat64) (alerts.Type, alerts.Severity, error) {
	t := alerts.Type(alertType)
	if !t.Valid() {
		return "", 0, fmt.Errorf("unknown alert type %q", alertType)
	}
	if severity == "" {
		return t, alerts.SeverityFor(nullFloat(measured), nullFloat(threshold)), nil
	}
	sev, err := alerts.ParseSeverity(severity)
	if err != nil {
		return "", 0, err
	}
	return t, sev, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
