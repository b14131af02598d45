package alerts

import (
	"fmt"
	"time"
)

// Type classifies an alert
type Type string

const (
	TypeAirQuality  Type = "CALIDAD_AIRE"
	TypePrediction  Type = "PREDICCION"
	TypeMaintenance Type = "MANTENIMIENTO"
	TypeSystem      Type = "SISTEMA"
)

// Valid reports whether t is a known alert type
func (t Type) Valid() bool {
	switch t {
	case TypeAirQuality, TypePrediction, TypeMaintenance, TypeSystem:
		return true
	}
	return false
}

// AQIMetric is the pseudo pollutant used for thresholds on the overall index
const AQIMetric = "AQI"

// Threshold is a user's configured limit for one pollutant.
// A nil StationID applies to every station.
type Threshold struct {
	ID        int64   `json:"id,omitempty"`
	UserID    int64   `json:"user_id"`
	StationID *int64  `json:"station_id,omitempty"`
	Pollutant string  `json:"pollutant"`
	Value     float64 `json:"value"`
}

// AppliesTo reports whether the threshold covers the given station
func (t Threshold) AppliesTo(stationID int64) bool {
	return t.StationID == nil || *t.StationID == stationID
}

// Record is an alert raised for a user
type Record struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	StationID     *int64     `json:"station_id,omitempty"`
	StationName   string     `json:"station_name,omitempty"`
	Type          Type       `json:"type"`
	Severity      Severity   `json:"severity"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	MeasuredValue float64    `json:"measured_value"`
	Threshold     float64    `json:"threshold"`
	Pollutant     string     `json:"pollutant"`
	Color         string     `json:"color"`
	Read          bool       `json:"read"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// MarkRead moves an unread alert to read. Read alerts keep their
// original read time.
func (r *Record) MarkRead(at time.Time) {
	if r.Read {
		return
	}
	r.Read = true
	r.ReadAt = &at
}

func title(pollutant string) string {
	return fmt.Sprintf("Alerta de %s", pollutant)
}

func message(pollutant, location string, value, threshold float64) string {
	if pollutant == AQIMetric {
		return fmt.Sprintf("El nivel de %s en %s ha alcanzado %.0f, superando su umbral configurado de %.0f",
			pollutant, location, value, threshold)
	}
	return fmt.Sprintf("El nivel de %s en %s ha alcanzado %.1f μg/m³, superando su umbral configurado de %.1f μg/m³",
		pollutant, location, value, threshold)
}

func locationName(name string, stationID *int64) string {
	switch {
	case name != "":
		return name
	case stationID != nil:
		return fmt.Sprintf("Estación %d", *stationID)
	default:
		return "su zona"
	}
}
