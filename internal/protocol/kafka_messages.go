package protocol

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/arequipa/aire-server/internal/alerts"
	"github.com/arequipa/aire-server/internal/aqi"
)

// StationMeasurement travels on the measurements topic, keyed by station
type StationMeasurement struct {
	ConnectionID string          `json:"connection_id"`
	StationID    int64           `json:"station_id"`
	StationName  string          `json:"station_name"`
	District     string          `json:"district,omitempty"`
	Latitude     *float64        `json:"latitude,omitempty"`
	Longitude    *float64        `json:"longitude,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
	Data         MeasurementData `json:"data"`
}

// Key returns the partition key of the measurement
func (m *StationMeasurement) Key() string {
	return StationKey(m.StationID)
}

// StationKey formats a station id as a Kafka message key
func StationKey(stationID int64) string {
	return strconv.FormatInt(stationID, 10)
}

// ParsedMeasurement is MeasurementData with its timestamp parsed
type ParsedMeasurement struct {
	MeasuredAt time.Time
	MeasurementData
}

// Parse validates the data and parses its timestamp
func (d *MeasurementData) Parse() (*ParsedMeasurement, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339, d.Timestamp)
	if err != nil {
		return nil, err
	}
	return &ParsedMeasurement{MeasuredAt: ts, MeasurementData: *d}, nil
}

// Readings returns the pollutant concentrations for index computation
func (p *ParsedMeasurement) Readings() aqi.Readings {
	return aqi.ReadingsFrom(p.PM25, p.PM10, p.NO2, p.O3, p.CO, p.SO2)
}

// AlertNotification is published on the alerts topic for every new alert
type AlertNotification struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"` // ALERT_CREATED
	Alert       alerts.Record `json:"alert"`
	AQI         *int          `json:"aqi,omitempty"`
	AQICategory string        `json:"aqi_category,omitempty"`
	PublishedAt time.Time     `json:"published_at"`
}

const AlertTypeCreated = "ALERT_CREATED"

// NewAlertNotification wraps a stored alert for publishing
func NewAlertNotification(a alerts.Record, result *aqi.Result) *AlertNotification {
	n := &AlertNotification{
		ID:          uuid.New().String(),
		Type:        AlertTypeCreated,
		Alert:       a,
		PublishedAt: time.Now().UTC(),
	}
	if result != nil {
		idx := result.Index
		n.AQI = &idx
		n.AQICategory = result.Category.Label()
	}
	return n
}

// Key returns the partition key of the notification
func (n *AlertNotification) Key() string {
	return strconv.FormatInt(n.Alert.UserID, 10)
}

// EncodeStationMeasurement encodes a StationMeasurement to JSON
func EncodeStationMeasurement(msg *StationMeasurement) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeStationMeasurement decodes JSON to StationMeasurement
func DecodeStationMeasurement(data []byte) (*StationMeasurement, error) {
	var msg StationMeasurement
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeAlertNotification encodes an AlertNotification to JSON
func EncodeAlertNotification(n *AlertNotification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeAlertNotification decodes JSON to AlertNotification
func DecodeAlertNotification(data []byte) (*AlertNotification, error) {
	var n AlertNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
