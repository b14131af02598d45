package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/arequipa/aire-server/internal/alerts"
	"github.com/arequipa/aire-server/internal/aqi"
)

func TestParseMessage_Identify(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"identify","station_id":3,"station_name":"Cercado","district":"Arequipa"}`))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}

	id, ok := msg.(*IdentifyMessage)
	if !ok {
		t.Fatalf("Expected *IdentifyMessage, got %T", msg)
	}
	if id.StationID != 3 || id.StationName != "Cercado" || id.District != "Arequipa" {
		t.Errorf("Unexpected identify message: %+v", id)
	}
}

func TestParseMessage_Measurement(t *testing.T) {
	line := `{"type":"measurement","data":{"timestamp":"2025-06-01T08:00:00Z","pm25":35.4,"no2":12.5,"humidity":55}}`

	msg, err := ParseMessage([]byte(line))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}

	m, ok := msg.(*MeasurementMessage)
	if !ok {
		t.Fatalf("Expected *MeasurementMessage, got %T", msg)
	}
	if m.Data.PM25 == nil || *m.Data.PM25 != 35.4 {
		t.Errorf("Unexpected pm25: %v", m.Data.PM25)
	}
	if m.Data.PM10 != nil {
		t.Errorf("Expected pm10 to be absent, got %v", *m.Data.PM10)
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad json":          `{"type":`,
		"unknown type":      `{"type":"reboot"}`,
		"missing station":   `{"type":"identify","station_name":"Cercado"}`,
		"missing name":      `{"type":"identify","station_id":3}`,
		"bad latitude":      `{"type":"identify","station_id":3,"station_name":"x","latitude":120}`,
		"missing timestamp": `{"type":"measurement","data":{"pm25":10}}`,
		"bad timestamp":     `{"type":"measurement","data":{"timestamp":"yesterday","pm25":10}}`,
		"negative pm10":     `{"type":"measurement","data":{"timestamp":"2025-06-01T08:00:00Z","pm10":-3}}`,
		"humidity range":    `{"type":"measurement","data":{"timestamp":"2025-06-01T08:00:00Z","humidity":140}}`,
	}

	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMessage([]byte(line))
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("Expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

func TestParseMessage_Keepalive(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"keepalive"}`))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if _, ok := msg.(*KeepaliveMessage); !ok {
		t.Errorf("Expected *KeepaliveMessage, got %T", msg)
	}
}

func TestMeasurementData_Readings(t *testing.T) {
	pm25, co := 12.0, 4000.0
	d := MeasurementData{Timestamp: "2025-06-01T08:00:00Z", PM25: &pm25, CO: &co}

	parsed, err := d.Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !parsed.MeasuredAt.Equal(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected timestamp: %v", parsed.MeasuredAt)
	}

	r := parsed.Readings()
	if len(r) != 2 || r[aqi.PM25] != 12.0 || r[aqi.CO] != 4000.0 {
		t.Errorf("Unexpected readings: %v", r)
	}
}

func TestStationMeasurement_RoundTrip(t *testing.T) {
	pm10 := 80.0
	msg := &StationMeasurement{
		ConnectionID: "c-1",
		StationID:    12,
		StationName:  "Yura",
		ReceivedAt:   time.Date(2025, 6, 1, 8, 0, 1, 0, time.UTC),
		Data:         MeasurementData{Timestamp: "2025-06-01T08:00:00Z", PM10: &pm10},
	}

	data, err := EncodeStationMeasurement(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := DecodeStationMeasurement(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Key() != "12" || got.Data.PM10 == nil || *got.Data.PM10 != 80 {
		t.Errorf("Unexpected decoded message: %+v", got)
	}
}

func TestNewAlertNotification(t *testing.T) {
	rec := alerts.Record{ID: 5, UserID: 7, Severity: alerts.SeverityAlta, Pollutant: "PM2.5"}
	res := &aqi.Result{Index: 155, Category: aqi.Unhealthy}

	n := NewAlertNotification(rec, res)
	if n.Type != AlertTypeCreated || n.ID == "" {
		t.Errorf("Unexpected notification header: %+v", n)
	}
	if n.Key() != "7" {
		t.Errorf("Expected key 7, got %s", n.Key())
	}
	if n.AQI == nil || *n.AQI != 155 || n.AQICategory != "Insalubre" {
		t.Errorf("Unexpected AQI fields: %v %s", n.AQI, n.AQICategory)
	}

	data, err := EncodeAlertNotification(n)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeAlertNotification(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Alert.Severity != alerts.SeverityAlta {
		t.Errorf("Expected ALTA after decode, got %s", decoded.Alert.Severity)
	}
}
