package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// MessageType represents the type of message
type MessageType string

const (
	// Station to Server
	MsgTypeIdentify    MessageType = "identify"
	MsgTypeMeasurement MessageType = "measurement"
	MsgTypeKeepalive   MessageType = "keepalive"

	// Server to Station
	MsgTypeAck MessageType = "ack"
)

// ErrInvalidMessage wraps every validation failure of a station message
var ErrInvalidMessage = errors.New("invalid message")

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// IdentifyMessage is sent by a monitoring station on connection
type IdentifyMessage struct {
	Type        MessageType `json:"type"`
	StationID   int64       `json:"station_id"`
	StationName string      `json:"station_name"`
	District    string      `json:"district,omitempty"`
	Latitude    *float64    `json:"latitude,omitempty"`
	Longitude   *float64    `json:"longitude,omitempty"`
}

// MeasurementData is one sampling of a station. Pollutants are in µg/m³;
// a nil pollutant was not measured.
type MeasurementData struct {
	Timestamp     string   `json:"timestamp"`
	PM25          *float64 `json:"pm25,omitempty"`
	PM10          *float64 `json:"pm10,omitempty"`
	NO2           *float64 `json:"no2,omitempty"`
	O3            *float64 `json:"o3,omitempty"`
	CO            *float64 `json:"co,omitempty"`
	SO2           *float64 `json:"so2,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	Pressure      *float64 `json:"pressure,omitempty"`
	WindSpeed     *float64 `json:"wind_speed,omitempty"`
	WindDirection *float64 `json:"wind_direction,omitempty"`
	Source        string   `json:"source,omitempty"`
	Reliability   *float64 `json:"reliability,omitempty"`
}

// MeasurementMessage is sent by the station at each sampling interval
type MeasurementMessage struct {
	Type MessageType     `json:"type"`
	Data MeasurementData `json:"data"`
}

// KeepaliveMessage is sent by the station between samplings
type KeepaliveMessage struct {
	Type MessageType `json:"type"`
}

// AckMessage is sent by the server in response to messages
type AckMessage struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// AckStatus constants
const (
	AckStatusIdentified = "identified"
	AckStatusAccepted   = "accepted"
	AckStatusAlive      = "alive"
	AckStatusError      = "error"
)

// ParseMessage parses a JSON line into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrInvalidMessage, err)
	}

	switch base.Type {
	case MsgTypeIdentify:
		var msg IdentifyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: identify: %v", ErrInvalidMessage, err)
		}
		if err := validateIdentify(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeMeasurement:
		var msg MeasurementMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: measurement: %v", ErrInvalidMessage, err)
		}
		if err := msg.Data.Validate(); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeKeepalive:
		return &KeepaliveMessage{Type: MsgTypeKeepalive}, nil

	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, base.Type)
	}
}

func validateIdentify(msg *IdentifyMessage) error {
	if msg.StationID <= 0 {
		return fmt.Errorf("%w: station_id is required", ErrInvalidMessage)
	}
	if msg.StationName == "" {
		return fmt.Errorf("%w: station_name is required", ErrInvalidMessage)
	}
	if msg.Latitude != nil && (*msg.Latitude < -90 || *msg.Latitude > 90) {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidMessage)
	}
	if msg.Longitude != nil && (*msg.Longitude < -180 || *msg.Longitude > 180) {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidMessage)
	}
	return nil
}

// Validate checks the timestamp and rejects negative or non-finite
// pollutant concentrations
func (d *MeasurementData) Validate() error {
	if d.Timestamp == "" {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidMessage)
	}
	if _, err := time.Parse(time.RFC3339, d.Timestamp); err != nil {
		return fmt.Errorf("%w: timestamp must be RFC3339: %v", ErrInvalidMessage, err)
	}

	for name, v := range d.pollutants() {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return fmt.Errorf("%w: %s is not a number", ErrInvalidMessage, name)
		}
		if *v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidMessage, name)
		}
	}

	if d.Humidity != nil && (*d.Humidity < 0 || *d.Humidity > 100) {
		return fmt.Errorf("%w: humidity must be between 0 and 100", ErrInvalidMessage)
	}
	if d.Reliability != nil && (*d.Reliability < 0 || *d.Reliability > 1) {
		return fmt.Errorf("%w: reliability must be between 0 and 1", ErrInvalidMessage)
	}
	return nil
}

func (d *MeasurementData) pollutants() map[string]*float64 {
	return map[string]*float64{
		"pm25": d.PM25,
		"pm10": d.PM10,
		"no2":  d.NO2,
		"o3":   d.O3,
		"co":   d.CO,
		"so2":  d.SO2,
	}
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

// NewAckMessage creates a new acknowledgment message
func NewAckMessage(status string) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: status,
	}
}

// NewErrorAck creates an error acknowledgment carrying a reason
func NewErrorAck(reason string) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: AckStatusError,
		Error:  reason,
	}
}
