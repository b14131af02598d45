package database

import (
	"time"
)

// Station represents an air quality monitoring station
type Station struct {
	ID        int64
	Name      string
	District  *string
	Lat       *float64
	Lon       *float64
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Measurement is one station sampling with its computed index.
// AQI fields are nil when no scored pollutant was measured.
type Measurement struct {
	ID                int64
	StationID         int64
	MeasuredAt        time.Time
	PM25              *float64
	PM10              *float64
	NO2               *float64
	O3                *float64
	CO                *float64
	SO2               *float64
	AQI               *int
	AQICategory       *string
	AQIColor          *string
	DominantPollutant *string
	Temperature       *float64
	Humidity          *float64
	Pressure          *float64
	WindSpeed         *float64
	WindDirection     *float64
	Source            *string
	Reliability       *float64
	ReceivedAt        time.Time
}

// HourlyAverage holds mean pollutant concentrations of one station-hour
type HourlyAverage struct {
	StationID   int64
	Hour        time.Time
	PM25        *float64
	PM10        *float64
	NO2         *float64
	O3          *float64
	CO          *float64
	SampleCount int
}

// HourlyAQI is an hourly average with the index recomputed from it
type HourlyAQI struct {
	HourlyAverage
	AQI               *int
	AQICategory       *string
	DominantPollutant *string
}

// DailySummary is the index range of one station-day
type DailySummary struct {
	StationID     int64
	Date          time.Time
	MinAQI        int
	MaxAQI        int
	AvgAQI        float64
	WorstCategory string
	HoursReported int
}
