package aqi

import (
	"fmt"
	"strings"
)

// Pollutant identifies a measured air pollutant
type Pollutant string

const (
	PM25 Pollutant = "PM2.5"
	PM10 Pollutant = "PM10"
	NO2  Pollutant = "NO2"
	O3   Pollutant = "O3"
	CO   Pollutant = "CO"
	SO2  Pollutant = "SO2"
)

// scoringOrder is the fixed evaluation order for the overall index.
// SO2 is carried on measurements but never scored.
var scoringOrder = []Pollutant{PM25, PM10, NO2, O3, CO}

// Scored reports whether the pollutant contributes to the overall index
func (p Pollutant) Scored() bool {
	_, ok := tables[p]
	return ok
}

// ParsePollutant accepts canonical names and the lower-case wire keys
func ParsePollutant(s string) (Pollutant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pm2.5", "pm25", "pm2_5":
		return PM25, nil
	case "pm10":
		return PM10, nil
	case "no2":
		return NO2, nil
	case "o3":
		return O3, nil
	case "co":
		return CO, nil
	case "so2":
		return SO2, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPollutant, s)
}

// Readings maps a pollutant to its concentration in µg/m³.
// A missing key means the pollutant was not measured.
type Readings map[Pollutant]float64

// ReadingsFrom builds Readings from nullable values, skipping nils
func ReadingsFrom(pm25, pm10, no2, o3, co, so2 *float64) Readings {
	r := make(Readings, 6)
	set := func(p Pollutant, v *float64) {
		if v != nil {
			r[p] = *v
		}
	}
	set(PM25, pm25)
	set(PM10, pm10)
	set(NO2, no2)
	set(O3, o3)
	set(CO, co)
	set(SO2, so2)
	return r
}
