package aqi

import "math"

// Breakpoint is one segment of a pollutant's index scale
type Breakpoint struct {
	ConcLow   float64
	ConcHigh  float64
	IndexLow  int
	IndexHigh int
}

// Table holds the breakpoints for one pollutant. Factor converts µg/m³
// into the table unit before lookup.
type Table struct {
	Pollutant   Pollutant
	Unit        string
	Factor      float64
	Breakpoints []Breakpoint
}

var tables = map[Pollutant]Table{
	PM25: {
		Pollutant: PM25,
		Unit:      "µg/m³",
		Factor:    1,
		Breakpoints: []Breakpoint{
			{0.0, 12.0, 0, 50},
			{12.1, 35.4, 51, 100},
			{35.5, 55.4, 101, 150},
			{55.5, 150.4, 151, 200},
			{150.5, 250.4, 201, 300},
			{250.5, 500.4, 301, 500},
		},
	},
	PM10: {
		Pollutant: PM10,
		Unit:      "µg/m³",
		Factor:    1,
		Breakpoints: []Breakpoint{
			{0, 54, 0, 50},
			{55, 154, 51, 100},
			{155, 254, 101, 150},
			{255, 354, 151, 200},
			{355, 424, 201, 300},
			{425, 604, 301, 500},
		},
	},
	NO2: {
		Pollutant: NO2,
		Unit:      "ppb",
		Factor:    0.532,
		Breakpoints: []Breakpoint{
			{0, 53, 0, 50},
			{54, 100, 51, 100},
			{101, 360, 101, 150},
			{361, 649, 151, 200},
			{650, 1249, 201, 300},
			{1250, 2049, 301, 500},
		},
	},
	O3: {
		Pollutant: O3,
		Unit:      "ppb",
		Factor:    0.5,
		Breakpoints: []Breakpoint{
			{0, 54, 0, 50},
			{55, 70, 51, 100},
			{71, 85, 101, 150},
			{86, 105, 151, 200},
			{106, 200, 201, 300},
			{201, 504, 301, 500},
		},
	},
	CO: {
		Pollutant: CO,
		Unit:      "ppm",
		Factor:    0.000873,
		Breakpoints: []Breakpoint{
			{0.0, 4.4, 0, 50},
			{4.5, 9.4, 51, 100},
			{9.5, 12.4, 101, 150},
			{12.5, 15.4, 151, 200},
			{15.5, 30.4, 201, 300},
			{30.5, 50.4, 301, 500},
		},
	},
}

// MaxIndex caps extrapolation above the top band
const MaxIndex = math.MaxInt32

// segment returns the first breakpoint whose upper bound holds the
// converted concentration. Anything above the top band uses the top band.
func (t Table) segment(conc float64) Breakpoint {
	for _, bp := range t.Breakpoints {
		if conc <= bp.ConcHigh {
			return bp
		}
	}
	return t.Breakpoints[len(t.Breakpoints)-1]
}

// subIndex interpolates a concentration already expressed in the table unit.
// Values between two published segments snap to the upper segment's floor.
func (t Table) subIndex(conc float64) int {
	bp := t.segment(conc)
	if conc < bp.ConcLow {
		conc = bp.ConcLow
	}
	slope := float64(bp.IndexHigh-bp.IndexLow) / (bp.ConcHigh - bp.ConcLow)
	v := math.Round(slope*(conc-bp.ConcLow) + float64(bp.IndexLow))
	if v > MaxIndex {
		return MaxIndex
	}
	return int(v)
}
