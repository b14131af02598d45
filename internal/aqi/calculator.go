// Package aqi converts pollutant concentrations into the EPA Air Quality
// Index, its health category, display colour and recommendation.
package aqi

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNoData is returned when no scored pollutant was measured
	ErrNoData = errors.New("aqi: no pollutant readings")

	// ErrInvalidInput is the parent of every input validation error
	ErrInvalidInput = errors.New("aqi: invalid input")

	ErrNegativeConcentration = fmt.Errorf("%w: negative concentration", ErrInvalidInput)
	ErrNonFiniteValue        = fmt.Errorf("%w: concentration is not finite", ErrInvalidInput)
	ErrUnknownPollutant      = fmt.Errorf("%w: unknown pollutant", ErrInvalidInput)
)

// Result is the overall index for one set of readings
type Result struct {
	Index          int
	Dominant       Pollutant
	Category       Category
	Color          string
	Recommendation string
	SubIndices     map[Pollutant]int
}

// Calculator computes index values from the static breakpoint tables.
// It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	tables map[Pollutant]Table
	order  []Pollutant
}

// NewCalculator creates a calculator over the EPA tables
func NewCalculator() *Calculator {
	return &Calculator{tables: tables, order: scoringOrder}
}

var defaultCalculator = NewCalculator()

// Compute is a shorthand for the default calculator's Compute
func Compute(r Readings) (Result, error) {
	return defaultCalculator.Compute(r)
}

// Compute returns the highest sub-index across the measured pollutants.
// Pollutants are scored in a fixed order and a later pollutant only takes
// over as dominant with a strictly greater sub-index.
func (c *Calculator) Compute(r Readings) (Result, error) {
	var (
		res   = Result{SubIndices: make(map[Pollutant]int, len(c.order))}
		found bool
	)

	for _, p := range c.order {
		conc, ok := r[p]
		if !ok {
			continue
		}

		idx, err := c.SubIndex(p, conc)
		if err != nil {
			return Result{}, err
		}
		res.SubIndices[p] = idx

		if !found || idx > res.Index {
			res.Index = idx
			res.Dominant = p
			found = true
		}
	}

	if !found {
		return Result{}, ErrNoData
	}

	res.Category = CategoryFor(res.Index)
	res.Color = res.Category.Color()
	res.Recommendation = res.Category.Recommendation()
	return res, nil
}

// SubIndex converts a µg/m³ concentration to the pollutant's table unit
// and interpolates its sub-index
func (c *Calculator) SubIndex(p Pollutant, conc float64) (int, error) {
	t, ok := c.tables[p]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPollutant, p)
	}
	if math.IsNaN(conc) || math.IsInf(conc, 0) {
		return 0, fmt.Errorf("%w: %s", ErrNonFiniteValue, p)
	}
	if conc < 0 {
		return 0, fmt.Errorf("%w: %s=%g", ErrNegativeConcentration, p, conc)
	}
	return t.subIndex(conc * t.Factor), nil
}

