// Package alerts decides when a pollutant reading warrants a user alert,
// grades its severity and suppresses repeats inside a dedup window.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultDedupWindow is how long a raised alert suppresses similar ones
const DefaultDedupWindow = 4 * time.Hour

var (
	// ErrInvalidInput is the parent of every caller contract violation
	ErrInvalidInput = errors.New("alerts: invalid input")

	ErrInvalidThreshold = fmt.Errorf("%w: threshold must be a positive number", ErrInvalidInput)
	ErrInvalidValue     = fmt.Errorf("%w: measured value must be a finite number", ErrInvalidInput)
	ErrMissingUser      = fmt.Errorf("%w: user is required", ErrInvalidInput)
	ErrMissingPollutant = fmt.Errorf("%w: pollutant is required", ErrInvalidInput)
	ErrMissingLookup    = fmt.Errorf("%w: dedup lookup is required", ErrInvalidInput)
)

// Lookup finds alerts of the same user, type and pollutant created at or
// after since
type Lookup interface {
	FindSimilarAlerts(ctx context.Context, userID int64, alertType Type, pollutant string, since time.Time) ([]Record, error)
}

// LookupFunc adapts a function to Lookup
type LookupFunc func(ctx context.Context, userID int64, alertType Type, pollutant string, since time.Time) ([]Record, error)

// FindSimilarAlerts calls f
func (f LookupFunc) FindSimilarAlerts(ctx context.Context, userID int64, alertType Type, pollutant string, since time.Time) ([]Record, error) {
	return f(ctx, userID, alertType, pollutant, since)
}

// Request is one measured value checked against one threshold
type Request struct {
	UserID        int64
	StationID     *int64
	StationName   string
	Pollutant     string
	MeasuredValue float64
	Threshold     float64
}

func (r Request) validate() error {
	switch {
	case r.UserID <= 0:
		return ErrMissingUser
	case r.Pollutant == "":
		return ErrMissingPollutant
	case math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) || r.Threshold <= 0:
		return fmt.Errorf("%w: %g", ErrInvalidThreshold, r.Threshold)
	case math.IsNaN(r.MeasuredValue) || math.IsInf(r.MeasuredValue, 0):
		return ErrInvalidValue
	}
	return nil
}

// Outcome tells the caller what Evaluate did
type Outcome int

const (
	// OutcomeNoBreach means the value did not exceed the threshold
	OutcomeNoBreach Outcome = iota
	// OutcomeCreated means Alert is new and must be persisted
	OutcomeCreated
	// OutcomeSuppressed means Alert is an existing alert inside the window
	OutcomeSuppressed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoBreach:
		return "no_breach"
	case OutcomeCreated:
		return "created"
	case OutcomeSuppressed:
		return "suppressed"
	}
	return "unknown"
}

// Decision is the result of evaluating a Request
type Decision struct {
	Outcome Outcome
	Alert   *Record
}

// Engine evaluates threshold breaches. It keeps no state between calls;
// deduplication relies entirely on the Lookup passed to Evaluate.
type Engine struct {
	Window time.Duration
	Now    func() time.Time
}

// NewEngine creates an engine with the given dedup window
func NewEngine(window time.Duration) *Engine {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Engine{Window: window, Now: time.Now}
}

// Evaluate checks req and either returns a new unsaved alert, the most
// recent similar alert inside the window, or no alert at all
func (e *Engine) Evaluate(ctx context.Context, req Request, lookup Lookup) (Decision, error) {
	if err := req.validate(); err != nil {
		return Decision{}, err
	}
	if lookup == nil {
		return Decision{}, ErrMissingLookup
	}

	if req.MeasuredValue <= req.Threshold {
		return Decision{Outcome: OutcomeNoBreach}, nil
	}

	now := e.now()
	similar, err := lookup.FindSimilarAlerts(ctx, req.UserID, TypeAirQuality, req.Pollutant, now.Add(-e.window()))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to look up recent alerts: %w", err)
	}
	if latest := mostRecent(similar); latest != nil {
		return Decision{Outcome: OutcomeSuppressed, Alert: latest}, nil
	}

	severity := SeverityForRatio(req.MeasuredValue / req.Threshold)
	return Decision{
		Outcome: OutcomeCreated,
		Alert: &Record{
			UserID:        req.UserID,
			StationID:     req.StationID,
			StationName:   req.StationName,
			Type:          TypeAirQuality,
			Severity:      severity,
			Title:         title(req.Pollutant),
			Message:       message(req.Pollutant, locationName(req.StationName, req.StationID), req.MeasuredValue, req.Threshold),
			MeasuredValue: req.MeasuredValue,
			Threshold:     req.Threshold,
			Pollutant:     req.Pollutant,
			Color:         severity.Color(),
			CreatedAt:     now,
		},
	}, nil
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) window() time.Duration {
	if e.Window <= 0 {
		return DefaultDedupWindow
	}
	return e.Window
}

func mostRecent(records []Record) *Record {
	if len(records) == 0 {
		return nil
	}
	latest := records[0]
	for _, r := range records[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return &latest
}
