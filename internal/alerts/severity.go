package alerts

import (
	"fmt"
	"strings"
)

// Severity is the urgency of an alert, ordered from BAJA to CRITICA
type Severity int

const (
	SeverityBaja Severity = iota + 1
	SeverityMedia
	SeverityAlta
	SeverityCritica
)

const defaultSeverityColor = "#6c757d"

var severityNames = map[Severity]string{
	SeverityBaja:    "BAJA",
	SeverityMedia:   "MEDIA",
	SeverityAlta:    "ALTA",
	SeverityCritica: "CRITICA",
}

var severityColors = map[Severity]string{
	SeverityBaja:    "#28a745",
	SeverityMedia:   "#ffc107",
	SeverityAlta:    "#fd7e14",
	SeverityCritica: "#dc3545",
}

// ratioLadder is checked top-down; the first floor the ratio reaches wins
var ratioLadder = []struct {
	floor    float64
	severity Severity
}{
	{2.0, SeverityCritica},
	{1.5, SeverityAlta},
	{1.1, SeverityMedia},
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Color returns the display colour, grey for unknown values
func (s Severity) Color() string {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return defaultSeverityColor
}

// ParseSeverity parses a stored severity name
func ParseSeverity(s string) (Severity, error) {
	for sev, name := range severityNames {
		if strings.EqualFold(name, s) {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, s)
}

// SeverityForRatio grades how far a value is above its threshold
func SeverityForRatio(ratio float64) Severity {
	for _, step := range ratioLadder {
		if ratio >= step.floor {
			return step.severity
		}
	}
	return SeverityBaja
}

// SeverityFor grades a value against a threshold. Missing operands fall
// back to MEDIA.
func SeverityFor(value, threshold *float64) Severity {
	if value == nil || threshold == nil || *threshold <= 0 {
		return SeverityMedia
	}
	return SeverityForRatio(*value / *threshold)
}

// MarshalText encodes the severity by name
func (s Severity) MarshalText() ([]byte, error) {
	if _, ok := severityNames[s]; !ok {
		return nil, fmt.Errorf("%w: unknown severity %d", ErrInvalidInput, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name
func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
