package alarming

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arequipa/aire-server/internal/alerts"
	"github.com/arequipa/aire-server/internal/aqi"
)

// ThresholdSource supplies the thresholds that cover a station
type ThresholdSource interface {
	ActiveThresholds(ctx context.Context, stationID int64) ([]alerts.Threshold, error)
}

// DefaultThresholds are the limits offered to users who do not pick
// their own, in µg/m³ (index points for AQI)
var DefaultThresholds = map[string]float64{
	string(aqi.PM25): 25,
	string(aqi.PM10): 50,
	string(aqi.NO2):  40,
	string(aqi.O3):   100,
	string(aqi.CO):   10000,
	alerts.AQIMetric: 100,
}

// NormalizeMetric maps a configured pollutant name to its canonical form
func NormalizeMetric(name string) (string, error) {
	if name == alerts.AQIMetric || name == "aqi" {
		return alerts.AQIMetric, nil
	}
	p, err := aqi.ParsePollutant(name)
	if err != nil {
		return "", err
	}
	if !p.Scored() {
		return "", fmt.Errorf("pollutant %s is not scored", p)
	}
	return string(p), nil
}

// ThresholdFile is the YAML layout of a threshold file
type ThresholdFile struct {
	Defaults      map[string]float64 `yaml:"defaults"`
	Subscriptions []Subscription     `yaml:"subscriptions"`
}

// Subscription lists the thresholds of one user. Empty Stations means
// every station; empty Pollutants means every default.
type Subscription struct {
	UserID     int64              `yaml:"user_id"`
	Stations   []int64            `yaml:"stations"`
	Pollutants []string           `yaml:"pollutants"`
	Overrides  map[string]float64 `yaml:"overrides"`
}

// FileThresholds serves thresholds loaded from a YAML file
type FileThresholds struct {
	defaults      map[string]float64
	subscriptions []Subscription
}

// LoadThresholdFile reads and validates a threshold file
func LoadThresholdFile(path string) (*FileThresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseThresholds(data)
}

// ParseThresholds parses YAML threshold data. File defaults are merged
// over DefaultThresholds.
func ParseThresholds(data []byte) (*FileThresholds, error) {
	var file ThresholdFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid threshold file: %w", err)
	}

	defaults, err := normalizeValues(file.Defaults)
	if err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	merged := make(map[string]float64, len(DefaultThresholds))
	for k, v := range DefaultThresholds {
		merged[k] = v
	}
	for k, v := range defaults {
		merged[k] = v
	}

	ft := &FileThresholds{defaults: merged}
	for i, sub := range file.Subscriptions {
		if sub.UserID <= 0 {
			return nil, fmt.Errorf("subscription %d: user_id is required", i)
		}

		overrides, err := normalizeValues(sub.Overrides)
		if err != nil {
			return nil, fmt.Errorf("subscription %d: %w", i, err)
		}
		sub.Overrides = overrides

		pollutants := make([]string, 0, len(sub.Pollutants))
		for _, name := range sub.Pollutants {
			metric, err := NormalizeMetric(name)
			if err != nil {
				return nil, fmt.Errorf("subscription %d: %w", i, err)
			}
			pollutants = append(pollutants, metric)
		}
		sub.Pollutants = pollutants

		ft.subscriptions = append(ft.subscriptions, sub)
	}

	return ft, nil
}

func normalizeValues(in map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(in))
	for name, v := range in {
		metric, err := NormalizeMetric(name)
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, fmt.Errorf("threshold for %s must be positive, got %g", metric, v)
		}
		out[metric] = v
	}
	return out, nil
}

// ActiveThresholds returns every threshold covering stationID
func (f *FileThresholds) ActiveThresholds(ctx context.Context, stationID int64) ([]alerts.Threshold, error) {
	var out []alerts.Threshold
	for _, sub := range f.subscriptions {
		if !coversStation(sub.Stations, stationID) {
			continue
		}

		pollutants := sub.Pollutants
		if len(pollutants) == 0 {
			for name := range f.defaults {
				pollutants = append(pollutants, name)
			}
			sort.Strings(pollutants)
		}

		for _, p := range pollutants {
			value, ok := sub.Overrides[p]
			if !ok {
				value = f.defaults[p]
			}
			out = append(out, alerts.Threshold{UserID: sub.UserID, Pollutant: p, Value: value})
		}
	}
	return out, nil
}

func coversStation(stations []int64, stationID int64) bool {
	if len(stations) == 0 {
		return true
	}
	for _, id := range stations {
		if id == stationID {
			return true
		}
	}
	return false
}

// CachedThresholds keeps thresholds per station for ttl
type CachedThresholds struct {
	source ThresholdSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[int64]thresholdEntry
}

type thresholdEntry struct {
	thresholds []alerts.Threshold
	loadedAt   time.Time
}

// NewCachedThresholds wraps source with a per-station cache
func NewCachedThresholds(source ThresholdSource, ttl time.Duration) *CachedThresholds {
	return &CachedThresholds{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]thresholdEntry),
	}
}

// ActiveThresholds returns cached thresholds or reloads them from source
func (c *CachedThresholds) ActiveThresholds(ctx context.Context, stationID int64) ([]alerts.Threshold, error) {
	if c.source == nil {
		return nil, errors.New("threshold cache: nil source")
	}

	c.mu.Lock()
	entry, ok := c.entries[stationID]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.loadedAt) < c.ttl {
		return entry.thresholds, nil
	}

	thresholds, err := c.source.ActiveThresholds(ctx, stationID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[stationID] = thresholdEntry{thresholds: thresholds, loadedAt: c.now()}
	c.mu.Unlock()

	return thresholds, nil
}
