package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// memoryLookup stores created alerts the way a real store would
type memoryLookup struct {
	mu      sync.Mutex
	records []Record
	nextID  int64
	calls   int
}

func (m *memoryLookup) FindSimilarAlerts(ctx context.Context, userID int64, alertType Type, pollutant string, since time.Time) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	var out []Record
	for _, r := range m.records {
		if r.UserID == userID && r.Type == alertType && r.Pollutant == pollutant && !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryLookup) save(r *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	m.records = append(m.records, *r)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine() (*Engine, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	e := NewEngine(4 * time.Hour)
	e.Now = clock.Now
	return e, clock
}

func TestSeverityForRatio(t *testing.T) {
	tests := []struct {
		ratio float64
		want  Severity
	}{
		{1.0001, SeverityBaja},
		{1.05, SeverityBaja},
		{1.1, SeverityMedia},
		{1.49, SeverityMedia},
		{1.5, SeverityAlta},
		{1.99, SeverityAlta},
		{2.0, SeverityCritica},
		{2.25, SeverityCritica},
		{40, SeverityCritica},
	}

	for _, tt := range tests {
		if got := SeverityForRatio(tt.ratio); got != tt.want {
			t.Errorf("SeverityForRatio(%g) = %s, want %s", tt.ratio, got, tt.want)
		}
	}
}

func TestSeverityForRatio_Monotonic(t *testing.T) {
	prev := SeverityForRatio(0)
	for r := 0.0; r <= 5; r += 0.001 {
		cur := SeverityForRatio(r)
		if cur < prev {
			t.Fatalf("Severity decreased at ratio %g: %s < %s", r, cur, prev)
		}
		prev = cur
	}
}

func TestSeverityFor_MissingOperands(t *testing.T) {
	v := 90.0
	if got := SeverityFor(nil, &v); got != SeverityMedia {
		t.Errorf("Expected MEDIA for nil value, got %s", got)
	}
	if got := SeverityFor(&v, nil); got != SeverityMedia {
		t.Errorf("Expected MEDIA for nil threshold, got %s", got)
	}
	th := 40.0
	if got := SeverityFor(&v, &th); got != SeverityCritica {
		t.Errorf("Expected CRITICA, got %s", got)
	}
}

func TestSeverity_Colors(t *testing.T) {
	tests := map[Severity]string{
		SeverityBaja:    "#28a745",
		SeverityMedia:   "#ffc107",
		SeverityAlta:    "#fd7e14",
		SeverityCritica: "#dc3545",
		Severity(99):    "#6c757d",
	}
	for sev, want := range tests {
		if got := sev.Color(); got != want {
			t.Errorf("%s.Color() = %s, want %s", sev, got, want)
		}
	}
}

func TestSeverity_JSON(t *testing.T) {
	data, err := json.Marshal(Record{Severity: SeverityAlta})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if r.Severity != SeverityAlta {
		t.Errorf("Expected ALTA, got %s", r.Severity)
	}

	if _, err := ParseSeverity("URGENTE"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestEngine_Evaluate_CreatesAlert(t *testing.T) {
	e, clock := newTestEngine()
	store := &memoryLookup{}
	station := int64(3)

	dec, err := e.Evaluate(context.Background(), Request{
		UserID:        7,
		StationID:     &station,
		StationName:   "Cercado",
		Pollutant:     "PM2.5",
		MeasuredValue: 90,
		Threshold:     40,
	}, store)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if dec.Outcome != OutcomeCreated {
		t.Fatalf("Expected created, got %s", dec.Outcome)
	}

	a := dec.Alert
	if a.Severity != SeverityCritica {
		t.Errorf("Expected CRITICA, got %s", a.Severity)
	}
	if a.Color != "#dc3545" {
		t.Errorf("Expected color #dc3545, got %s", a.Color)
	}
	if a.Title != "Alerta de PM2.5" {
		t.Errorf("Unexpected title: %s", a.Title)
	}
	want := "El nivel de PM2.5 en Cercado ha alcanzado 90.0 μg/m³, superando su umbral configurado de 40.0 μg/m³"
	if a.Message != want {
		t.Errorf("Unexpected message:\n got: %s\nwant: %s", a.Message, want)
	}
	if a.Read || a.ReadAt != nil {
		t.Error("New alert should be unread")
	}
	if a.Type != TypeAirQuality {
		t.Errorf("Expected type %s, got %s", TypeAirQuality, a.Type)
	}
	if !a.CreatedAt.Equal(clock.now) {
		t.Errorf("Expected created at %v, got %v", clock.now, a.CreatedAt)
	}
}

func TestEngine_Evaluate_LowSeverity(t *testing.T) {
	e, _ := newTestEngine()

	dec, err := e.Evaluate(context.Background(), Request{UserID: 7, Pollutant: "NO2", MeasuredValue: 42, Threshold: 40}, &memoryLookup{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if dec.Outcome != OutcomeCreated || dec.Alert.Severity != SeverityBaja {
		t.Fatalf("Expected created BAJA alert, got %s %+v", dec.Outcome, dec.Alert)
	}
	if dec.Alert.Message != "El nivel de NO2 en su zona ha alcanzado 42.0 μg/m³, superando su umbral configurado de 40.0 μg/m³" {
		t.Errorf("Unexpected message: %s", dec.Alert.Message)
	}
}

func TestEngine_Evaluate_NoBreach(t *testing.T) {
	e, _ := newTestEngine()
	store := &memoryLookup{}

	for _, v := range []float64{0, 39.9, 40} {
		dec, err := e.Evaluate(context.Background(), Request{UserID: 7, Pollutant: "PM10", MeasuredValue: v, Threshold: 40}, store)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if dec.Outcome != OutcomeNoBreach || dec.Alert != nil {
			t.Errorf("Expected no breach for %g, got %s", v, dec.Outcome)
		}
	}

	if store.calls != 0 {
		t.Errorf("Lookup should not be called without a breach, called %d times", store.calls)
	}
}

func TestEngine_Evaluate_InvalidInput(t *testing.T) {
	e, _ := newTestEngine()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"zero threshold", Request{UserID: 7, Pollutant: "PM2.5", MeasuredValue: 10, Threshold: 0}, ErrInvalidThreshold},
		{"negative threshold", Request{UserID: 7, Pollutant: "PM2.5", MeasuredValue: 10, Threshold: -5}, ErrInvalidThreshold},
		{"missing user", Request{Pollutant: "PM2.5", MeasuredValue: 10, Threshold: 5}, ErrMissingUser},
		{"missing pollutant", Request{UserID: 7, MeasuredValue: 10, Threshold: 5}, ErrMissingPollutant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Evaluate(context.Background(), tt.req, &memoryLookup{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Expected error to wrap ErrInvalidInput")
			}
		})
	}
}

func TestEngine_Evaluate_RequiresLookup(t *testing.T) {
	e, _ := newTestEngine()

	_, err := e.Evaluate(context.Background(), Request{UserID: 7, Pollutant: "PM2.5", MeasuredValue: 60, Threshold: 25}, nil)
	if !errors.Is(err, ErrMissingLookup) {
		t.Fatalf("Expected ErrMissingLookup, got %v", err)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected error to wrap ErrInvalidInput")
	}
}

func TestEngine_Evaluate_SuppressesWithinWindow(t *testing.T) {
	e, clock := newTestEngine()
	store := &memoryLookup{}
	req := Request{UserID: 7, Pollutant: "PM2.5", MeasuredValue: 60, Threshold: 25}

	first, err := e.Evaluate(context.Background(), req, store)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if first.Outcome != OutcomeCreated {
		t.Fatalf("Expected created, got %s", first.Outcome)
	}
	store.save(first.Alert)

	clock.Advance(time.Hour)
	second, err := e.Evaluate(context.Background(), req, store)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if second.Outcome != OutcomeSuppressed {
		t.Fatalf("Expected suppressed, got %s", second.Outcome)
	}
	if second.Alert.ID != first.Alert.ID {
		t.Errorf("Expected alert %d, got %d", first.Alert.ID, second.Alert.ID)
	}
	if len(store.records) != 1 {
		t.Errorf("Expected one stored alert, got %d", len(store.records))
	}
}

func TestEngine_Evaluate_CreatesAfterWindow(t *testing.T) {
	e, clock := newTestEngine()
	store := &memoryLookup{}
	req := Request{UserID: 7, Pollutant: "PM2.5", MeasuredValue: 60, Threshold: 25}

	first, _ := e.Evaluate(context.Background(), req, store)
	store.save(first.Alert)

	clock.Advance(4*time.Hour + time.Second)
	second, err := e.Evaluate(context.Background(), req, store)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if second.Outcome != OutcomeCreated {
		t.Fatalf("Expected created after window, got %s", second.Outcome)
	}
}

func TestEngine_Evaluate_KeyedByUserAndPollutant(t *testing.T) {
	e, _ := newTestEngine()
	store := &memoryLookup{}

	first, _ := e.Evaluate(context.Background(), Request{UserID: 7, Pollutant: "PM2.5", MeasuredValue: 60, Threshold: 25}, store)
	store.save(first.Alert)

	other := []Request{
		{UserID: 8, Pollutant: "PM2.5", MeasuredValue: 60, Threshold: 25},
		{UserID: 7, Pollutant: "PM10", MeasuredValue: 60, Threshold: 25},
	}
	for _, req := range other {
		dec, err := e.Evaluate(context.Background(), req, store)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if dec.Outcome != OutcomeCreated {
			t.Errorf("Expected created for user %d %s, got %s", req.UserID, req.Pollutant, dec.Outcome)
		}
	}
}

func TestEngine_Evaluate_ReturnsMostRecent(t *testing.T) {
	e, clock := newTestEngine()
	older := Record{ID: 1, UserID: 7, Type: TypeAirQuality, Pollutant: "O3", CreatedAt: clock.now.Add(-3 * time.Hour)}
	newer := Record{ID: 2, UserID: 7, Type: TypeAirQuality, Pollutant: "O3", CreatedAt: clock.now.Add(-time.Hour)}

	lookup := LookupFunc(func(ctx context.Context, userID int64, alertType Type, pollutant string, since time.Time) ([]Record, error) {
		return []Record{older, newer}, nil
	})

	dec, err := e.Evaluate(context.Background(), Request{UserID: 7, Pollutant: "O3", MeasuredValue: 200, Threshold: 100}, lookup)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if dec.Outcome != OutcomeSuppressed || dec.Alert.ID != 2 {
		t.Errorf("Expected newest alert 2 suppressed, got %s %+v", dec.Outcome, dec.Alert)
	}
}

func TestEngine_Evaluate_LookupError(t *testing.T) {
	e, _ := newTestEngine()
	boom := errors.New("store unavailable")

	lookup := LookupFunc(func(ctx context.Context, userID int64, alertType Type, pollutant string, since time.Time) ([]Record, error) {
		return nil, boom
	})

	_, err := e.Evaluate(context.Background(), Request{UserID: 7, Pollutant: "CO", MeasuredValue: 20000, Threshold: 10000}, lookup)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped lookup error, got %v", err)
	}
}

func TestEngine_Evaluate_LookupWindow(t *testing.T) {
	e, clock := newTestEngine()
	var gotSince time.Time

	lookup := LookupFunc(func(ctx context.Context, userID int64, alertType Type, pollutant string, since time.Time) ([]Record, error) {
		gotSince = since
		if alertType != TypeAirQuality {
			t.Errorf("Expected lookup for %s, got %s", TypeAirQuality, alertType)
		}
		return nil, nil
	})

	if _, err := e.Evaluate(context.Background(), Request{UserID: 7, Pollutant: "CO", MeasuredValue: 20000, Threshold: 10000}, lookup); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if want := clock.now.Add(-4 * time.Hour); !gotSince.Equal(want) {
		t.Errorf("Expected since %v, got %v", want, gotSince)
	}
}

func TestEngine_Evaluate_AQIThresholdMessage(t *testing.T) {
	e, _ := newTestEngine()

	dec, err := e.Evaluate(context.Background(), Request{UserID: 7, StationName: "Yura", Pollutant: AQIMetric, MeasuredValue: 152, Threshold: 100}, &memoryLookup{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	want := "El nivel de AQI en Yura ha alcanzado 152, superando su umbral configurado de 100"
	if dec.Alert.Message != want {
		t.Errorf("Unexpected message: %s", dec.Alert.Message)
	}
	if dec.Alert.Severity != SeverityAlta {
		t.Errorf("Expected ALTA, got %s", dec.Alert.Severity)
	}
}

func TestRecord_MarkRead(t *testing.T) {
	r := Record{}
	first := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	r.MarkRead(first)
	if !r.Read || r.ReadAt == nil || !r.ReadAt.Equal(first) {
		t.Fatalf("Expected read at %v, got %+v", first, r)
	}

	r.MarkRead(first.Add(time.Hour))
	if !r.ReadAt.Equal(first) {
		t.Errorf("Read time changed on second MarkRead: %v", r.ReadAt)
	}
}

func TestThreshold_AppliesTo(t *testing.T) {
	station := int64(4)
	all := Threshold{UserID: 1, Pollutant: "PM10", Value: 50}
	one := Threshold{UserID: 1, StationID: &station, Pollutant: "PM10", Value: 50}

	if !all.AppliesTo(9) {
		t.Error("Threshold without station should apply everywhere")
	}
	if !one.AppliesTo(4) || one.AppliesTo(9) {
		t.Error("Station threshold applied to the wrong station")
	}
}
