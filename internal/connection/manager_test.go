package connection

import (
	"errors"
	"net"
	"testing"
	"time"
)

var (
	cercado   = Station{ID: 1, Name: "Cercado", District: "Cercado"}
	yanahuara = Station{ID: 2, Name: "Yanahuara"}
	cayma     = Station{ID: 3, Name: "Cayma"}
)

func newTestManager(max int, now *time.Time) *Manager {
	m := NewManager(max)
	m.now = func() time.Time { return *now }
	return m
}

func pipe(t *testing.T) net.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a
}

func TestManager_Register(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	m := newTestManager(10, &now)

	s, err := m.Register("conn1", cercado, pipe(t))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !s.ConnectedAt.Equal(now) || !s.LastSeen().Equal(now) {
		t.Errorf("Unexpected timestamps: %v %v", s.ConnectedAt, s.LastSeen())
	}

	got, ok := m.Get("conn1")
	if !ok || got.Station.Name != "Cercado" {
		t.Fatalf("Session not found: %+v", got)
	}

	if _, err := m.Register("conn1", cercado, pipe(t)); !errors.Is(err, ErrDuplicateConnection) {
		t.Errorf("Expected ErrDuplicateConnection, got %v", err)
	}
}

func TestManager_RegisterMaxConnections(t *testing.T) {
	m := NewManager(2)

	m.Register("conn1", cercado, pipe(t))
	m.Register("conn2", yanahuara, pipe(t))

	if _, err := m.Register("conn3", cayma, pipe(t)); !errors.Is(err, ErrMaxConnectionsReached) {
		t.Errorf("Expected ErrMaxConnectionsReached, got %v", err)
	}
}

func TestManager_Unregister(t *testing.T) {
	m := NewManager(10)

	m.Register("conn1", cercado, pipe(t))
	m.Register("conn2", cercado, pipe(t))
	m.Register("conn3", cayma, pipe(t))

	if err := m.Unregister("conn1"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if ids := m.ByStation(cercado.ID); len(ids) != 1 || ids[0] != "conn2" {
		t.Errorf("Expected conn2 left for station 1, got %v", ids)
	}

	m.Unregister("conn3")
	if got := m.Stations(); len(got) != 1 || got[0] != cercado.ID {
		t.Errorf("Expected only station 1 connected, got %v", got)
	}

	if err := m.Unregister("conn3"); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("Expected ErrUnknownConnection, got %v", err)
	}
}

func TestManager_TouchAndInactive(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	m := newTestManager(10, &now)

	m.Register("conn1", cercado, pipe(t))
	m.Register("conn2", yanahuara, pipe(t))

	now = now.Add(3 * time.Minute)
	if err := m.Touch("conn2"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	inactive := m.Inactive(2 * time.Minute)
	if len(inactive) != 1 || inactive[0] != "conn1" {
		t.Errorf("Expected conn1 inactive, got %v", inactive)
	}

	s, _ := m.Get("conn2")
	if s.Received() != 1 || !s.LastSeen().Equal(now) {
		t.Errorf("Unexpected activity: received=%d last=%v", s.Received(), s.LastSeen())
	}

	if err := m.Touch("missing"); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("Expected ErrUnknownConnection, got %v", err)
	}
}

func TestManager_Stats(t *testing.T) {
	m := NewManager(100)

	m.Register("conn1", cercado, pipe(t))
	m.Register("conn2", cercado, pipe(t))
	m.Register("conn3", cayma, pipe(t))

	stats := m.Stats()
	if stats.Sessions != 3 {
		t.Errorf("Expected 3 sessions, got %d", stats.Sessions)
	}
	if stats.Stations != 2 {
		t.Errorf("Expected 2 stations, got %d", stats.Stations)
	}
	if stats.MaxConnections != 100 {
		t.Errorf("Expected max 100, got %d", stats.MaxConnections)
	}
}

func TestManager_CloseAll(t *testing.T) {
	m := NewManager(10)
	a, b := net.Pipe()
	defer b.Close()

	m.Register("conn1", cercado, a)
	m.CloseAll()

	if _, err := a.Write([]byte("x")); err == nil {
		t.Error("Expected write on a closed session to fail")
	}
	if m.Count() != 1 {
		t.Errorf("CloseAll must not unregister, got %d sessions", m.Count())
	}
}
