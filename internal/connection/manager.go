package connection

import (
	"errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrMaxConnectionsReached = errors.New("maximum connections reached")
	ErrDuplicateConnection   = errors.New("connection already registered")
	ErrUnknownConnection     = errors.New("connection not found")
)

// Station identifies the monitoring station behind a session
type Station struct {
	ID       int64
	Name     string
	District string
	Lat      *float64
	Lon      *float64
}

// Session is one identified station connection
type Session struct {
	ConnectionID string
	Station      Station
	ConnectedAt  time.Time
	Conn         net.Conn

	lastSeen atomic.Int64 // unix nanos
	received atomic.Uint64
}

// LastSeen returns when the station was last heard from
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Received returns the number of messages received on the session
func (s *Session) Received() uint64 {
	return s.received.Load()
}

func (s *Session) touch(at time.Time) {
	s.lastSeen.Store(at.UnixNano())
	s.received.Add(1)
}

// Manager tracks identified station sessions by connection and station
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byStation map[int64][]string
	maxConns  int
	now       func() time.Time
}

// NewManager creates a new connection manager
func NewManager(maxConnections int) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		byStation: make(map[int64][]string),
		maxConns:  maxConnections,
		now:       time.Now,
	}
}

// Register adds an identified station session. A station may hold more
// than one session, e.g. while a reconnect overlaps the old socket.
func (m *Manager) Register(connectionID string, st Station, conn net.Conn) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxConns {
		return nil, ErrMaxConnectionsReached
	}
	if _, exists := m.sessions[connectionID]; exists {
		return nil, ErrDuplicateConnection
	}

	now := m.now()
	s := &Session{
		ConnectionID: connectionID,
		Station:      st,
		ConnectedAt:  now,
		Conn:         conn,
	}
	s.lastSeen.Store(now.UnixNano())

	m.sessions[connectionID] = s
	m.byStation[st.ID] = append(m.byStation[st.ID], connectionID)
	return s, nil
}

// Unregister removes a session
func (m *Manager) Unregister(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[connectionID]
	if !exists {
		return ErrUnknownConnection
	}

	id := s.Station.ID
	ids := m.byStation[id]
	for i, cid := range ids {
		if cid == connectionID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(m.byStation, id)
	} else {
		m.byStation[id] = ids
	}

	delete(m.sessions, connectionID)
	return nil
}

// Get returns the session of a connection
func (m *Manager) Get(connectionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[connectionID]
	return s, ok
}

// ByStation returns the connection ids of a station
func (m *Manager) ByStation(stationID int64) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byStation[stationID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Touch records activity on a connection
func (m *Manager) Touch(connectionID string) error {
	m.mu.RLock()
	s, ok := m.sessions[connectionID]
	m.mu.RUnlock()

	if !ok {
		return ErrUnknownConnection
	}
	s.touch(m.now())
	return nil
}

// Inactive returns the connections silent for longer than timeout
func (m *Manager) Inactive(timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var out []string
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen()) > timeout {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Stations returns the ids of the connected stations in ascending order
func (m *Manager) Stations() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]int64, 0, len(m.byStation))
	for id := range m.byStation {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CloseAll closes the socket of every session. Sessions are removed by
// their connection handlers as the reads fail.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.Conn != nil {
			s.Conn.Close()
		}
	}
}

// Count returns the number of sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats returns statistics about the connection manager
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		Sessions:       len(m.sessions),
		Stations:       len(m.byStation),
		MaxConnections: m.maxConns,
	}
}

// ManagerStats contains statistics about the connection manager
type ManagerStats struct {
	Sessions       int
	Stations       int
	MaxConnections int
}
