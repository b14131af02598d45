package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arequipa/aire-server/internal/connection"
	"github.com/arequipa/aire-server/internal/logger"
	"github.com/arequipa/aire-server/internal/metrics"
	"github.com/arequipa/aire-server/internal/protocol"
	"github.com/arequipa/aire-server/internal/scheduler"
	"github.com/arequipa/aire-server/pkg/config"
)

// Publisher sends encoded measurements downstream
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// TCPServer accepts monitoring stations speaking the line protocol and
// publishes their measurements keyed by station
type TCPServer struct {
	config    config.TCPServerConfig
	sessions  *connection.Manager
	scheduler *scheduler.Scheduler
	publisher Publisher
	listener  net.Listener
	log       zerolog.Logger

	wg     sync.WaitGroup
	stopCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTCPServer creates a new TCP server
func NewTCPServer(cfg config.TCPServerConfig, sessions *connection.Manager, sched *scheduler.Scheduler, publisher Publisher) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPServer{
		config:    cfg,
		sessions:  sessions,
		scheduler: sched,
		publisher: publisher,
		log:       logger.WithComponent("tcp-server"),
		stopCh:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start listens on the configured port and accepts stations
func (s *TCPServer) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener
	s.log.Info().Str("addr", listener.Addr().String()).Msg("TCP server listening")

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Addr returns the listening address
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every session, then waits for handlers
func (s *TCPServer) Stop() {
	close(s.stopCh)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}
	s.sessions.CloseAll()

	s.wg.Wait()
	s.log.Info().Msg("TCP server stopped")
}

func (s *TCPServer) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.log.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	connectionID := uuid.NewString()
	log := s.log.With().
		Str("connection_id", connectionID).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	reader := bufio.NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(s.config.IdentifyTimeout))
	identify, err := s.readIdentify(conn, reader)
	if err != nil {
		log.Warn().Err(err).Msg("station failed to identify")
		return
	}
	conn.SetReadDeadline(time.Time{})

	session, err := s.sessions.Register(connectionID, connection.Station{
		ID:       identify.StationID,
		Name:     identify.StationName,
		District: identify.District,
		Lat:      identify.Latitude,
		Lon:      identify.Longitude,
	}, conn)
	if err != nil {
		log.Warn().Err(err).Int64("station_id", identify.StationID).Msg("failed to register station")
		s.sendMessage(conn, protocol.NewErrorAck(err.Error()))
		return
	}

	log = log.With().Int64("station_id", identify.StationID).Logger()
	metrics.StationConnections.Inc()
	timerID := "inactivity-" + connectionID
	defer func() {
		s.scheduler.Cancel(timerID)
		s.sessions.Unregister(connectionID)
		metrics.StationConnections.Dec()
	}()

	if err := s.sendMessage(conn, protocol.NewAckMessage(protocol.AckStatusIdentified)); err != nil {
		log.Error().Err(err).Msg("failed to send ack")
		return
	}
	log.Info().Str("station", identify.StationName).Msg("station identified")

	s.scheduleInactivity(timerID, conn, log)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				log.Info().Err(err).Msg("station disconnected")
			}
			return
		}

		s.sessions.Touch(connectionID)
		s.scheduleInactivity(timerID, conn, log)

		ack := s.handleLine(session, line, log)
		if err := s.sendMessage(conn, ack); err != nil {
			log.Error().Err(err).Msg("failed to send ack")
			return
		}
	}
}

func (s *TCPServer) readIdentify(conn net.Conn, reader *bufio.Reader) (*protocol.IdentifyMessage, error) {
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read identify message: %w", err)
	}

	msg, err := protocol.ParseMessage(line)
	if err != nil {
		metrics.IngestMessagesTotal.WithLabelValues(string(protocol.MsgTypeIdentify), "rejected").Inc()
		s.sendMessage(conn, protocol.NewErrorAck(err.Error()))
		return nil, err
	}

	identify, ok := msg.(*protocol.IdentifyMessage)
	if !ok {
		metrics.IngestMessagesTotal.WithLabelValues(string(protocol.MsgTypeIdentify), "rejected").Inc()
		s.sendMessage(conn, protocol.NewErrorAck("expected identify message"))
		return nil, fmt.Errorf("expected identify message, got %T", msg)
	}

	metrics.IngestMessagesTotal.WithLabelValues(string(protocol.MsgTypeIdentify), "accepted").Inc()
	return identify, nil
}

// handleLine processes one message of an identified station and returns
// the ack to send back
func (s *TCPServer) handleLine(session *connection.Session, line []byte, log zerolog.Logger) *protocol.AckMessage {
	msg, err := protocol.ParseMessage(line)
	if err != nil {
		metrics.IngestMessagesTotal.WithLabelValues("unknown", "rejected").Inc()
		log.Warn().Err(err).Msg("rejected station message")
		return protocol.NewErrorAck(err.Error())
	}

	switch m := msg.(type) {
	case *protocol.MeasurementMessage:
		if err := s.publishMeasurement(session, m); err != nil {
			metrics.IngestMessagesTotal.WithLabelValues(string(protocol.MsgTypeMeasurement), "failed").Inc()
			log.Error().Err(err).Msg("failed to publish measurement")
			return protocol.NewErrorAck("measurement not accepted, retry later")
		}
		metrics.IngestMessagesTotal.WithLabelValues(string(protocol.MsgTypeMeasurement), "accepted").Inc()
		log.Debug().Str("timestamp", m.Data.Timestamp).Msg("measurement accepted")
		return protocol.NewAckMessage(protocol.AckStatusAccepted)

	case *protocol.KeepaliveMessage:
		metrics.IngestMessagesTotal.WithLabelValues(string(protocol.MsgTypeKeepalive), "accepted").Inc()
		return protocol.NewAckMessage(protocol.AckStatusAlive)

	case *protocol.IdentifyMessage:
		metrics.IngestMessagesTotal.WithLabelValues(string(protocol.MsgTypeIdentify), "rejected").Inc()
		return protocol.NewErrorAck("already identified")
	}

	return protocol.NewErrorAck(fmt.Sprintf("unexpected message %T", msg))
}

func (s *TCPServer) publishMeasurement(session *connection.Session, m *protocol.MeasurementMessage) error {
	st := session.Station
	out := &protocol.StationMeasurement{
		ConnectionID: session.ConnectionID,
		StationID:    st.ID,
		StationName:  st.Name,
		District:     st.District,
		Latitude:     st.Lat,
		Longitude:    st.Lon,
		ReceivedAt:   time.Now().UTC(),
		Data:         m.Data,
	}

	data, err := protocol.EncodeStationMeasurement(out)
	if err != nil {
		return fmt.Errorf("failed to encode measurement: %w", err)
	}
	if err := s.publisher.Publish(s.ctx, out.Key(), data); err != nil {
		return fmt.Errorf("failed to publish measurement: %w", err)
	}
	return nil
}

func (s *TCPServer) sendMessage(conn net.Conn, msg interface{}) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\n'))
	return err
}

// scheduleInactivity (re)arms the timer that drops a silent station
func (s *TCPServer) scheduleInactivity(timerID string, conn net.Conn, log zerolog.Logger) {
	err := s.scheduler.Schedule(timerID, time.Now().Add(s.config.InactivityTimeout), func() {
		log.Info().Dur("timeout", s.config.InactivityTimeout).Msg("closing inactive station")
		conn.Close()
	})
	if err != nil && !errors.Is(err, scheduler.ErrStopped) {
		log.Error().Err(err).Msg("failed to schedule inactivity timer")
	}
}
