package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lookout/internal/classifier"
	"lookout/internal/registry"
	"lookout/internal/room"
	"lookout/internal/router"
	"lookout/pkg/types"
)

// Session drives one connection through its lifecycle: announce on open,
// translate inbound messages into directory mutations and broadcasts, and
// unwind all shared state exactly once on the way out.
type Session struct {
	conn      *Conn
	registry  *registry.Registry
	directory *room.Directory
	router    *router.Router
	limiter   *router.MessageLimiter
	logger    *slog.Logger

	pingInterval time.Duration
	readTimeout  time.Duration

	teardown sync.Once
}

// NewSession binds a connection to the shared state it will mutate.
func NewSession(conn *Conn, reg *registry.Registry, dir *room.Directory, rt *router.Router,
	limiter *router.MessageLimiter, pingInterval, readTimeout time.Duration, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := conn.Identity()
	return &Session{
		conn:      conn,
		registry:  reg,
		directory: dir,
		router:    rt,
		limiter:   limiter,
		logger: logger.With(
			"role", id.Role, "client_id", id.ClientID, "room", id.Room),
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
	}
}

// Open registers the connection and announces it: students join their
// room's membership set and teachers in the room learn about the arrival;
// teachers receive the current alert table and roster so a late joiner
// reconciles state instead of waiting for future events.
func (s *Session) Open() error {
	id := s.conn.Identity()

	if err := s.registry.Register(id.Role, id.ClientID, s.conn, id.Room); err != nil {
		return err
	}

	if id.Role == types.RoleStudent {
		s.directory.Join(id.Room, id.ClientID, id.Name)
		roster := s.directory.Snapshot(id.Room)
		joined := types.Participant{ID: id.ClientID, Name: id.Name}
		for _, p := range roster {
			if p.ID == id.ClientID {
				joined = p
				break
			}
		}
		s.router.BroadcastToRole(id.Room, types.RoleTeacher, types.ParticipantJoined{
			ID:      uuid.NewString(),
			Type:    types.MessageTypeParticipantJoined,
			Room:    id.Room,
			Student: joined,
		})
	}

	if err := s.conn.WriteJSON(types.SystemMessage{
		Type:     types.MessageTypeSystem,
		Message:  "connected",
		ClientID: id.ClientID,
		Role:     id.Role,
		Room:     id.Room,
	}); err != nil {
		return err
	}

	if id.Role == types.RoleTeacher {
		s.sendSnapshots(id.Room)
	}

	s.logger.Info("session open")
	return nil
}

// Run services the connection until the transport closes or a fault
// occurs, then tears down. The ping/pong heartbeat detects peers that
// vanished without a close frame.
func (s *Session) Run() {
	reason := "disconnect"
	defer func() {
		if p := recover(); p != nil {
			reason = "fault"
			s.logger.Error("session fault", "panic", p)
		}
		s.Teardown(reason)
	}()

	if err := s.conn.ws.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return
	}
	s.conn.ws.SetPongHandler(func(string) error {
		return s.conn.ws.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(writeTimeout)
				if err := s.conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-s.conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := s.conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				reason = "abnormal close"
				s.logger.Warn("read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.dispatch(data)
	}
}

// dispatch parses one inbound frame and routes it by (type, role).
// Malformed payloads, unknown types, and type/role mismatches are dropped
// without disturbing the connection.
func (s *Session) dispatch(data []byte) {
	id := s.conn.Identity()

	if s.limiter != nil && !s.limiter.Allow(id.ClientID) {
		return
	}

	env, err := types.DecodeEnvelope(data)
	if err != nil {
		s.logger.Debug("dropping malformed message")
		return
	}

	switch {
	case env.Type == types.MessageTypeFeature && id.Role == types.RoleStudent:
		s.handleFeature(data)
	case env.Type == types.MessageTypeStatus && id.Role == types.RoleStudent:
		s.handleStatus(data)
	case env.Type == types.MessageTypeListParticipants && id.Role == types.RoleTeacher:
		s.handleListParticipants()
	case env.Type == types.MessageTypeMessageStudent && id.Role == types.RoleTeacher:
		s.handleMessageStudent(data)
	default:
		s.logger.Debug("ignoring message", "type", env.Type)
	}
}

// handleFeature reconciles the student's alert state from one feature
// report and notifies teachers of the transition, if any.
func (s *Session) handleFeature(data []byte) {
	var report types.FeatureReport
	if err := json.Unmarshal(data, &report); err != nil {
		s.logger.Debug("dropping malformed feature report")
		return
	}

	id := s.conn.Identity()
	roomID := s.registry.RoomOf(types.RoleStudent, id.ClientID)
	if roomID == "" {
		return // already torn down or replaced
	}

	var label, message string
	switch {
	case report.Derived != nil && len(report.Derived.Events) > 0:
		label, _ = classifier.FromEvents(report.Derived.Events)
		message = classifier.EventSentence(id.ClientID, report.Derived.Events[0])
	case report.Features != nil:
		res := classifier.Classify(*report.Features)
		label = res.Label
		message = classifier.Sentence(id.ClientID, label)
	default:
		res := classifier.Classify(types.Features{})
		label = res.Label
		message = classifier.Sentence(id.ClientID, label)
	}

	if classifier.IsAlertLabel(label) {
		alert := types.Alert{Label: label, TS: report.TS, Payload: report.Payload}
		s.directory.SetAlert(roomID, id.ClientID, alert)
		s.router.BroadcastToRole(roomID, types.RoleTeacher, types.AlertMessage{
			ID:        uuid.NewString(),
			Type:      types.MessageTypeAlert,
			Room:      roomID,
			StudentID: id.ClientID,
			Alert:     alert,
			Message:   message,
		})
		return
	}

	if s.directory.ClearAlert(roomID, id.ClientID) {
		s.router.BroadcastToRole(roomID, types.RoleTeacher, types.AlertCleared{
			ID:        uuid.NewString(),
			Type:      types.MessageTypeAlertCleared,
			Room:      roomID,
			StudentID: id.ClientID,
			Message:   fmt.Sprintf("%s returned to normal", id.ClientID),
		})
	}
}

// handleStatus updates the transient status string. No broadcast.
func (s *Session) handleStatus(data []byte) {
	var update types.StatusUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return
	}
	id := s.conn.Identity()
	roomID := s.registry.RoomOf(types.RoleStudent, id.ClientID)
	if roomID == "" {
		return
	}
	s.directory.SetStatus(roomID, id.ClientID, update.Status)
}

// handleListParticipants replies to the requesting teacher only.
func (s *Session) handleListParticipants() {
	id := s.conn.Identity()
	if s.registry.RoomOf(types.RoleTeacher, id.ClientID) == "" {
		return
	}
	s.sendSnapshots(id.Room)
}

// handleMessageStudent delivers a directed message to one student in the
// teacher's room. Unknown student ids are dropped silently.
func (s *Session) handleMessageStudent(data []byte) {
	var cmd types.StudentCommand
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.StudentID == "" {
		return
	}
	id := s.conn.Identity()
	roomID := s.registry.RoomOf(types.RoleTeacher, id.ClientID)
	if roomID == "" {
		return
	}
	s.router.SendToStudent(roomID, cmd.StudentID, types.TeacherMessage{
		ID:      uuid.NewString(),
		Type:    types.MessageTypeTeacherMessage,
		Room:    roomID,
		From:    id.ClientID,
		Message: cmd.Message,
	})
}

// sendSnapshots writes the alert table and roster to this connection.
func (s *Session) sendSnapshots(roomID string) {
	if err := s.conn.WriteJSON(types.AlertsSnapshot{
		Type:   types.MessageTypeAlertsSnapshot,
		Room:   roomID,
		Alerts: s.directory.AlertsSnapshot(roomID),
	}); err != nil {
		s.logger.Debug("failed to send alerts snapshot", "error", err)
		return
	}
	if err := s.conn.WriteJSON(types.ParticipantsSnapshot{
		Type:     types.MessageTypeParticipantsSnapshot,
		Room:     roomID,
		Students: s.directory.Snapshot(roomID),
	}); err != nil {
		s.logger.Debug("failed to send participants snapshot", "error", err)
	}
}

// Teardown unwinds registry and directory state and announces the
// departure. Idempotent: only the first call acts, and if the registry
// entry was already taken over by a replacement connection the room state
// is left to the newcomer. Broadcast failures never abort the unwind.
func (s *Session) Teardown(reason string) {
	s.teardown.Do(func() {
		id := s.conn.Identity()

		removed := s.registry.Unregister(id.Role, id.ClientID, s.conn)
		_ = s.conn.Close()

		if !removed {
			s.logger.Debug("session already deregistered or replaced")
			return
		}

		if id.Role == types.RoleStudent {
			left := s.directory.Leave(id.Room, id.ClientID)

			if s.directory.ClearAlert(id.Room, id.ClientID) {
				s.router.BroadcastToRole(id.Room, types.RoleTeacher, types.AlertCleared{
					ID:        uuid.NewString(),
					Type:      types.MessageTypeAlertCleared,
					Room:      id.Room,
					StudentID: id.ClientID,
					Message:   fmt.Sprintf("%s disconnected, alert cleared", id.ClientID),
				})
			}

			if left {
				s.router.BroadcastToRole(id.Room, types.RoleTeacher, types.ParticipantLeft{
					ID:        uuid.NewString(),
					Type:      types.MessageTypeParticipantLeft,
					Room:      id.Room,
					StudentID: id.ClientID,
				})
			}
		}

		s.logger.Info("session closed", "reason", reason)
	})
}
