// Package websocket owns the duplex streaming endpoint: connection
// acceptance, the per-connection session loop, and teardown.
package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"lookout/internal/registry"
	"lookout/internal/room"
	"lookout/internal/router"
	"lookout/pkg/types"
)

// CloseInvalidRole is the protocol-level close code sent when a connection
// declares a role other than teacher or student.
const CloseInvalidRole = 4001

var upgrader = websocket.Upgrader{
	// Browser clients connect from arbitrary dev origins; access control is
	// out of scope for this service.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler accepts WebSocket connections and hands each one to a Session.
type Handler struct {
	registry  *registry.Registry
	directory *room.Directory
	router    *router.Router
	limiter   *router.MessageLimiter
	logger    *slog.Logger

	pingInterval time.Duration
	readTimeout  time.Duration
	bufferSize   int
}

// NewHandler wires the handler to the shared state each session mutates.
func NewHandler(reg *registry.Registry, dir *room.Directory, rt *router.Router,
	limiter *router.MessageLimiter, pingInterval, readTimeout time.Duration,
	bufferSize int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:     reg,
		directory:    dir,
		router:       rt,
		limiter:      limiter,
		logger:       logger,
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
		bufferSize:   bufferSize,
	}
}

// HandleWebSocket accepts a connection declared by three query parameters:
// role (teacher|student), client_id (caller-chosen), room (defaults to
// DEFAULT). A missing or malformed client_id is rejected before upgrade;
// an invalid role is rejected after upgrade with a protocol close code so
// browser clients can read the reason. No state is mutated on rejection.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	if !types.IsValidClientID(clientID) {
		http.Error(w, "missing or invalid client_id", http.StatusBadRequest)
		return
	}

	roleParam := q.Get("role")
	roomID := types.NormalizeRoom(q.Get("room"))
	name := q.Get("name")
	if name == "" {
		name = clientID
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	role, ok := types.NormalizeRole(roleParam)
	if !ok {
		msg := websocket.FormatCloseMessage(CloseInvalidRole, "invalid role")
		deadline := time.Now().Add(writeTimeout)
		_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = ws.Close()
		h.logger.Warn("rejected connection with invalid role",
			"role", roleParam, "client_id", clientID)
		return
	}

	conn := NewConn(ws, h.bufferSize)
	conn.SetIdentity(Identity{Role: role, ClientID: clientID, Room: roomID, Name: name})

	sess := NewSession(conn, h.registry, h.directory, h.router, h.limiter,
		h.pingInterval, h.readTimeout, h.logger)
	if err := sess.Open(); err != nil {
		h.logger.Warn("session open failed", "client_id", clientID, "error", err)
		sess.Teardown("open failed")
		return
	}

	go sess.Run()
}
