// Package router delivers messages to role-scoped recipient sets within a
// room. Delivery is best effort: a failed send is logged and abandoned,
// never retried and never surfaced to the operation that triggered it.
package router

import (
	"log/slog"

	"lookout/internal/registry"
	"lookout/pkg/types"
)

// Router fans out messages over handles registered in the registry. It
// never mutates the registry; a recipient whose send fails is cleaned up by
// that connection's own teardown path.
type Router struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// NewRouter creates a router over the given registry.
func NewRouter(reg *registry.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: reg, logger: logger}
}

// BroadcastToRole delivers msg to every connection of the given role in the
// given room. The recipient set is snapshotted under the registry lock;
// sends happen outside it so one stalled recipient cannot block unrelated
// rooms. Per-recipient failures are counted and logged only.
func (r *Router) BroadcastToRole(room, role string, msg any) {
	handles := r.registry.HandlesInRoom(role, room)
	if len(handles) == 0 {
		return
	}

	failed := 0
	for _, h := range handles {
		if err := h.WriteJSON(msg); err != nil {
			failed++
			r.logger.Debug("broadcast delivery failed",
				"room", room, "role", role, "error", err)
		}
	}
	if failed > 0 {
		r.logger.Warn("broadcast partially delivered",
			"room", room, "role", role,
			"delivered", len(handles)-failed, "failed", failed)
	}
}

// SendToStudent delivers msg to the single named student, provided that
// student is registered in the given room. Unknown recipients and send
// failures are dropped silently; the return value reports whether the
// message reached the outbound queue.
func (r *Router) SendToStudent(room, studentID string, msg any) bool {
	h, ok := r.registry.HandleInRoom(types.RoleStudent, room, studentID)
	if !ok {
		r.logger.Debug("directed message dropped, student not in room",
			"room", room, "student_id", studentID)
		return false
	}
	if err := h.WriteJSON(msg); err != nil {
		r.logger.Debug("directed message delivery failed",
			"room", room, "student_id", studentID, "error", err)
		return false
	}
	return true
}
