package router

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lookout/internal/registry"
	"lookout/pkg/types"
)

// sink implements registry.Handle for delivery assertions.
type sink struct {
	mu     sync.Mutex
	msgs   []any
	broken bool
}

func (s *sink) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errors.New("connection closed")
	}
	s.msgs = append(s.msgs, v)
	return nil
}

func (s *sink) Close() error { return nil }

func (s *sink) received() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.msgs...)
}

func newTestRouter(t *testing.T) (*Router, *registry.Registry) {
	t.Helper()
	reg := registry.NewRegistry(nil)
	return NewRouter(reg, nil), reg
}

func TestBroadcastToRole_RoomAndRoleScoped(t *testing.T) {
	r, reg := newTestRouter(t)
	teacher := &sink{}
	otherRoomTeacher := &sink{}
	student := &sink{}
	require.NoError(t, reg.Register(types.RoleTeacher, "t1", teacher, "math101"))
	require.NoError(t, reg.Register(types.RoleTeacher, "t2", otherRoomTeacher, "bio202"))
	require.NoError(t, reg.Register(types.RoleStudent, "s1", student, "math101"))

	r.BroadcastToRole("math101", types.RoleTeacher, "hello")

	assert.Equal(t, []any{"hello"}, teacher.received())
	assert.Empty(t, otherRoomTeacher.received())
	assert.Empty(t, student.received())
}

func TestBroadcastToRole_PartialFailureDoesNotAbort(t *testing.T) {
	r, reg := newTestRouter(t)
	healthy1, healthy2 := &sink{}, &sink{}
	dead := &sink{broken: true}
	require.NoError(t, reg.Register(types.RoleTeacher, "t1", healthy1, "math101"))
	require.NoError(t, reg.Register(types.RoleTeacher, "t2", dead, "math101"))
	require.NoError(t, reg.Register(types.RoleTeacher, "t3", healthy2, "math101"))

	r.BroadcastToRole("math101", types.RoleTeacher, "ping")

	assert.Equal(t, []any{"ping"}, healthy1.received())
	assert.Equal(t, []any{"ping"}, healthy2.received())
	assert.Empty(t, dead.received())

	// The failed recipient stays registered; cleanup belongs to its session.
	_, ok := reg.Lookup(types.RoleTeacher, "t2")
	assert.True(t, ok)
}

func TestBroadcastToRole_EmptyRoomIsNoop(t *testing.T) {
	r, _ := newTestRouter(t)
	r.BroadcastToRole("ghost-room", types.RoleTeacher, "anyone?")
}

func TestSendToStudent_DirectedOnly(t *testing.T) {
	r, reg := newTestRouter(t)
	target := &sink{}
	bystander := &sink{}
	teacher := &sink{}
	require.NoError(t, reg.Register(types.RoleStudent, "s1", target, "math101"))
	require.NoError(t, reg.Register(types.RoleStudent, "s2", bystander, "math101"))
	require.NoError(t, reg.Register(types.RoleTeacher, "t1", teacher, "math101"))

	assert.True(t, r.SendToStudent("math101", "s1", "see me after class"))

	assert.Equal(t, []any{"see me after class"}, target.received())
	assert.Empty(t, bystander.received())
	assert.Empty(t, teacher.received())
}

func TestSendToStudent_UnknownOrWrongRoomDropped(t *testing.T) {
	r, reg := newTestRouter(t)
	elsewhere := &sink{}
	require.NoError(t, reg.Register(types.RoleStudent, "s1", elsewhere, "bio202"))

	assert.False(t, r.SendToStudent("math101", "s1", "dropped"))
	assert.False(t, r.SendToStudent("math101", "nobody", "dropped"))
	assert.Empty(t, elsewhere.received())
}

func TestSendToStudent_WriteFailureReported(t *testing.T) {
	r, reg := newTestRouter(t)
	dead := &sink{broken: true}
	require.NoError(t, reg.Register(types.RoleStudent, "s1", dead, "math101"))

	assert.False(t, r.SendToStudent("math101", "s1", "dropped"))
}

func TestMessageLimiter_AllowsBurstThenThrottles(t *testing.T) {
	l := NewMessageLimiter(10)

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("s1"), "message %d within burst should pass", i)
	}
	assert.False(t, l.Allow("s1"))

	// Other clients are unaffected.
	assert.True(t, l.Allow("s2"))
}
