package websocket

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lookout/internal/registry"
	"lookout/internal/room"
	"lookout/internal/router"
	"lookout/pkg/types"
)

// testEnv is one fully-wired server instance for end-to-end tests.
type testEnv struct {
	registry  *registry.Registry
	directory *room.Directory
	server    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.Default()
	reg := registry.NewRegistry(logger)
	dir := room.NewDirectory(logger)
	rt := router.NewRouter(reg, logger)
	// Generous limits and a long ping interval keep heartbeat noise out of
	// the assertions.
	handler := NewHandler(reg, dir, rt, router.NewMessageLimiter(6000),
		time.Minute, time.Minute, 64, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{registry: reg, directory: dir, server: srv}
}

func (e *testEnv) dial(t *testing.T, role, clientID, roomID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?" + url.Values{
		"role":      {role},
		"client_id": {clientID},
		"room":      {roomID},
	}.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads one JSON frame with a deadline.
func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// expectType reads one frame and asserts its discriminator.
func expectType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	msg := readMessage(t, conn)
	require.Equal(t, want, msg["type"], "unexpected message: %v", msg)
	return msg
}

// expectSilence asserts no frame arrives within the window. It watches the
// underlying net.Conn rather than reading a websocket frame: gorilla makes
// read errors permanent, so a deliberately timed-out ReadJSON would poison
// the connection for later assertions.
func expectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	raw := conn.UnderlyingConn()
	require.NoError(t, raw.SetReadDeadline(time.Now().Add(window)))
	n, err := raw.Read(make([]byte, 1))
	require.Error(t, err, "expected no message, got %d bytes", n)
	require.NoError(t, raw.SetReadDeadline(time.Time{}))
}

// waitForCount polls until the registry holds n entries of the role.
func (e *testEnv) waitForCount(t *testing.T, role, roomID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.registry.CountInRoom(role, roomID) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RejectsMissingClientID(t *testing.T) {
	env := newTestEnv(t)
	u := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?role=student"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_RejectsInvalidRoleWithCloseCode(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "admin", "a1", "math101")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, CloseInvalidRole), "got error: %v", err)

	// Nothing was registered for the rejected connection.
	assert.Equal(t, 0, env.registry.Stats()["teachers"])
	assert.Equal(t, 0, env.registry.Stats()["students"])
}

func TestHandler_RoleIsCaseInsensitiveAndRoomDefaults(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "Teacher", "t1", "")

	msg := expectType(t, conn, types.MessageTypeSystem)
	assert.Equal(t, types.RoleTeacher, msg["role"])
	assert.Equal(t, types.DefaultRoom, msg["room"])
}

func TestStudentConnect_SystemAck(t *testing.T) {
	env := newTestEnv(t)
	student := env.dial(t, "student", "s1", "math101")

	msg := expectType(t, student, types.MessageTypeSystem)
	assert.Equal(t, "s1", msg["client_id"])
	assert.Equal(t, "math101", msg["room"])
	env.waitForCount(t, types.RoleStudent, "math101", 1)
	assert.Equal(t, 1, env.directory.StudentCount("math101"))
}

func TestTeacherSeesJoinAndLeave(t *testing.T) {
	env := newTestEnv(t)

	teacher := env.dial(t, "teacher", "t1", "math101")
	expectType(t, teacher, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeAlertsSnapshot)
	snap := expectType(t, teacher, types.MessageTypeParticipantsSnapshot)
	assert.Empty(t, snap["students"])

	student := env.dial(t, "student", "s1", "math101")
	expectType(t, student, types.MessageTypeSystem)

	joined := expectType(t, teacher, types.MessageTypeParticipantJoined)
	studentInfo, ok := joined["student"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "s1", studentInfo["id"])

	require.NoError(t, student.Close())

	left := expectType(t, teacher, types.MessageTypeParticipantLeft)
	assert.Equal(t, "s1", left["student_id"])

	require.Eventually(t, func() bool {
		return env.directory.StudentCount("math101") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLateTeacherReceivesCurrentState(t *testing.T) {
	env := newTestEnv(t)

	student := env.dial(t, "student", "s1", "math101")
	expectType(t, student, types.MessageTypeSystem)
	env.waitForCount(t, types.RoleStudent, "math101", 1)

	require.NoError(t, student.WriteJSON(map[string]any{
		"type":    "feature",
		"derived": map[string]any{"events": []string{"drowsy"}},
		"ts":      1234,
	}))
	require.Eventually(t, func() bool {
		return env.directory.HasAlert("math101", "s1")
	}, 2*time.Second, 10*time.Millisecond)

	teacher := env.dial(t, "teacher", "t1", "math101")
	expectType(t, teacher, types.MessageTypeSystem)

	alerts := expectType(t, teacher, types.MessageTypeAlertsSnapshot)
	table, ok := alerts["alerts"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, table, "s1")

	roster := expectType(t, teacher, types.MessageTypeParticipantsSnapshot)
	students, ok := roster["students"].([]any)
	require.True(t, ok)
	require.Len(t, students, 1)
}

func TestAlertSetAndClear(t *testing.T) {
	env := newTestEnv(t)

	teacher := env.dial(t, "teacher", "t1", "math101")
	expectType(t, teacher, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeAlertsSnapshot)
	expectType(t, teacher, types.MessageTypeParticipantsSnapshot)

	student := env.dial(t, "student", "s1", "math101")
	expectType(t, student, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeParticipantJoined)

	require.NoError(t, student.WriteJSON(map[string]any{
		"type":    "feature",
		"derived": map[string]any{"events": []string{"looking-away"}},
		"ts":      1000,
	}))

	alert := expectType(t, teacher, types.MessageTypeAlert)
	assert.Equal(t, "s1", alert["student_id"])
	payload, ok := alert["alert"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "looking-away", payload["label"])
	assert.Equal(t, float64(1000), payload["ts"])

	// A recovered label clears the alert and empties the table.
	require.NoError(t, student.WriteJSON(map[string]any{
		"type": "feature",
		"features": map[string]any{
			"faceDetected": true,
			"leftEyeOpen":  true,
			"rightEyeOpen": true,
			"raw":          map[string]any{"leftEyeDist": 0.01, "rightEyeDist": 0.01},
		},
		"ts": 1001,
	}))

	cleared := expectType(t, teacher, types.MessageTypeAlertCleared)
	assert.Equal(t, "s1", cleared["student_id"])
	assert.Empty(t, env.directory.AlertsSnapshot("math101"))

	// Clearing again produces no duplicate event.
	require.NoError(t, student.WriteJSON(map[string]any{
		"type": "feature",
		"features": map[string]any{
			"faceDetected": true,
			"leftEyeOpen":  true,
			"rightEyeOpen": true,
			"raw":          map[string]any{"leftEyeDist": 0.01, "rightEyeDist": 0.01},
		},
		"ts": 1002,
	}))
	expectSilence(t, teacher, 300*time.Millisecond)
}

func TestDisconnectWithActiveAlertClearsIt(t *testing.T) {
	env := newTestEnv(t)

	teacher := env.dial(t, "teacher", "t1", "math101")
	expectType(t, teacher, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeAlertsSnapshot)
	expectType(t, teacher, types.MessageTypeParticipantsSnapshot)

	student := env.dial(t, "student", "s1", "math101")
	expectType(t, student, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeParticipantJoined)

	require.NoError(t, student.WriteJSON(map[string]any{
		"type":    "feature",
		"derived": map[string]any{"events": []string{"drowsy"}},
	}))
	expectType(t, teacher, types.MessageTypeAlert)

	require.NoError(t, student.Close())

	cleared := expectType(t, teacher, types.MessageTypeAlertCleared)
	assert.Contains(t, cleared["message"], "disconnected")
	left := expectType(t, teacher, types.MessageTypeParticipantLeft)
	assert.Equal(t, "s1", left["student_id"])
}

func TestDirectedTeacherMessage(t *testing.T) {
	env := newTestEnv(t)

	teacher := env.dial(t, "teacher", "t1", "math101")
	expectType(t, teacher, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeAlertsSnapshot)
	expectType(t, teacher, types.MessageTypeParticipantsSnapshot)

	target := env.dial(t, "student", "s1", "math101")
	expectType(t, target, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeParticipantJoined)
	bystander := env.dial(t, "student", "s2", "math101")
	expectType(t, bystander, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeParticipantJoined)

	require.NoError(t, teacher.WriteJSON(map[string]any{
		"type":       "message_student",
		"student_id": "s1",
		"message":    "eyes on the board",
	}))

	direct := expectType(t, target, types.MessageTypeTeacherMessage)
	assert.Equal(t, "t1", direct["from"])
	assert.Equal(t, "eyes on the board", direct["message"])
	expectSilence(t, bystander, 300*time.Millisecond)

	// Unknown student ids are dropped silently; the teacher stays open.
	require.NoError(t, teacher.WriteJSON(map[string]any{
		"type":       "message_student",
		"student_id": "nobody",
		"message":    "lost",
	}))
	expectSilence(t, teacher, 300*time.Millisecond)
}

func TestTeacherListParticipants(t *testing.T) {
	env := newTestEnv(t)

	teacher := env.dial(t, "teacher", "t1", "math101")
	expectType(t, teacher, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeAlertsSnapshot)
	expectType(t, teacher, types.MessageTypeParticipantsSnapshot)

	for i := 1; i <= 3; i++ {
		s := env.dial(t, "student", fmt.Sprintf("s%d", i), "math101")
		expectType(t, s, types.MessageTypeSystem)
		expectType(t, teacher, types.MessageTypeParticipantJoined)
	}

	require.NoError(t, teacher.WriteJSON(map[string]any{"type": "list_participants"}))

	expectType(t, teacher, types.MessageTypeAlertsSnapshot)
	roster := expectType(t, teacher, types.MessageTypeParticipantsSnapshot)
	students, ok := roster["students"].([]any)
	require.True(t, ok)
	require.Len(t, students, 3)
	// Deterministic ascending order by id.
	first, ok := students[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "s1", first["id"])
}

func TestMalformedAndMismatchedMessagesAreIgnored(t *testing.T) {
	env := newTestEnv(t)

	teacher := env.dial(t, "teacher", "t1", "math101")
	expectType(t, teacher, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeAlertsSnapshot)
	expectType(t, teacher, types.MessageTypeParticipantsSnapshot)

	student := env.dial(t, "student", "s1", "math101")
	expectType(t, student, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeParticipantJoined)

	// Garbage, unknown type, and a teacher-only type from a student.
	require.NoError(t, student.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, student.WriteJSON(map[string]any{"type": "mystery"}))
	require.NoError(t, student.WriteJSON(map[string]any{
		"type": "message_student", "student_id": "s1", "message": "spoof",
	}))
	expectSilence(t, teacher, 300*time.Millisecond)
	expectSilence(t, student, 100*time.Millisecond)

	// The connection is still serviced afterwards.
	require.NoError(t, student.WriteJSON(map[string]any{
		"type":    "feature",
		"derived": map[string]any{"events": []string{"drowsy"}},
	}))
	expectType(t, teacher, types.MessageTypeAlert)
}

func TestStatusUpdateIsSilent(t *testing.T) {
	env := newTestEnv(t)

	teacher := env.dial(t, "teacher", "t1", "math101")
	expectType(t, teacher, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeAlertsSnapshot)
	expectType(t, teacher, types.MessageTypeParticipantsSnapshot)

	student := env.dial(t, "student", "s1", "math101")
	expectType(t, student, types.MessageTypeSystem)
	expectType(t, teacher, types.MessageTypeParticipantJoined)

	require.NoError(t, student.WriteJSON(map[string]any{
		"type": "status", "status": "stretching",
	}))
	expectSilence(t, teacher, 300*time.Millisecond)

	require.Eventually(t, func() bool {
		roster := env.directory.Snapshot("math101")
		return len(roster) == 1 && roster[0].Status == "stretching"
	}, 2*time.Second, 10*time.Millisecond)
}
