package types

import (
	"encoding/json"
)

// Participant roles. Every connection declares exactly one at accept time.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// DefaultRoom is used when a connection omits the room parameter.
const DefaultRoom = "DEFAULT"

// Outbound message types produced by the server.
const (
	MessageTypeSystem               = "system"
	MessageTypeParticipantsSnapshot = "participants_snapshot"
	MessageTypeAlertsSnapshot       = "alerts_snapshot"
	MessageTypeParticipantJoined    = "participant_joined"
	MessageTypeParticipantLeft      = "participant_left"
	MessageTypeAlert                = "alert"
	MessageTypeAlertCleared         = "alert_cleared"
	MessageTypeTeacherMessage       = "teacher_message"
)

// Inbound message types consumed by the server. Anything else is ignored.
const (
	MessageTypeFeature          = "feature"
	MessageTypeStatus           = "status"
	MessageTypeListParticipants = "list_participants"
	MessageTypeMessageStudent   = "message_student"
)

// Envelope carries the type discriminator shared by every wire message.
// Payload-specific fields are decoded in a second pass by the session.
type Envelope struct {
	Type string `json:"type"`
}

// DecodeEnvelope extracts the discriminator from a raw inbound frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, ErrMalformedMessage
	}
	return env, nil
}

// RawLandmarks holds the scalar landmark distances reported by the
// client-side face tracker. Missing fields default to zero.
type RawLandmarks struct {
	LeftEyeDist  float64 `json:"leftEyeDist"`
	RightEyeDist float64 `json:"rightEyeDist"`
	LipDist      float64 `json:"lipDist"`
}

// Features is one perception snapshot for a single student. Missing
// booleans default to false, which the classifier treats as "not detected".
type Features struct {
	FaceDetected bool         `json:"faceDetected"`
	LeftEyeOpen  bool         `json:"leftEyeOpen"`
	RightEyeOpen bool         `json:"rightEyeOpen"`
	MouthOpen    bool         `json:"mouthOpen"`
	Raw          RawLandmarks `json:"raw"`
}

// Derived carries event labels already classified on the client.
// When present, the events take precedence over the server-side classifier.
type Derived struct {
	Events []string `json:"events"`
}

// FeatureReport is the inbound student message carrying either a raw
// feature snapshot, a pre-derived event list, or both.
type FeatureReport struct {
	Type     string          `json:"type"`
	Features *Features       `json:"features,omitempty"`
	Derived  *Derived        `json:"derived,omitempty"`
	TS       int64           `json:"ts"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// StatusUpdate is the inbound student message updating the transient
// free-form status string. It triggers no broadcast.
type StatusUpdate struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// StudentCommand is the inbound teacher message directing a text message
// at a single student in the teacher's room.
type StudentCommand struct {
	Type      string `json:"type"`
	StudentID string `json:"student_id"`
	Message   string `json:"message"`
}

// Alert is the current elevated state of one student. It exists only while
// the student's latest classified label is alert-worthy; any other label
// removes it.
type Alert struct {
	Label   string          `json:"label"`
	TS      int64           `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Participant is one roster entry in a room.
type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	JoinedAt int64  `json:"joined_at"`
	Status   string `json:"status,omitempty"`
}

// SystemMessage acknowledges a successful connect.
type SystemMessage struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	ClientID string `json:"client_id"`
	Role     string `json:"role"`
	Room     string `json:"room"`
}

// ParticipantsSnapshot is the full student roster of a room, ordered
// ascending by student id.
type ParticipantsSnapshot struct {
	Type     string        `json:"type"`
	Room     string        `json:"room"`
	Students []Participant `json:"students"`
}

// AlertsSnapshot is the current alert table of a room.
type AlertsSnapshot struct {
	Type   string           `json:"type"`
	Room   string           `json:"room"`
	Alerts map[string]Alert `json:"alerts"`
}

// ParticipantJoined announces a student arrival to the room's teachers.
type ParticipantJoined struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Room    string      `json:"room"`
	Student Participant `json:"student"`
}

// ParticipantLeft announces a student departure to the room's teachers.
type ParticipantLeft struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Room      string `json:"room"`
	StudentID string `json:"student_id"`
}

// AlertMessage notifies the room's teachers of a new or refreshed alert.
type AlertMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Room      string `json:"room"`
	StudentID string `json:"student_id"`
	Alert     Alert  `json:"alert"`
	Message   string `json:"message"`
}

// AlertCleared notifies the room's teachers that a student's alert is gone,
// either because the student recovered or disconnected.
type AlertCleared struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Room      string `json:"room"`
	StudentID string `json:"student_id"`
	Message   string `json:"message"`
}

// TeacherMessage is a directed teacher-to-student text message.
type TeacherMessage struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Room    string `json:"room"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// RoomStats is the per-room statistics read exposed to the HTTP layer.
type RoomStats struct {
	Room          string        `json:"room"`
	TeachersCount int           `json:"teachers_count"`
	StudentsCount int           `json:"students_count"`
	Students      []Participant `json:"students"`
}
