// Package room tracks per-room student membership and the transient alert
// table. State lives only in memory; a restart begins with empty rooms.
package room

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"lookout/pkg/types"
)

type member struct {
	name     string
	joinedAt int64
	status   string
}

// Directory is the process-wide room state: which students are present in
// each room and which of them currently hold an alert. A student id appears
// in at most one room at a time, consistent with its registered identity.
type Directory struct {
	mu      sync.RWMutex
	members map[string]map[string]*member     // room -> studentID -> member
	alerts  map[string]map[string]types.Alert // room -> studentID -> alert
	logger  *slog.Logger
	now     func() time.Time
}

// NewDirectory creates an empty directory.
func NewDirectory(logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		members: make(map[string]map[string]*member),
		alerts:  make(map[string]map[string]types.Alert),
		logger:  logger,
		now:     time.Now,
	}
}

// Join adds a student to a room's membership set. Idempotent: re-joining
// keeps the original join time and status.
func (d *Directory) Join(room, studentID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.members[room] == nil {
		d.members[room] = make(map[string]*member)
	}
	if _, exists := d.members[room][studentID]; exists {
		return
	}
	d.members[room][studentID] = &member{
		name:     name,
		joinedAt: d.now().UnixMilli(),
	}
}

// Leave removes a student from a room's membership set, pruning the room
// entry when it empties. Absent members are a no-op; the return value
// reports whether the student was actually present.
func (d *Directory) Leave(room, studentID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.members[room]
	if !ok {
		return false
	}
	if _, exists := members[studentID]; !exists {
		return false
	}
	delete(members, studentID)
	if len(members) == 0 {
		delete(d.members, room)
	}
	return true
}

// SetStatus updates the transient free-form status of a student. Statuses
// are advisory and only surface through snapshots and stats.
func (d *Directory) SetStatus(room, studentID, status string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if m, ok := d.members[room][studentID]; ok {
		m.status = status
	}
}

// Snapshot returns the room's roster ordered ascending by student id so
// observers (and tests) see a deterministic sequence.
func (d *Directory) Snapshot(room string) []types.Participant {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.members[room]
	roster := make([]types.Participant, 0, len(members))
	for id, m := range members {
		roster = append(roster, types.Participant{
			ID:       id,
			Name:     m.name,
			JoinedAt: m.joinedAt,
			Status:   m.status,
		})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })
	return roster
}

// SetAlert records or overwrites the current alert for a student.
func (d *Directory) SetAlert(room, studentID string, alert types.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.alerts[room] == nil {
		d.alerts[room] = make(map[string]types.Alert)
	}
	d.alerts[room][studentID] = alert
}

// ClearAlert deletes the student's alert entry and reports whether one
// existed. Callers broadcast an alert_cleared only on a true return, so a
// student who was never alerted produces no clear event.
func (d *Directory) ClearAlert(room, studentID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	alerts, ok := d.alerts[room]
	if !ok {
		return false
	}
	if _, exists := alerts[studentID]; !exists {
		return false
	}
	delete(alerts, studentID)
	if len(alerts) == 0 {
		delete(d.alerts, room)
	}
	return true
}

// AlertsSnapshot copies the room's current alert table. The copy keeps
// callers from reading the map while other sessions mutate it.
func (d *Directory) AlertsSnapshot(room string) map[string]types.Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snapshot := make(map[string]types.Alert, len(d.alerts[room]))
	for id, alert := range d.alerts[room] {
		snapshot[id] = alert
	}
	return snapshot
}

// HasAlert reports whether a student currently holds an alert.
func (d *Directory) HasAlert(room, studentID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.alerts[room][studentID]
	return ok
}

// StudentCount reports the size of a room's membership set.
func (d *Directory) StudentCount(room string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.members[room])
}

// Rooms lists rooms with at least one student, ascending.
func (d *Directory) Rooms() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms := make([]string, 0, len(d.members))
	for room := range d.members {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}
