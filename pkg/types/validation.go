package types

import (
	"regexp"
	"strings"
)

// Compiled once; client ids arrive on every connect and in directed commands.
var clientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@ -]+$`)

// IsValidClientID checks the caller-supplied client id. Ids are display
// names chosen in the UI, so spaces and dots are allowed, but they must be
// short enough for the roster views.
func IsValidClientID(clientID string) bool {
	if len(clientID) < 1 || len(clientID) > 64 {
		return false
	}
	return clientIDRegex.MatchString(clientID)
}

// NormalizeRole lowercases a role parameter and reports whether it is one
// of the two accepted roles.
func NormalizeRole(role string) (string, bool) {
	r := strings.ToLower(strings.TrimSpace(role))
	return r, r == RoleTeacher || r == RoleStudent
}

// NormalizeRoom substitutes the default room for an empty room parameter.
func NormalizeRoom(room string) string {
	if strings.TrimSpace(room) == "" {
		return DefaultRoom
	}
	return room
}
