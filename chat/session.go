package chat

import "strings"

// SessionID derives the deterministic identifier of the two-party chat
// thread between a and b: the lexicographically sorted join of the two user
// IDs. Both participants compute the same value regardless of who
// initiates, so they subscribe to and query the same partition.
func SessionID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// Participants splits a session ID back into its two user IDs. User IDs are
// UUIDs and never contain the separator.
func Participants(sessionID string) (string, string, bool) {
	a, b, ok := strings.Cut(sessionID, "_")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// IsParticipant reports whether userID is one of the session's two parties.
func IsParticipant(sessionID, userID string) bool {
	a, b, ok := Participants(sessionID)
	return ok && (a == userID || b == userID)
}
