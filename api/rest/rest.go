package rest

import (
	"regexp"
	"strings"
)

// uuidPattern matches canonical UUIDs only: lowercase or uppercase hex in
// 8-4-4-4-12 groups with a valid version and variant nibble. Search input
// that fails this is treated as a username, never as an ID.
var uuidPattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// isUUID reports whether s is a canonical UUID string.
func isUUID(s string) bool {
	return uuidPattern.MatchString(s)
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
