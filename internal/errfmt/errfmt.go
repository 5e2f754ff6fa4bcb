// Package errfmt bounds error text surfaced in an [conduit.ErrorPayload]
// so a runaway vendor stderr dump or stack trace can't balloon an event.
package errfmt

import "unicode/utf8"

// MaxLen caps error message content to prevent unbounded propagation.
const MaxLen = 4096

// Truncate caps s at MaxLen bytes, backtracking to a valid UTF-8 boundary.
func Truncate(s string) string {
	if len(s) <= MaxLen {
		return s
	}
	end := MaxLen
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}
