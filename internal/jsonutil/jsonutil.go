// Package jsonutil provides small shared helpers for code that builds or
// inspects JSON-over-stdin/stdout payloads. No transformation logic, no
// validation beyond what each helper's name promises.
package jsonutil

import (
	"encoding/json"
	"strings"
)

// ContainsNull reports whether s contains a null byte. Vendor CLIs that
// read JSONL off stdin choke on an embedded null, so callers constructing
// a line to send use this to reject the input before it ever reaches the
// subprocess.
func ContainsNull(s string) bool {
	return strings.ContainsRune(s, '\x00')
}

// StringifyResult renders a tool-result payload as an optional plain
// string: a bare JSON string literal is unquoted, any other JSON value
// (object, array, number) keeps its literal text. Runners use this to
// populate a result field modeled as a plain string rather than
// arbitrary JSON, since vendor tool results are sometimes a JSON string
// and sometimes a structured content block.
func StringifyResult(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return &s
	}
	s = string(raw)
	return &s
}
