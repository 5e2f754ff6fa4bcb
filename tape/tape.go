// Package tape implements the append-only JSONL recording format used to
// deterministically reproduce a session, grounded verbatim in
// original_source's repro/tape.rs.
package tape

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/conduitrun/conduit"
)

// SchemaVersion is the current tape format version.
const SchemaVersion uint32 = 1

// EntryType discriminates Entry.
type EntryType string

const (
	EntryAgentEvent EntryType = "agent_event"
	EntryAgentInput EntryType = "agent_input"
	EntryNote       EntryType = "note"
)

// Entry is one recorded occurrence. Exactly one of Event/Input is set,
// matching EntryAgentEvent/EntryAgentInput; Note entries set only Message.
type Entry struct {
	Type      EntryType           `json:"type"`
	Seq       uint64              `json:"seq"`
	TsMs      uint64              `json:"ts_ms"`
	SessionID string              `json:"session_id,omitempty"`
	Event     *conduit.AgentEvent `json:"event,omitempty"`
	Input     *conduit.AgentInput `json:"input,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// NewAgentEventEntry builds an EntryAgentEvent entry.
func NewAgentEventEntry(seq, tsMs uint64, sessionID string, event conduit.AgentEvent) Entry {
	return Entry{Type: EntryAgentEvent, Seq: seq, TsMs: tsMs, SessionID: sessionID, Event: &event}
}

// NewAgentInputEntry builds an EntryAgentInput entry.
func NewAgentInputEntry(seq, tsMs uint64, sessionID string, input conduit.AgentInput) Entry {
	return Entry{Type: EntryAgentInput, Seq: seq, TsMs: tsMs, SessionID: sessionID, Input: &input}
}

// NewNoteEntry builds an EntryNote entry.
func NewNoteEntry(seq, tsMs uint64, message string) Entry {
	return Entry{Type: EntryNote, Seq: seq, TsMs: tsMs, Message: message}
}

// line is the on-wire JSONL envelope: either a header or an entry.
type line struct {
	Type          string `json:"type"`
	SchemaVersion uint32 `json:"schema_version,omitempty"`
	CreatedAtMs   uint64 `json:"created_at_ms,omitempty"`
	Entry         *Entry `json:"entry,omitempty"`
}

// Tape is an in-memory, fully-loaded recording.
type Tape struct {
	SchemaVersion uint32
	CreatedAtMs   uint64
	Entries       []Entry
}

// Read loads an entire tape file. The header must be the first non-blank
// line; a missing or non-first header is an error.
func Read(path string) (*Tape, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var t Tape
	haveHeader := false
	lineNum := 0

	for sc.Scan() {
		raw := sc.Text()
		if len(raw) == 0 {
			continue
		}
		lineNum++

		var l line
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, fmt.Errorf("tape: parse line %d: %w", lineNum, err)
		}
		switch l.Type {
		case "header":
			if lineNum != 1 {
				return nil, fmt.Errorf("tape: header must be the first line, found at line %d", lineNum)
			}
			t.SchemaVersion = l.SchemaVersion
			t.CreatedAtMs = l.CreatedAtMs
			haveHeader = true
		case "entry":
			if l.Entry == nil {
				return nil, fmt.Errorf("tape: entry line %d missing entry field", lineNum)
			}
			t.Entries = append(t.Entries, *l.Entry)
		default:
			return nil, fmt.Errorf("tape: unknown line type %q at line %d", l.Type, lineNum)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !haveHeader {
		return nil, fmt.Errorf("tape: missing header")
	}
	return &t, nil
}

// Write writes a complete Tape to path in one pass (used for tests and
// small tapes; Writer is the streaming append-as-you-go form used by
// package record).
func Write(path string, t *Tape) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if err := writeLine(w, line{Type: "header", SchemaVersion: t.SchemaVersion, CreatedAtMs: t.CreatedAtMs}); err != nil {
		return err
	}
	for _, e := range t.Entries {
		entry := e
		if err := writeLine(w, line{Type: "entry", Entry: &entry}); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func writeLine(w *bufio.Writer, l line) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// Writer is an exclusive, append-only handle on a tape file: every Append
// call writes, flushes, and fsyncs before returning, matching the original
// implementation's write-then-flush-per-append discipline.
type Writer struct {
	schemaVersion uint32
	createdAtMs   uint64
	seq           atomic.Uint64

	mu sync.Mutex
	f  *os.File
}

// CreateWriter creates path, writes the header line, and returns a Writer
// ready for Append. createdAtMs is supplied by the caller since this
// package must not call time.Now (so replays of a Writer's own behavior
// stay deterministic in tests).
func CreateWriter(path string, createdAtMs uint64) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{schemaVersion: SchemaVersion, createdAtMs: createdAtMs, f: f}
	w.seq.Store(1)

	data, err := json.Marshal(line{Type: "header", SchemaVersion: SchemaVersion, CreatedAtMs: createdAtMs})
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) SchemaVersion() uint32 { return w.schemaVersion }
func (w *Writer) CreatedAtMs() uint64   { return w.createdAtMs }

// NextSeq atomically reserves the next sequence number, starting at 1.
func (w *Writer) NextSeq() uint64 { return w.seq.Add(1) - 1 }

// Append writes one entry, flushing and fsyncing before returning.
func (w *Writer) Append(e Entry) error {
	data, err := json.Marshal(line{Type: "entry", Entry: &e})
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(append(data, '\n')); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
