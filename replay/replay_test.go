package replay

import (
	"context"
	"testing"
	"time"

	"github.com/conduitrun/conduit"
	"github.com/conduitrun/conduit/tape"
)

func TestReplayFiltersBySession(t *testing.T) {
	tp := &tape.Tape{SchemaVersion: tape.SchemaVersion}
	tp.Entries = append(tp.Entries,
		tape.NewAgentEventEntry(1, 1, "session-a", conduit.AgentEvent{
			Type:             conduit.EventAssistantMessage,
			AssistantMessage: &conduit.AssistantMessagePayload{Text: "a", IsFinal: true},
		}),
		tape.NewAgentEventEntry(2, 2, "session-b", conduit.AgentEvent{
			Type:             conduit.EventAssistantMessage,
			AssistantMessage: &conduit.AssistantMessagePayload{Text: "b", IsFinal: true},
		}),
	)

	r := New("session-a", conduit.AgentClaude, tp)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := r.Start(ctx, conduit.AgentStartConfig{Prompt: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got []conduit.AgentEvent
	for ev := range h.Events {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].AssistantMessage.Text != "a" {
		t.Fatalf("got %+v, want exactly session-a's event", got)
	}
}

func TestReplaySendInputNotSupported(t *testing.T) {
	r := New("session-a", conduit.AgentClaude, &tape.Tape{})
	h := &conduit.AgentHandle{}
	if err := r.SendInput(context.Background(), h, conduit.AgentInput{}); err != conduit.ErrNotSupported {
		t.Fatalf("SendInput error = %v, want ErrNotSupported", err)
	}
}

func TestReplayPreservesSeqOrder(t *testing.T) {
	tp := &tape.Tape{}
	// Insert out of order to confirm the runner sorts by Seq.
	tp.Entries = append(tp.Entries,
		tape.NewAgentEventEntry(3, 3, "s", conduit.AgentEvent{Type: conduit.EventTurnCompleted, TurnCompleted: &conduit.TurnCompletedPayload{}}),
		tape.NewAgentEventEntry(1, 1, "s", conduit.AgentEvent{Type: conduit.EventTurnStarted}),
		tape.NewAgentEventEntry(2, 2, "s", conduit.AgentEvent{Type: conduit.EventSessionInit, SessionInit: &conduit.SessionInitPayload{SessionID: "s"}}),
	)

	r := New("s", conduit.AgentClaude, tp)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := r.Start(ctx, conduit.AgentStartConfig{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var types []conduit.AgentEventType
	for ev := range h.Events {
		types = append(types, ev.Type)
	}
	want := []conduit.AgentEventType{conduit.EventTurnStarted, conduit.EventSessionInit, conduit.EventTurnCompleted}
	if len(types) != len(want) {
		t.Fatalf("got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("got %v, want %v", types, want)
		}
	}
}
