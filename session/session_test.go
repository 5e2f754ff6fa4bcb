package session

import (
	"context"
	"testing"
	"time"

	"github.com/conduitrun/conduit"
	"github.com/conduitrun/conduit/runner/mockrunner"
)

func TestStartSubscribeReceivesEvents(t *testing.T) {
	script := []conduit.AgentEvent{
		{Type: conduit.EventSessionInit, SessionInit: &conduit.SessionInitPayload{SessionID: "vendor-1"}},
		{Type: conduit.EventTurnStarted},
		{Type: conduit.EventTurnCompleted, TurnCompleted: &conduit.TurnCompletedPayload{}},
	}
	inner := &mockrunner.Runner{Type: conduit.AgentClaude, Script: script}
	m := NewManager(map[conduit.AgentType]conduit.Runner{conduit.AgentClaude: inner}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := m.Start(ctx, "sess-1", conduit.AgentClaude, conduit.AgentStartConfig{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got []conduit.AgentEventType
	for ev := range sub.Events {
		got = append(got, ev.Type)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3: %v", len(got), got)
	}
}

// longRunningScript keeps a mockrunner.Runner's event channel open for the
// duration of the test, so a session stays registered in the Manager
// while the test exercises a second operation against it. A Runner
// whose Script is empty closes Events on the very next scheduler tick,
// racing the Manager's own pump-driven removal of the session entry.
func longRunningScript() ([]conduit.AgentEvent, time.Duration) {
	return []conduit.AgentEvent{{Type: conduit.EventTurnStarted}}, 200 * time.Millisecond
}

func TestStartRejectsDuplicateSessionID(t *testing.T) {
	script, delay := longRunningScript()
	inner := &mockrunner.Runner{Type: conduit.AgentClaude, Script: script, Delay: delay}
	m := NewManager(map[conduit.AgentType]conduit.Runner{conduit.AgentClaude: inner}, nil)
	ctx := context.Background()

	if _, err := m.Start(ctx, "dup", conduit.AgentClaude, conduit.AgentStartConfig{}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := m.Start(ctx, "dup", conduit.AgentClaude, conduit.AgentStartConfig{}); err != conduit.ErrSessionExists {
		t.Fatalf("second Start error = %v, want ErrSessionExists", err)
	}
}

func TestSubscribeUnknownSessionFails(t *testing.T) {
	m := NewManager(nil, nil)
	if _, err := m.Subscribe("nope"); err != conduit.ErrSessionNotFound {
		t.Fatalf("Subscribe error = %v, want ErrSessionNotFound", err)
	}
}

func TestSendInputBuildsClaudeUserMessage(t *testing.T) {
	script, delay := longRunningScript()
	inner := &mockrunner.Runner{Type: conduit.AgentClaude, Script: script, Delay: delay}
	m := NewManager(map[conduit.AgentType]conduit.Runner{conduit.AgentClaude: inner}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := m.Start(ctx, "sess", conduit.AgentClaude, conduit.AgentStartConfig{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.SendInput(ctx, "sess", "hello", nil); err != nil {
		t.Fatalf("SendInput: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	inputs := inner.ReceivedInputs()
	if len(inputs) != 1 || inputs[0].Type != conduit.InputClaudeJSONL {
		t.Fatalf("got %+v, want one ClaudeJSONL input", inputs)
	}
	if inputs[0].ClaudeJSONL == "" {
		t.Fatalf("expected non-empty JSONL payload")
	}
}

func TestSendInputBuildsCodexPromptForNonClaude(t *testing.T) {
	script, delay := longRunningScript()
	inner := &mockrunner.Runner{Type: conduit.AgentCodex, Script: script, Delay: delay}
	m := NewManager(map[conduit.AgentType]conduit.Runner{conduit.AgentCodex: inner}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := m.Start(ctx, "sess", conduit.AgentCodex, conduit.AgentStartConfig{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.SendInput(ctx, "sess", "hello", []string{"img.png"}); err != nil {
		t.Fatalf("SendInput: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	inputs := inner.ReceivedInputs()
	if len(inputs) != 1 || inputs[0].Type != conduit.InputCodexPrompt {
		t.Fatalf("got %+v, want one CodexPrompt input", inputs)
	}
	if inputs[0].CodexPrompt.Text != "hello" || len(inputs[0].CodexPrompt.Images) != 1 {
		t.Fatalf("got %+v", inputs[0].CodexPrompt)
	}
}

func TestRespondToControlRejectedForNonClaude(t *testing.T) {
	script, delay := longRunningScript()
	inner := &mockrunner.Runner{Type: conduit.AgentCodex, Script: script, Delay: delay}
	m := NewManager(map[conduit.AgentType]conduit.Runner{conduit.AgentCodex: inner}, nil)
	ctx := context.Background()
	if _, err := m.Start(ctx, "sess", conduit.AgentCodex, conduit.AgentStartConfig{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.RespondToControl(ctx, "sess", "req-1", "ok"); err != conduit.ErrNotSupported {
		t.Fatalf("RespondToControl error = %v, want ErrNotSupported", err)
	}
}

func TestStoreHookInvokedOnSessionInit(t *testing.T) {
	script := []conduit.AgentEvent{
		{Type: conduit.EventSessionInit, SessionInit: &conduit.SessionInitPayload{SessionID: "vendor-42"}},
	}
	inner := &mockrunner.Runner{Type: conduit.AgentClaude, Script: script}

	hooked := make(chan string, 1)
	m := NewManager(map[conduit.AgentType]conduit.Runner{conduit.AgentClaude: inner}, func(sessionID, vendorSessionID string) {
		hooked <- sessionID + "=" + vendorSessionID
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := m.Start(ctx, "logical-1", conduit.AgentClaude, conduit.AgentStartConfig{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	go func() {
		for range sub.Events {
		}
	}()

	select {
	case got := <-hooked:
		if got != "logical-1=vendor-42" {
			t.Fatalf("hook called with %q, want %q", got, "logical-1=vendor-42")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("StoreHook was not invoked")
	}
}

func TestStopRemovesSession(t *testing.T) {
	inner := &mockrunner.Runner{Type: conduit.AgentClaude}
	m := NewManager(map[conduit.AgentType]conduit.Runner{conduit.AgentClaude: inner}, nil)
	ctx := context.Background()
	if _, err := m.Start(ctx, "sess", conduit.AgentClaude, conduit.AgentStartConfig{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(ctx, "sess"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := m.Subscribe("sess"); err != conduit.ErrSessionNotFound {
		t.Fatalf("Subscribe after Stop error = %v, want ErrSessionNotFound", err)
	}
}

func TestBroadcasterDropsOnSlowSubscriber(t *testing.T) {
	bc := newBroadcaster()
	sub := bc.subscribe()

	for i := 0; i < subscriberCapacity+10; i++ {
		bc.publish(conduit.AgentEvent{Type: conduit.EventTurnStarted})
	}

	if sub.Dropped() == 0 {
		t.Fatalf("expected some drops when publishing beyond subscriber capacity")
	}
}
