package opencode

import (
	"encoding/json"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/conduitrun/conduit"
)

func sseData(_ *testing.T, typ string, props any) string {
	raw, err := json.Marshal(props)
	if err != nil {
		panic(err)
	}
	env := sseEvent{Type: typ, Properties: raw}
	data, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func TestTranslateTextDeltaUsesLongestCommonPrefix(t *testing.T) {
	tr := newSSETranslator("sess-1")

	part1 := messagePart{ID: "p1", Type: "text", Text: "Hello"}
	evs, terminal := tr.translate(sseData(t, "message.part.updated", messagePartUpdatedProps{
		SessionID: "sess-1",
		Part:      mustRaw(t, part1),
	}))
	if terminal {
		t.Fatal("text delta should not be terminal")
	}
	if len(evs) != 1 || evs[0].Type != conduit.EventAssistantMessage || evs[0].AssistantMessage.Text != "Hello" {
		t.Fatalf("unexpected events: %+v", evs)
	}

	part2 := messagePart{ID: "p1", Type: "text", Text: "Hello world"}
	evs, _ = tr.translate(sseData(t, "message.part.updated", messagePartUpdatedProps{
		SessionID: "sess-1",
		Part:      mustRaw(t, part2),
	}))
	if len(evs) != 1 || evs[0].AssistantMessage.Text != " world" {
		t.Fatalf("expected suffix-only delta, got %+v", evs)
	}

	end := int64(100)
	part3 := messagePart{ID: "p1", Type: "text", Text: "Hello world"}
	part3.Time.End = &end
	evs, _ = tr.translate(sseData(t, "message.part.updated", messagePartUpdatedProps{
		SessionID: "sess-1",
		Part:      mustRaw(t, part3),
	}))
	if len(evs) != 1 || !evs[0].AssistantMessage.IsFinal {
		t.Fatalf("expected a terminal empty-text sentinel, got %+v", evs)
	}
}

func TestTranslateTextResetEmitsWholeText(t *testing.T) {
	tr := newSSETranslator("sess-1")
	tr.lastText["p1"] = "abc"

	evs, _ := tr.translate(sseData(t, "message.part.updated", messagePartUpdatedProps{
		SessionID: "sess-1",
		Part:      mustRaw(t, messagePart{ID: "p1", Type: "text", Text: "xyz"}),
	}))
	if len(evs) != 1 || evs[0].AssistantMessage.Text != "xyz" {
		t.Fatalf("expected whole-text delta on reset, got %+v", evs)
	}
}

func TestTranslateToolLifecycleDedupsByCallID(t *testing.T) {
	tr := newSSETranslator("sess-1")

	tool := toolInvocationPart{ID: "t1", CallID: "call-1", ToolName: "bash", Status: "pending"}
	evs, _ := tr.translate(sseData(t, "message.part.updated", messagePartUpdatedProps{
		SessionID: "sess-1",
		Part:      mustRaw(t, withType(tool, "tool-invocation")),
	}))
	if len(evs) != 1 || evs[0].Type != conduit.EventToolStarted {
		t.Fatalf("expected ToolStarted, got %+v", evs)
	}

	tool.Status = "running"
	evs, _ = tr.translate(sseData(t, "message.part.updated", messagePartUpdatedProps{
		SessionID: "sess-1",
		Part:      mustRaw(t, withType(tool, "tool-invocation")),
	}))
	if len(evs) != 0 {
		t.Fatalf("expected the repeated pending/running transition to be deduped, got %+v", evs)
	}

	tool.Status = "completed"
	evs, _ = tr.translate(sseData(t, "message.part.updated", messagePartUpdatedProps{
		SessionID: "sess-1",
		Part:      mustRaw(t, withType(tool, "tool-invocation")),
	}))
	if len(evs) != 1 || evs[0].Type != conduit.EventToolCompleted || !evs[0].ToolCompleted.Success {
		t.Fatalf("expected successful ToolCompleted, got %+v", evs)
	}
}

func TestTranslateSessionIdleEmitsTurnCompletedOnlyWhenInFlight(t *testing.T) {
	tr := newSSETranslator("sess-1")

	evs, terminal := tr.translate(sseData(t, "session.idle", sessionIdentified{SessionID: "sess-1"}))
	if !terminal {
		t.Fatal("session.idle must be terminal")
	}
	if len(evs) != 0 {
		t.Fatalf("no turn in flight, expected no TurnCompleted, got %+v", evs)
	}

	tr.markTurnStarted()
	evs, terminal = tr.translate(sseData(t, "session.idle", sessionIdentified{SessionID: "sess-1"}))
	if !terminal {
		t.Fatal("session.idle must be terminal")
	}
	if len(evs) != 1 || evs[0].Type != conduit.EventTurnCompleted {
		t.Fatalf("expected TurnCompleted, got %+v", evs)
	}
}

func TestTranslateSessionErrorEmitsTurnFailed(t *testing.T) {
	tr := newSSETranslator("sess-1")
	tr.markTurnStarted()

	evs, terminal := tr.translate(sseData(t, "session.error", sessionErrorProps{SessionID: "sess-1", Error: "boom"}))
	if terminal {
		t.Fatal("session.error is not itself terminal")
	}
	if len(evs) != 1 || evs[0].Type != conduit.EventTurnFailed || evs[0].TurnFailed.Error != "boom" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestTranslateIgnoresUserPartEchoes(t *testing.T) {
	tr := newSSETranslator("sess-1")

	_, _ = tr.translate(sseData(t, "message.updated", messageUpdatedProps{
		Info: messageInfo{ID: "mU", SessionID: "sess-1", Role: "user"},
	}))

	evs, _ := tr.translate(sseData(t, "message.part.updated", messagePartUpdatedProps{
		SessionID: "sess-1",
		Part:      mustRaw(t, messagePart{ID: "p1", MessageID: "mU", Type: "text", Text: "echoed prompt"}),
	}))
	if len(evs) != 0 {
		t.Fatalf("expected user-role message parts to be filtered, got %+v", evs)
	}
}

func TestTranslateCompletedMessageWithNoPartsFetchesAndEmits(t *testing.T) {
	tr := newSSETranslator("sess-1")
	var fetched string
	tr.fetchMessage = func(messageID string) (string, error) {
		fetched = messageID
		return "fetched text", nil
	}

	completed := int64(1000)
	evs, terminal := tr.translate(sseData(t, "message.updated", messageUpdatedProps{
		Info: messageInfo{ID: "m1", SessionID: "sess-1", Role: "assistant", Time: messageTime{Completed: &completed}},
	}))
	if terminal {
		t.Fatal("message.updated is not itself terminal")
	}
	if fetched != "m1" {
		t.Fatalf("fetchMessage not called with message id, got %q", fetched)
	}
	if len(evs) != 1 || evs[0].Type != conduit.EventAssistantMessage || evs[0].AssistantMessage.Text != "fetched text" || !evs[0].AssistantMessage.IsFinal {
		t.Fatalf("unexpected events: %+v", evs)
	}

	// A second message.updated for the same id must not fetch/emit again.
	fetched = ""
	evs, _ = tr.translate(sseData(t, "message.updated", messageUpdatedProps{
		Info: messageInfo{ID: "m1", SessionID: "sess-1", Role: "assistant", Time: messageTime{Completed: &completed}},
	}))
	if fetched != "" || len(evs) != 0 {
		t.Fatalf("expected no second fetch/emit, got fetched=%q evs=%+v", fetched, evs)
	}
}

func TestTranslateCompletedMessageWithStreamedPartsSkipsFetch(t *testing.T) {
	tr := newSSETranslator("sess-1")
	tr.fetchMessage = func(messageID string) (string, error) {
		t.Fatal("fetchMessage must not be called when parts already streamed")
		return "", nil
	}

	_, _ = tr.translate(sseData(t, "message.part.updated", messagePartUpdatedProps{
		SessionID: "sess-1",
		Part:      mustRaw(t, messagePart{ID: "p1", MessageID: "m1", Type: "text", Text: "hi"}),
	}))

	completed := int64(1000)
	evs, _ := tr.translate(sseData(t, "message.updated", messageUpdatedProps{
		Info: messageInfo{ID: "m1", SessionID: "sess-1", Role: "assistant", Time: messageTime{Completed: &completed}},
	}))
	if len(evs) != 0 {
		t.Fatalf("expected no fetch-path emission, got %+v", evs)
	}
}

func TestTranslateIgnoresEventsForOtherSessions(t *testing.T) {
	tr := newSSETranslator("sess-1")
	evs, terminal := tr.translate(sseData(t, "session.idle", sessionIdentified{SessionID: "sess-other"}))
	if terminal || len(evs) != 0 {
		t.Fatalf("events for a different session must be ignored, got %+v terminal=%v", evs, terminal)
	}
}

func TestTranslatePermissionAskedInvokesCallback(t *testing.T) {
	tr := newSSETranslator("sess-1")
	var gotID string
	tr.onPermissionAsked = func(id string) { gotID = id }

	_, _ = tr.translate(sseData(t, "permission.asked", permissionAskedProps{SessionID: "sess-1", ID: "perm-1"}))
	if gotID != "perm-1" {
		t.Fatalf("onPermissionAsked not invoked with id, got %q", gotID)
	}
}

func TestTranslateQuestionAskedEmitsSyntheticToolStarted(t *testing.T) {
	tr := newSSETranslator("sess-1")
	evs, _ := tr.translate(sseData(t, "question.asked", questionAskedProps{
		SessionID: "sess-1",
		ID:        "q1",
		Questions: mustRaw(t, []string{"pick one"}),
	}))
	if len(evs) != 1 || evs[0].Type != conduit.EventToolStarted || evs[0].ToolStarted.ToolName != "AskUserQuestion" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestReadSSEStopsAtTerminalEvent(t *testing.T) {
	body := "data: " + sseData(nil, "session.idle", sessionIdentified{SessionID: "sess-1"}) + "\n\n" +
		"data: " + sseData(nil, "session.idle", sessionIdentified{SessionID: "sess-1"}) + "\n\n"

	tr := newSSETranslator("sess-1")
	var calls int
	readSSE(strings.NewReader(body), func(evs []conduit.AgentEvent) bool {
		calls++
		return true
	}, tr.translate)
	if calls > 1 {
		t.Fatalf("expected readSSE to stop after the first terminal event, got %d calls", calls)
	}
}

// TestStreamingDeltaLawHoldsForPrefixGrowth checks the universal property:
// for any run of monotonically prefix-growing text frames ending with a
// time.end marker, the concatenation of the emitted deltas equals the
// final full text the frames claimed.
func TestStreamingDeltaLawHoldsForPrefixGrowth(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		chunks := rapid.SliceOfN(rapid.StringMatching(`[a-zA-Z0-9 ]{0,8}`), 1, 10).Draw(rt, "chunks")

		tr := newSSETranslator("sess-1")
		var full strings.Builder
		var concatenated strings.Builder
		for i, chunk := range chunks {
			full.WriteString(chunk)
			isLast := i == len(chunks)-1
			part := messagePart{ID: "p1", Type: "text", Text: full.String()}
			if isLast {
				end := int64(1)
				part.Time.End = &end
			}
			evs, _ := tr.translate(sseData(t, "message.part.updated", messagePartUpdatedProps{
				SessionID: "sess-1",
				Part:      mustRaw(t, part),
			}))
			for _, ev := range evs {
				if ev.Type == conduit.EventAssistantMessage && !ev.AssistantMessage.IsFinal {
					concatenated.WriteString(ev.AssistantMessage.Text)
				}
			}
		}
		if concatenated.String() != full.String() {
			rt.Fatalf("concatenated deltas = %q, want %q", concatenated.String(), full.String())
		}
	})
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	if t != nil {
		t.Helper()
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func withType(tool toolInvocationPart, typ string) map[string]any {
	data, _ := json.Marshal(tool)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	m["type"] = typ
	return m
}
