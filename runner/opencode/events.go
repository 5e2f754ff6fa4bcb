package opencode

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/conduitrun/conduit"
	"github.com/conduitrun/conduit/internal/jsonutil"
)

// sseTranslator tracks the per-session state needed to turn OpenCode's SSE
// stream into unified events: last-seen text per message part (for the
// delta rule) and which tool call_ids have already emitted ToolStarted,
// grounded in oubliette's parseSSEEvent dispatch table, adapted from its
// open StreamEvent union to conduit's closed AgentEvent union.
type sseTranslator struct {
	sessionID string

	// onPermissionAsked, if set, is invoked with the permission request id
	// whenever the server asks for approval. The core runtime has no
	// interactive approval surface of its own, so it auto-allows.
	onPermissionAsked func(id string)

	// fetchMessage, if set, fetches the full part list of a completed
	// message that never streamed a part delta (GET
	// /session/{sid}/message/{mid}).
	fetchMessage func(messageID string) (string, error)

	mu                sync.Mutex
	lastText          map[string]string // part id -> last-seen full text, for the delta rule
	startedTools      map[string]bool   // call_id -> ToolStarted already emitted
	messageRoles      map[string]string // message id -> role, from message.updated
	seenParts         map[string]bool   // message id -> at least one message.part.updated observed
	completedMessages map[string]bool   // message id -> completed-path AssistantMessage already emitted

	turnInFlight bool
}

func newSSETranslator(sessionID string) *sseTranslator {
	return &sseTranslator{
		sessionID:         sessionID,
		lastText:          make(map[string]string),
		startedTools:      make(map[string]bool),
		messageRoles:      make(map[string]string),
		seenParts:         make(map[string]bool),
		completedMessages: make(map[string]bool),
	}
}

// translate parses one SSE "data:" payload and returns zero or more
// unified events, plus whether the SSE loop should stop (a terminal
// session.idle/session.status-idle for this translator's session).
func (t *sseTranslator) translate(data string) ([]conduit.AgentEvent, bool) {
	var env sseEvent
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, false
	}

	switch env.Type {
	case "message.updated":
		var props messageUpdatedProps
		if json.Unmarshal(env.Properties, &props) != nil || props.Info.ID == "" || !t.matches(props.Info.SessionID) {
			return nil, false
		}
		t.mu.Lock()
		t.messageRoles[props.Info.ID] = props.Info.Role
		needsFetch := props.Info.Role == "assistant" &&
			props.Info.Time.Completed != nil &&
			!t.seenParts[props.Info.ID] &&
			!t.completedMessages[props.Info.ID]
		if needsFetch {
			t.completedMessages[props.Info.ID] = true
		}
		t.mu.Unlock()
		if needsFetch {
			return t.fetchCompletedMessage(props.Info.ID), false
		}
		return nil, false

	case "server.connected", "server.heartbeat":
		return nil, false

	case "message.part.updated":
		return t.handlePartUpdated(env.Properties), false

	case "permission.asked":
		var props permissionAskedProps
		if json.Unmarshal(env.Properties, &props) == nil && t.matches(props.SessionID) {
			if t.onPermissionAsked != nil {
				t.onPermissionAsked(props.ID)
			}
			return []conduit.AgentEvent{{Type: conduit.EventRaw, Raw: env.Properties}}, false
		}
		return nil, false

	case "question.asked":
		var props questionAskedProps
		if json.Unmarshal(env.Properties, &props) != nil || !t.matches(props.SessionID) {
			return nil, false
		}
		return []conduit.AgentEvent{{
			Type: conduit.EventToolStarted,
			ToolStarted: &conduit.ToolStartedPayload{
				ToolName:  "AskUserQuestion",
				ToolID:    props.ID,
				Arguments: props.Questions,
			},
		}}, false

	case "question.replied":
		var props questionRepliedProps
		if json.Unmarshal(env.Properties, &props) != nil || !t.matches(props.SessionID) {
			return nil, false
		}
		return []conduit.AgentEvent{{
			Type:          conduit.EventToolCompleted,
			ToolCompleted: &conduit.ToolCompletedPayload{ToolID: props.ID, Success: true},
		}}, false

	case "question.rejected":
		var props questionRepliedProps
		if json.Unmarshal(env.Properties, &props) != nil || !t.matches(props.SessionID) {
			return nil, false
		}
		return []conduit.AgentEvent{{
			Type:          conduit.EventToolCompleted,
			ToolCompleted: &conduit.ToolCompletedPayload{ToolID: props.ID, Success: false, Error: "rejected"},
		}}, false

	case "session.idle":
		var props sessionIdentified
		if json.Unmarshal(env.Properties, &props) == nil && t.matches(props.SessionID) {
			return t.finishTurn(), true
		}
		return nil, false

	case "session.status":
		var props sessionStatusProps
		if json.Unmarshal(env.Properties, &props) != nil || !t.matches(props.SessionID) {
			return nil, false
		}
		if props.Status.Type == "idle" {
			return t.finishTurn(), true
		}
		return nil, false

	case "session.error":
		var props sessionErrorProps
		if json.Unmarshal(env.Properties, &props) != nil || !t.matches(props.SessionID) {
			return nil, false
		}
		t.mu.Lock()
		t.turnInFlight = false
		t.mu.Unlock()
		return []conduit.AgentEvent{{
			Type:       conduit.EventTurnFailed,
			TurnFailed: &conduit.TurnFailedPayload{Error: props.Error},
		}}, false

	default:
		return []conduit.AgentEvent{{Type: conduit.EventRaw, Raw: env.Properties}}, false
	}
}

func (t *sseTranslator) matches(sessionID string) bool {
	return sessionID == "" || sessionID == t.sessionID
}

// isUserPart reports whether messageID was last seen with role "user" via
// a prior message.updated frame: such parts are echoes of the caller's
// own prompt, not assistant output, and must be dropped.
func (t *sseTranslator) isUserPart(messageID string) bool {
	if messageID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messageRoles[messageID] == "user"
}

func (t *sseTranslator) finishTurn() []conduit.AgentEvent {
	t.mu.Lock()
	inFlight := t.turnInFlight
	t.turnInFlight = false
	t.mu.Unlock()
	if !inFlight {
		return nil
	}
	return []conduit.AgentEvent{{Type: conduit.EventTurnCompleted, TurnCompleted: &conduit.TurnCompletedPayload{}}}
}

// markTurnStarted records that a prompt is in flight, so a later
// session.idle/session.status=idle knows to emit TurnCompleted.
func (t *sseTranslator) markTurnStarted() {
	t.mu.Lock()
	t.turnInFlight = true
	t.mu.Unlock()
}

func (t *sseTranslator) handlePartUpdated(raw json.RawMessage) []conduit.AgentEvent {
	var props messagePartUpdatedProps
	if err := json.Unmarshal(raw, &props); err != nil || !t.matches(props.SessionID) {
		return nil
	}
	var part messagePart
	if err := json.Unmarshal(props.Part, &part); err != nil {
		return nil
	}
	if t.isUserPart(part.MessageID) {
		return nil
	}
	if part.MessageID != "" {
		t.mu.Lock()
		t.seenParts[part.MessageID] = true
		t.mu.Unlock()
	}

	switch part.Type {
	case "text":
		return t.textDelta(part, false)
	case "reasoning":
		return t.textDelta(part, true)
	case "tool-invocation", "tool":
		var tool toolInvocationPart
		if err := json.Unmarshal(props.Part, &tool); err != nil {
			return nil
		}
		return t.toolEvent(tool)
	default:
		return nil
	}
}

// textDelta applies the longest-common-prefix delta rule: if the
// previously-seen text for this part is a prefix of the current text,
// the delta is the suffix; otherwise the whole current text is the delta
// (the part was reset or replaced out from under us).
func (t *sseTranslator) textDelta(part messagePart, reasoning bool) []conduit.AgentEvent {
	t.mu.Lock()
	prev := t.lastText[part.ID]
	t.lastText[part.ID] = part.Text
	t.mu.Unlock()

	var delta string
	if strings.HasPrefix(part.Text, prev) {
		delta = part.Text[len(prev):]
	} else {
		delta = part.Text
	}

	var events []conduit.AgentEvent
	if delta != "" {
		if reasoning {
			events = append(events, conduit.AgentEvent{
				Type:              conduit.EventAssistantThinking,
				AssistantThinking: &conduit.AssistantThinkingPayload{Text: delta},
			})
		} else {
			events = append(events, conduit.AgentEvent{
				Type:             conduit.EventAssistantMessage,
				AssistantMessage: &conduit.AssistantMessagePayload{Text: delta, IsFinal: false},
			})
		}
	}
	if part.Time.End != nil && !reasoning {
		events = append(events, conduit.AgentEvent{
			Type:             conduit.EventAssistantMessage,
			AssistantMessage: &conduit.AssistantMessagePayload{Text: "", IsFinal: true},
		})
		events = append(events, t.finishTurn()...)
	}
	return events
}

// fetchCompletedMessage recovers the text of an assistant message that
// completed without ever streaming a message.part.updated delta, by
// fetching its parts directly. Emitted at most once per message id,
// enforced by the completedMessages dedup set in translate.
func (t *sseTranslator) fetchCompletedMessage(messageID string) []conduit.AgentEvent {
	if t.fetchMessage == nil {
		return nil
	}
	text, err := t.fetchMessage(messageID)
	if err != nil || text == "" {
		return nil
	}
	return []conduit.AgentEvent{{
		Type:             conduit.EventAssistantMessage,
		AssistantMessage: &conduit.AssistantMessagePayload{Text: text, IsFinal: true},
	}}
}

func (t *sseTranslator) toolEvent(tool toolInvocationPart) []conduit.AgentEvent {
	callID := tool.CallID
	if callID == "" {
		callID = tool.ID
	}
	if tool.ToolName == "question" {
		return nil
	}

	switch tool.Status {
	case "pending", "running":
		t.mu.Lock()
		already := t.startedTools[callID]
		t.startedTools[callID] = true
		t.mu.Unlock()
		if already {
			return nil
		}
		return []conduit.AgentEvent{{
			Type: conduit.EventToolStarted,
			ToolStarted: &conduit.ToolStartedPayload{
				ToolName:  tool.ToolName,
				ToolID:    callID,
				Arguments: tool.Args,
			},
		}}
	case "completed":
		return []conduit.AgentEvent{{
			Type:          conduit.EventToolCompleted,
			ToolCompleted: &conduit.ToolCompletedPayload{ToolID: callID, Success: true, Result: jsonutil.StringifyResult(tool.Result)},
		}}
	case "error":
		return []conduit.AgentEvent{{
			Type:          conduit.EventToolCompleted,
			ToolCompleted: &conduit.ToolCompletedPayload{ToolID: callID, Success: false, Error: tool.Error},
		}}
	default:
		return nil
	}
}

// readSSE scans an SSE body for "data:" lines, feeding each payload to
// translate and sending the resulting events until the body closes, ctx
// is done, or translate signals a terminal event.
func readSSE(body io.Reader, emit func([]conduit.AgentEvent) bool, translate func(string) ([]conduit.AgentEvent, bool)) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		events, terminal := translate(data)
		if len(events) > 0 {
			if !emit(events) {
				return
			}
		}
		if terminal {
			return
		}
	}
}
