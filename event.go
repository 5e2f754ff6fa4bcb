package conduit

import "encoding/json"

// AgentEventType discriminates the variants of [AgentEvent].
type AgentEventType string

// The closed set of unified event variants every Runner translates into.
const (
	EventSessionInit       AgentEventType = "session_init"
	EventTurnStarted       AgentEventType = "turn_started"
	EventTurnCompleted     AgentEventType = "turn_completed"
	EventTurnFailed        AgentEventType = "turn_failed"
	EventAssistantMessage  AgentEventType = "assistant_message"
	EventAssistantThinking AgentEventType = "assistant_reasoning"
	EventToolStarted       AgentEventType = "tool_started"
	EventToolCompleted     AgentEventType = "tool_completed"
	EventCommandOutput     AgentEventType = "command_output"
	EventFileChanged       AgentEventType = "file_changed"
	EventTokenUsage        AgentEventType = "token_usage"
	EventContextCompaction AgentEventType = "context_compaction"
	EventError             AgentEventType = "error"
	EventRaw               AgentEventType = "raw"
)

// FileOp describes the filesystem side effect reported by [FileChangedPayload].
type FileOp string

const (
	FileCreate FileOp = "create"
	FileUpdate FileOp = "update"
	FileDelete FileOp = "delete"
)

// TokenUsage reports token accounting for a turn or an out-of-turn update.
// Fields the vendor does not report are left zero.
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Cached int64 `json:"cached"`
	Total  int64 `json:"total"`
}

// AgentEvent is the unified, vendor-agnostic event every Runner emits.
//
// Exactly one payload field is populated, matching Type. This mirrors a
// Rust tagged enum (serde's #[serde(tag = "type")] over struct variants):
// Go has no sum types, so the discriminator plus pointer-typed optional
// fields is the idiomatic in-memory encoding. On the wire it marshals
// and unmarshals flat, with "type" alongside the payload's own fields
// rather than nested under a variant key, matching the tape format in
// package tape. See MarshalJSON/UnmarshalJSON.
type AgentEvent struct {
	Type AgentEventType

	SessionInit       *SessionInitPayload
	TurnCompleted     *TurnCompletedPayload
	TurnFailed        *TurnFailedPayload
	AssistantMessage  *AssistantMessagePayload
	AssistantThinking *AssistantThinkingPayload
	ToolStarted       *ToolStartedPayload
	ToolCompleted     *ToolCompletedPayload
	CommandOutput     *CommandOutputPayload
	FileChanged       *FileChangedPayload
	TokenUsageUpdate  *TokenUsagePayload
	ContextCompaction *ContextCompactionPayload
	Error             *ErrorPayload
	Raw               json.RawMessage
}

// MarshalJSON flattens the populated payload's fields alongside "type",
// instead of nesting them under a variant key, matching the original
// Rust implementation's #[serde(tag = "type")] wire shape.
func (e AgentEvent) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}

	payload := e.payload()
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
	}
	if e.Type == EventRaw && len(e.Raw) > 0 {
		fields["raw"] = e.Raw
	}

	typ, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	fields["type"] = typ

	return json.Marshal(fields)
}

// UnmarshalJSON reads a flat {"type": ..., <payload fields>...} object
// back into the variant named by "type".
func (e *AgentEvent) UnmarshalJSON(data []byte) error {
	var head struct {
		Type AgentEventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	*e = AgentEvent{Type: head.Type}

	switch head.Type {
	case EventSessionInit:
		e.SessionInit = &SessionInitPayload{}
		return json.Unmarshal(data, e.SessionInit)
	case EventTurnCompleted:
		e.TurnCompleted = &TurnCompletedPayload{}
		return json.Unmarshal(data, e.TurnCompleted)
	case EventTurnFailed:
		e.TurnFailed = &TurnFailedPayload{}
		return json.Unmarshal(data, e.TurnFailed)
	case EventAssistantMessage:
		e.AssistantMessage = &AssistantMessagePayload{}
		return json.Unmarshal(data, e.AssistantMessage)
	case EventAssistantThinking:
		e.AssistantThinking = &AssistantThinkingPayload{}
		return json.Unmarshal(data, e.AssistantThinking)
	case EventToolStarted:
		e.ToolStarted = &ToolStartedPayload{}
		return json.Unmarshal(data, e.ToolStarted)
	case EventToolCompleted:
		e.ToolCompleted = &ToolCompletedPayload{}
		return json.Unmarshal(data, e.ToolCompleted)
	case EventCommandOutput:
		e.CommandOutput = &CommandOutputPayload{}
		return json.Unmarshal(data, e.CommandOutput)
	case EventFileChanged:
		e.FileChanged = &FileChangedPayload{}
		return json.Unmarshal(data, e.FileChanged)
	case EventTokenUsage:
		e.TokenUsageUpdate = &TokenUsagePayload{}
		return json.Unmarshal(data, e.TokenUsageUpdate)
	case EventContextCompaction:
		e.ContextCompaction = &ContextCompactionPayload{}
		return json.Unmarshal(data, e.ContextCompaction)
	case EventError:
		e.Error = &ErrorPayload{}
		return json.Unmarshal(data, e.Error)
	case EventRaw:
		var wrapper struct {
			Raw json.RawMessage `json:"raw"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return err
		}
		e.Raw = wrapper.Raw
		return nil
	case EventTurnStarted:
		return nil
	default:
		return nil
	}
}

// payload returns the populated payload value for Type, or nil if Type
// has none (EventTurnStarted) or isn't recognized.
func (e AgentEvent) payload() any {
	switch e.Type {
	case EventSessionInit:
		return e.SessionInit
	case EventTurnCompleted:
		return e.TurnCompleted
	case EventTurnFailed:
		return e.TurnFailed
	case EventAssistantMessage:
		return e.AssistantMessage
	case EventAssistantThinking:
		return e.AssistantThinking
	case EventToolStarted:
		return e.ToolStarted
	case EventToolCompleted:
		return e.ToolCompleted
	case EventCommandOutput:
		return e.CommandOutput
	case EventFileChanged:
		return e.FileChanged
	case EventTokenUsage:
		return e.TokenUsageUpdate
	case EventContextCompaction:
		return e.ContextCompaction
	case EventError:
		return e.Error
	default:
		return nil
	}
}

type SessionInitPayload struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
}

type TurnCompletedPayload struct {
	Usage TokenUsage `json:"usage"`
}

type TurnFailedPayload struct {
	Error string `json:"error"`
}

// AssistantMessagePayload carries text output. IsFinal=false marks a
// streaming delta; IsFinal=true with an empty Text is the end-of-stream
// sentinel (see the streaming delta law, property 4).
type AssistantMessagePayload struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type AssistantThinkingPayload struct {
	Text string `json:"text"`
}

type ToolStartedPayload struct {
	ToolName  string          `json:"tool_name"`
	ToolID    string          `json:"tool_id"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ToolCompletedPayload struct {
	ToolID  string  `json:"tool_id"`
	Success bool    `json:"success"`
	Result  *string `json:"result,omitempty"`
	Error   string  `json:"error,omitempty"`
}

type CommandOutputPayload struct {
	Command     string `json:"command"`
	Output      string `json:"output"`
	ExitCode    *int   `json:"exit_code,omitempty"`
	IsStreaming bool   `json:"is_streaming"`
}

type FileChangedPayload struct {
	Path      string `json:"path"`
	Operation FileOp `json:"operation"`
}

type TokenUsagePayload struct {
	Usage         TokenUsage `json:"usage"`
	ContextWindow int64      `json:"context_window,omitempty"`
	PercentUsed   float64    `json:"percent_used,omitempty"`
}

type ContextCompactionPayload struct {
	Reason       string `json:"reason"`
	TokensBefore int64  `json:"tokens_before"`
	TokensAfter  int64  `json:"tokens_after"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	IsFatal bool   `json:"is_fatal"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
