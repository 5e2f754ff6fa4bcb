package geminiacp

import (
	"encoding/json"

	"github.com/conduitrun/conduit"
	"github.com/conduitrun/conduit/internal/jsonutil"
)

// updateParsers dispatches a session/update notification's sessionUpdate
// discriminator to the function that turns it into zero or more unified
// events. Plan, mode, config, session-info and command-list variants have no
// conduit.AgentEvent equivalent and are passed through as EventRaw, as are
// unknown variants; user_message_chunk and usage_update are dropped.
var updateParsers = map[string]func(json.RawMessage) []conduit.AgentEvent{
	"agent_message_chunk":       parseAgentMessageChunk,
	"agent_thought_chunk":       parseAgentThoughtChunk,
	"tool_call":                 parseToolCall,
	"tool_call_update":          parseToolCallUpdate,
	"user_message_chunk":        parseIgnored,
	"usage_update":              parseIgnored,
	"plan":                      parseRawPassthrough,
	"current_mode_update":       parseRawPassthrough,
	"config_option_update":      parseRawPassthrough,
	"session_info_update":       parseRawPassthrough,
	"available_commands_update": parseRawPassthrough,
}

type chunkUpdate struct {
	Content contentBlock `json:"content"`
}

func parseAgentMessageChunk(raw json.RawMessage) []conduit.AgentEvent {
	var u chunkUpdate
	if err := json.Unmarshal(raw, &u); err != nil || u.Content.Text == "" {
		return nil
	}
	return []conduit.AgentEvent{{
		Type:             conduit.EventAssistantMessage,
		AssistantMessage: &conduit.AssistantMessagePayload{Text: u.Content.Text, IsFinal: false},
	}}
}

func parseAgentThoughtChunk(raw json.RawMessage) []conduit.AgentEvent {
	var u chunkUpdate
	if err := json.Unmarshal(raw, &u); err != nil || u.Content.Text == "" {
		return nil
	}
	return []conduit.AgentEvent{{
		Type:              conduit.EventAssistantThinking,
		AssistantThinking: &conduit.AssistantThinkingPayload{Text: u.Content.Text},
	}}
}

type toolCallPayload struct {
	ToolCallID string          `json:"toolCallId"`
	Title      string          `json:"title"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	RawInput   json.RawMessage `json:"rawInput"`
	RawOutput  json.RawMessage `json:"rawOutput"`
}

func parseToolCall(raw json.RawMessage) []conduit.AgentEvent {
	var t toolCallPayload
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil
	}
	name := t.Title
	if name == "" {
		name = t.Kind
	}
	if name == "" {
		name = "tool"
	}
	return []conduit.AgentEvent{{
		Type: conduit.EventToolStarted,
		ToolStarted: &conduit.ToolStartedPayload{
			ToolName:  name,
			ToolID:    t.ToolCallID,
			Arguments: t.RawInput,
		},
	}}
}

func parseToolCallUpdate(raw json.RawMessage) []conduit.AgentEvent {
	var t toolCallPayload
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil
	}
	switch t.Status {
	case "completed":
		return []conduit.AgentEvent{{
			Type: conduit.EventToolCompleted,
			ToolCompleted: &conduit.ToolCompletedPayload{
				ToolID:  t.ToolCallID,
				Success: true,
				Result:  jsonutil.StringifyResult(t.RawOutput),
			},
		}}
	case "failed":
		return []conduit.AgentEvent{{
			Type: conduit.EventToolCompleted,
			ToolCompleted: &conduit.ToolCompletedPayload{
				ToolID:  t.ToolCallID,
				Success: false,
				Error:   string(t.RawOutput),
			},
		}}
	default:
		// pending / in_progress status changes have no conduit equivalent
		// beyond the initial tool_call; nothing to emit.
		return nil
	}
}

func parseIgnored(json.RawMessage) []conduit.AgentEvent { return nil }

func parseRawPassthrough(raw json.RawMessage) []conduit.AgentEvent {
	return []conduit.AgentEvent{{Type: conduit.EventRaw, Raw: raw}}
}

// translateUpdate parses a session/update notification body and dispatches
// its sessionUpdate variant.
func translateUpdate(params json.RawMessage) []conduit.AgentEvent {
	var notif sessionNotification
	if err := json.Unmarshal(params, &notif); err != nil {
		return nil
	}
	var hdr sessionUpdateHeader
	if err := json.Unmarshal(notif.Update, &hdr); err != nil {
		return nil
	}
	parse, ok := updateParsers[hdr.SessionUpdate]
	if !ok {
		return []conduit.AgentEvent{{Type: conduit.EventRaw, Raw: notif.Update}}
	}
	return parse(notif.Update)
}
