package claudecli

import (
	"cmp"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/conduitrun/conduit"
	"github.com/conduitrun/conduit/internal/jsonutil"
	"github.com/conduitrun/conduit/runner/clitransport"
)

// vendorMessage is the minimal shape of a Claude Code stream-json line.
// Claude's content blocks are heterogeneous, so fields that vary by type
// stay as json.RawMessage and are decoded lazily.
type vendorMessage struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`

	SessionID string `json:"session_id"`
	Model     string `json:"model"`

	Message *vendorInner `json:"message"`

	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`

	Usage *vendorUsage `json:"usage"`
}

type vendorInner struct {
	Content []vendorBlock `json:"content"`
}

type vendorBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`

	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
}

type vendorUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

func (u *vendorUsage) toUsage() conduit.TokenUsage {
	if u == nil {
		return conduit.TokenUsage{}
	}
	cached := u.CacheReadInputTokens + u.CacheCreationInputTokens
	return conduit.TokenUsage{
		Input:  u.InputTokens,
		Output: u.OutputTokens,
		Cached: cached,
		Total:  u.InputTokens + u.OutputTokens + cached,
	}
}

func newTranslator() clitransport.LineTranslator {
	return translateLine
}

func translateLine(line string) ([]conduit.AgentEvent, error) {
	if strings.TrimSpace(line) == "" {
		return nil, clitransport.ErrSkipLine
	}
	var m vendorMessage
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return nil, err
	}

	switch m.Type {
	case "system":
		if m.Subtype != "init" {
			return nil, clitransport.ErrSkipLine
		}
		return []conduit.AgentEvent{{
			Type:        conduit.EventSessionInit,
			SessionInit: &conduit.SessionInitPayload{SessionID: m.SessionID, Model: m.Model},
		}}, nil

	case "assistant":
		return translateAssistant(m), nil

	case "user":
		return translateUser(m), nil

	case "tool_use":
		var b struct {
			vendorBlock
			Tool      string          `json:"tool"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(line), &b); err != nil {
			return nil, err
		}
		b.Name = cmp.Or(b.Name, b.Tool)
		if b.Arguments != nil {
			b.Input = b.Arguments
		}
		return translateAssistant(vendorMessage{Message: &vendorInner{Content: []vendorBlock{b.vendorBlock}}}), nil

	case "tool_result":
		return []conduit.AgentEvent{toolCompletedEvent(m.ToolUseID, !m.IsError, m.Content)}, nil

	case "result":
		return []conduit.AgentEvent{{
			Type:          conduit.EventTurnCompleted,
			TurnCompleted: &conduit.TurnCompletedPayload{Usage: m.Usage.toUsage()},
		}}, nil

	default:
		return nil, clitransport.ErrSkipLine
	}
}

func translateAssistant(m vendorMessage) []conduit.AgentEvent {
	if m.Message == nil {
		return nil
	}
	var events []conduit.AgentEvent
	for _, block := range m.Message.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				events = append(events, conduit.AgentEvent{
					Type:             conduit.EventAssistantMessage,
					AssistantMessage: &conduit.AssistantMessagePayload{Text: block.Text, IsFinal: true},
				})
			}
		case "tool_use":
			id := block.ID
			if id == "" {
				id = "claude_" + uuid.NewString()
			}
			events = append(events, conduit.AgentEvent{
				Type: conduit.EventToolStarted,
				ToolStarted: &conduit.ToolStartedPayload{
					ToolName:  block.Name,
					ToolID:    id,
					Arguments: block.Input,
				},
			})
		}
	}
	return events
}

func translateUser(m vendorMessage) []conduit.AgentEvent {
	if m.Message == nil {
		return nil
	}
	var events []conduit.AgentEvent
	for _, block := range m.Message.Content {
		if block.Type != "tool_result" {
			continue
		}
		events = append(events, toolCompletedEvent(block.ToolUseID, !block.IsError, block.Content))
	}
	return events
}

func toolCompletedEvent(toolID string, success bool, content json.RawMessage) conduit.AgentEvent {
	p := &conduit.ToolCompletedPayload{ToolID: toolID, Success: success}
	if success {
		p.Result = jsonutil.StringifyResult(content)
	} else {
		p.Error = string(content)
	}
	return conduit.AgentEvent{Type: conduit.EventToolCompleted, ToolCompleted: p}
}
