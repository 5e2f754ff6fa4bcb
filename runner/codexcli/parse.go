package codexcli

import (
	"encoding/json"
	"strings"

	"github.com/conduitrun/conduit"
	"github.com/conduitrun/conduit/runner/clitransport"
)

type vendorMessage struct {
	Type string `json:"type"`

	ThreadID string `json:"thread_id"`

	Usage   *vendorUsage `json:"usage"`
	Error   string       `json:"error"`
	Message string       `json:"message"`

	Item *vendorItem `json:"item"`
}

type vendorUsage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
}

func (u *vendorUsage) toUsage() conduit.TokenUsage {
	if u == nil {
		return conduit.TokenUsage{}
	}
	return conduit.TokenUsage{
		Input:  u.InputTokens,
		Output: u.OutputTokens,
		Cached: u.CachedInputTokens,
		Total:  u.InputTokens + u.OutputTokens + u.CachedInputTokens,
	}
}

type vendorItem struct {
	Type             string `json:"type"`
	Text             string `json:"text"`
	Command          string `json:"command"`
	AggregatedOutput string `json:"aggregated_output"`
	Output           string `json:"output"`
	ExitCode         *int   `json:"exit_code"`
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
	case "thread.started":
		return []conduit.AgentEvent{{
			Type:        conduit.EventSessionInit,
			SessionInit: &conduit.SessionInitPayload{SessionID: m.ThreadID},
		}}, nil

	case "turn.started":
		return []conduit.AgentEvent{{Type: conduit.EventTurnStarted}}, nil

	case "turn.completed":
		return []conduit.AgentEvent{{
			Type:          conduit.EventTurnCompleted,
			TurnCompleted: &conduit.TurnCompletedPayload{Usage: m.Usage.toUsage()},
		}}, nil

	case "turn.failed":
		return []conduit.AgentEvent{{
			Type:       conduit.EventTurnFailed,
			TurnFailed: &conduit.TurnFailedPayload{Error: m.Error},
		}}, nil

	case "item.completed", "item.updated":
		return translateItem(m.Item), nil

	case "error":
		msg := m.Message
		if msg == "" {
			msg = m.Error
		}
		return []conduit.AgentEvent{{
			Type:  conduit.EventError,
			Error: &conduit.ErrorPayload{Message: msg, IsFatal: true},
		}}, nil

	default:
		return nil, clitransport.ErrSkipLine
	}
}

func translateItem(item *vendorItem) []conduit.AgentEvent {
	if item == nil {
		return nil
	}
	switch item.Type {
	case "agent_message", "message":
		if item.Text == "" {
			return nil
		}
		return []conduit.AgentEvent{{
			Type:             conduit.EventAssistantMessage,
			AssistantMessage: &conduit.AssistantMessagePayload{Text: item.Text, IsFinal: true},
		}}
	case "command_execution", "local_shell_call":
		output := item.AggregatedOutput
		if output == "" {
			output = item.Output
		}
		return []conduit.AgentEvent{{
			Type: conduit.EventCommandOutput,
			CommandOutput: &conduit.CommandOutputPayload{
				Command:  item.Command,
				Output:   output,
				ExitCode: item.ExitCode,
			},
		}}
	default:
		return nil
	}
}
