// Package models is the per-vendor model registry: static tables for
// Claude/Codex/Gemini, plus a dynamic, mutex-guarded table for OpenCode
// populated at runtime from the running server, grounded in
// original_source's agent model registry.
package models

import (
	"sort"
	"strings"
	"sync"

	"github.com/conduitrun/conduit"
)

const (
	ClaudeContextWindow   int64 = 200_000
	CodexContextWindow    int64 = 272_000
	GeminiContextWindow   int64 = 1_000_000
	OpenCodeContextWindow int64 = 200_000
)

const openCodeDefaultModelID = "default"

// Info describes one selectable model.
type Info struct {
	ID            string
	DisplayName   string
	Alias         string
	Description   string
	IsDefault     bool
	AgentType     conduit.AgentType
	ContextWindow int64
}

func claude() []Info {
	return []Info{
		{ID: "opus", DisplayName: "Opus 4.5", Alias: "opus", Description: "Most powerful, best for complex reasoning", IsDefault: true, AgentType: conduit.AgentClaude, ContextWindow: ClaudeContextWindow},
		{ID: "sonnet", DisplayName: "Sonnet 4.5", Alias: "sonnet", Description: "Fast and capable, best for most tasks", AgentType: conduit.AgentClaude, ContextWindow: ClaudeContextWindow},
		{ID: "haiku", DisplayName: "Haiku 4.5", Alias: "haiku", Description: "Fastest, great for simple tasks", AgentType: conduit.AgentClaude, ContextWindow: ClaudeContextWindow},
	}
}

func codex() []Info {
	return []Info{
		{ID: "gpt-5.2-codex", DisplayName: "GPT-5.2-Codex", Alias: "gpt-5.2-codex", Description: "Latest Codex model", IsDefault: true, AgentType: conduit.AgentCodex, ContextWindow: CodexContextWindow},
		{ID: "gpt-5.2", DisplayName: "GPT-5.2", Alias: "gpt-5.2", Description: "Fast and efficient", AgentType: conduit.AgentCodex, ContextWindow: CodexContextWindow},
		{ID: "gpt-5.1-codex-max", DisplayName: "GPT-5.1-Codex-Max", Alias: "gpt-5.1-codex-max", Description: "Maximum capability", AgentType: conduit.AgentCodex, ContextWindow: CodexContextWindow},
	}
}

func gemini() []Info {
	return []Info{
		{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", Alias: "gemini-2.5-pro", Description: "Highest quality Gemini model", IsDefault: true, AgentType: conduit.AgentGemini, ContextWindow: GeminiContextWindow},
		{ID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", Alias: "gemini-2.5-flash", Description: "Fast and capable Gemini model", AgentType: conduit.AgentGemini, ContextWindow: GeminiContextWindow},
		{ID: "gemini-2.5-flash-lite", DisplayName: "Gemini 2.5 Flash Lite", Alias: "gemini-2.5-flash-lite", Description: "Lowest-latency Gemini model", AgentType: conduit.AgentGemini, ContextWindow: GeminiContextWindow},
		{ID: "gemini-3-pro-preview", DisplayName: "Gemini 3 Pro Preview", Alias: "gemini-3-pro-preview", Description: "Preview Gemini 3 model", AgentType: conduit.AgentGemini, ContextWindow: GeminiContextWindow},
		{ID: "gemini-3-flash-preview", DisplayName: "Gemini 3 Flash Preview", Alias: "gemini-3-flash-preview", Description: "Preview Gemini 3 flash model", AgentType: conduit.AgentGemini, ContextWindow: GeminiContextWindow},
	}
}

var openCodeMu sync.RWMutex
var openCodeTable []Info

func openCodeDefault() Info {
	return Info{
		ID: openCodeDefaultModelID, DisplayName: "OpenCode Default", Alias: openCodeDefaultModelID,
		Description: "Use OpenCode's default model selection", IsDefault: true,
		AgentType: conduit.AgentOpenCode, ContextWindow: OpenCodeContextWindow,
	}
}

func buildOpenCodeModels(ids []string) []Info {
	out := []Info{openCodeDefault()}
	for _, id := range ids {
		if id == openCodeDefaultModelID {
			continue
		}
		out = append(out, Info{
			ID: id, DisplayName: id, Alias: id, Description: "OpenCode model",
			AgentType: conduit.AgentOpenCode, ContextWindow: OpenCodeContextWindow,
		})
	}
	return out
}

// SetOpenCodeModels replaces the dynamic OpenCode table, sorted by ID and
// deduplicated, with the synthetic "default" entry always pinned first.
func SetOpenCodeModels(ids []string) {
	built := buildOpenCodeModels(ids)
	sort.Slice(built, func(i, j int) bool { return built[i].ID < built[j].ID })

	deduped := built[:0]
	seen := make(map[string]bool, len(built))
	for _, m := range built {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		deduped = append(deduped, m)
	}

	for i, m := range deduped {
		if m.ID == openCodeDefaultModelID && i != 0 {
			deduped = append(deduped[:i], deduped[i+1:]...)
			deduped = append([]Info{m}, deduped...)
			break
		}
	}

	openCodeMu.Lock()
	openCodeTable = deduped
	openCodeMu.Unlock()
}

// ClearOpenCodeModels empties the dynamic OpenCode table.
func ClearOpenCodeModels() {
	openCodeMu.Lock()
	openCodeTable = nil
	openCodeMu.Unlock()
}

// DropOpenCodeModel removes one entry (the synthetic default is never
// dropped).
func DropOpenCodeModel(id string) {
	if id == openCodeDefaultModelID {
		return
	}
	openCodeMu.Lock()
	defer openCodeMu.Unlock()
	out := openCodeTable[:0]
	for _, m := range openCodeTable {
		if m.ID != id {
			out = append(out, m)
		}
	}
	openCodeTable = out
}

// OpenCodeModels returns a snapshot of the dynamic OpenCode table.
func OpenCodeModels() []Info {
	openCodeMu.RLock()
	defer openCodeMu.RUnlock()
	out := make([]Info, len(openCodeTable))
	copy(out, openCodeTable)
	return out
}

func ClaudeModels() []Info   { return claude() }
func CodexModels() []Info    { return codex() }
func GeminiModels() []Info   { return gemini() }

// AllModels returns every model across every vendor.
func AllModels() []Info {
	out := append([]Info{}, claude()...)
	out = append(out, codex()...)
	out = append(out, gemini()...)
	out = append(out, OpenCodeModels()...)
	return out
}

// ModelsFor returns the table for a single agent type.
func ModelsFor(agentType conduit.AgentType) []Info {
	switch agentType {
	case conduit.AgentClaude:
		return claude()
	case conduit.AgentCodex:
		return codex()
	case conduit.AgentGemini:
		return gemini()
	case conduit.AgentOpenCode:
		return OpenCodeModels()
	default:
		return nil
	}
}

// DefaultModel returns the default model ID for agentType.
func DefaultModel(agentType conduit.AgentType) string {
	switch agentType {
	case conduit.AgentClaude:
		return "opus"
	case conduit.AgentCodex:
		return "gpt-5.2-codex"
	case conduit.AgentGemini:
		return "gemini-2.5-pro"
	case conduit.AgentOpenCode:
		return openCodeDefaultModelID
	default:
		return ""
	}
}

// FindModel looks up a model by ID or alias. For OpenCode, an unrecognized
// but non-empty id/alias still resolves — the server may support a model
// this process hasn't refreshed its table from yet.
func FindModel(agentType conduit.AgentType, idOrAlias string) (Info, bool) {
	if agentType == conduit.AgentOpenCode {
		trimmed := strings.TrimSpace(idOrAlias)
		if trimmed == "" {
			return Info{}, false
		}
		for _, m := range OpenCodeModels() {
			if m.ID == trimmed || m.Alias == trimmed {
				return m, true
			}
		}
		return Info{
			ID: trimmed, DisplayName: trimmed, Alias: trimmed, Description: "OpenCode model",
			AgentType: conduit.AgentOpenCode, ContextWindow: OpenCodeContextWindow,
		}, true
	}

	for _, m := range ModelsFor(agentType) {
		if m.ID == idOrAlias || m.Alias == idOrAlias {
			return m, true
		}
	}
	return Info{}, false
}

// ContextWindow reports the context window for a model, falling back to
// the vendor's default window if the model is unknown.
func ContextWindow(agentType conduit.AgentType, modelID string) int64 {
	if m, ok := FindModel(agentType, modelID); ok {
		return m.ContextWindow
	}
	return DefaultContextWindow(agentType)
}

// DefaultContextWindow is the fallback context window per vendor.
func DefaultContextWindow(agentType conduit.AgentType) int64 {
	switch agentType {
	case conduit.AgentClaude:
		return ClaudeContextWindow
	case conduit.AgentCodex:
		return CodexContextWindow
	case conduit.AgentGemini:
		return GeminiContextWindow
	case conduit.AgentOpenCode:
		return OpenCodeContextWindow
	default:
		return 0
	}
}
