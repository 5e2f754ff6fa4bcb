package conduit

// AgentType identifies which vendor CLI a Runner drives.
type AgentType string

const (
	AgentClaude   AgentType = "claude"
	AgentCodex    AgentType = "codex"
	AgentGemini   AgentType = "gemini"
	AgentOpenCode AgentType = "opencode"
)
