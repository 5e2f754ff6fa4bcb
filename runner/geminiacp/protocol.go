package geminiacp

import "encoding/json"

// JSON-RPC 2.0 method constants for the Agent Client Protocol.
const (
	MethodInitialize    = "initialize"
	MethodSessionNew    = "session/new"
	MethodSessionPrompt = "session/prompt"
	MethodSessionUpdate = "session/update"
	MethodRequestPerm   = "session/request_permission"
)

const (
	protocolVersion = 1 // ACP spec — integer, not semver
	clientName      = "conduit"
	clientVersion   = "0.1.0"
)

type initializeParams struct {
	ProtocolVersion    int                 `json:"protocolVersion"`
	ClientCapabilities *clientCapabilities `json:"clientCapabilities,omitempty"`
	ClientInfo         *implementation     `json:"clientInfo,omitempty"`
}

type initializeResult struct {
	ProtocolVersion   int                `json:"protocolVersion"`
	AgentCapabilities *agentCapabilities `json:"agentCapabilities,omitempty"`
	AgentInfo         *implementation    `json:"agentInfo,omitempty"`
}

type implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type clientCapabilities struct {
	FS *fileSystemCapability `json:"fs,omitempty"`
}

type fileSystemCapability struct {
	ReadTextFile  bool `json:"readTextFile,omitempty"`
	WriteTextFile bool `json:"writeTextFile,omitempty"`
}

type agentCapabilities struct {
	LoadSession bool `json:"loadSession,omitempty"`
}

type newSessionParams struct {
	CWD        string      `json:"cwd"`
	MCPServers []mcpServer `json:"mcpServers"`
}

type newSessionResult struct {
	SessionID string             `json:"sessionId"`
	Models    *sessionModelState `json:"models,omitempty"`
}

type mcpServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type sessionModelState struct {
	CurrentModelID  string      `json:"currentModelId"`
	AvailableModels []modelInfo `json:"availableModels"`
}

type modelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type promptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []contentBlock `json:"prompt"`
}

type promptResult struct {
	StopReason string    `json:"stopReason,omitempty"`
	Usage      *acpUsage `json:"usage,omitempty"`
}

type acpUsage struct {
	InputTokens       int64 `json:"inputTokens"`
	OutputTokens      int64 `json:"outputTokens"`
	TotalTokens       int64 `json:"totalTokens"`
	CachedReadTokens  int64 `json:"cachedReadTokens,omitempty"`
	CachedWriteTokens int64 `json:"cachedWriteTokens,omitempty"`
}

// sessionNotification is the outer envelope for session/update notifications.
type sessionNotification struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

type sessionUpdateHeader struct {
	SessionUpdate string `json:"sessionUpdate"`
}

type requestPermissionParams struct {
	SessionID string          `json:"sessionId"`
	ToolCall  toolCallUpdate  `json:"toolCall"`
	Options   []permissionOpt `json:"options"`
}

type toolCallUpdate struct {
	ToolCallID string          `json:"toolCallId"`
	Title      string          `json:"title,omitempty"`
	Status     string          `json:"status,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
	RawOutput  json.RawMessage `json:"rawOutput,omitempty"`
}

type permissionOpt struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

type requestPermissionResult struct {
	Outcome requestPermissionOutcome `json:"outcome"`
}

type requestPermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}
