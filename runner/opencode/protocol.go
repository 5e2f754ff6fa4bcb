package opencode

import "encoding/json"

// Wire shapes for the OpenCode HTTP + SSE server, grounded in
// HyphaGroup-oubliette's internal/agent/opencode/{server.go,events.go}.

type createSessionRequest struct {
	Title string `json:"title,omitempty"`
}

type createSessionResponse struct {
	ID    string `json:"id"`
	Model string `json:"model,omitempty"`
}

type sendMessageRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type permissionResponseRequest struct {
	Response string `json:"response"`
}

type questionReplyRequest struct {
	Answers [][]string `json:"answers"`
}

// sseEvent is the outer envelope every OpenCode SSE payload shares.
type sseEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

type sessionIdentified struct {
	SessionID string `json:"sessionID"`
}

type messageTime struct {
	Completed *int64 `json:"completed,omitempty"`
}

type messageInfo struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"`
	Time      messageTime `json:"time"`
}

type messageUpdatedProps struct {
	Info messageInfo `json:"info"`
}

// getMessageResponse is the body of GET /session/{sid}/message/{mid}: the
// message's current info plus its full part list, used to recover the
// text of a message that completed without ever streaming a
// message.part.updated delta.
type getMessageResponse struct {
	Info  messageInfo       `json:"info"`
	Parts []json.RawMessage `json:"parts"`
}

type messagePartUpdatedProps struct {
	SessionID string          `json:"sessionID"`
	Part      json.RawMessage `json:"part"`
	Delta     string          `json:"delta"`
}

type messagePart struct {
	ID        string `json:"id"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	Time      struct {
		Start int64  `json:"start,omitempty"`
		End   *int64 `json:"end,omitempty"`
	} `json:"time"`
}

type toolInvocationPart struct {
	ID        string          `json:"id"`
	MessageID string          `json:"messageID"`
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"toolName"`
	Status    string          `json:"status"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type permissionAskedProps struct {
	SessionID string `json:"sessionID"`
	ID        string `json:"id"`
}

type questionAskedProps struct {
	SessionID string          `json:"sessionID"`
	ID        string          `json:"id"`
	Questions json.RawMessage `json:"questions"`
}

type questionRepliedProps struct {
	SessionID string `json:"sessionID"`
	ID        string `json:"id"`
}

type sessionStatusProps struct {
	SessionID string `json:"sessionID"`
	Status    struct {
		Type string `json:"type"`
	} `json:"status"`
}

type sessionErrorProps struct {
	SessionID string `json:"sessionID"`
	Error     string `json:"error"`
}
