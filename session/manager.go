// Package session owns the live process for each logical session, fans
// its events out to any number of subscribers, and accepts input from
// callers, grounded in the filter/filter.go channel-middleware idiom
// (generalized here from unicast filtering to bounded multicast with
// per-subscriber drop counts).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/conduitrun/conduit"
	"github.com/conduitrun/conduit/internal/jsonutil"
	"github.com/conduitrun/conduit/internal/logx"
)

// StoreHook persists the vendor-assigned session id against the logical
// session id, invoked once per session when SessionInit is observed.
// Its backing store (SQLite, in the original system) is an external
// collaborator — this package only calls the hook at the right time.
type StoreHook func(sessionID string, vendorSessionID string)

type activeSession struct {
	agentType conduit.AgentType
	pid       int
	runner    conduit.Runner
	handle    *conduit.AgentHandle
	broadcast *broadcaster
}

// Manager owns every active logical session.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*activeSession
	runners   map[conduit.AgentType]conduit.Runner
	storeHook StoreHook
}

// NewManager builds a Manager dispatching to one Runner per agent type.
// hook may be nil, in which case SessionInit's vendor id is observed but
// not persisted anywhere.
func NewManager(runners map[conduit.AgentType]conduit.Runner, hook StoreHook) *Manager {
	return &Manager{
		sessions:  make(map[string]*activeSession),
		runners:   runners,
		storeHook: hook,
	}
}

// Start spawns a new logical session. Fails if sessionID is already
// active, or if no Runner is registered/available for agentType.
func (m *Manager) Start(ctx context.Context, sessionID string, agentType conduit.AgentType, cfg conduit.AgentStartConfig) (*Subscriber, error) {
	m.mu.Lock()
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		return nil, conduit.ErrSessionExists
	}
	runner, ok := m.runners[agentType]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("session: no runner registered for agent type %q", agentType)
	}
	m.mu.Unlock()

	if !runner.IsAvailable() {
		return nil, conduit.ErrUnavailable
	}

	handle, err := runner.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bc := newBroadcaster()
	as := &activeSession{agentType: agentType, pid: handle.PID, runner: runner, handle: handle, broadcast: bc}

	m.mu.Lock()
	m.sessions[sessionID] = as
	m.mu.Unlock()

	go m.pump(sessionID, as)

	return bc.subscribe(), nil
}

// pump forwards the Runner's events into the broadcaster until the
// upstream channel closes, then removes the session.
func (m *Manager) pump(sessionID string, as *activeSession) {
	for ev := range as.handle.Events {
		if ev.Type == conduit.EventSessionInit && ev.SessionInit != nil && m.storeHook != nil {
			m.storeHook(sessionID, ev.SessionInit.SessionID)
		}
		as.broadcast.publish(ev)
	}
	as.broadcast.closeAll()

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

func (m *Manager) lookup(sessionID string) (*activeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	as, ok := m.sessions[sessionID]
	if !ok {
		return nil, conduit.ErrSessionNotFound
	}
	return as, nil
}

// Subscribe returns a new subscriber to an already-running session.
func (m *Manager) Subscribe(sessionID string) (*Subscriber, error) {
	as, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return as.broadcast.subscribe(), nil
}

// SendInput wraps text/images into the AgentInput variant appropriate
// for the session's agent type and delivers it to the Runner. Claude
// gets a stream-json "user" message line; every other vendor gets a
// CodexPrompt (the Rust original's own input shape for Codex/Gemini/
// OpenCode alike).
func (m *Manager) SendInput(ctx context.Context, sessionID, text string, images []string) error {
	as, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	var in conduit.AgentInput
	switch as.agentType {
	case conduit.AgentClaude:
		line, err := formatClaudeUserMessage(text)
		if err != nil {
			return err
		}
		in = conduit.AgentInput{Type: conduit.InputClaudeJSONL, ClaudeJSONL: line}
	default:
		in = conduit.AgentInput{
			Type:        conduit.InputCodexPrompt,
			CodexPrompt: conduit.CodexPromptInput{Text: text, Images: images},
		}
	}

	return as.runner.SendInput(ctx, as.handle, in)
}

// RespondToControl answers a pending Claude control request. Claude-only;
// every other vendor has no control-protocol surface.
func (m *Manager) RespondToControl(ctx context.Context, sessionID, requestID string, response any) error {
	as, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	if as.agentType != conduit.AgentClaude {
		return conduit.ErrNotSupported
	}

	payload := map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": requestID,
			"response":   response,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("session: marshal control response: %w", err)
	}

	in := conduit.AgentInput{Type: conduit.InputClaudeJSONL, ClaudeJSONL: string(data)}
	return as.runner.SendInput(ctx, as.handle, in)
}

// Stop removes the session and requests graceful termination. The
// session is considered gone either way; a signal failure is logged and
// returned, not retried here.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	as, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if err := as.runner.Stop(ctx, as.handle); err != nil {
		logx.L(ctx).Warn("session: stop signal failed", "session_id", sessionID, "error", err)
		return err
	}
	return nil
}

func formatClaudeUserMessage(text string) (string, error) {
	if jsonutil.ContainsNull(text) {
		return "", fmt.Errorf("session: message contains null bytes")
	}
	payload := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": text,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("session: marshal user message: %w", err)
	}
	return string(data), nil
}
