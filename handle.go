package conduit

import "context"

// AgentHandle is the sole published surface of a running session. It is
// agent-agnostic: callers never need to know which vendor produced it.
//
// The Handle exclusively owns Events. Canceling the context passed to
// [Runner.Start] is the canonical way to stop consuming: every Runner's
// forwarding goroutines watch that context and exit when it is done,
// closing Events in response.
type AgentHandle struct {
	// Events streams unified events for the lifetime of the session.
	// Closed when the underlying process exits or the start context
	// is canceled.
	Events <-chan AgentEvent

	// Input accepts caller-originated input for Runners that support it
	// mid-session (e.g. OpenCode prompts, Claude control responses).
	// Nil for Runners without a send path (e.g. Codex exec mode).
	Input chan<- AgentInput

	// PID is the spawned OS process id, or 0 for Runners that don't map
	// onto a single process for their whole lifetime.
	PID int

	// SessionID is the vendor-assigned session identifier, set by Runners
	// that learn it before Start returns (Gemini, OpenCode). The Claude and
	// Codex Runners leave it nil and report the id only through their
	// SessionInit event.
	SessionID *string
}

// Runner spawns and drives one vendor's agent process behind a uniform
// interface. Concrete Runners resolve optional capabilities (streaming
// input, model listing) via type assertion rather than inheritance — see
// "Vendor polymorphism without inheritance".
type Runner interface {
	AgentType() AgentType

	// Start spawns the agent process and returns a Handle immediately;
	// the Handle begins producing events asynchronously. Returns a typed
	// error synchronously on spawn failure — the caller never receives a
	// half-constructed Handle.
	Start(ctx context.Context, cfg AgentStartConfig) (*AgentHandle, error)

	// SendInput delivers mid-session input. Returns ErrNotSupported for
	// Runners whose vendor has no interactive input path.
	SendInput(ctx context.Context, h *AgentHandle, in AgentInput) error

	// Stop requests graceful termination (SIGTERM then grace period then
	// SIGKILL on Unix). Idempotent.
	Stop(ctx context.Context, h *AgentHandle) error

	// Kill forces immediate termination (SIGKILL on Unix). Idempotent.
	Kill(ctx context.Context, h *AgentHandle) error

	// IsAvailable reports whether the vendor binary can be located.
	IsAvailable() bool

	// BinaryPath resolves the vendor binary's path, if available.
	BinaryPath() (string, bool)
}
