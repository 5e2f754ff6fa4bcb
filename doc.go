// Package conduit provides a uniform runtime for driving external coding-assistant
// CLI processes (Claude Code, OpenAI Codex, Google Gemini, OpenCode) as a single
// event-streaming abstraction.
//
// The primary types defined in this package are:
//
//   - [Runner] — spawns and drives one vendor's agent process
//   - [AgentHandle] — an active session handle with an event channel
//   - [AgentStartConfig] — parameters for starting a session
//   - [AgentEvent] — the unified event emitted by every vendor
//
// Quick start:
//
//	r := claudecli.New()
//	h, err := r.Start(ctx, conduit.AgentStartConfig{Prompt: "Hello", WorkingDir: "/tmp/work"})
//	for ev := range h.Events { ... }
package conduit
