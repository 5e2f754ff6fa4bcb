// Package logx provides the structured-logging conventions shared across
// Runners and the session manager: a process-wide default logger plus
// context-key helpers for attaching session/agent identity to every line.
//
// Unlike an application, this module never owns a log file or output
// format — it is a library collaborator. Callers configure slog.SetDefault
// themselves; logx only standardizes the attribute names used throughout
// the tree, following the same With(ctx)-derived-logger shape as
// HyphaGroup-oubliette's internal/logger package.
package logx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	keySessionID contextKey = "session_id"
	keyAgentType contextKey = "agent_type"
)

// WithSession returns a context carrying session/agent identity for
// subsequent logging via L(ctx).
func WithSession(ctx context.Context, sessionID, agentType string) context.Context {
	ctx = context.WithValue(ctx, keySessionID, sessionID)
	ctx = context.WithValue(ctx, keyAgentType, agentType)
	return ctx
}

// L returns slog.Default() enriched with any session/agent identity found
// in ctx. Safe to call on a bare context.Background().
func L(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sid, ok := ctx.Value(keySessionID).(string); ok && sid != "" {
		l = l.With("session_id", sid)
	}
	if at, ok := ctx.Value(keyAgentType).(string); ok && at != "" {
		l = l.With("agent_type", at)
	}
	return l
}
