//go:build !windows

// Package opencode drives the OpenCode CLI in server mode (`opencode
// serve`) over HTTP + SSE and translates its event stream into unified
// conduit events. Unlike the line-delimited Claude/Codex transports, one
// Runner instance here owns exactly one locally-spawned server process
// per session.
package opencode

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/conduitrun/conduit"
	"github.com/conduitrun/conduit/internal/errfmt"
	"github.com/conduitrun/conduit/internal/logx"
	"github.com/conduitrun/conduit/modelcache"
	"github.com/conduitrun/conduit/models"
)

// Runner drives one OpenCode server subprocess per Start call.
type Runner struct {
	Binary string
	Cache  modelcache.Store // optional; invalidated on a model_not_found stderr match

	mu       sync.Mutex
	sessions map[int]*runningSession
}

type runningSession struct {
	srv        *spawnedServer
	cancel     context.CancelFunc
	translator *sseTranslator
	stopOnce   sync.Once
}

func New() *Runner { return &Runner{Binary: defaultBinary} }

var _ conduit.Runner = (*Runner)(nil)

func (r *Runner) AgentType() conduit.AgentType { return conduit.AgentOpenCode }

func (r *Runner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return defaultBinary
}

func (r *Runner) IsAvailable() bool {
	_, ok := r.BinaryPath()
	return ok
}

func (r *Runner) BinaryPath() (string, bool) {
	p, err := exec.LookPath(r.binary())
	if err != nil {
		return "", false
	}
	return p, true
}

func (r *Runner) Start(ctx context.Context, cfg conduit.AgentStartConfig) (*conduit.AgentHandle, error) {
	binary, ok := r.BinaryPath()
	if !ok {
		return nil, conduit.ErrUnavailable
	}

	srv, err := startServer(ctx, binary, nil, cfg.WorkingDir)
	if err != nil {
		return nil, err
	}

	sess, err := srv.createSession(ctx, "")
	if err != nil {
		_ = srv.kill()
		return nil, fmt.Errorf("opencode: create session: %w", err)
	}

	eventConn, err := srv.subscribeEvents(ctx)
	if err != nil {
		_ = srv.kill()
		return nil, fmt.Errorf("opencode: subscribe events: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	translator := newSSETranslator(sess.ID)
	translator.onPermissionAsked = func(id string) {
		go func() {
			_ = srv.answerPermission(readCtx, id, "once")
		}()
	}
	translator.fetchMessage = func(messageID string) (string, error) {
		return srv.getMessageText(readCtx, sess.ID, messageID)
	}

	pid := 0
	if srv.cmd.Process != nil {
		pid = srv.cmd.Process.Pid
	}

	rs := &runningSession{srv: srv, cancel: cancel, translator: translator}
	r.mu.Lock()
	if r.sessions == nil {
		r.sessions = make(map[int]*runningSession)
	}
	r.sessions[pid] = rs
	r.mu.Unlock()

	events := make(chan conduit.AgentEvent, 256)
	sessionID := sess.ID

	events <- conduit.AgentEvent{
		Type:        conduit.EventSessionInit,
		SessionInit: &conduit.SessionInitPayload{SessionID: sess.ID, Model: sess.Model},
	}

	go r.runSSELoop(readCtx, rs, eventConn, events)

	if cfg.Prompt != "" {
		translator.markTurnStarted()
		go func() {
			if err := srv.sendMessage(ctx, sess.ID, cfg.Prompt, cfg.Model); err != nil {
				select {
				case events <- conduit.AgentEvent{Type: conduit.EventTurnFailed, TurnFailed: &conduit.TurnFailedPayload{Error: err.Error()}}:
				case <-readCtx.Done():
				}
			}
		}()
	}

	input := make(chan conduit.AgentInput, 16)
	go r.forwardInput(readCtx, rs, input)

	return &conduit.AgentHandle{
		Events:    events,
		Input:     input,
		PID:       pid,
		SessionID: &sessionID,
	}, nil
}

func (r *Runner) runSSELoop(ctx context.Context, rs *runningSession, body io.ReadCloser, events chan<- conduit.AgentEvent) {
	defer close(events)
	defer body.Close()
	defer r.cleanup(rs)

	readSSE(body, func(evs []conduit.AgentEvent) bool {
		for _, ev := range evs {
			select {
			case events <- ev:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}, func(data string) ([]conduit.AgentEvent, bool) {
		evs, terminal := rs.translator.translate(data)
		if rs.srv.modelNotFound() {
			if r.Cache != nil {
				_ = r.Cache.Invalidate(string(conduit.AgentOpenCode))
			}
			provider, model, suggestions, ok := rs.srv.modelNotFoundDetails()
			message := "OpenCode model not found."
			details := ""
			if ok {
				modelID := provider + "/" + model
				models.DropOpenCodeModel(modelID)
				if len(suggestions) > 0 {
					message = fmt.Sprintf("OpenCode model not found: %s (suggestions: %s)", modelID, strings.Join(suggestions, ", "))
					details = strings.Join(suggestions, ",")
				} else {
					message = fmt.Sprintf("OpenCode model not found: %s", modelID)
				}
			}
			evs = append(evs, conduit.AgentEvent{
				Type:  conduit.EventError,
				Error: &conduit.ErrorPayload{Message: errfmt.Truncate(message), IsFatal: true, Code: "model_not_found", Details: errfmt.Truncate(details)},
			})
			return evs, true
		}
		return evs, terminal
	})
}

func (r *Runner) forwardInput(ctx context.Context, rs *runningSession, in <-chan conduit.AgentInput) {
	for {
		select {
		case input, ok := <-in:
			if !ok {
				return
			}
			r.deliverInput(ctx, rs, input)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) deliverInput(ctx context.Context, rs *runningSession, input conduit.AgentInput) {
	switch input.Type {
	case conduit.InputCodexPrompt:
		rs.translator.markTurnStarted()
		_ = rs.srv.sendMessage(ctx, rs.translator.sessionID, input.CodexPrompt.Text, input.CodexPrompt.Model)
	case conduit.InputOpencodeQuestion:
		if input.OpencodeQuestion.Answers == nil {
			_ = rs.srv.rejectQuestion(ctx, input.OpencodeQuestion.RequestID)
		} else {
			_ = rs.srv.replyQuestion(ctx, input.OpencodeQuestion.RequestID, input.OpencodeQuestion.Answers)
		}
	default:
		// ClaudeJsonl and anything else has no OpenCode input path.
	}
}

func (r *Runner) SendInput(ctx context.Context, h *conduit.AgentHandle, in conduit.AgentInput) error {
	if in.Type == conduit.InputClaudeJSONL {
		return conduit.ErrNotSupported
	}
	if h.Input == nil {
		return conduit.ErrSendNotSupported
	}
	select {
	case h.Input <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop sends SIGTERM and gives the server gracePeriod to exit before
// escalating to SIGKILL.
func (r *Runner) Stop(ctx context.Context, h *conduit.AgentHandle) error {
	rs := r.lookup(h.PID)
	if rs == nil {
		return nil
	}
	rs.stopOnce.Do(func() {
		rs.cancel()
		_ = rs.srv.terminate(ctx)
	})
	return nil
}

// Kill sends SIGKILL immediately, skipping the graceful SIGTERM step.
func (r *Runner) Kill(ctx context.Context, h *conduit.AgentHandle) error {
	rs := r.lookup(h.PID)
	if rs == nil {
		return nil
	}
	rs.stopOnce.Do(func() {
		rs.cancel()
		_ = rs.srv.kill()
	})
	return nil
}

func (r *Runner) lookup(pid int) *runningSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[pid]
}

func (r *Runner) cleanup(rs *runningSession) {
	r.mu.Lock()
	for pid, v := range r.sessions {
		if v == rs {
			delete(r.sessions, pid)
		}
	}
	r.mu.Unlock()
	logx.L(context.Background()).Debug("opencode session ended")
}
