//go:build !windows

// Package geminiacp drives Gemini over the Agent Client Protocol: a
// bidirectional JSON-RPC 2.0 peer over the subprocess's stdin/stdout,
// rather than a one-way line stream.
package geminiacp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/conduitrun/conduit"
	"github.com/conduitrun/conduit/internal/logx"
)

const defaultBinary = "gemini"

var defaultArgs = []string{"--experimental-acp", "--yolo"}

const (
	gracePeriod    = 5 * time.Second
	handshakeBudget = 30 * time.Second
	maxStderrLines = 64
)

// Runner drives a single Gemini ACP subprocess per session. Unlike the
// line-delimited vendors, the whole session lives behind one persistent
// RPC peer, so Runner keeps a richer per-session record than a bare PID.
type Runner struct {
	Binary string

	mu       sync.Mutex
	sessions map[int]*acpSession
}

type acpSession struct {
	cmd      *exec.Cmd
	conn     *Conn
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopping atomic.Bool

	mu        sync.Mutex
	stderrBuf []string
}

func New() *Runner { return &Runner{Binary: defaultBinary} }

var _ conduit.Runner = (*Runner)(nil)

func (r *Runner) AgentType() conduit.AgentType { return conduit.AgentGemini }

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
	if len(cfg.Images) > 0 {
		return nil, &conduit.RunnerError{Kind: conduit.KindConfig, Message: "geminiacp: images are not supported"}
	}

	args := append([]string(nil), defaultArgs...)
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	args = append(args, cfg.AdditionalArgs...)
	cmd := exec.Command(binary, args...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = append(os.Environ(), "NODE_NO_WARNINGS=1")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("geminiacp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("geminiacp: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("geminiacp: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("geminiacp: spawn: %w", err)
	}

	sess := &acpSession{cmd: cmd}
	go sess.drainStderr(stderr)

	readCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel

	conn := newConn(stdout, stdin, connConfig{onParseError: func(_ []byte, err error) {
		logx.L(ctx).Warn("geminiacp: dropping malformed frame", "error", err)
	}})
	sess.conn = conn

	events := make(chan conduit.AgentEvent, 256)
	var sawChunk atomic.Bool

	conn.OnNotification(MethodSessionUpdate, func(raw json.RawMessage) {
		for _, ev := range translateUpdate(raw) {
			if ev.Type == conduit.EventAssistantMessage || ev.Type == conduit.EventAssistantThinking {
				sawChunk.Store(true)
			}
			select {
			case events <- ev:
			case <-readCtx.Done():
			}
		}
	})
	conn.OnMethod(MethodRequestPerm, func(raw json.RawMessage) (any, error) {
		return handlePermissionRequest(raw)
	})

	go conn.ReadLoop()

	pid := cmd.Process.Pid
	r.mu.Lock()
	if r.sessions == nil {
		r.sessions = make(map[int]*acpSession)
	}
	r.sessions[pid] = sess
	r.mu.Unlock()

	logx.L(ctx).Debug("gemini acp session starting", "pid", pid)

	hctx, hcancel := context.WithTimeout(ctx, handshakeBudget)
	defer hcancel()

	if err := conn.Call(hctx, MethodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		ClientCapabilities: &clientCapabilities{
			FS: &fileSystemCapability{ReadTextFile: true, WriteTextFile: true},
		},
		ClientInfo: &implementation{Name: clientName, Version: clientVersion},
	}, &initializeResult{}); err != nil {
		r.abort(sess, pid)
		return nil, fmt.Errorf("geminiacp: initialize: %w (stderr: %v)", err, sess.stderrTail())
	}

	var newSess newSessionResult
	if err := conn.Call(hctx, MethodSessionNew, newSessionParams{
		CWD:        cfg.WorkingDir,
		MCPServers: []mcpServer{},
	}, &newSess); err != nil {
		r.abort(sess, pid)
		return nil, fmt.Errorf("geminiacp: session/new: %w", err)
	}

	sessionID := newSess.SessionID
	events <- conduit.AgentEvent{
		Type:        conduit.EventSessionInit,
		SessionInit: &conduit.SessionInitPayload{SessionID: sessionID},
	}
	events <- conduit.AgentEvent{Type: conduit.EventTurnStarted}

	go r.runPrompt(ctx, sess, events, &sawChunk, sessionID, cfg.Prompt, pid)

	return &conduit.AgentHandle{
		Events:    events,
		PID:       pid,
		SessionID: &sessionID,
	}, nil
}

func (r *Runner) runPrompt(ctx context.Context, sess *acpSession, events chan conduit.AgentEvent, sawChunk *atomic.Bool, sessionID, prompt string, pid int) {
	defer close(events)
	defer r.cleanup(pid)

	var result promptResult
	err := sess.conn.Call(ctx, MethodSessionPrompt, promptParams{
		SessionID: sessionID,
		Prompt:    []contentBlock{{Type: "text", Text: prompt}},
	}, &result)

	if err != nil {
		events <- conduit.AgentEvent{
			Type:  conduit.EventError,
			Error: &conduit.ErrorPayload{Message: err.Error(), IsFatal: true},
		}
		return
	}

	if sawChunk.Load() {
		events <- conduit.AgentEvent{
			Type:             conduit.EventAssistantMessage,
			AssistantMessage: &conduit.AssistantMessagePayload{Text: "", IsFinal: true},
		}
	}

	usage := conduit.TokenUsage{}
	if result.Usage != nil {
		usage = conduit.TokenUsage{
			Input:  result.Usage.InputTokens,
			Output: result.Usage.OutputTokens,
			Cached: result.Usage.CachedReadTokens + result.Usage.CachedWriteTokens,
			Total:  result.Usage.TotalTokens,
		}
	}
	events <- conduit.AgentEvent{
		Type:          conduit.EventTurnCompleted,
		TurnCompleted: &conduit.TurnCompletedPayload{Usage: usage},
	}
}

// SendInput is not supported: a session's single prompt turn is driven
// entirely by Start's handshake/prompt bootstrap sequence.
func (r *Runner) SendInput(ctx context.Context, h *conduit.AgentHandle, in conduit.AgentInput) error {
	return conduit.ErrSendNotSupported
}

func (r *Runner) Stop(ctx context.Context, h *conduit.AgentHandle) error {
	sess := r.lookup(h.PID)
	if sess == nil {
		return nil
	}
	var stopErr error
	sess.stopOnce.Do(func() {
		sess.stopping.Store(true)
		sess.cancel()
		if sess.cmd.Process == nil {
			return
		}
		_ = signalProcess(sess.cmd.Process, syscall.SIGTERM)
		done := make(chan struct{})
		go func() { _ = sess.cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(gracePeriod):
			stopErr = signalProcess(sess.cmd.Process, os.Kill)
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
	})
	return stopErr
}

func (r *Runner) Kill(ctx context.Context, h *conduit.AgentHandle) error {
	sess := r.lookup(h.PID)
	if sess == nil {
		return nil
	}
	sess.stopping.Store(true)
	sess.cancel()
	if sess.cmd.Process == nil {
		return nil
	}
	return signalProcess(sess.cmd.Process, os.Kill)
}

func (r *Runner) lookup(pid int) *acpSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[pid]
}

func (r *Runner) cleanup(pid int) {
	r.mu.Lock()
	delete(r.sessions, pid)
	r.mu.Unlock()
}

// abort kills a session whose handshake failed before a Handle was ever
// returned to the caller, so Start never leaks a subprocess on error.
func (r *Runner) abort(sess *acpSession, pid int) {
	sess.stopping.Store(true)
	sess.cancel()
	if sess.cmd.Process != nil {
		_ = signalProcess(sess.cmd.Process, os.Kill)
	}
	r.cleanup(pid)
}

func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if err == os.ErrProcessDone {
		return nil
	}
	return err
}

func (s *acpSession) drainStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.mu.Lock()
		s.stderrBuf = append(s.stderrBuf, sc.Text())
		if len(s.stderrBuf) > maxStderrLines {
			s.stderrBuf = s.stderrBuf[len(s.stderrBuf)-maxStderrLines:]
		}
		s.mu.Unlock()
	}
}

func (s *acpSession) stderrTail() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.stderrBuf))
	copy(out, s.stderrBuf)
	return out
}

// handlePermissionRequest auto-resolves permission prompts: this runtime
// drives agents headlessly, so it always answers rather than blocking on a
// human. Preference order: allow_always, then allow_once, then the first
// offered option.
func handlePermissionRequest(raw json.RawMessage) (any, error) {
	var params requestPermissionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return requestPermissionResult{Outcome: requestPermissionOutcome{Outcome: "cancelled"}}, nil
	}
	if opt, ok := firstOptionByKind(params.Options, "allow_always"); ok {
		return requestPermissionResult{Outcome: requestPermissionOutcome{Outcome: "selected", OptionID: opt.OptionID}}, nil
	}
	if opt, ok := firstOptionByKind(params.Options, "allow_once"); ok {
		return requestPermissionResult{Outcome: requestPermissionOutcome{Outcome: "selected", OptionID: opt.OptionID}}, nil
	}
	if len(params.Options) > 0 {
		return requestPermissionResult{Outcome: requestPermissionOutcome{Outcome: "selected", OptionID: params.Options[0].OptionID}}, nil
	}
	return requestPermissionResult{Outcome: requestPermissionOutcome{Outcome: "cancelled"}}, nil
}

func firstOptionByKind(opts []permissionOpt, kind string) (permissionOpt, bool) {
	for _, o := range opts {
		if o.Kind == kind {
			return o, true
		}
	}
	return permissionOpt{}, false
}
