//go:build !windows

// Package claudecli drives Claude Code in headless mode
// (claude -p --output-format stream-json) and translates its JSONL
// stream into unified conduit events.
package claudecli

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/conduitrun/conduit"
	"github.com/conduitrun/conduit/internal/logx"
	"github.com/conduitrun/conduit/runner/clitransport"
)

const defaultBinary = "claude"

const (
	gracePeriod   = 5 * time.Second
	scannerBuffer = 1 << 20
)

// Runner drives Claude Code subprocesses.
type Runner struct {
	Binary string

	mu    sync.Mutex
	procs map[int]*clitransport.Process
}

// New returns a Runner using the default "claude" binary on PATH.
func New() *Runner { return &Runner{Binary: defaultBinary} }

var _ conduit.Runner = (*Runner)(nil)

func (r *Runner) AgentType() conduit.AgentType { return conduit.AgentClaude }

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

// buildArgs constructs the argv for cfg.
func buildArgs(cfg conduit.AgentStartConfig) []string {
	args := []string{"-p", cfg.Prompt, "--verbose", "--output-format", "stream-json", "--permission-mode", permissionMode(cfg)}
	if len(cfg.AllowedTools) > 0 {
		joined := ""
		for i, t := range cfg.AllowedTools {
			if i > 0 {
				joined += ","
			}
			joined += t
		}
		args = append(args, "--allowedTools", joined)
	}
	if cfg.ResumeSession != "" {
		args = append(args, "--resume", cfg.ResumeSession)
	}
	if cfg.Model != "" && cfg.Model[0] != '-' {
		args = append(args, "--model", cfg.Model)
	}
	args = append(args, cfg.AdditionalArgs...)
	return args
}

// permissionMode resolves the Claude --permission-mode flag. This runtime
// only ever drives Claude headlessly, so it always requests
// bypassPermissions rather than exposing an interactive prompt the caller
// could never answer.
func permissionMode(cfg conduit.AgentStartConfig) string {
	return "bypassPermissions"
}

func (r *Runner) Start(ctx context.Context, cfg conduit.AgentStartConfig) (*conduit.AgentHandle, error) {
	binary, ok := r.BinaryPath()
	if !ok {
		return nil, conduit.ErrUnavailable
	}
	args := buildArgs(cfg)

	proc, err := clitransport.Spawn(ctx, clitransport.SpawnConfig{
		Binary:    binary,
		Args:      args,
		Dir:       cfg.WorkingDir,
		WantStdin: cfg.InputFormat == "jsonl",
	}, scannerBuffer, newTranslator())
	if err != nil {
		return nil, fmt.Errorf("claudecli: %w", err)
	}

	logx.L(ctx).Debug("claude session started", "pid", proc.PID())

	r.mu.Lock()
	if r.procs == nil {
		r.procs = make(map[int]*clitransport.Process)
	}
	r.procs[proc.PID()] = proc
	r.mu.Unlock()

	var sessionID *string
	events := make(chan conduit.AgentEvent, 256)
	go func() {
		defer close(events)
		defer func() {
			r.mu.Lock()
			delete(r.procs, proc.PID())
			r.mu.Unlock()
		}()
		for ev := range proc.Events() {
			if ev.Type == conduit.EventSessionInit && ev.SessionInit != nil {
				id := ev.SessionInit.SessionID
				sessionID = &id
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	var input chan conduit.AgentInput
	if proc.Stdin() != nil {
		input = make(chan conduit.AgentInput, 16)
		go forwardInput(proc, input)
	}

	h := &conduit.AgentHandle{
		Events:    events,
		PID:       proc.PID(),
		SessionID: sessionID,
	}
	if input != nil {
		h.Input = input
	}
	return h, nil
}

func forwardInput(proc *clitransport.Process, in <-chan conduit.AgentInput) {
	for msg := range in {
		if msg.Type != conduit.InputClaudeJSONL {
			continue
		}
		_, _ = proc.Stdin().Write([]byte(msg.ClaudeJSONL + "\n"))
	}
}

func (r *Runner) SendInput(ctx context.Context, h *conduit.AgentHandle, in conduit.AgentInput) error {
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

func (r *Runner) Stop(ctx context.Context, h *conduit.AgentHandle) error {
	proc := r.lookup(h.PID)
	if proc == nil {
		return nil
	}
	return proc.Stop(ctx, gracePeriod)
}

func (r *Runner) Kill(ctx context.Context, h *conduit.AgentHandle) error {
	proc := r.lookup(h.PID)
	if proc == nil {
		return nil
	}
	return proc.Kill()
}

func (r *Runner) lookup(pid int) *clitransport.Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procs[pid]
}
