//go:build !windows

// Package codexcli drives OpenAI Codex in non-interactive exec mode
// (codex exec --json) and translates its JSONL stream into unified
// conduit events.
package codexcli

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

const defaultBinary = "codex"

const (
	gracePeriod   = 5 * time.Second
	scannerBuffer = 1 << 20
)

// Runner drives Codex exec subprocesses. Codex exec mode is one-shot per
// process: interactive mid-session input is not supported.
type Runner struct {
	Binary string

	mu    sync.Mutex
	procs map[int]*clitransport.Process
}

func New() *Runner { return &Runner{Binary: defaultBinary} }

var _ conduit.Runner = (*Runner)(nil)

func (r *Runner) AgentType() conduit.AgentType { return conduit.AgentCodex }

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

func buildArgs(cfg conduit.AgentStartConfig) []string {
	args := []string{"exec"}
	if cfg.ResumeSession != "" {
		args = append(args, "resume", cfg.ResumeSession)
		if cfg.Prompt != "" {
			args = append(args, cfg.Prompt)
		}
	} else {
		args = append(args, cfg.Prompt)
	}
	args = append(args, "--json", "--full-auto")
	if cfg.Model != "" && cfg.Model[0] != '-' {
		args = append(args, "-m", cfg.Model)
	}
	args = append(args, cfg.AdditionalArgs...)
	return args
}

func (r *Runner) Start(ctx context.Context, cfg conduit.AgentStartConfig) (*conduit.AgentHandle, error) {
	binary, ok := r.BinaryPath()
	if !ok {
		return nil, conduit.ErrUnavailable
	}

	proc, err := clitransport.Spawn(ctx, clitransport.SpawnConfig{
		Binary: binary,
		Args:   buildArgs(cfg),
		Dir:    cfg.WorkingDir,
	}, scannerBuffer, translateLine)
	if err != nil {
		return nil, fmt.Errorf("codexcli: %w", err)
	}

	logx.L(ctx).Debug("codex session started", "pid", proc.PID())

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

	return &conduit.AgentHandle{
		Events:    events,
		PID:       proc.PID(),
		SessionID: sessionID,
	}, nil
}

// SendInput always fails: Codex exec mode spawns one process per turn and
// has no interactive input path.
func (r *Runner) SendInput(ctx context.Context, h *conduit.AgentHandle, in conduit.AgentInput) error {
	return conduit.ErrSendNotSupported
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
