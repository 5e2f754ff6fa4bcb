// Package mockrunner is a conduit.Runner that never spawns a process.
// It replays a pre-canned event script and captures every config/input it
// receives, grounded in original_source's mock runner and the
// enginetest/clitest compliance-suite philosophy: the unified event
// contract should be testable without any vendor CLI installed.
package mockrunner

import (
	"context"
	"sync"
	"time"

	"github.com/conduitrun/conduit"
)

// Runner is a deterministic test double. Zero value is usable; set Script
// to control what Start emits.
type Runner struct {
	// Type is the AgentType this Runner reports itself as.
	Type conduit.AgentType

	// Script is the sequence of events emitted after Start, one at a
	// time, each delayed by Delay.
	Script []conduit.AgentEvent

	// Delay is the pause before emitting each scripted event. Zero means
	// emit as fast as the channel accepts them.
	Delay time.Duration

	// StartErr, if non-nil, is returned from Start instead of spawning.
	StartErr error

	// Available controls IsAvailable/BinaryPath. Defaults to true.
	Available *bool

	mu       sync.Mutex
	starts   []conduit.AgentStartConfig
	inputs   []conduit.AgentInput
	handles  []*conduit.AgentHandle
	stopped  []int
	killed   []int
	nextPID  int
}

var _ conduit.Runner = (*Runner)(nil)

func (r *Runner) AgentType() conduit.AgentType {
	if r.Type == "" {
		return conduit.AgentClaude
	}
	return r.Type
}

func (r *Runner) IsAvailable() bool {
	if r.Available == nil {
		return true
	}
	return *r.Available
}

func (r *Runner) BinaryPath() (string, bool) {
	if r.IsAvailable() {
		return "mockrunner", true
	}
	return "", false
}

// Start records cfg and begins emitting Script asynchronously.
func (r *Runner) Start(ctx context.Context, cfg conduit.AgentStartConfig) (*conduit.AgentHandle, error) {
	r.mu.Lock()
	r.starts = append(r.starts, cfg)
	if r.StartErr != nil {
		err := r.StartErr
		r.mu.Unlock()
		return nil, err
	}
	r.nextPID++
	pid := r.nextPID
	r.mu.Unlock()

	events := make(chan conduit.AgentEvent, 256)
	input := make(chan conduit.AgentInput, 16)

	var sessionID *string
	for _, ev := range r.Script {
		if ev.Type == conduit.EventSessionInit && ev.SessionInit != nil {
			id := ev.SessionInit.SessionID
			sessionID = &id
			break
		}
	}

	h := &conduit.AgentHandle{
		Events:    events,
		Input:     input,
		PID:       pid,
		SessionID: sessionID,
	}

	r.mu.Lock()
	r.handles = append(r.handles, h)
	r.mu.Unlock()

	go func() {
		defer close(events)
		for _, ev := range r.Script {
			if r.Delay > 0 {
				select {
				case <-time.After(r.Delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		for in := range input {
			r.mu.Lock()
			r.inputs = append(r.inputs, in)
			r.mu.Unlock()
		}
	}()

	return h, nil
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
	r.mu.Lock()
	r.stopped = append(r.stopped, h.PID)
	r.mu.Unlock()
	return nil
}

func (r *Runner) Kill(ctx context.Context, h *conduit.AgentHandle) error {
	r.mu.Lock()
	r.killed = append(r.killed, h.PID)
	r.mu.Unlock()
	return nil
}

// StartedConfigs returns every AgentStartConfig passed to Start, in order.
func (r *Runner) StartedConfigs() []conduit.AgentStartConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]conduit.AgentStartConfig, len(r.starts))
	copy(out, r.starts)
	return out
}

// ReceivedInputs returns every AgentInput ever sent through a Handle
// returned by Start, in order.
func (r *Runner) ReceivedInputs() []conduit.AgentInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]conduit.AgentInput, len(r.inputs))
	copy(out, r.inputs)
	return out
}

// StoppedPIDs and KilledPIDs report which handles Stop/Kill were called on.
func (r *Runner) StoppedPIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.stopped))
	copy(out, r.stopped)
	return out
}

func (r *Runner) KilledPIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.killed))
	copy(out, r.killed)
	return out
}
