// Package replay re-emits a recorded tape as a conduit.Runner, grounded in
// original_source's agent/replay.rs. A Runner is
// read-only: SendInput always fails, Stop/Kill are no-ops.
package replay

import (
	"context"
	"sort"

	"github.com/conduitrun/conduit"
	"github.com/conduitrun/conduit/tape"
)

// seqEvent pairs a tape sequence number with its event, for pacing through
// an optional Controller.
type seqEvent struct {
	seq uint64
	ev  conduit.AgentEvent
}

// Runner replays one session's events from an in-memory Tape.
type Runner struct {
	SessionID string
	Type      conduit.AgentType
	Tape      *tape.Tape

	// Controller optionally paces emission to synchronize multiple
	// concurrent replays. Nil means emit as fast as the consumer drains.
	Controller *Controller
}

func New(sessionID string, agentType conduit.AgentType, t *tape.Tape) *Runner {
	return &Runner{SessionID: sessionID, Type: agentType, Tape: t}
}

var _ conduit.Runner = (*Runner)(nil)

func (r *Runner) AgentType() conduit.AgentType { return r.Type }
func (r *Runner) IsAvailable() bool            { return true }
func (r *Runner) BinaryPath() (string, bool)   { return "", false }

func (r *Runner) eventsForSession() []seqEvent {
	var out []seqEvent
	for _, e := range r.Tape.Entries {
		if e.Type != tape.EntryAgentEvent || e.SessionID != r.SessionID || e.Event == nil {
			continue
		}
		out = append(out, seqEvent{seq: e.Seq, ev: *e.Event})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Runner) Start(ctx context.Context, cfg conduit.AgentStartConfig) (*conduit.AgentHandle, error) {
	events := make(chan conduit.AgentEvent, 256)
	ordered := r.eventsForSession()
	ctrl := r.Controller

	go func() {
		defer close(events)
		for _, se := range ordered {
			if ctrl != nil {
				if err := ctrl.WaitFor(ctx, se.seq); err != nil {
					return
				}
			}
			select {
			case events <- se.ev:
			case <-ctx.Done():
				return
			}
			if ctrl != nil {
				ctrl.MarkEmitted(se.seq)
			}
		}
	}()

	return &conduit.AgentHandle{Events: events}, nil
}

// SendInput always fails: a replay is read-only.
func (r *Runner) SendInput(ctx context.Context, h *conduit.AgentHandle, in conduit.AgentInput) error {
	return conduit.ErrNotSupported
}

func (r *Runner) Stop(ctx context.Context, h *conduit.AgentHandle) error { return nil }
func (r *Runner) Kill(ctx context.Context, h *conduit.AgentHandle) error { return nil }
