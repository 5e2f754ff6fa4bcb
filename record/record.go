// Package record wraps any conduit.Runner with a transparent recorder that
// splices every event and input through to a tape.Writer before forwarding
// them unchanged, grounded in original_source's agent/recording.rs.
package record

import (
	"context"
	"time"

	"github.com/conduitrun/conduit"
	"github.com/conduitrun/conduit/tape"
)

// Runner decorates an inner Runner, recording every event and input it
// observes against a shared session UUID.
type Runner struct {
	SessionID string
	Inner     conduit.Runner
	Writer    *tape.Writer
}

func New(sessionID string, inner conduit.Runner, w *tape.Writer) *Runner {
	return &Runner{SessionID: sessionID, Inner: inner, Writer: w}
}

var _ conduit.Runner = (*Runner)(nil)

func (r *Runner) AgentType() conduit.AgentType { return r.Inner.AgentType() }
func (r *Runner) IsAvailable() bool            { return r.Inner.IsAvailable() }
func (r *Runner) BinaryPath() (string, bool)   { return r.Inner.BinaryPath() }

func (r *Runner) recordEvent(ev conduit.AgentEvent) {
	entry := tape.NewAgentEventEntry(r.Writer.NextSeq(), nowMs(), r.SessionID, ev)
	_ = r.Writer.Append(entry)
}

func (r *Runner) recordInput(in conduit.AgentInput) {
	entry := tape.NewAgentInputEntry(r.Writer.NextSeq(), nowMs(), r.SessionID, in)
	_ = r.Writer.Append(entry)
}

func (r *Runner) Start(ctx context.Context, cfg conduit.AgentStartConfig) (*conduit.AgentHandle, error) {
	inner, err := r.Inner.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}

	events := make(chan conduit.AgentEvent, 256)
	go func() {
		defer close(events)
		for ev := range inner.Events {
			r.recordEvent(ev)
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	h := &conduit.AgentHandle{
		Events:    events,
		PID:       inner.PID,
		SessionID: inner.SessionID,
	}

	if inner.Input != nil {
		wrapped := make(chan conduit.AgentInput, 32)
		h.Input = wrapped
		go func() {
			for in := range wrapped {
				r.recordInput(in)
				select {
				case inner.Input <- in:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	return h, nil
}

// SendInput sends on the Handle's Input channel when it has one; the
// forwarding goroutine installed by Start records the input there. Only
// when the Handle has no Input channel does SendInput record the input
// itself and delegate to the inner Runner (whose SendInput then typically
// returns ErrSendNotSupported).
func (r *Runner) SendInput(ctx context.Context, h *conduit.AgentHandle, in conduit.AgentInput) error {
	if h.Input != nil {
		select {
		case h.Input <- in:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.recordInput(in)
	return r.Inner.SendInput(ctx, h, in)
}

func (r *Runner) Stop(ctx context.Context, h *conduit.AgentHandle) error {
	return r.Inner.Stop(ctx, h)
}

func (r *Runner) Kill(ctx context.Context, h *conduit.AgentHandle) error {
	return r.Inner.Kill(ctx, h)
}

func nowMs() uint64 { return uint64(time.Now().UnixMilli()) }
