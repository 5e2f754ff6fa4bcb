//go:build !windows

package clitransport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/conduitrun/conduit"
)

func echoTranslator(line string) ([]conduit.AgentEvent, error) {
	if line == "" {
		return nil, ErrSkipLine
	}
	return []conduit.AgentEvent{{Type: conduit.EventRaw, Raw: []byte(`"` + line + `"`)}}, nil
}

func drainEvents(t *testing.T, p *Process, timeout time.Duration) []conduit.AgentEvent {
	t.Helper()
	var got []conduit.AgentEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d so far", len(got))
		}
	}
}

func TestSpawnScansLinesAndClosesEventsOnExit(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnConfig{Binary: "sh", Args: []string{"-c", "echo line1; echo line2"}}, 4096, echoTranslator)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	events := drainEvents(t, p, 2*time.Second)
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2: %+v", len(events), events)
	}
	if string(events[0].Raw) != `"line1"` || string(events[1].Raw) != `"line2"` {
		t.Fatalf("unexpected events: %+v", events)
	}

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() did not close after process exit")
	}
}

func TestSpawnSkipsBlankLines(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnConfig{Binary: "sh", Args: []string{"-c", "echo one; echo; echo two"}}, 4096, echoTranslator)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	events := drainEvents(t, p, 2*time.Second)
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (blank line skipped): %+v", len(events), events)
	}
}

func TestStderrTailCapturesOutput(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnConfig{Binary: "sh", Args: []string{"-c", "echo out; echo oops >&2"}}, 4096, echoTranslator)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	drainEvents(t, p, 2*time.Second)

	tail := p.StderrTail()
	var found bool
	for _, line := range tail {
		if strings.Contains(line, "oops") {
			found = true
		}
	}
	if !found {
		t.Fatalf("StderrTail() = %v, want a line containing %q", tail, "oops")
	}
}

func TestEmitTerminalOnNonZeroExit(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnConfig{Binary: "sh", Args: []string{"-c", "echo bye >&2; exit 7"}}, 4096, echoTranslator)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	events := drainEvents(t, p, 2*time.Second)
	if len(events) != 1 || events[0].Type != conduit.EventError || !events[0].Error.IsFatal {
		t.Fatalf("expected a single fatal error event on non-zero exit, got %+v", events)
	}
}

func TestStopSendsTermThenWaitsForExit(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnConfig{
		Binary: "sh",
		Args:   []string{"-c", "trap 'exit 0' TERM; while true; do sleep 0.05; done"},
	}, 4096, echoTranslator)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	start := time.Now()
	if err := p.Stop(ctx, 5*time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 5*time.Second {
		t.Fatalf("Stop took %v, expected the TERM trap to exit well before the grace period", elapsed)
	}

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() did not close after Stop")
	}
}

func TestStopEscalatesToKillAfterGracePeriod(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnConfig{
		Binary: "sh",
		Args:   []string{"-c", "trap '' TERM; echo ready; while true; do sleep 0.05; done"},
	}, 4096, echoTranslator)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	// Wait until the trap is installed; a SIGTERM sent earlier would end
	// the shell before it ever ignores the signal.
	select {
	case <-p.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("process never signalled readiness")
	}

	start := time.Now()
	if err := p.Stop(ctx, 200*time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("Stop returned after %v, expected it to wait out the grace period before escalating", elapsed)
	}

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() did not close after Stop escalated to SIGKILL")
	}
}

func TestKillTerminatesImmediately(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnConfig{Binary: "sh", Args: []string{"-c", "sleep 30"}}, 4096, echoTranslator)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() did not close promptly after Kill")
	}
}

func TestWantStdinAllowsWriting(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnConfig{Binary: "cat", WantStdin: true}, 4096, echoTranslator)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p.Stdin() == nil {
		t.Fatal("Stdin() = nil, want a writable pipe when WantStdin is set")
	}

	if _, err := p.Stdin().Write([]byte("hello\n")); err != nil {
		t.Fatalf("Stdin().Write: %v", err)
	}
	_ = p.Stdin().Close()

	events := drainEvents(t, p, 2*time.Second)
	if len(events) != 1 || string(events[0].Raw) != `"hello"` {
		t.Fatalf("unexpected events echoed back through cat: %+v", events)
	}
}

func TestPIDReflectsSpawnedProcess(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnConfig{Binary: "sh", Args: []string{"-c", "sleep 1"}}, 4096, echoTranslator)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Kill()

	if p.PID() <= 0 {
		t.Fatalf("PID() = %d, want a positive pid", p.PID())
	}
}
