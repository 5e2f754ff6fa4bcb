//go:build !windows

package geminiacp

import (
	"encoding/json"
	"testing"

	"github.com/conduitrun/conduit"
)

func marshalForTest(t *testing.T, v any) (json.RawMessage, error) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data, nil
}

func TestAgentType(t *testing.T) {
	r := New()
	if r.AgentType() != conduit.AgentGemini {
		t.Errorf("AgentType() = %s, want %s", r.AgentType(), conduit.AgentGemini)
	}
}

func TestIsAvailableFalseForUnknownBinary(t *testing.T) {
	r := &Runner{Binary: "definitely-not-a-real-gemini-binary-xyz"}
	if r.IsAvailable() {
		t.Error("IsAvailable() = true for a binary that cannot exist on PATH")
	}
}

func TestSendInputAlwaysUnsupported(t *testing.T) {
	r := New()
	if err := r.SendInput(nil, &conduit.AgentHandle{}, conduit.AgentInput{}); err != conduit.ErrSendNotSupported {
		t.Errorf("SendInput err = %v, want ErrSendNotSupported", err)
	}
}

func TestLookupUnknownPIDReturnsNil(t *testing.T) {
	r := New()
	if sess := r.lookup(999999); sess != nil {
		t.Errorf("lookup(unknown) = %v, want nil", sess)
	}
}

func TestFirstOptionByKindFindsMatch(t *testing.T) {
	opts := []permissionOpt{
		{OptionID: "a", Kind: "allow_once"},
		{OptionID: "b", Kind: "allow_always"},
	}
	opt, ok := firstOptionByKind(opts, "allow_always")
	if !ok || opt.OptionID != "b" {
		t.Fatalf("firstOptionByKind = %+v, %v; want b, true", opt, ok)
	}
}

func TestFirstOptionByKindNoMatch(t *testing.T) {
	_, ok := firstOptionByKind([]permissionOpt{{OptionID: "a", Kind: "reject"}}, "allow_always")
	if ok {
		t.Fatal("expected no match")
	}
}

func TestHandlePermissionRequestPrefersAllowAlways(t *testing.T) {
	params := requestPermissionParams{Options: []permissionOpt{
		{OptionID: "once", Kind: "allow_once"},
		{OptionID: "always", Kind: "allow_always"},
	}}
	raw, _ := marshalForTest(t, params)

	result, err := handlePermissionRequest(raw)
	if err != nil {
		t.Fatalf("handlePermissionRequest: %v", err)
	}
	res, ok := result.(requestPermissionResult)
	if !ok {
		t.Fatalf("result = %T, want requestPermissionResult", result)
	}
	if res.Outcome.OptionID != "always" {
		t.Fatalf("OptionID = %q, want %q", res.Outcome.OptionID, "always")
	}
}

func TestHandlePermissionRequestFallsBackToAllowOnce(t *testing.T) {
	params := requestPermissionParams{Options: []permissionOpt{
		{OptionID: "once", Kind: "allow_once"},
		{OptionID: "deny", Kind: "reject_once"},
	}}
	raw, _ := marshalForTest(t, params)

	result, err := handlePermissionRequest(raw)
	if err != nil {
		t.Fatalf("handlePermissionRequest: %v", err)
	}
	res := result.(requestPermissionResult)
	if res.Outcome.OptionID != "once" {
		t.Fatalf("OptionID = %q, want %q", res.Outcome.OptionID, "once")
	}
}

func TestHandlePermissionRequestFallsBackToFirstOption(t *testing.T) {
	params := requestPermissionParams{Options: []permissionOpt{
		{OptionID: "only", Kind: "reject_once"},
	}}
	raw, _ := marshalForTest(t, params)

	result, err := handlePermissionRequest(raw)
	if err != nil {
		t.Fatalf("handlePermissionRequest: %v", err)
	}
	res := result.(requestPermissionResult)
	if res.Outcome.Outcome != "selected" || res.Outcome.OptionID != "only" {
		t.Fatalf("Outcome = %+v, want selected/only", res.Outcome)
	}
}

func TestHandlePermissionRequestNoOptionsCancels(t *testing.T) {
	raw, _ := marshalForTest(t, requestPermissionParams{})

	result, err := handlePermissionRequest(raw)
	if err != nil {
		t.Fatalf("handlePermissionRequest: %v", err)
	}
	res := result.(requestPermissionResult)
	if res.Outcome.Outcome != "cancelled" {
		t.Fatalf("Outcome = %+v, want cancelled", res.Outcome)
	}
}
