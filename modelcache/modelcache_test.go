package modelcache

import (
	"testing"
	"time"
)

func TestSetGetRoundTrip(t *testing.T) {
	d := NewDisk()
	d.Dir = t.TempDir()

	if err := d.Set("gemini", []string{"gemini-2.5-pro", "gemini-2.5-flash"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := d.Get("gemini")
	if !ok {
		t.Fatal("Get: expected a hit")
	}
	if len(got) != 2 || got[0] != "gemini-2.5-pro" {
		t.Fatalf("Get returned %v", got)
	}
}

func TestGetMissingIsMiss(t *testing.T) {
	d := NewDisk()
	d.Dir = t.TempDir()
	if _, ok := d.Get("gemini"); ok {
		t.Fatal("expected miss for uncached vendor")
	}
}

func TestGetExpiredIsMiss(t *testing.T) {
	d := NewDisk()
	d.Dir = t.TempDir()
	base := time.Now()
	d.now = func() time.Time { return base }

	if err := d.Set("opencode", []string{"anthropic/claude-sonnet"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	d.now = func() time.Time { return base.Add(OpenCodeTTL + time.Minute) }
	if _, ok := d.Get("opencode"); ok {
		t.Fatal("expected miss once past TTL")
	}
}

func TestInvalidateThenGetIsMiss(t *testing.T) {
	d := NewDisk()
	d.Dir = t.TempDir()
	_ = d.Set("gemini", []string{"gemini-2.5-pro"})

	if err := d.Invalidate("gemini"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := d.Get("gemini"); ok {
		t.Fatal("expected miss after Invalidate")
	}
}

func TestInvalidateMissingIsNotError(t *testing.T) {
	d := NewDisk()
	d.Dir = t.TempDir()
	if err := d.Invalidate("gemini"); err != nil {
		t.Fatalf("Invalidate on missing cache: %v", err)
	}
}
