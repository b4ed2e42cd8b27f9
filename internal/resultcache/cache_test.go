package resultcache

import (
	"testing"
	"time"

	"github.com/edgelab/appaudit/models"
)

func sample(taskID string) *models.StructuredResult {
	return &models.StructuredResult{
		TaskID:    taskID,
		ModelSlug: "m",
		AppNumber: 1,
		Results: map[string]any{
			"findings": []any{map[string]any{"title": "x", "severity": "high"}},
		},
		Summary: map[string]any{"total_issues": float64(1)},
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c := New(time.Minute)
	c.Set("t1", sample("t1"))

	got, ok := c.Get("t1")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got.TaskID != "t1" || got.ModelSlug != "m" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	findings := got.Results["findings"].([]any)
	if len(findings) != 1 {
		t.Fatalf("findings = %v", findings)
	}
}

func TestGetReturnsIsolatedCopies(t *testing.T) {
	c := New(time.Minute)
	c.Set("t1", sample("t1"))

	first, _ := c.Get("t1")
	first.Results["findings"] = []any{}
	first.Summary["total_issues"] = float64(99)

	second, ok := c.Get("t1")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if len(second.Results["findings"].([]any)) != 1 {
		t.Error("mutating one read must not affect later reads")
	}
	if second.Summary["total_issues"] != float64(1) {
		t.Error("summary leaked between reads")
	}
}

func TestSetDetachesFromCaller(t *testing.T) {
	c := New(time.Minute)
	res := sample("t1")
	c.Set("t1", res)
	res.Results["findings"] = []any{} // caller keeps mutating its copy

	got, _ := c.Get("t1")
	if len(got.Results["findings"].([]any)) != 1 {
		t.Error("cache must hold a snapshot taken at Set time")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Set("t1", sample("t1"))

	if _, ok := c.Get("t1"); !ok {
		t.Fatal("fresh entry should hit")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("t1"); ok {
		t.Fatal("expired entry should miss")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be dropped on access, len = %d", c.Len())
	}
}

func TestInvalidate(t *testing.T) {
	c := New(time.Minute)
	c.Set("t1", sample("t1"))
	if !c.Invalidate("t1") {
		t.Error("invalidating a live entry must report it existed")
	}
	if _, ok := c.Get("t1"); ok {
		t.Fatal("invalidated entry should miss")
	}
	if c.Invalidate("never-existed") {
		t.Error("invalidating an absent entry must report a no-op")
	}
}

func TestLastWriterWins(t *testing.T) {
	c := New(time.Minute)
	first := sample("t1")
	second := sample("t1")
	second.AppNumber = 2

	c.Set("t1", first)
	c.Set("t1", second)

	got, _ := c.Get("t1")
	if got.AppNumber != 2 {
		t.Fatalf("app number = %d, want the later write", got.AppNumber)
	}
}

func TestSweep(t *testing.T) {
	c := New(time.Hour)
	c.Set("old", sample("old"))
	time.Sleep(30 * time.Millisecond)
	c.Set("new", sample("new"))

	removed := c.Sweep(20 * time.Millisecond)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := c.Get("old"); ok {
		t.Error("old entry should be gone")
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("new entry should survive")
	}
}
