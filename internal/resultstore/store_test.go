package resultstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/edgelab/appaudit/internal/config"
	"github.com/edgelab/appaudit/internal/database"
	"github.com/edgelab/appaudit/internal/resultcache"
	"github.com/edgelab/appaudit/internal/task"
	"github.com/edgelab/appaudit/models"
)

func newTestStore(t *testing.T) (*Store, database.DB, *task.Store) {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	store := New(db, resultcache.New(time.Minute), t.TempDir())
	return store, db, task.NewStore(db)
}

func createTask(t *testing.T, tasks *task.Store) *models.Task {
	t.Helper()
	tk := &models.Task{ModelSlug: "anthropic_claude", AppNumber: 7, AnalysisType: "security"}
	if err := tasks.Create(context.Background(), tk); err != nil {
		t.Fatalf("creating task: %v", err)
	}
	return tk
}

func samplePayload() map[string]any {
	return map[string]any{
		"findings": []any{
			map[string]any{"title": "Hardcoded secret", "severity": "critical", "tool": "trufflehog"},
		},
		"services": map[string]any{
			"backend": map[string]any{
				"status": "completed",
				"type":   "security",
				"tools": map[string]any{
					"bandit": map[string]any{
						"issues": []any{
							map[string]any{
								"test_name":      "assert_used",
								"issue_severity": "LOW",
								"issue_text":     "Use of assert detected",
								"filename":       "app/main.py",
								"line_number":    float64(10),
							},
						},
						"total_issues": float64(1),
					},
				},
			},
		},
		"summary":  map[string]any{"analyzer_note": "all services scanned"},
		"metadata": map[string]any{"duration_seconds": float64(12.5)},
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return -1
	}
}

type countRow struct {
	N int `db:"n"`
}

func countFindings(t *testing.T, db database.DB, taskID string) int {
	t.Helper()
	var c countRow
	err := db.Get(context.Background(), &c,
		`SELECT COUNT(*) AS n FROM task_findings WHERE task_id = ?`, taskID)
	if err != nil {
		t.Fatalf("counting findings: %v", err)
	}
	return c.N
}

func TestStoreLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _, tasks := newTestStore(t)
	tk := createTask(t, tasks)

	stored, err := store.StoreResults(ctx, tk.ID, samplePayload(), "anthropic_claude", 7)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if asInt(stored.Summary["total_issues"]) != 2 {
		t.Fatalf("stored total_issues = %v, want 2", stored.Summary["total_issues"])
	}
	if stored.Summary["analyzer_note"] != "all services scanned" {
		t.Error("caller summary fields should be preserved")
	}
	if stored.Metadata["duration_seconds"] != 12.5 {
		t.Errorf("metadata = %v", stored.Metadata)
	}

	loaded, err := store.LoadResults(ctx, tk.ID, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a result")
	}
	if loaded.TaskID != tk.ID || loaded.ModelSlug != "anthropic_claude" || loaded.AppNumber != 7 {
		t.Fatalf("envelope mismatch: %+v", loaded)
	}
	if asInt(loaded.Summary["total_issues"]) != 2 {
		t.Errorf("loaded total_issues = %v", loaded.Summary["total_issues"])
	}
	breakdown := loaded.Summary["severity_breakdown"].(map[string]any)
	if asInt(breakdown["critical"]) != 1 || asInt(breakdown["low"]) != 1 {
		t.Errorf("breakdown = %v", breakdown)
	}

	// The task row reflects the stored set.
	got, err := tasks.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.IssuesFound != 2 {
		t.Errorf("issues_found = %d, want 2", got.IssuesFound)
	}
	if !strings.Contains(got.SeverityBreakdown, `"critical":1`) {
		t.Errorf("severity_breakdown = %s", got.SeverityBreakdown)
	}
}

func TestStoreRejectsUnknownTask(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.StoreResults(context.Background(), "no-such-task", samplePayload(), "m", 1)
	if err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestReplaceNotMerge(t *testing.T) {
	ctx := context.Background()
	store, db, tasks := newTestStore(t)
	tk := createTask(t, tasks)

	if _, err := store.StoreResults(ctx, tk.ID, samplePayload(), "m", 1); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if n := countFindings(t, db, tk.ID); n != 2 {
		t.Fatalf("after first store: %d findings, want 2", n)
	}

	smaller := map[string]any{
		"findings": []any{
			map[string]any{"title": "Only one now", "severity": "medium"},
		},
	}
	if _, err := store.StoreResults(ctx, tk.ID, smaller, "m", 1); err != nil {
		t.Fatalf("second store: %v", err)
	}
	if n := countFindings(t, db, tk.ID); n != 1 {
		t.Fatalf("after second store: %d findings, want 1 (replace, not merge)", n)
	}

	got, _ := tasks.Get(ctx, tk.ID)
	if got.IssuesFound != 1 {
		t.Errorf("issues_found = %d, want 1", got.IssuesFound)
	}

	loaded, err := store.LoadResults(ctx, tk.ID, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if asInt(loaded.Summary["total_issues"]) != 1 {
		t.Errorf("total_issues = %v, want the replacement set", loaded.Summary["total_issues"])
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	store, _, _ := newTestStore(t)
	res, err := store.LoadResults(context.Background(), "ghost", false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result, got %+v", res)
	}
}

func TestLoadFallsBackToDisk(t *testing.T) {
	ctx := context.Background()
	store, db, tasks := newTestStore(t)
	tk := createTask(t, tasks)

	if _, err := store.StoreResults(ctx, tk.ID, samplePayload(), "m", 1); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := db.Exec(ctx, `DELETE FROM task_results WHERE task_id = ?`, tk.ID); err != nil {
		t.Fatalf("simulating db loss: %v", err)
	}

	loaded, err := store.LoadResults(ctx, tk.ID, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("filesystem mirror should satisfy the read")
	}
	if loaded.TaskID != tk.ID {
		t.Fatalf("task id = %s", loaded.TaskID)
	}
}

func TestCacheServesRepeatReadsAndStoreInvalidates(t *testing.T) {
	ctx := context.Background()
	store, _, tasks := newTestStore(t)
	tk := createTask(t, tasks)

	if _, err := store.StoreResults(ctx, tk.ID, samplePayload(), "m", 1); err != nil {
		t.Fatalf("store: %v", err)
	}
	first, err := store.LoadResults(ctx, tk.ID, false)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}

	// Mutating one read must not poison the next (cached) read.
	first.Summary["total_issues"] = float64(999)
	second, err := store.LoadResults(ctx, tk.ID, false)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if asInt(second.Summary["total_issues"]) != 2 {
		t.Errorf("cached read was corrupted: %v", second.Summary["total_issues"])
	}

	// A new store is visible on the next plain read.
	replacement := map[string]any{"findings": []any{
		map[string]any{"title": "fresh", "severity": "low"},
	}}
	if _, err := store.StoreResults(ctx, tk.ID, replacement, "m", 1); err != nil {
		t.Fatalf("re-store: %v", err)
	}
	third, err := store.LoadResults(ctx, tk.ID, false)
	if err != nil {
		t.Fatalf("third load: %v", err)
	}
	if asInt(third.Summary["total_issues"]) != 1 {
		t.Errorf("stale cache served after store: %v", third.Summary["total_issues"])
	}
}

func TestRebuildFromJSONIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, db, tasks := newTestStore(t)
	tk := createTask(t, tasks)

	if _, err := store.StoreResults(ctx, tk.ID, samplePayload(), "m", 1); err != nil {
		t.Fatalf("store: %v", err)
	}

	// Wipe the database view; the primary file remains.
	if err := db.Exec(ctx, `DELETE FROM task_results WHERE task_id = ?`, tk.ID); err != nil {
		t.Fatal(err)
	}
	if err := db.Exec(ctx, `DELETE FROM task_findings WHERE task_id = ?`, tk.ID); err != nil {
		t.Fatal(err)
	}

	res, err := store.RebuildFromJSON(ctx, tk.ID)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if res == nil {
		t.Fatal("expected a rebuilt result")
	}
	if n := countFindings(t, db, tk.ID); n != 2 {
		t.Fatalf("rebuilt findings = %d, want 2", n)
	}

	again, err := store.RebuildFromJSON(ctx, tk.ID)
	if err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	if n := countFindings(t, db, tk.ID); n != 2 {
		t.Fatalf("second rebuild changed findings to %d", n)
	}
	if asInt(again.Summary["total_issues"]) != 2 {
		t.Errorf("second rebuild summary = %v", again.Summary["total_issues"])
	}
}

func TestRebuildWithoutFileReturnsNil(t *testing.T) {
	store, _, _ := newTestStore(t)
	res, err := store.RebuildFromJSON(context.Background(), "never-stored")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if res != nil {
		t.Fatal("expected nil when no primary file exists")
	}
}

func TestListResultFilesNewestFirst(t *testing.T) {
	ctx := context.Background()
	store, _, tasks := newTestStore(t)

	first := createTask(t, tasks)
	second := &models.Task{ModelSlug: "anthropic_claude", AppNumber: 7, AnalysisType: "security"}
	if err := tasks.Create(ctx, second); err != nil {
		t.Fatal(err)
	}

	if _, err := store.StoreResults(ctx, first.ID, samplePayload(), "anthropic_claude", 7); err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond) // distinct directory timestamps
	if _, err := store.StoreResults(ctx, second.ID, samplePayload(), "anthropic_claude", 7); err != nil {
		t.Fatal(err)
	}

	files, err := store.ListResultFiles("anthropic_claude", 7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].TaskID != second.ID {
		t.Errorf("newest first: got %s", files[0].TaskID)
	}
	if files[0].SizeBytes == 0 {
		t.Error("size should be recorded")
	}
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.json")

	if err := writeFileAtomic(path, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := writeFileAtomic(path, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("second write: %v", err)
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]any
	if err := json.Unmarshal(blob, &v); err != nil {
		t.Fatalf("file must always hold complete JSON: %v", err)
	}
	if v["v"] != float64(2) {
		t.Errorf("content = %v, want the later write", v)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		for _, e := range entries {
			t.Logf("leftover: %s", e.Name())
		}
		t.Fatalf("expected only the target file, found %d entries", len(entries))
	}
}
