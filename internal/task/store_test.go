package task

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/edgelab/appaudit/internal/config"
	"github.com/edgelab/appaudit/internal/database"
	"github.com/edgelab/appaudit/models"
)

func newTestDB(t *testing.T) database.DB {
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
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

func TestCreateAssignsDefaults(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t))

	task := &models.Task{ModelSlug: "anthropic_claude", AppNumber: 3}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID == "" {
		t.Error("expected a generated id")
	}
	if task.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", task.Status)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ModelSlug != "anthropic_claude" || got.AppNumber != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := NewStore(newTestDB(t))
	got, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing task, got %+v", got)
	}
}

func TestSubtaskParentValidation(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t))

	sub := &models.Task{ModelSlug: "m", ParentTaskID: "missing-parent"}
	if err := store.Create(ctx, sub); err == nil {
		t.Fatal("expected error for missing parent")
	}

	main := &models.Task{ModelSlug: "m"}
	if err := store.Create(ctx, main); err != nil {
		t.Fatalf("create main: %v", err)
	}
	sub = &models.Task{ModelSlug: "m", ParentTaskID: main.ID, ServiceName: "backend"}
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("create subtask: %v", err)
	}

	// A subtask cannot itself be a parent.
	grand := &models.Task{ModelSlug: "m", ParentTaskID: sub.ID}
	if err := store.Create(ctx, grand); err == nil {
		t.Fatal("expected error when parent is a subtask")
	}
}

func TestUpdateStatusEnforcesTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t))

	task := &models.Task{ModelSlug: "m"}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.UpdateStatus(ctx, task.ID, models.StatusCompleted); err == nil {
		t.Fatal("pending -> completed should be rejected")
	}

	if err := store.UpdateStatus(ctx, task.ID, models.StatusRunning); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	got, _ := store.Get(ctx, task.ID)
	if got.StartedAt == nil {
		t.Error("started_at should be stamped on running")
	}

	if err := store.UpdateStatus(ctx, task.ID, models.StatusCompleted); err != nil {
		t.Fatalf("running -> completed: %v", err)
	}
	got, _ = store.Get(ctx, task.ID)
	if got.CompletedAt == nil {
		t.Error("completed_at should be stamped on terminal status")
	}

	if err := store.UpdateStatus(ctx, task.ID, models.StatusRunning); err == nil {
		t.Fatal("terminal task must be immutable")
	}
}

func TestRefreshMainStatusPartialSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t))

	main := &models.Task{ModelSlug: "m", AppNumber: 1}
	if err := store.Create(ctx, main); err != nil {
		t.Fatalf("create main: %v", err)
	}
	var subs [2]*models.Task
	for i, svc := range []string{"backend", "frontend"} {
		subs[i] = &models.Task{ModelSlug: "m", AppNumber: 1, ParentTaskID: main.ID, ServiceName: svc}
		if err := store.Create(ctx, subs[i]); err != nil {
			t.Fatalf("create subtask %s: %v", svc, err)
		}
	}

	// Both subtasks in flight: main derives running.
	for _, sub := range subs {
		if err := store.UpdateStatus(ctx, sub.ID, models.StatusRunning); err != nil {
			t.Fatalf("start subtask: %v", err)
		}
	}
	status, err := store.RefreshMainStatus(ctx, main.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if status != models.StatusRunning {
		t.Fatalf("status = %s, want running", status)
	}

	// One completes, one fails: partial_success.
	if err := store.UpdateStatus(ctx, subs[0].ID, models.StatusCompleted); err != nil {
		t.Fatalf("complete subtask: %v", err)
	}
	if err := store.UpdateStatus(ctx, subs[1].ID, models.StatusFailed); err != nil {
		t.Fatalf("fail subtask: %v", err)
	}
	status, err = store.RefreshMainStatus(ctx, main.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if status != models.StatusPartialSuccess {
		t.Fatalf("status = %s, want partial_success", status)
	}

	got, _ := store.Get(ctx, main.ID)
	if got.Status != models.StatusPartialSuccess {
		t.Fatalf("persisted status = %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("main task should carry a completion timestamp")
	}
}

func TestCancelPendingTask(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestDB(t))

	task := &models.Task{ModelSlug: "m"}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := store.Get(ctx, task.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}
