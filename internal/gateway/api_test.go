package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/edgelab/appaudit/internal/config"
	"github.com/edgelab/appaudit/internal/database"
	"github.com/edgelab/appaudit/models"
)

func newTestGateway(t *testing.T) (*Gateway, http.Handler) {
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
	cfg := &config.Config{
		Results:  config.ResultsConfig{Dir: t.TempDir()},
		Cache:    config.CacheConfig{TTLMinutes: 5, SweepSchedule: "@hourly", SweepMaxAgeHours: 1},
		Profiles: config.ProfilesConfig{Dir: t.TempDir()},
	}
	gw := New(cfg, db)
	return gw, buildHandler(gw)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func createTaskViaAPI(t *testing.T, h http.Handler) string {
	t.Helper()
	rec, body := doJSON(t, h, http.MethodPost, "/api/tasks", map[string]any{
		"model_slug":    "anthropic_claude",
		"app_number":    2,
		"analysis_type": "security",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: %d %s", rec.Code, rec.Body.String())
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("no task id in response: %v", body)
	}
	return id
}

func TestHealth(t *testing.T) {
	_, h := newTestGateway(t)
	rec, body := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestTaskLifecycleOverAPI(t *testing.T) {
	_, h := newTestGateway(t)
	id := createTaskViaAPI(t, h)

	rec, body := doJSON(t, h, http.MethodGet, "/api/tasks/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get task: %d", rec.Code)
	}
	task := body["task"].(map[string]any)
	if task["status"] != "pending" {
		t.Errorf("status = %v", task["status"])
	}

	rec, body = doJSON(t, h, http.MethodPut, "/api/tasks/"+id+"/status",
		map[string]string{"status": "running"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status: %d %s", rec.Code, rec.Body.String())
	}
	if body["status"] != "running" {
		t.Errorf("status = %v", body["status"])
	}

	// Skipping the state machine is rejected.
	rec, _ = doJSON(t, h, http.MethodPut, "/api/tasks/"+id+"/status",
		map[string]string{"status": "pending"})
	if rec.Code != http.StatusConflict {
		t.Errorf("invalid transition: %d, want 409", rec.Code)
	}

	rec, body = doJSON(t, h, http.MethodPost, "/api/tasks/"+id+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d", rec.Code)
	}
	if body["status"] != "cancelled" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestGetMissingTask(t *testing.T) {
	_, h := newTestGateway(t)
	rec, _ := doJSON(t, h, http.MethodGet, "/api/tasks/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing task: %d, want 404", rec.Code)
	}
}

func TestStoreAndLoadResultsOverAPI(t *testing.T) {
	_, h := newTestGateway(t)
	id := createTaskViaAPI(t, h)

	payload := map[string]any{
		"payload": map[string]any{
			"findings": []any{
				map[string]any{"title": "weak hash", "severity": "high", "tool": "gosec"},
			},
			"summary": map[string]any{},
		},
		"model_slug": "anthropic_claude",
		"app_number": 2,
	}
	rec, _ := doJSON(t, h, http.MethodPost, "/api/results/"+id, payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("store: %d %s", rec.Code, rec.Body.String())
	}

	rec, body := doJSON(t, h, http.MethodGet, "/api/results/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("load: %d", rec.Code)
	}
	if body["task_id"] != id {
		t.Errorf("task_id = %v", body["task_id"])
	}
	summary := body["summary"].(map[string]any)
	if summary["total_issues"] != float64(1) {
		t.Errorf("total_issues = %v", summary["total_issues"])
	}

	rec, summaryBody := doJSON(t, h, http.MethodGet, "/api/results/"+id+"/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: %d", rec.Code)
	}
	if summaryBody["total_issues"] != float64(1) {
		t.Errorf("summary section = %v", summaryBody)
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/results/no-such-task", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing result: %d, want 404", rec.Code)
	}
}

func TestFindingsWithProfileFilter(t *testing.T) {
	_, h := newTestGateway(t)
	id := createTaskViaAPI(t, h)

	payload := map[string]any{
		"payload": map[string]any{
			"findings": []any{
				map[string]any{"title": "rce", "severity": "critical"},
				map[string]any{"title": "style nit", "severity": "info"},
			},
		},
		"model_slug": "anthropic_claude",
		"app_number": 2,
	}
	if rec, _ := doJSON(t, h, http.MethodPost, "/api/results/"+id, payload); rec.Code != http.StatusCreated {
		t.Fatalf("store: %d", rec.Code)
	}

	rec, body := doJSON(t, h, http.MethodGet, "/api/results/"+id+"/findings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("findings: %d", rec.Code)
	}
	if body["total"] != float64(2) {
		t.Errorf("unfiltered total = %v", body["total"])
	}

	rec, body = doJSON(t, h, http.MethodGet, "/api/results/"+id+"/findings?profile=critical-only", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("filtered findings: %d %s", rec.Code, rec.Body.String())
	}
	if body["total"] != float64(1) {
		t.Errorf("filtered total = %v", body["total"])
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/results/"+id+"/findings?profile=nope", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown profile: %d, want 400", rec.Code)
	}
}

func TestFindingsProfileServiceFocus(t *testing.T) {
	_, h := newTestGateway(t)
	id := createTaskViaAPI(t, h)

	payload := map[string]any{
		"payload": map[string]any{
			"findings": []any{
				map[string]any{"title": "slow query", "severity": "medium", "service": "backend"},
				map[string]any{"title": "bundle size", "severity": "medium", "service": "frontend"},
			},
		},
		"model_slug": "anthropic_claude",
		"app_number": 2,
	}
	if rec, _ := doJSON(t, h, http.MethodPost, "/api/results/"+id, payload); rec.Code != http.StatusCreated {
		t.Fatalf("store: %d", rec.Code)
	}

	// backend-performance focuses on backend and api services.
	rec, body := doJSON(t, h, http.MethodGet, "/api/results/"+id+"/findings?profile=backend-performance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("filtered findings: %d %s", rec.Code, rec.Body.String())
	}
	if body["total"] != float64(1) {
		t.Fatalf("focused total = %v, want 1", body["total"])
	}
	first := body["findings"].([]any)[0].(map[string]any)
	if first["service"] != "backend" {
		t.Errorf("kept finding = %v, want the backend one", first)
	}
}

func TestCacheEndpoints(t *testing.T) {
	_, h := newTestGateway(t)
	id := createTaskViaAPI(t, h)

	rec, body := doJSON(t, h, http.MethodDelete, "/api/cache/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("invalidate: %d", rec.Code)
	}
	if body["invalidated"] != id {
		t.Errorf("body = %v", body)
	}
	if body["existed"] != false {
		t.Errorf("existed = %v, the task was never cached", body["existed"])
	}

	rec, body = doJSON(t, h, http.MethodPost, "/api/cache/cleanup", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup: %d", rec.Code)
	}
	if _, ok := body["removed"]; !ok {
		t.Errorf("body = %v", body)
	}
}

func TestListProfilesEndpoint(t *testing.T) {
	_, h := newTestGateway(t)
	rec, body := doJSON(t, h, http.MethodGet, "/api/profiles", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profiles: %d", rec.Code)
	}
	list, ok := body["profiles"].([]any)
	if !ok || len(list) < 3 {
		t.Fatalf("expected bundled profiles, got %v", body)
	}
}

func TestSubtaskCompletionRefreshesParent(t *testing.T) {
	_, h := newTestGateway(t)
	parent := createTaskViaAPI(t, h)

	rec, body := doJSON(t, h, http.MethodPost, "/api/tasks", map[string]any{
		"model_slug":     "anthropic_claude",
		"app_number":     2,
		"parent_task_id": parent,
		"service_name":   "backend",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create subtask: %d %s", rec.Code, rec.Body.String())
	}
	sub := body["id"].(string)

	for _, status := range []string{"running", "completed"} {
		rec, _ = doJSON(t, h, http.MethodPut, "/api/tasks/"+sub+"/status",
			map[string]string{"status": status})
		if rec.Code != http.StatusOK {
			t.Fatalf("subtask -> %s: %d %s", status, rec.Code, rec.Body.String())
		}
	}

	rec, body = doJSON(t, h, http.MethodGet, "/api/tasks/"+parent, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get parent: %d", rec.Code)
	}
	task := body["task"].(map[string]any)
	if task["status"] != string(models.StatusCompleted) {
		t.Errorf("parent status = %v, want completed", task["status"])
	}
}

func TestSubtaskCancelRefreshesParent(t *testing.T) {
	_, h := newTestGateway(t)
	parent := createTaskViaAPI(t, h)

	rec, body := doJSON(t, h, http.MethodPost, "/api/tasks", map[string]any{
		"model_slug":     "anthropic_claude",
		"app_number":     2,
		"parent_task_id": parent,
		"service_name":   "backend",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create subtask: %d %s", rec.Code, rec.Body.String())
	}
	sub := body["id"].(string)

	rec, body = doJSON(t, h, http.MethodPost, "/api/tasks/"+sub+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel subtask: %d %s", rec.Code, rec.Body.String())
	}
	if body["status"] != string(models.StatusCancelled) {
		t.Errorf("subtask status = %v, want cancelled", body["status"])
	}

	// Cancelled counts as failure, so the parent's derived state is failed.
	rec, body = doJSON(t, h, http.MethodGet, "/api/tasks/"+parent, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get parent: %d", rec.Code)
	}
	task := body["task"].(map[string]any)
	if task["status"] != string(models.StatusFailed) {
		t.Errorf("parent status = %v, want failed after its only subtask was cancelled", task["status"])
	}
}
