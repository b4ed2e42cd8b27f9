package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edgelab/appaudit/internal/profiles"
	"github.com/edgelab/appaudit/models"
)

// buildHandler wires all REST routes onto a new ServeMux.
func buildHandler(gw *Gateway) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /api/status", gw.handleStatus)

	// Results.
	mux.HandleFunc("POST /api/results/{taskId}", gw.handleStoreResults)
	mux.HandleFunc("GET /api/results/{taskId}", gw.handleLoadResults)
	mux.HandleFunc("GET /api/results/{taskId}/summary", gw.handleSection("summary"))
	mux.HandleFunc("GET /api/results/{taskId}/security", gw.handleSection("security"))
	mux.HandleFunc("GET /api/results/{taskId}/performance", gw.handleSection("performance"))
	mux.HandleFunc("GET /api/results/{taskId}/quality", gw.handleSection("quality"))
	mux.HandleFunc("GET /api/results/{taskId}/requirements", gw.handleSection("requirements"))
	mux.HandleFunc("GET /api/results/{taskId}/tools", gw.handleSection("tools"))
	mux.HandleFunc("GET /api/results/{taskId}/findings", gw.handleFindings)
	mux.HandleFunc("POST /api/results/{taskId}/rebuild", gw.handleRebuild)

	// SARIF artifacts.
	mux.HandleFunc("GET /api/results/{taskId}/sarif", gw.handleListSarif)
	mux.HandleFunc("GET /api/results/{taskId}/sarif/{name}", gw.handleGetSarif)

	// Filesystem mirror.
	mux.HandleFunc("GET /api/files", gw.handleListFiles)

	// Cache.
	mux.HandleFunc("DELETE /api/cache/{taskId}", gw.handleInvalidateCache)
	mux.HandleFunc("POST /api/cache/cleanup", gw.handleCacheCleanup)

	// Tasks.
	mux.HandleFunc("POST /api/tasks", gw.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{taskId}", gw.handleGetTask)
	mux.HandleFunc("PUT /api/tasks/{taskId}/status", gw.handleUpdateTaskStatus)
	mux.HandleFunc("POST /api/tasks/{taskId}/cancel", gw.handleCancelTask)

	// Profiles.
	mux.HandleFunc("GET /api/profiles", gw.handleListProfiles)

	return mux
}

// --- HTTP response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Health & status ---

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := gw.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (gw *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"driver":         gw.db.Driver(),
		"cached_results": gw.cache.Len(),
		"uptime_seconds": int64(time.Since(gw.startedAt).Seconds()),
	})
}

// --- Results ---

type storeResultsRequest struct {
	Payload   map[string]any `json:"payload"`
	ModelSlug string         `json:"model_slug"`
	AppNumber int            `json:"app_number"`
}

func (gw *Gateway) handleStoreResults(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	var req storeResultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := gw.store.StoreResults(r.Context(), taskID, req.Payload, req.ModelSlug, req.AppNumber)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (gw *Gateway) handleLoadResults(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	refresh := r.URL.Query().Get("refresh") == "1"
	res, err := gw.store.LoadResults(r.Context(), taskID, refresh)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no results for task %s", taskID))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (gw *Gateway) handleSection(section string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := r.PathValue("taskId")
		var (
			data map[string]any
			err  error
		)
		switch section {
		case "summary":
			data, err = gw.store.Summary(r.Context(), taskID)
		case "security":
			data, err = gw.store.Security(r.Context(), taskID)
		case "performance":
			data, err = gw.store.Performance(r.Context(), taskID)
		case "quality":
			data, err = gw.store.Quality(r.Context(), taskID)
		case "requirements":
			data, err = gw.store.Requirements(r.Context(), taskID)
		case "tools":
			data, err = gw.store.Tools(r.Context(), taskID)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if data == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no %s section for task %s", section, taskID))
			return
		}
		writeJSON(w, http.StatusOK, data)
	}
}

// handleFindings returns the top-level finding list, optionally filtered
// through a named analysis profile (?profile=security-review).
func (gw *Gateway) handleFindings(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	res, err := gw.store.LoadResults(r.Context(), taskID, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no results for task %s", taskID))
		return
	}
	findings, _ := res.Results["findings"].([]any)
	if findings == nil {
		findings = []any{}
	}

	profileName := strings.TrimSpace(r.URL.Query().Get("profile"))
	if profileName != "" {
		p, err := profiles.Load(profileName, gw.cfg.Profiles.Dir)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		findings = p.FilterFindingMaps(findings)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":  taskID,
		"profile":  profileName,
		"findings": findings,
		"total":    len(findings),
	})
}

func (gw *Gateway) handleRebuild(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	res, err := gw.store.RebuildFromJSON(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no primary result file for task %s", taskID))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- SARIF artifacts ---

func (gw *Gateway) handleListSarif(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	files, err := gw.store.GetSarifFiles(taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID, "files": files})
}

func (gw *Gateway) handleGetSarif(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	name := r.PathValue("name")
	blob, err := gw.store.LoadSarifFile(taskID, name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

// --- Filesystem mirror ---

func (gw *Gateway) handleListFiles(w http.ResponseWriter, r *http.Request) {
	model := strings.TrimSpace(r.URL.Query().Get("model"))
	if model == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'model' is required")
		return
	}
	app, err := strconv.Atoi(r.URL.Query().Get("app"))
	if err != nil || app < 0 {
		writeError(w, http.StatusBadRequest, "query parameter 'app' must be a non-negative integer")
		return
	}
	files, err := gw.store.ListResultFiles(model, app)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []models.ResultFile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": model, "app": app, "files": files})
}

// --- Cache ---

func (gw *Gateway) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	existed := gw.cache.Invalidate(taskID)
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": taskID, "existed": existed})
}

func (gw *Gateway) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	maxAge := time.Duration(gw.cfg.Cache.SweepMaxAgeHours) * time.Hour
	if v := strings.TrimSpace(r.URL.Query().Get("max_age_minutes")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxAge = time.Duration(n) * time.Minute
		}
	}
	removed := gw.cache.Sweep(maxAge)
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "remaining": gw.cache.Len()})
}

// --- Tasks ---

type createTaskRequest struct {
	ModelSlug    string         `json:"model_slug"`
	AppNumber    int            `json:"app_number"`
	AnalysisType string         `json:"analysis_type"`
	ServiceName  string         `json:"service_name"`
	Priority     string         `json:"priority"`
	ParentTaskID string         `json:"parent_task_id"`
	Metadata     map[string]any `json:"metadata"`
}

func (gw *Gateway) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ModelSlug == "" {
		writeError(w, http.StatusBadRequest, "model_slug is required")
		return
	}
	t := models.Task{
		ModelSlug:    req.ModelSlug,
		AppNumber:    req.AppNumber,
		AnalysisType: req.AnalysisType,
		ServiceName:  req.ServiceName,
		Priority:     req.Priority,
		ParentTaskID: req.ParentTaskID,
	}
	if len(req.Metadata) > 0 {
		blob, err := json.Marshal(req.Metadata)
		if err != nil {
			writeError(w, http.StatusBadRequest, "metadata is not serializable")
			return
		}
		t.Metadata = string(blob)
	}
	if err := gw.tasks.Create(r.Context(), &t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (gw *Gateway) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	t, err := gw.tasks.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %s not found", taskID))
		return
	}
	subs, err := gw.tasks.ListSubtasks(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": t, "subtasks": subs})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (gw *Gateway) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := gw.tasks.UpdateStatus(r.Context(), taskID, models.TaskStatus(req.Status)); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	t, err := gw.tasks.Get(r.Context(), taskID)
	if err != nil || t == nil {
		writeError(w, http.StatusInternalServerError, "task updated but could not be reloaded")
		return
	}
	if t.ParentTaskID != "" {
		if _, err := gw.tasks.RefreshMainStatus(r.Context(), t.ParentTaskID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, t)
}

func (gw *Gateway) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	if err := gw.tasks.Cancel(r.Context(), taskID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	t, err := gw.tasks.Get(r.Context(), taskID)
	if err != nil || t == nil {
		writeError(w, http.StatusInternalServerError, "task cancelled but could not be reloaded")
		return
	}
	// A cancelled subtask counts towards its parent's derived status, same
	// as any other terminal transition.
	if t.ParentTaskID != "" {
		if _, err := gw.tasks.RefreshMainStatus(r.Context(), t.ParentTaskID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Profiles ---

func (gw *Gateway) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := profiles.List(gw.cfg.Profiles.Dir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": list})
}
