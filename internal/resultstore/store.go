// Package resultstore persists analysis results across three layers: the
// relational database (authoritative), a filesystem mirror (forensic,
// human-inspectable), and an in-memory TTL cache. Database writes for one
// store operation are all-or-nothing; the filesystem mirror is best-effort
// and never fails the operation.
package resultstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/edgelab/appaudit/internal/database"
	"github.com/edgelab/appaudit/internal/normalize"
	"github.com/edgelab/appaudit/internal/resultcache"
	"github.com/edgelab/appaudit/internal/sarifx"
	"github.com/edgelab/appaudit/models"
)

// Store coordinates the three result layers for a single results root.
type Store struct {
	db    database.DB
	cache *resultcache.Cache
	root  string
}

// New builds a Store over its explicit dependencies. cache may be nil when
// the caller wants uncached reads (one-shot CLI commands).
func New(db database.DB, cache *resultcache.Cache, resultsRoot string) *Store {
	return &Store{db: db, cache: cache, root: resultsRoot}
}

// resultRow is the task_results table shape. Payload holds the complete
// serialized structured result so database reads round-trip exactly.
type resultRow struct {
	TaskID       string    `db:"task_id"`
	ModelSlug    string    `db:"model_slug"`
	AppNumber    int       `db:"app_number"`
	AnalysisType string    `db:"analysis_type"`
	Payload      string    `db:"payload"`
	Metadata     string    `db:"metadata"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// StoreResults persists a raw analysis payload for an existing task. The
// payload is sanitized, oversized SARIF documents are externalized, findings
// are normalized and replace the task's previous set, and the task row's
// issue summary is refreshed — all database steps in one transaction. The
// filesystem mirror is written afterwards; a mirror failure degrades to a
// warning. The cache entry for the task is invalidated last.
func (s *Store) StoreResults(ctx context.Context, taskID string, payload map[string]any, modelSlug string, appNumber int) (*models.StructuredResult, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task id is required")
	}

	var trow struct {
		AnalysisType string `db:"analysis_type"`
	}
	err := s.db.Get(ctx, &trow, `SELECT analysis_type FROM tasks WHERE id = ?`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s does not exist", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", taskID, err)
	}

	results, metadata, err := sanitizePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("sanitizing payload for task %s: %w", taskID, err)
	}

	now := time.Now().UTC()
	taskDir := s.findTaskDir(modelSlug, appNumber, taskID)
	if taskDir == "" {
		taskDir = filepath.Join(s.appDir(modelSlug, appNumber), taskDirName(taskID, now))
	}
	if _, err := sarifx.ExtractArtifacts(results, taskDir); err != nil {
		slog.Warn("sarif extraction degraded; inline documents kept",
			"task_id", taskID, "dir", taskDir, "error", err)
	}

	findings := collectFindings(taskID, results)
	summary := buildSummary(results, findings)

	res := &models.StructuredResult{
		TaskID:       taskID,
		ModelSlug:    modelSlug,
		AppNumber:    appNumber,
		AnalysisType: trow.AnalysisType,
		Timestamp:    now.Format(time.RFC3339),
		Metadata:     metadata,
		Results:      results,
		Summary:      summary,
	}

	if err := s.persist(ctx, res, findings); err != nil {
		return nil, err
	}

	if err := writeMirror(res, taskDir); err != nil {
		slog.Warn("filesystem mirror write degraded; database copy is authoritative",
			"task_id", taskID, "dir", taskDir, "error", err)
	}

	if s.cache != nil {
		s.cache.Invalidate(taskID)
	}
	return res, nil
}

// persist writes the findings replacement, the result row, and the task
// summary refresh inside one transaction.
func (s *Store) persist(ctx context.Context, res *models.StructuredResult, findings []models.Finding) error {
	payloadJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result for task %s: %w", res.TaskID, err)
	}
	metadataJSON, err := json.Marshal(res.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata for task %s: %w", res.TaskID, err)
	}
	breakdownJSON, err := json.Marshal(models.Breakdown(findings))
	if err != nil {
		return fmt.Errorf("encoding severity breakdown for task %s: %w", res.TaskID, err)
	}
	now := time.Now().UTC()

	err = s.db.WithTx(ctx, func(tx database.Executor) error {
		if err := tx.Exec(ctx, `DELETE FROM task_findings WHERE task_id = ?`, res.TaskID); err != nil {
			return fmt.Errorf("clearing previous findings: %w", err)
		}
		for i := range findings {
			if _, err := tx.Insert(ctx, "task_findings", &findings[i]); err != nil {
				return fmt.Errorf("inserting finding %q: %w", findings[i].Title, err)
			}
		}
		row := resultRow{
			TaskID:       res.TaskID,
			ModelSlug:    res.ModelSlug,
			AppNumber:    res.AppNumber,
			AnalysisType: res.AnalysisType,
			Payload:      string(payloadJSON),
			Metadata:     string(metadataJSON),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Upsert(ctx, "task_results", &row, []string{"task_id"}); err != nil {
			return fmt.Errorf("upserting result row: %w", err)
		}
		if err := tx.Exec(ctx,
			`UPDATE tasks SET issues_found = ?, severity_breakdown = ?, updated_at = ? WHERE id = ?`,
			len(findings), string(breakdownJSON), now, res.TaskID); err != nil {
			return fmt.Errorf("updating task summary: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing results for task %s: %w", res.TaskID, err)
	}
	return nil
}

// sanitizePayload deep-copies the payload through JSON, proving it
// serializable and detaching it from caller-held maps, and lifts the
// metadata object out of the result body.
func sanitizePayload(payload map[string]any) (results map[string]any, metadata map[string]any, err error) {
	if payload == nil {
		payload = map[string]any{}
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(blob, &results); err != nil {
		return nil, nil, err
	}
	if md, ok := results["metadata"].(map[string]any); ok {
		metadata = md
		delete(results, "metadata")
	} else {
		metadata = map[string]any{}
	}
	return results, metadata, nil
}

// collectFindings normalizes every finding the payload carries: the
// top-level findings array, each service tool's issue list plus its
// pre-structured summaries, and tool_results entries for tools not already
// seen under a service (the flattened view mirrors the nested one).
func collectFindings(taskID string, results map[string]any) []models.Finding {
	var out []models.Finding
	if raws, ok := results["findings"].([]any); ok {
		out = append(out, normalize.NormalizeAll(raws, "")...)
	}

	seenTools := make(map[string]bool)
	if services, ok := results["services"].(map[string]any); ok {
		for _, name := range sortedKeys(services) {
			svc, ok := services[name].(map[string]any)
			if !ok {
				continue
			}
			svcType, _ := svc["type"].(string)
			tools, ok := svc["tools"].(map[string]any)
			if !ok {
				continue
			}
			for _, tool := range sortedKeys(tools) {
				entry, ok := tools[tool].(map[string]any)
				if !ok {
					continue
				}
				seenTools[tool] = true
				if issues, ok := entry["issues"].([]any); ok {
					out = append(out, normalize.NormalizeAll(issues, tool)...)
				}
				out = append(out, normalize.DeriveIssuesFromService(svcType, tool, entry)...)
			}
		}
	}
	if toolResults, ok := results["tool_results"].(map[string]any); ok {
		for _, tool := range sortedKeys(toolResults) {
			if seenTools[tool] {
				continue
			}
			entry, ok := toolResults[tool].(map[string]any)
			if !ok {
				continue
			}
			if issues, ok := entry["issues"].([]any); ok {
				out = append(out, normalize.NormalizeAll(issues, tool)...)
			}
			out = append(out, normalize.DeriveIssuesFromService("", tool, entry)...)
		}
	}

	for i := range out {
		out[i].TaskID = taskID
	}
	return out
}

// buildSummary merges caller-supplied summary fields with the computed
// issue totals; computed values win.
func buildSummary(results map[string]any, findings []models.Finding) map[string]any {
	summary := map[string]any{}
	if prev, ok := results["summary"].(map[string]any); ok {
		for k, v := range prev {
			summary[k] = v
		}
		delete(results, "summary")
	}
	breakdown := models.Breakdown(findings)
	bd := make(map[string]any, len(breakdown))
	for k, v := range breakdown {
		bd[k] = v
	}
	summary["severity_breakdown"] = bd
	summary["total_issues"] = len(findings)

	toolSet := make(map[string]bool)
	for i := range findings {
		if findings[i].Tool != "" {
			toolSet[findings[i].Tool] = true
		}
	}
	if len(toolSet) > 0 {
		tools := make([]string, 0, len(toolSet))
		for t := range toolSet {
			tools = append(tools, t)
		}
		sort.Strings(tools)
		summary["tools_used"] = tools
	}
	return summary
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
