// Package sarifx externalizes oversized SARIF documents embedded in analysis
// payloads and reconstitutes findings from them on read. Externalizing keeps
// the primary payload bounded no matter how many results a tool emits.
package sarifx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// toolEntry is one per-tool block found while walking a payload, together
// with its owning service (empty for the flattened tool_results view).
type toolEntry struct {
	Tool        string
	ServiceName string
	ServiceType string
	Entry       map[string]any
}

// ExtractArtifacts walks the payload's per-service, per-tool structure and
// writes any inline SARIF document (a map carrying a `runs` array) to
// {taskDir}/sarif/{tool}.sarif.json, replacing the inline value with an
// artifact reference. Returns the relative paths of the files written.
func ExtractArtifacts(payload map[string]any, taskDir string) ([]string, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var written []string
	seen := make(map[string]bool)

	for _, te := range toolEntries(payload) {
		doc, ok := inlineSarif(te.Entry)
		if !ok {
			continue
		}
		rel := filepath.Join("sarif", sanitizeToolName(te.Tool)+".sarif.json")
		if !seen[rel] {
			abs := filepath.Join(taskDir, rel)
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return written, fmt.Errorf("creating sarif directory: %w", err)
			}
			blob, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return written, fmt.Errorf("encoding sarif document for %s: %w", te.Tool, err)
			}
			if err := os.WriteFile(abs, blob, 0o644); err != nil {
				return written, fmt.Errorf("writing sarif document for %s: %w", te.Tool, err)
			}
			seen[rel] = true
			written = append(written, rel)
		}
		te.Entry["sarif"] = map[string]any{
			"sarif_file":   rel,
			"extracted_at": time.Now().UTC().Format(time.RFC3339),
		}
	}
	return written, nil
}

// inlineSarif reports whether entry carries an inline SARIF document and
// returns it. A document is recognized by its non-empty `runs` array.
func inlineSarif(entry map[string]any) (map[string]any, bool) {
	doc, ok := entry["sarif"].(map[string]any)
	if !ok {
		return nil, false
	}
	runs, ok := doc["runs"].([]any)
	if !ok || len(runs) == 0 {
		return nil, false
	}
	return doc, true
}

// artifactRef returns the externalized-file reference carried by entry, if any.
func artifactRef(entry map[string]any) (string, bool) {
	doc, ok := entry["sarif"].(map[string]any)
	if !ok {
		return "", false
	}
	rel, ok := doc["sarif_file"].(string)
	if !ok || rel == "" {
		return "", false
	}
	return rel, true
}

// toolEntries collects every per-tool entry map in the payload: the nested
// services tree first, then the flattened tool_results view. A tool present
// in both places yields two entries backed by distinct maps; both must be
// rewritten for the payload to stay consistent.
func toolEntries(payload map[string]any) []toolEntry {
	var out []toolEntry
	if services, ok := payload["services"].(map[string]any); ok {
		for name, sv := range services {
			svc, ok := sv.(map[string]any)
			if !ok {
				continue
			}
			svcType, _ := svc["type"].(string)
			tools, ok := svc["tools"].(map[string]any)
			if !ok {
				continue
			}
			for tool, tv := range tools {
				if entry, ok := tv.(map[string]any); ok {
					out = append(out, toolEntry{Tool: tool, ServiceName: name, ServiceType: svcType, Entry: entry})
				}
			}
		}
	}
	if toolResults, ok := payload["tool_results"].(map[string]any); ok {
		for tool, tv := range toolResults {
			if entry, ok := tv.(map[string]any); ok {
				out = append(out, toolEntry{Tool: tool, Entry: entry})
			}
		}
	}
	return out
}
