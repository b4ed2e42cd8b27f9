// Package normalize turns heterogeneous per-tool finding dictionaries into
// the canonical Finding shape. Tools emit wildly different structures (plain
// key/value diagnostics, SARIF result objects, scanner-specific alerts);
// everything here degrades to safe defaults instead of failing.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edgelab/appaudit/models"
)

const (
	defaultTool  = "unknown"
	defaultTitle = "Finding"
)

// Normalize converts one raw finding map into a canonical Finding.
// Missing or malformed fields never produce an error: severity falls back
// to def, the tool name to fallbackTool, the title to "Finding".
func Normalize(raw map[string]any, fallbackTool string, def models.SeverityLevel) models.Finding {
	if fallbackTool == "" {
		fallbackTool = defaultTool
	}
	if def == "" {
		def = models.SeverityInfo
	}
	f := models.Finding{
		Tool:      fallbackTool,
		Severity:  def,
		Title:     defaultTitle,
		CreatedAt: time.Now().UTC(),
	}
	if len(raw) == 0 {
		return f
	}

	if isSarifResult(raw) {
		fillFromSarifResult(&f, raw)
	} else {
		fillFromGeneric(&f, raw, def)
	}

	if blob, err := json.Marshal(raw); err == nil {
		f.Raw = string(blob)
	}
	return f
}

// NormalizeAll maps a raw findings array, skipping entries that are not
// objects.
func NormalizeAll(raws []any, fallbackTool string) []models.Finding {
	out := make([]models.Finding, 0, len(raws))
	for _, r := range raws {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Normalize(m, fallbackTool, models.SeverityInfo))
	}
	return out
}

// isSarifResult recognizes a SARIF `result` object by its identifying keys.
func isSarifResult(raw map[string]any) bool {
	if _, ok := raw["ruleId"]; !ok {
		return false
	}
	_, hasMsg := raw["message"].(map[string]any)
	_, hasLoc := raw["locations"]
	return hasMsg || hasLoc
}

func fillFromSarifResult(f *models.Finding, raw map[string]any) {
	f.RuleID = stringField(raw, "ruleId")
	if f.RuleID != "" {
		f.Title = f.RuleID
	}
	if msg, ok := raw["message"].(map[string]any); ok {
		if text := stringField(msg, "text"); text != "" {
			f.Message = text
		}
	}
	f.Severity = models.MapSarifLevel(stringField(raw, "level"))
	if locs, ok := raw["locations"].([]any); ok && len(locs) > 0 {
		if loc, ok := locs[0].(map[string]any); ok {
			if phys, ok := loc["physicalLocation"].(map[string]any); ok {
				if art, ok := phys["artifactLocation"].(map[string]any); ok {
					f.FilePath = stringField(art, "uri")
				}
				if region, ok := phys["region"].(map[string]any); ok {
					f.Line = intField(region, "startLine")
					f.Column = intField(region, "startColumn")
					if snip, ok := region["snippet"].(map[string]any); ok {
						f.Snippet = stringField(snip, "text")
					}
				}
			}
		}
	}
	if f.Message == "" {
		f.Message = f.Title
	}
}

func fillFromGeneric(f *models.Finding, raw map[string]any, def models.SeverityLevel) {
	if tool := firstString(raw, "tool", "tool_name", "scanner", "detector"); tool != "" {
		f.Tool = tool
	}
	f.ToolVersion = firstString(raw, "tool_version", "version")

	sev := firstString(raw, "severity", "level", "issue_severity", "priority")
	f.Severity = models.NormalizeSeverity(sev, def)

	if title := firstString(raw, "title", "name", "check_id", "check", "rule", "test_name", "issue"); title != "" {
		f.Title = title
	}
	f.Message = firstString(raw, "message", "description", "issue_text", "detail", "details")
	if f.Message == "" {
		f.Message = f.Title
	}
	f.FilePath = firstString(raw, "file_path", "filename", "file", "path", "location")
	f.Line = firstInt(raw, "line", "line_number", "line_start", "start_line")
	f.Column = firstInt(raw, "column", "col", "col_start", "start_column")
	f.Category = firstString(raw, "category", "type", "kind")
	f.RuleID = firstString(raw, "rule_id", "ruleId", "check_id", "test_id")
	f.Confidence = firstString(raw, "confidence", "issue_confidence")
	f.Snippet = firstString(raw, "snippet", "code", "code_snippet")
	f.Tags = marshalStringList(raw, "tags", "cwe", "references")
	f.Recommendations = marshalStringList(raw, "recommendations", "remediation", "fix")
}

// marshalStringList collects the first present list-like field and returns
// it as a JSON array string, or "" when nothing usable exists.
func marshalStringList(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var items []string
		switch vv := v.(type) {
		case []any:
			for _, item := range vv {
				if s := anyToString(item); s != "" {
					items = append(items, s)
				}
			}
		case []string:
			items = vv
		case string:
			if strings.TrimSpace(vv) != "" {
				items = []string{vv}
			}
		}
		if len(items) > 0 {
			blob, err := json.Marshal(items)
			if err != nil {
				continue
			}
			return string(blob)
		}
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	return anyToString(m[key])
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := anyToString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func intField(m map[string]any, key string) int {
	return anyToInt(m[key])
}

func firstInt(m map[string]any, keys ...string) int {
	for _, k := range keys {
		if n := anyToInt(m[k]); n != 0 {
			return n
		}
	}
	return 0
}

func anyToString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case fmt.Stringer:
		return strings.TrimSpace(s.String())
	default:
		return ""
	}
}

func anyToInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case float32:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case int32:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	default:
		return 0
	}
}
