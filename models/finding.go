package models

import (
	"encoding/json"
	"time"
)

// Finding is one normalized diagnostic emitted by an analysis tool.
// The full previous set for a task is replaced on every store operation,
// so the finding rows always reflect the most recent payload.
type Finding struct {
	ID              int64         `json:"id"              db:"id"`
	TaskID          string        `json:"task_id"         db:"task_id"`
	Tool            string        `json:"tool"            db:"tool"`
	ToolVersion     string        `json:"tool_version"    db:"tool_version"`
	Severity        SeverityLevel `json:"severity"        db:"severity"`
	Title           string        `json:"title"           db:"title"`
	Message         string        `json:"message"         db:"message"`
	FilePath        string        `json:"file_path"       db:"file_path"`
	Line            int           `json:"line"            db:"line"`
	Column          int           `json:"column"          db:"col"`
	Category        string        `json:"category"        db:"category"`
	RuleID          string        `json:"rule_id"         db:"rule_id"`
	Confidence      string        `json:"confidence"      db:"confidence"`
	Snippet         string        `json:"snippet"         db:"snippet"`
	Raw             string        `json:"raw"             db:"raw"`             // original payload blob, JSON
	Tags            string        `json:"tags"            db:"tags"`            // JSON array
	Recommendations string        `json:"recommendations" db:"recommendations"` // JSON array
	CreatedAt       time.Time     `json:"created_at"      db:"created_at"`
}

// ToMap renders the finding as the generic map shape embedded in payloads.
func (f *Finding) ToMap() map[string]any {
	m := map[string]any{
		"tool":     f.Tool,
		"severity": f.Severity.String(),
		"title":    f.Title,
		"message":  f.Message,
	}
	if f.ToolVersion != "" {
		m["tool_version"] = f.ToolVersion
	}
	if f.FilePath != "" {
		m["file_path"] = f.FilePath
	}
	if f.Line > 0 {
		m["line"] = f.Line
	}
	if f.Column > 0 {
		m["column"] = f.Column
	}
	if f.Category != "" {
		m["category"] = f.Category
	}
	if f.RuleID != "" {
		m["rule_id"] = f.RuleID
	}
	if f.Confidence != "" {
		m["confidence"] = f.Confidence
	}
	if f.Snippet != "" {
		m["snippet"] = f.Snippet
	}
	if f.Tags != "" {
		var tags []string
		if err := json.Unmarshal([]byte(f.Tags), &tags); err == nil && len(tags) > 0 {
			m["tags"] = tags
		}
	}
	if f.Recommendations != "" {
		var recs []string
		if err := json.Unmarshal([]byte(f.Recommendations), &recs); err == nil && len(recs) > 0 {
			m["recommendations"] = recs
		}
	}
	return m
}

// Breakdown counts findings per canonical severity level. All five keys
// are always present so readers never need to nil-check.
func Breakdown(findings []Finding) map[string]int {
	out := make(map[string]int, 5)
	for _, s := range AllSeverities() {
		out[s.String()] = 0
	}
	for _, f := range findings {
		out[f.Severity.String()]++
	}
	return out
}
