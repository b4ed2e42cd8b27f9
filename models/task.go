package models

import "time"

// TaskStatus represents the lifecycle state of an analysis task.
type TaskStatus string

const (
	StatusPending        TaskStatus = "pending"
	StatusRunning        TaskStatus = "running"
	StatusCompleted      TaskStatus = "completed"
	StatusPartialSuccess TaskStatus = "partial_success"
	StatusFailed         TaskStatus = "failed"
	StatusCancelled      TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal tasks are
// immutable except for administrative rebuilds, which only re-derive
// summary fields.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPartialSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s TaskStatus) String() string { return string(s) }

// AnalysisType categorizes what kind of analysis a task performs.
type AnalysisType string

const (
	AnalysisSecurity    AnalysisType = "security"
	AnalysisPerformance AnalysisType = "performance"
	AnalysisDynamic     AnalysisType = "dynamic"
	AnalysisAI          AnalysisType = "ai"
	AnalysisUnified     AnalysisType = "unified"
)

func (a AnalysisType) String() string { return string(a) }

// Task is one requested analysis run against a generated application.
// A main task may own one subtask per analyzer service; a subtask
// references its parent via ParentTaskID.
type Task struct {
	ID                string     `json:"id"                 db:"id"`
	ParentTaskID      string     `json:"parent_task_id"     db:"parent_task_id"`
	ModelSlug         string     `json:"model_slug"         db:"model_slug"`
	AppNumber         int        `json:"app_number"         db:"app_number"`
	AnalysisType      string     `json:"analysis_type"      db:"analysis_type"`
	ServiceName       string     `json:"service_name"       db:"service_name"`
	Priority          string     `json:"priority"           db:"priority"`
	Status            TaskStatus `json:"status"             db:"status"`
	IssuesFound       int        `json:"issues_found"       db:"issues_found"`
	SeverityBreakdown string     `json:"severity_breakdown" db:"severity_breakdown"` // JSON map over the five canonical levels
	Metadata          string     `json:"metadata"           db:"metadata"`           // JSON map for tool-selection bookkeeping
	CreatedAt         time.Time  `json:"created_at"         db:"created_at"`
	StartedAt         *time.Time `json:"started_at"         db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"       db:"completed_at"`
	UpdatedAt         time.Time  `json:"updated_at"         db:"updated_at"`
}

// IsMain reports whether the task is a main task (no parent).
func (t *Task) IsMain() bool { return t.ParentTaskID == "" }
