package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edgelab/appaudit/internal/database"
	"github.com/edgelab/appaudit/models"
)

// taskColumns matches the field order of models.Task so scanRow lines up.
const taskColumns = `id, parent_task_id, model_slug, app_number, analysis_type, service_name,
	priority, status, issues_found, severity_breakdown, metadata,
	created_at, started_at, completed_at, updated_at`

// Store is the task repository. Tasks are created by the orchestrating
// caller and mutated here and by the result store; they are never
// physically deleted by this subsystem.
type Store struct {
	db database.DB
}

func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a task, assigning a UUID when the caller supplied none.
// A subtask's parent must exist and itself be a main task.
func (s *Store) Create(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.StatusPending
	}
	if t.Priority == "" {
		t.Priority = "normal"
	}
	if t.AnalysisType == "" {
		t.AnalysisType = models.AnalysisSecurity.String()
	}
	if t.SeverityBreakdown == "" {
		t.SeverityBreakdown = "{}"
	}
	if t.Metadata == "" {
		t.Metadata = "{}"
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	if t.ParentTaskID != "" {
		parent, err := s.Get(ctx, t.ParentTaskID)
		if err != nil {
			return err
		}
		if parent == nil {
			return fmt.Errorf("parent task %s does not exist", t.ParentTaskID)
		}
		if !parent.IsMain() {
			return fmt.Errorf("parent task %s is itself a subtask", t.ParentTaskID)
		}
	}

	if _, err := s.db.Insert(ctx, "tasks", t); err != nil {
		return fmt.Errorf("creating task %s: %w", t.ID, err)
	}
	return nil
}

// Get returns the task, or (nil, nil) when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	err := s.db.Get(ctx, &t, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	return &t, nil
}

// ListSubtasks returns a main task's subtasks ordered by creation time.
func (s *Store) ListSubtasks(ctx context.Context, parentID string) ([]models.Task, error) {
	var subs []models.Task
	err := s.db.Select(ctx, &subs,
		`SELECT `+taskColumns+` FROM tasks WHERE parent_task_id = ? ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing subtasks of %s: %w", parentID, err)
	}
	return subs, nil
}

// UpdateStatus moves a task through the state machine, stamping started_at
// and completed_at as appropriate. Invalid transitions are rejected.
func (s *Store) UpdateStatus(ctx context.Context, id string, to models.TaskStatus) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("task %s does not exist", id)
	}
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("invalid status transition %s -> %s for task %s", t.Status, to, id)
	}

	now := time.Now().UTC()
	sets := `status = ?, updated_at = ?`
	args := []interface{}{to.String(), now}
	if to == models.StatusRunning && t.StartedAt == nil {
		sets += `, started_at = ?`
		args = append(args, now)
	}
	if to.IsTerminal() && t.CompletedAt == nil {
		sets += `, completed_at = ?`
		args = append(args, now)
	}
	args = append(args, id)
	if err := s.db.Exec(ctx, `UPDATE tasks SET `+sets+` WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("updating task %s status: %w", id, err)
	}
	return nil
}

// Cancel requests cooperative cancellation. It only flags the task; an
// in-flight external analyzer observes the flag and stops on its own time.
func (s *Store) Cancel(ctx context.Context, id string) error {
	return s.UpdateStatus(ctx, id, models.StatusCancelled)
}

// RefreshMainStatus re-derives a main task's status from its subtasks and
// applies it when the state machine allows the move.
func (s *Store) RefreshMainStatus(ctx context.Context, mainID string) (models.TaskStatus, error) {
	main, err := s.Get(ctx, mainID)
	if err != nil {
		return "", err
	}
	if main == nil {
		return "", fmt.Errorf("task %s does not exist", mainID)
	}
	subs, err := s.ListSubtasks(ctx, mainID)
	if err != nil {
		return "", err
	}
	statuses := make([]models.TaskStatus, len(subs))
	for i, sub := range subs {
		statuses[i] = sub.Status
	}
	derived := DeriveMainStatus(statuses)
	if derived == main.Status {
		return main.Status, nil
	}
	if !CanTransition(main.Status, derived) {
		// A main task that never observed its subtasks start can still land
		// on a terminal derived status; route it through running.
		if main.Status == models.StatusPending && derived.IsTerminal() {
			if err := s.UpdateStatus(ctx, mainID, models.StatusRunning); err != nil {
				return "", err
			}
		} else {
			return main.Status, nil
		}
	}
	if err := s.UpdateStatus(ctx, mainID, derived); err != nil {
		return "", err
	}
	return derived, nil
}
