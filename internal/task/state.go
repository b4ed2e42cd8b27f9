// Package task models one analysis unit and its lifecycle. A main task may
// fan out into one subtask per analyzer service; the main task's status is
// derived from its subtasks.
package task

import "github.com/edgelab/appaudit/models"

// CanTransition reports whether moving a task from one status to another is
// allowed. Transitions are one-directional and terminal states are never
// re-entered.
func CanTransition(from, to models.TaskStatus) bool {
	if from == to {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	switch from {
	case models.StatusPending:
		switch to {
		case models.StatusRunning, models.StatusCancelled, models.StatusFailed:
			return true
		}
	case models.StatusRunning:
		switch to {
		case models.StatusCompleted, models.StatusPartialSuccess, models.StatusFailed, models.StatusCancelled:
			return true
		}
	}
	return false
}

// DeriveMainStatus computes a main task's status from its subtasks:
// running while any subtask is still pending or running, completed when all
// completed, failed when all failed, partial_success otherwise.
func DeriveMainStatus(subs []models.TaskStatus) models.TaskStatus {
	if len(subs) == 0 {
		return models.StatusPending
	}
	completed, failed := 0, 0
	for _, s := range subs {
		switch s {
		case models.StatusPending, models.StatusRunning:
			return models.StatusRunning
		case models.StatusCompleted:
			completed++
		case models.StatusFailed, models.StatusCancelled:
			failed++
		}
	}
	switch {
	case failed == 0:
		return models.StatusCompleted
	case completed == 0:
		return models.StatusFailed
	default:
		return models.StatusPartialSuccess
	}
}
