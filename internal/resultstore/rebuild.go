package resultstore

import (
	"context"
	"fmt"

	"github.com/edgelab/appaudit/models"
)

// RebuildFromJSON reconstructs the database view of a task from its primary
// on-disk file: findings are re-normalized and replace the current set, the
// result row is upserted, and the task summary is refreshed. Running it
// again over the same file converges to the same state. Returns (nil, nil)
// when no primary file exists for the task.
func (s *Store) RebuildFromJSON(ctx context.Context, taskID string) (*models.StructuredResult, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task id is required")
	}
	res, err := s.loadFromDisk(taskID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	findings := collectFindings(taskID, res.Results)
	res.Summary = buildSummary(res.Results, findings)

	if err := s.persist(ctx, res, findings); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(taskID)
	}
	return res, nil
}
