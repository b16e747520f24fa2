package store

import (
	"context"
	"fmt"

	"github.com/nhle/lifeflow/internal/model"
)

// AddDependency inserts a dependency edge after checking that it does not
// close a cycle. Self-references and duplicate edges are rejected.
func (s *SQLiteStore) AddDependency(ctx context.Context, d model.TaskDependency) error {
	if d.TaskID == d.BlockedByTask {
		return ErrDependencyCycle
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning dependency tx: %w", err)
	}
	defer tx.Rollback()

	// Walk the existing graph from the proposed blocker. If the task being
	// blocked is reachable, the new edge would close a cycle.
	var edges []model.TaskDependency
	err = tx.SelectContext(ctx, &edges,
		"SELECT id, user_id, task_id, blocked_by_task, type, created_at FROM task_dependencies WHERE user_id = ?",
		d.UserID)
	if err != nil {
		return fmt.Errorf("loading dependency graph: %w", err)
	}

	blockers := make(map[string][]string, len(edges))
	for _, e := range edges {
		blockers[e.TaskID] = append(blockers[e.TaskID], e.BlockedByTask)
	}
	if reaches(blockers, d.BlockedByTask, d.TaskID) {
		return ErrDependencyCycle
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO task_dependencies (id, user_id, task_id, blocked_by_task, type, created_at)
		VALUES (:id, :user_id, :task_id, :blocked_by_task, :type, :created_at)`, d)
	if isUniqueViolation(err) {
		// The edge already exists. Treat the insert as idempotent.
		return nil
	}
	if err != nil {
		return fmt.Errorf("inserting dependency %s -> %s: %w", d.TaskID, d.BlockedByTask, err)
	}
	return tx.Commit()
}

// reaches reports whether target is reachable from start by following
// blocker edges.
func reaches(blockers map[string][]string, start, target string) bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		for _, next := range blockers[cur] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// ListBlockers returns the edges naming tasks that block taskID.
func (s *SQLiteStore) ListBlockers(ctx context.Context, userID, taskID string) ([]model.TaskDependency, error) {
	var out []model.TaskDependency
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, user_id, task_id, blocked_by_task, type, created_at
		FROM task_dependencies WHERE user_id = ? AND task_id = ? ORDER BY created_at, id`,
		userID, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing blockers for %s: %w", taskID, err)
	}
	return out, nil
}
