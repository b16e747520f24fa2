package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/lifeflow/internal/model"
)

// AppendFeedback records a user action. The feedback log is append-only.
func (s *SQLiteStore) AppendFeedback(ctx context.Context, fb model.TaskFeedback) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO task_feedback (id, user_id, task_id, plan_id, action, snooze_duration_minutes, at)
		VALUES (:id, :user_id, :task_id, :plan_id, :action, :snooze_duration_minutes, :at)`, fb)
	if err != nil {
		return fmt.Errorf("appending feedback for task %s: %w", fb.TaskID, err)
	}
	return nil
}

// ListFeedbackSince returns the user's feedback at or after since,
// oldest first.
func (s *SQLiteStore) ListFeedbackSince(ctx context.Context, userID string, since time.Time) ([]model.TaskFeedback, error) {
	var out []model.TaskFeedback
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, user_id, task_id, plan_id, action, snooze_duration_minutes, at
		FROM task_feedback WHERE user_id = ? AND at >= ? ORDER BY at, id`,
		userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing feedback: %w", err)
	}
	return out, nil
}

// SetEnergy records the user's energy level for a date, last write wins.
func (s *SQLiteStore) SetEnergy(ctx context.Context, e model.EnergyLevel) error {
	if e.Level < 1 || e.Level > 5 {
		return fmt.Errorf("energy level must be 1..5, got %d", e.Level)
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO energy_levels (user_id, date, level, updated_at)
		VALUES (:user_id, :date, :level, :updated_at)
		ON CONFLICT(user_id, date) DO UPDATE SET
			level = excluded.level, updated_at = excluded.updated_at`, e)
	if err != nil {
		return fmt.Errorf("setting energy for %s on %s: %w", e.UserID, e.Date, err)
	}
	return nil
}

// GetEnergy fetches the energy level for (user, date).
func (s *SQLiteStore) GetEnergy(ctx context.Context, userID, date string) (*model.EnergyLevel, error) {
	var e model.EnergyLevel
	err := s.db.GetContext(ctx, &e,
		"SELECT user_id, date, level, updated_at FROM energy_levels WHERE user_id = ? AND date = ?",
		userID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting energy for %s on %s: %w", userID, date, err)
	}
	return &e, nil
}
