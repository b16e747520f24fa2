package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nhle/lifeflow/internal/model"
)

const reminderColumns = "id, user_id, source, title, description, start_time, end_time, is_all_day, raw_payload, external_id, created_at"

// UpsertReminder inserts or refreshes a reminder keyed by
// (user, source, external_id) when the external id is set.
func (s *SQLiteStore) UpsertReminder(ctx context.Context, r model.Reminder) error {
	if r.ExternalID != "" {
		var existingID string
		err := s.db.GetContext(ctx, &existingID,
			"SELECT id FROM reminders WHERE user_id = ? AND source = ? AND external_id = ?",
			r.UserID, r.Source, r.ExternalID)
		if err == nil {
			_, err = s.db.ExecContext(ctx, `
				UPDATE reminders SET title = ?, description = ?, start_time = ?,
					end_time = ?, is_all_day = ?, raw_payload = ?
				WHERE id = ?`,
				r.Title, r.Description, r.Start.UTC(), r.End.UTC(),
				boolToInt(r.IsAllDay), r.RawPayload, existingID)
			if err != nil {
				return fmt.Errorf("updating reminder %s: %w", existingID, err)
			}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("looking up reminder: %w", err)
		}
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO reminders (`+reminderColumns+`)
		VALUES (:id, :user_id, :source, :title, :description, :start_time,
			:end_time, :is_all_day, :raw_payload, :external_id, :created_at)`, r)
	if err != nil {
		return fmt.Errorf("inserting reminder %s: %w", r.ID, err)
	}
	return nil
}

// GetReminder fetches one reminder scoped by user.
func (s *SQLiteStore) GetReminder(ctx context.Context, userID, id string) (*model.Reminder, error) {
	var r model.Reminder
	err := s.db.GetContext(ctx, &r,
		"SELECT "+reminderColumns+" FROM reminders WHERE user_id = ? AND id = ?", userID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting reminder %s: %w", id, err)
	}
	return &r, nil
}

// ListReminders returns the user's reminders starting on the given
// YYYY-MM-DD date (UTC day bounds), ordered by start time. An empty date
// lists everything.
func (s *SQLiteStore) ListReminders(ctx context.Context, userID, date string) ([]model.Reminder, error) {
	var (
		out  []model.Reminder
		err  error
		base = "SELECT " + reminderColumns + " FROM reminders WHERE user_id = ?"
	)
	if date == "" {
		err = s.db.SelectContext(ctx, &out, base+" ORDER BY start_time, id", userID)
	} else {
		err = s.db.SelectContext(ctx, &out,
			base+" AND date(start_time) = ? ORDER BY start_time, id", userID, date)
	}
	if err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}
	return out, nil
}

// DeleteReminder removes a reminder, typically after promotion to a task.
func (s *SQLiteStore) DeleteReminder(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM reminders WHERE user_id = ? AND id = ?", userID, id)
	if err != nil {
		return fmt.Errorf("deleting reminder %s: %w", id, err)
	}
	return requireRowAffected(res, id)
}
