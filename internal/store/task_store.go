package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/lifeflow/internal/model"
)

// taskRow mirrors model.Task with attendees flattened to a JSON column.
type taskRow struct {
	model.Task
	AttendeesJSON string `db:"attendees"`
}

func newTaskRow(t model.Task) (taskRow, error) {
	attendees := t.Attendees
	if attendees == nil {
		attendees = []string{}
	}
	raw, err := json.Marshal(attendees)
	if err != nil {
		return taskRow{}, fmt.Errorf("encoding attendees: %w", err)
	}
	return taskRow{Task: t, AttendeesJSON: string(raw)}, nil
}

func (r taskRow) toTask() (model.Task, error) {
	t := r.Task
	t.Attendees = nil
	if r.AttendeesJSON != "" && r.AttendeesJSON != "[]" {
		if err := json.Unmarshal([]byte(r.AttendeesJSON), &t.Attendees); err != nil {
			return t, fmt.Errorf("decoding attendees for task %s: %w", t.ID, err)
		}
	}
	return t, nil
}

const taskColumns = `id, user_id, source, title, description, start_time, end_time,
	attendees, location, recurrence, priority, is_critical, is_urgent,
	is_spam, spam_reason, spam_score, is_completed, completed_at,
	raw_payload, external_id, sync_status, sync_direction,
	last_synced_at, external_updated_at, sync_error, created_at, updated_at`

const insertTaskSQL = `
INSERT INTO tasks (` + taskColumns + `)
VALUES (:id, :user_id, :source, :title, :description, :start_time, :end_time,
	:attendees, :location, :recurrence, :priority, :is_critical, :is_urgent,
	:is_spam, :spam_reason, :spam_score, :is_completed, :completed_at,
	:raw_payload, :external_id, :sync_status, :sync_direction,
	:last_synced_at, :external_updated_at, :sync_error, :created_at, :updated_at)`

// ingestEqual reports whether the incoming provider-derived content matches
// what is already stored. User-settable flags and sync bookkeeping are
// deliberately not compared.
func ingestEqual(existing, incoming model.Task) bool {
	if existing.Title != incoming.Title ||
		existing.Description != incoming.Description ||
		!existing.Start.Equal(incoming.Start) ||
		!existing.End.Equal(incoming.End) ||
		existing.Location != incoming.Location ||
		existing.Recurrence != incoming.Recurrence ||
		existing.Priority != incoming.Priority ||
		existing.IsSpam != incoming.IsSpam ||
		existing.SpamReason != incoming.SpamReason ||
		existing.SpamScore != incoming.SpamScore {
		return false
	}
	if len(existing.Attendees) != len(incoming.Attendees) {
		return false
	}
	for i := range existing.Attendees {
		if existing.Attendees[i] != incoming.Attendees[i] {
			return false
		}
	}
	return true
}

// UpsertIngested inserts or updates the task keyed by
// (user, source, external_id). Existing user-settable flags survive the
// update and a content-identical re-ingest leaves the row untouched.
func (s *SQLiteStore) UpsertIngested(ctx context.Context, task model.Task) (UpsertOutcome, error) {
	if task.ExternalID == "" {
		return 0, fmt.Errorf("upserting ingested task: external_id is required")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning upsert tx: %w", err)
	}
	defer tx.Rollback()

	var existing taskRow
	err = tx.GetContext(ctx, &existing,
		"SELECT "+taskColumns+" FROM tasks WHERE user_id = ? AND source = ? AND external_id = ?",
		task.UserID, task.Source, task.ExternalID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		row, rerr := newTaskRow(task)
		if rerr != nil {
			return 0, rerr
		}
		if _, err := tx.NamedExecContext(ctx, insertTaskSQL, row); err != nil {
			return 0, fmt.Errorf("inserting ingested task: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("committing upsert: %w", err)
		}
		return UpsertCreated, nil

	case err != nil:
		return 0, fmt.Errorf("looking up ingested task: %w", err)
	}

	prev, err := existing.toTask()
	if err != nil {
		return 0, err
	}
	if ingestEqual(prev, task) {
		return UpsertUnchanged, nil
	}

	// Overwrite provider-derived content, preserve user-settable flags
	// and sync bookkeeping.
	merged := task
	merged.ID = prev.ID
	merged.IsCritical = prev.IsCritical
	merged.IsUrgent = prev.IsUrgent
	merged.IsCompleted = prev.IsCompleted
	merged.CompletedAt = prev.CompletedAt
	merged.SyncStatus = prev.SyncStatus
	merged.SyncDirection = prev.SyncDirection
	merged.LastSyncedAt = prev.LastSyncedAt
	merged.SyncError = prev.SyncError
	merged.CreatedAt = prev.CreatedAt

	row, err := newTaskRow(merged)
	if err != nil {
		return 0, err
	}
	_, err = tx.NamedExecContext(ctx, `
		UPDATE tasks SET
			title = :title, description = :description,
			start_time = :start_time, end_time = :end_time,
			attendees = :attendees, location = :location, recurrence = :recurrence,
			priority = :priority,
			is_spam = :is_spam, spam_reason = :spam_reason, spam_score = :spam_score,
			raw_payload = :raw_payload,
			external_updated_at = :external_updated_at,
			updated_at = :updated_at
		WHERE id = :id AND user_id = :user_id`, row)
	if err != nil {
		return 0, fmt.Errorf("updating ingested task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing upsert: %w", err)
	}
	return UpsertUpdated, nil
}

// CreateTask inserts a new task row.
func (s *SQLiteStore) CreateTask(ctx context.Context, task model.Task) error {
	row, err := newTaskRow(task)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, insertTaskSQL, row); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating task %s: duplicate external id: %w", task.ID, err)
		}
		return fmt.Errorf("creating task %s: %w", task.ID, err)
	}
	return nil
}

// UpdateTask overwrites every mutable column of the task.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task model.Task) error {
	row, err := newTaskRow(task)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE tasks SET
			title = :title, description = :description,
			start_time = :start_time, end_time = :end_time,
			attendees = :attendees, location = :location, recurrence = :recurrence,
			priority = :priority, is_critical = :is_critical, is_urgent = :is_urgent,
			is_spam = :is_spam, spam_reason = :spam_reason, spam_score = :spam_score,
			is_completed = :is_completed, completed_at = :completed_at,
			raw_payload = :raw_payload, external_id = :external_id,
			sync_status = :sync_status, sync_direction = :sync_direction,
			last_synced_at = :last_synced_at, external_updated_at = :external_updated_at,
			sync_error = :sync_error, updated_at = :updated_at
		WHERE id = :id AND user_id = :user_id`, row)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", task.ID, err)
	}
	return requireRowAffected(res, task.ID)
}

// GetTask fetches one task scoped by user.
func (s *SQLiteStore) GetTask(ctx context.Context, userID, id string) (*model.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+taskColumns+" FROM tasks WHERE user_id = ? AND id = ?", userID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	t, err := row.toTask()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTaskByExternalID fetches a task by its provider identity.
func (s *SQLiteStore) GetTaskByExternalID(ctx context.Context, userID string, source model.Source, externalID string) (*model.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+taskColumns+" FROM tasks WHERE user_id = ? AND source = ? AND external_id = ?",
		userID, source, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting task by external id %s: %w", externalID, err)
	}
	t, err := row.toTask()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns the user's tasks matching filter, ordered by start time.
func (s *SQLiteStore) ListTasks(ctx context.Context, userID string, filter TaskFilter) ([]model.Task, error) {
	var (
		conds = []string{"user_id = ?"}
		args  = []any{userID}
	)
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.SyncStatus != "" {
		conds = append(conds, "sync_status = ?")
		args = append(args, filter.SyncStatus)
	}
	if !filter.StartAfter.IsZero() {
		conds = append(conds, "start_time >= ?")
		args = append(args, filter.StartAfter.UTC())
	}
	if !filter.StartBefore.IsZero() {
		conds = append(conds, "start_time < ?")
		args = append(args, filter.StartBefore.UTC())
	}
	if !filter.IncludeSpam {
		conds = append(conds, "is_spam = 0")
	}
	if !filter.IncludeDone {
		conds = append(conds, "is_completed = 0")
	}

	query := "SELECT " + taskColumns + " FROM tasks WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY start_time, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	tasks := make([]model.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTask()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// UpdateTaskFlags applies a partial flag edit and returns the updated task.
// Clearing is_completed clears completed_at; setting it stamps completed_at
// with now.
func (s *SQLiteStore) UpdateTaskFlags(ctx context.Context, userID, id string, flags model.TaskFlags, now time.Time) (*model.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning flags tx: %w", err)
	}
	defer tx.Rollback()

	var row taskRow
	err = tx.GetContext(ctx, &row,
		"SELECT "+taskColumns+" FROM tasks WHERE user_id = ? AND id = ?", userID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s for flag update: %w", id, err)
	}

	t, err := row.toTask()
	if err != nil {
		return nil, err
	}

	if flags.IsCritical != nil {
		t.IsCritical = *flags.IsCritical
	}
	if flags.IsUrgent != nil {
		t.IsUrgent = *flags.IsUrgent
	}
	if flags.IsCompleted != nil {
		if *flags.IsCompleted {
			t.Complete(now)
		} else {
			t.Reopen()
		}
	}
	t.UpdatedAt = now.UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET is_critical = ?, is_urgent = ?, is_completed = ?,
			completed_at = ?, updated_at = ?
		WHERE user_id = ? AND id = ?`,
		boolToInt(t.IsCritical), boolToInt(t.IsUrgent), boolToInt(t.IsCompleted),
		nullableTime(t.CompletedAt), t.UpdatedAt, userID, id)
	if err != nil {
		return nil, fmt.Errorf("updating flags for task %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing flag update: %w", err)
	}
	return &t, nil
}

// SetTaskSync mutates only the sync bookkeeping columns named in upd.
func (s *SQLiteStore) SetTaskSync(ctx context.Context, userID, id string, upd SyncUpdate) error {
	var (
		sets []string
		args []any
	)
	if upd.Status != nil {
		sets = append(sets, "sync_status = ?")
		args = append(args, *upd.Status)
	}
	if upd.Error != nil {
		sets = append(sets, "sync_error = ?")
		args = append(args, *upd.Error)
	}
	if upd.LastSyncedAt != nil {
		sets = append(sets, "last_synced_at = ?")
		args = append(args, upd.LastSyncedAt.UTC())
	}
	if upd.ExternalUpdatedAt != nil {
		sets = append(sets, "external_updated_at = ?")
		args = append(args, upd.ExternalUpdatedAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, userID, id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE user_id = ? AND id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating sync state for task %s: %w", id, err)
	}
	return requireRowAffected(res, id)
}

// DeleteTask removes the task and its dependency edges.
func (s *SQLiteStore) DeleteTask(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE user_id = ? AND id = ?", userID, id)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	if err := requireRowAffected(res, id); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"DELETE FROM task_dependencies WHERE user_id = ? AND (task_id = ? OR blocked_by_task = ?)",
		userID, id, id)
	if err != nil {
		return fmt.Errorf("deleting dependencies for task %s: %w", id, err)
	}
	return tx.Commit()
}

func requireRowAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
