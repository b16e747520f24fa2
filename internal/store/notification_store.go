package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/lifeflow/internal/model"
)

const notificationColumns = "id, user_id, task_id, plan_id, type, message, scheduled_at, sent_at, status, created_at"

// ReserveNotification inserts a pending notification row. The unique index
// on non-dismissed (user, task, plan) rows makes this a compare-and-set:
// whichever caller inserts first wins, everyone else gets
// ErrAlreadyReserved.
func (s *SQLiteStore) ReserveNotification(ctx context.Context, n model.Notification) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (:id, :user_id, :task_id, :plan_id, :type, :message,
			:scheduled_at, :sent_at, :status, :created_at)`, n)
	if isUniqueViolation(err) {
		return ErrAlreadyReserved
	}
	if err != nil {
		return fmt.Errorf("reserving notification for task %s: %w", n.TaskID, err)
	}
	return nil
}

// MarkNotificationSent records delivery.
func (s *SQLiteStore) MarkNotificationSent(ctx context.Context, userID, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET status = ?, sent_at = ? WHERE user_id = ? AND id = ?",
		model.NotificationSent, at.UTC(), userID, id)
	if err != nil {
		return fmt.Errorf("marking notification %s sent: %w", id, err)
	}
	return requireRowAffected(res, id)
}

// DismissNotification marks the notification dismissed. Idempotent for
// already-dismissed rows.
func (s *SQLiteStore) DismissNotification(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET status = ? WHERE user_id = ? AND id = ?",
		model.NotificationDismissed, userID, id)
	if err != nil {
		return fmt.Errorf("dismissing notification %s: %w", id, err)
	}
	return requireRowAffected(res, id)
}

// GetNotification fetches one notification scoped by user.
func (s *SQLiteStore) GetNotification(ctx context.Context, userID, id string) (*model.Notification, error) {
	var n model.Notification
	err := s.db.GetContext(ctx, &n,
		"SELECT "+notificationColumns+" FROM notifications WHERE user_id = ? AND id = ?",
		userID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification %s: %w", id, err)
	}
	return &n, nil
}

// ListNotifications returns the user's notifications, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string, filter NotificationFilter) ([]model.Notification, error) {
	var (
		conds = []string{"user_id = ?"}
		args  = []any{userID}
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}

	query := "SELECT " + notificationColumns + " FROM notifications WHERE " +
		strings.Join(conds, " AND ") + " ORDER BY scheduled_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var out []model.Notification
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return out, nil
}
