package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ListUserIDsWithTasks returns every user that has at least one stored
// task. The scheduler fans out over this set.
func (s *SQLiteStore) ListUserIDsWithTasks(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT DISTINCT user_id FROM tasks ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("listing user ids: %w", err)
	}
	return ids, nil
}

// GetUserSettings fetches delivery preferences for a user. Users without a
// settings row get the zero-value defaults.
func (s *SQLiteStore) GetUserSettings(ctx context.Context, userID string) (*UserSettings, error) {
	var us UserSettings
	err := s.db.GetContext(ctx, &us,
		"SELECT user_id, email, timezone, email_enabled FROM user_settings WHERE user_id = ?",
		userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &UserSettings{UserID: userID, Timezone: "UTC"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting settings for %s: %w", userID, err)
	}
	return &us, nil
}

// SaveUserSettings inserts or replaces the user's settings row.
func (s *SQLiteStore) SaveUserSettings(ctx context.Context, us UserSettings) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO user_settings (user_id, email, timezone, email_enabled)
		VALUES (:user_id, :email, :timezone, :email_enabled)
		ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			timezone = excluded.timezone,
			email_enabled = excluded.email_enabled`, us)
	if err != nil {
		return fmt.Errorf("saving settings for %s: %w", us.UserID, err)
	}
	return nil
}
