package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewTask builds a one-hour task for userID starting at start, with sane
// defaults a test can override before persisting.
func NewTask(userID string, source model.Source, title string, start time.Time) model.Task {
	now := start.UTC()
	return model.Task{
		ID:            uuid.NewString(),
		UserID:        userID,
		Source:        source,
		Title:         title,
		Start:         start.UTC(),
		End:           start.UTC().Add(time.Hour),
		Priority:      model.PriorityNormal,
		SyncStatus:    model.SyncStatusSynced,
		SyncDirection: model.SyncInbound,
		ExternalID:    "ext-" + uuid.NewString()[:8],
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
