package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/store"
)

// GetStatus summarizes the user's task-manager sync state.
func (e *Engine) GetStatus(ctx context.Context, userID string) (*Status, error) {
	status := &Status{StatusCounts: make(map[string]int)}

	cred, err := e.store.GetCredential(ctx, userID, model.SourceTaskManager)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("loading credential: %w", err)
	default:
		status.Connected = cred.Status == model.CredentialActive
	}

	tasks, err := e.store.ListTasks(ctx, userID, store.TaskFilter{
		Source:      model.SourceTaskManager,
		IncludeDone: true,
		IncludeSpam: true,
	})
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	var lastSync *time.Time
	for i := range tasks {
		t := &tasks[i]
		status.StatusCounts[string(t.SyncStatus)]++
		switch t.SyncStatus {
		case model.SyncStatusConflict:
			status.ConflictsCount++
		case model.SyncStatusError:
			status.ErrorsCount++
		}
		if t.LastSyncedAt != nil && (lastSync == nil || t.LastSyncedAt.After(*lastSync)) {
			lastSync = t.LastSyncedAt
		}
	}
	status.LastSync = lastSync

	switch {
	case status.ConflictsCount > 0:
		status.SyncStatus = string(model.SyncStatusConflict)
	case status.ErrorsCount > 0:
		status.SyncStatus = string(model.SyncStatusError)
	case status.StatusCounts[string(model.SyncStatusPending)] > 0:
		status.SyncStatus = string(model.SyncStatusPending)
	default:
		status.SyncStatus = string(model.SyncStatusSynced)
	}
	return status, nil
}
