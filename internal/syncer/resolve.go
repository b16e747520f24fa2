package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nhle/lifeflow/internal/flow"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/provider"
	"github.com/nhle/lifeflow/internal/store"
)

// Choice selects which side wins a conflict.
type Choice string

const (
	ChooseLocal    Choice = "local"
	ChooseExternal Choice = "external"
)

// Resolve settles a conflicted task. Choosing local pushes the local
// state outward; choosing external applies the remote snapshot stored at
// conflict time. Either way the task ends up synced with sync_error
// cleared and last_synced_at advanced.
func (e *Engine) Resolve(ctx context.Context, userID, taskID string, choice Choice) error {
	if choice != ChooseLocal && choice != ChooseExternal {
		return flow.Errorf(flow.KindInvalidRequest, "sync.resolve", "invalid choice %q", choice)
	}

	task, err := e.store.GetTask(ctx, userID, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return flow.Errorf(flow.KindInvalidRequest, "sync.resolve", "no task %s", taskID)
	}
	if err != nil {
		return fmt.Errorf("loading task %s: %w", taskID, err)
	}
	if task.SyncStatus != model.SyncStatusConflict {
		return flow.Errorf(flow.KindInvalidRequest, "sync.resolve", "task %s is not in conflict", taskID)
	}

	now := e.clk.Now()

	if choice == ChooseLocal {
		src, err := e.connect(ctx, userID)
		if err != nil {
			return err
		}
		if err := e.pushOne(ctx, src, task, now); err != nil {
			if provider.IsAuthError(err) {
				return flow.E(flow.KindAuthRequired, "sync.resolve", err)
			}
			return flow.E(flow.KindTransient, "sync.resolve", err)
		}
		e.clearRetry(task.ID)
		return nil
	}

	var snapshot remoteSnapshot
	if err := json.Unmarshal([]byte(task.RawPayload), &snapshot); err != nil {
		return fmt.Errorf("reading remote snapshot for %s: %w", taskID, err)
	}
	task.Title = snapshot.Title
	task.Description = snapshot.Description
	task.Priority = snapshot.Priority
	if snapshot.Completed && !task.IsCompleted {
		task.Complete(now)
	}
	if !snapshot.Completed && task.IsCompleted {
		task.Reopen()
	}
	task.SyncStatus = model.SyncStatusSynced
	task.SyncError = ""
	task.LastSyncedAt = &now
	if !snapshot.UpdatedAt.IsZero() {
		u := snapshot.UpdatedAt.UTC()
		task.ExternalUpdatedAt = &u
	}
	task.UpdatedAt = now
	return e.store.UpdateTask(ctx, *task)
}
