package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/lifeflow/internal/flow"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/store"
)

const defaultSnoozeMinutes = 60

func newID() string { return uuid.NewString() }

// RecordFeedback records a done or snoozed action against a plan entry.
// Done completes the underlying task; snoozed shifts the entry's
// predicted window forward, capped at the end of the plan's day. Both
// append a feedback row that later plan generations learn from.
func (a *App) RecordFeedback(ctx context.Context, userID, date, taskID string, action model.FeedbackAction, snoozeMinutes int) error {
	if action != model.FeedbackDone && action != model.FeedbackSnoozed {
		return flow.Errorf(flow.KindInvalidRequest, "app.record_feedback", "invalid action %q", action)
	}

	p, err := a.store.GetPlan(ctx, userID, date)
	if errors.Is(err, store.ErrNotFound) {
		return flow.Errorf(flow.KindInvalidRequest, "app.record_feedback", "no plan for %s", date)
	}
	if err != nil {
		return fmt.Errorf("loading plan for %s: %w", date, err)
	}
	entry := p.Entry(taskID)
	if entry == nil {
		return flow.Errorf(flow.KindInvalidRequest, "app.record_feedback", "task %s is not on the %s plan", taskID, date)
	}

	now := a.clk.Now()
	fb := model.TaskFeedback{
		ID:     newID(),
		UserID: userID,
		TaskID: taskID,
		PlanID: p.ID,
		Action: action,
		At:     now,
	}

	switch action {
	case model.FeedbackDone:
		entry.Status = model.EntryDone
		done := true
		if _, err := a.store.UpdateTaskFlags(ctx, userID, taskID, model.TaskFlags{IsCompleted: &done}, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("completing task %s: %w", taskID, err)
		}
		if err := a.markDirtyForSync(ctx, userID, taskID); err != nil {
			a.logger.Warn("marking completed task for sync", "task_id", taskID, "error", err)
		}

	case model.FeedbackSnoozed:
		if snoozeMinutes <= 0 {
			snoozeMinutes = defaultSnoozeMinutes
		}
		fb.SnoozeDurationMinutes = snoozeMinutes
		entry.Status = model.EntrySnoozed
		a.shiftEntry(ctx, userID, date, entry, time.Duration(snoozeMinutes)*time.Minute)
	}

	if err := a.store.AppendFeedback(ctx, fb); err != nil {
		return fmt.Errorf("appending feedback: %w", err)
	}
	if err := a.store.UpdatePlanEntry(ctx, userID, p.ID, *entry); err != nil {
		return fmt.Errorf("updating plan entry: %w", err)
	}
	a.logger.Info("feedback recorded",
		"user_id", userID, "task_id", taskID, "action", action)
	return nil
}

// shiftEntry pushes the entry's predicted window forward by delta,
// keeping it inside the plan's calendar day in the user's zone.
func (a *App) shiftEntry(ctx context.Context, userID, date string, entry *model.PlanEntry, delta time.Duration) {
	duration := entry.PredictedEnd.Sub(entry.PredictedStart)
	start := entry.PredictedStart.Add(delta)

	loc := time.UTC
	if settings, err := a.store.GetUserSettings(ctx, userID); err == nil {
		if l, lerr := time.LoadLocation(settings.Timezone); lerr == nil {
			loc = l
		}
	}
	if day, err := time.ParseInLocation("2006-01-02", date, loc); err == nil {
		dayEnd := day.AddDate(0, 0, 1).UTC()
		if start.Add(duration).After(dayEnd) {
			start = dayEnd.Add(-duration)
		}
	}
	if start.Before(entry.PredictedStart) {
		return
	}
	entry.PredictedStart = start
	entry.PredictedEnd = start.Add(duration)
}

// markDirtyForSync flags a locally edited task-manager task for the
// next outbound push. Tasks from other sources are left alone.
func (a *App) markDirtyForSync(ctx context.Context, userID, taskID string) error {
	task, err := a.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if task.Source != model.SourceTaskManager || task.SyncDirection == model.SyncInbound {
		return nil
	}
	if task.SyncStatus != model.SyncStatusSynced {
		return nil
	}
	pending := model.SyncStatusPending
	return a.store.SetTaskSync(ctx, userID, taskID, store.SyncUpdate{Status: &pending})
}
