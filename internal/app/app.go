// Package app is the service facade the HTTP layer talks to. It wires
// the ingestion pipeline, planner, nudger, and sync engine over one
// store and exposes the user-facing operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/lifeflow/internal/clock"
	"github.com/nhle/lifeflow/internal/flow"
	"github.com/nhle/lifeflow/internal/ingest"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/nudge"
	"github.com/nhle/lifeflow/internal/plan"
	"github.com/nhle/lifeflow/internal/store"
	"github.com/nhle/lifeflow/internal/syncer"
)

// regenConcurrency bounds the fan-out of the scheduled plan rebuild.
const regenConcurrency = 4

// App bundles the workflow components behind one facade.
type App struct {
	cfg      *model.AppConfig
	store    store.Store
	pipeline *ingest.Pipeline
	planner  *plan.Planner
	nudger   *nudge.Nudger
	engine   *syncer.Engine
	clk      clock.Clock
	logger   *slog.Logger
}

// New assembles the facade from already-constructed components.
func New(cfg *model.AppConfig, st store.Store, pipeline *ingest.Pipeline, planner *plan.Planner, nudger *nudge.Nudger, engine *syncer.Engine, clk clock.Clock, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:      cfg,
		store:    st,
		pipeline: pipeline,
		planner:  planner,
		nudger:   nudger,
		engine:   engine,
		clk:      clk,
		logger:   logger,
	}
}

// RunIngest triggers one ingestion run for (user, source).
func (a *App) RunIngest(ctx context.Context, userID string, source model.Source) (*ingest.RunReport, error) {
	return a.pipeline.Run(ctx, userID, source)
}

// RunIngestAll ingests every ingestible source for the user in
// parallel. Per-source failures are reported alongside the successful
// reports; a source with no stored credential is skipped silently.
func (a *App) RunIngestAll(ctx context.Context, userID string) (map[model.Source]*ingest.RunReport, error) {
	sources := []model.Source{model.SourceCalendar, model.SourceMail}
	reports := make([]*ingest.RunReport, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			report, err := a.pipeline.Run(gctx, userID, src)
			if flow.KindOf(err) == flow.KindAuthRequired {
				return nil
			}
			reports[i] = report
			return err
		})
	}
	err := g.Wait()

	out := make(map[model.Source]*ingest.RunReport, len(sources))
	for i, src := range sources {
		if reports[i] != nil {
			out[src] = reports[i]
		}
	}
	return out, err
}

// GeneratePlan builds a fresh plan for the user's date.
func (a *App) GeneratePlan(ctx context.Context, userID, date string) (*model.DailyPlan, error) {
	return a.planner.Generate(ctx, userID, date)
}

// GetPlan returns the plan for (user, date).
func (a *App) GetPlan(ctx context.Context, userID, date string) (*model.DailyPlan, error) {
	p, err := a.store.GetPlan(ctx, userID, date)
	if errors.Is(err, store.ErrNotFound) {
		return nil, flow.Errorf(flow.KindInvalidRequest, "app.get_plan", "no plan for %s", date)
	}
	return p, err
}

// UpdatePlanStatus moves a plan between active, completed, and cancelled.
func (a *App) UpdatePlanStatus(ctx context.Context, userID, planID string, status model.PlanStatus) error {
	switch status {
	case model.PlanActive, model.PlanCompleted, model.PlanCancelled:
	default:
		return flow.Errorf(flow.KindInvalidRequest, "app.update_plan_status", "invalid status %q", status)
	}
	err := a.store.UpdatePlanStatus(ctx, userID, planID, status)
	if errors.Is(err, store.ErrNotFound) {
		return flow.Errorf(flow.KindInvalidRequest, "app.update_plan_status", "no plan %s", planID)
	}
	return err
}

// ListNotifications returns the user's nudges, newest first.
func (a *App) ListNotifications(ctx context.Context, userID string, status model.NotificationStatus, limit int) ([]model.Notification, error) {
	return a.store.ListNotifications(ctx, userID, store.NotificationFilter{Status: status, Limit: limit})
}

// DismissNotification transitions a pending or sent nudge to dismissed,
// freeing the (user, task, plan) key for a future plan's nudge.
func (a *App) DismissNotification(ctx context.Context, userID, id string) error {
	err := a.store.DismissNotification(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return flow.Errorf(flow.KindInvalidRequest, "app.dismiss_notification", "no notification %s", id)
	}
	return err
}

// SyncTaskManager runs one bidirectional sync cycle.
func (a *App) SyncTaskManager(ctx context.Context, userID string) (*syncer.Report, error) {
	return a.engine.Sync(ctx, userID)
}

// ResolveConflict settles a conflicted task in favor of one side.
func (a *App) ResolveConflict(ctx context.Context, userID, taskID string, choice string) error {
	return a.engine.Resolve(ctx, userID, taskID, syncer.Choice(choice))
}

// SyncStatus summarizes the user's task-manager sync state.
func (a *App) SyncStatus(ctx context.Context, userID string) (*syncer.Status, error) {
	return a.engine.GetStatus(ctx, userID)
}

// SetEnergy records the user's energy level for a date.
func (a *App) SetEnergy(ctx context.Context, userID, date string, level int) error {
	if level < 1 || level > 5 {
		return flow.Errorf(flow.KindInvalidRequest, "app.set_energy", "level must be 1..5, got %d", level)
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return flow.Errorf(flow.KindInvalidRequest, "app.set_energy", "invalid date %q", date)
	}
	return a.store.SetEnergy(ctx, model.EnergyLevel{
		UserID:    userID,
		Date:      date,
		Level:     level,
		UpdatedAt: a.clk.Now(),
	})
}

// TaskWindow bounds ListTasks. Zero values mean unbounded.
type TaskWindow struct {
	From time.Time
	To   time.Time
}

// ListTasks returns the user's open, non-spam tasks inside the window.
func (a *App) ListTasks(ctx context.Context, userID string, window TaskWindow) ([]model.Task, error) {
	return a.store.ListTasks(ctx, userID, store.TaskFilter{
		StartAfter:  window.From,
		StartBefore: window.To,
	})
}

// UpdateTaskFlags applies user flag edits to a task.
func (a *App) UpdateTaskFlags(ctx context.Context, userID, taskID string, flags model.TaskFlags) (*model.Task, error) {
	task, err := a.store.UpdateTaskFlags(ctx, userID, taskID, flags, a.clk.Now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, flow.Errorf(flow.KindInvalidRequest, "app.update_task_flags", "no task %s", taskID)
	}
	if err != nil {
		return nil, err
	}
	if flags.IsCompleted != nil {
		if merr := a.markDirtyForSync(ctx, userID, taskID); merr != nil {
			a.logger.Warn("marking edited task for sync", "task_id", taskID, "error", merr)
		}
	}
	return task, nil
}

// RegenerateAllPlans rebuilds today's plan for every known user. It
// backs the scheduled morning regeneration; per-user failures are
// logged and do not stop the fan-out.
func (a *App) RegenerateAllPlans(ctx context.Context) {
	userIDs, err := a.store.ListUserIDsWithTasks(ctx)
	if err != nil {
		a.logger.Error("listing users for plan regeneration", "error", err)
		return
	}
	now := a.clk.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(regenConcurrency)
	for _, userID := range userIDs {
		g.Go(func() error {
			date := a.localDate(gctx, userID, now)
			if _, err := a.planner.Generate(gctx, userID, date); err != nil {
				a.logger.Error("regenerating plan failed", "user_id", userID, "date", date, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// localDate formats now as the user's local calendar date.
func (a *App) localDate(ctx context.Context, userID string, now time.Time) string {
	settings, err := a.store.GetUserSettings(ctx, userID)
	if err == nil {
		if loc, lerr := time.LoadLocation(settings.Timezone); lerr == nil {
			return now.In(loc).Format("2006-01-02")
		}
	}
	return now.UTC().Format("2006-01-02")
}

// PromoteReminder turns a reminder into a manual task and removes the
// reminder.
func (a *App) PromoteReminder(ctx context.Context, userID, reminderID string) (*model.Task, error) {
	r, err := a.store.GetReminder(ctx, userID, reminderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, flow.Errorf(flow.KindInvalidRequest, "app.promote_reminder", "no reminder %s", reminderID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading reminder %s: %w", reminderID, err)
	}

	now := a.clk.Now()
	end := r.End
	if !end.After(r.Start) {
		end = r.Start.Add(time.Hour)
	}
	task := model.Task{
		ID:            newID(),
		UserID:        userID,
		Source:        model.SourceManual,
		Title:         r.Title,
		Description:   r.Description,
		Start:         r.Start,
		End:           end,
		Priority:      model.PriorityNormal,
		RawPayload:    r.RawPayload,
		SyncStatus:    model.SyncStatusSynced,
		SyncDirection: model.SyncInbound,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("creating promoted task: %w", err)
	}
	if err := a.store.DeleteReminder(ctx, userID, reminderID); err != nil {
		a.logger.Warn("deleting promoted reminder", "reminder_id", reminderID, "error", err)
	}
	a.logger.Info("reminder promoted", "user_id", userID, "reminder_id", reminderID, "task_id", task.ID)
	return &task, nil
}
