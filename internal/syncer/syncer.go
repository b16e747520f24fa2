// Package syncer reconciles the local task store with an external task
// manager. Remote changes are applied before local pushes; a task both
// sides changed since the last sync is parked in conflict until the user
// resolves it.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/lifeflow/internal/clock"
	"github.com/nhle/lifeflow/internal/flow"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/provider"
	"github.com/nhle/lifeflow/internal/store"
)

const (
	// retryFloor is the minimum wait before an errored task is pushed
	// again; each failed attempt doubles it up to retryCeiling.
	retryFloor   = 5 * time.Minute
	retryCeiling = time.Hour
)

// TaskManagerFactory builds a task-manager source from a credential.
type TaskManagerFactory interface {
	TaskManager(cred *model.ProviderCredential) (provider.TaskManagerSource, error)
}

// Report summarizes one sync cycle.
type Report struct {
	Pulled    int      `json:"pulled"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Conflicts int      `json:"conflicts"`
	Pushed    int      `json:"pushed"`
	Errors    []string `json:"errors,omitempty"`
}

// Status is the sync summary exposed to callers.
type Status struct {
	Connected      bool           `json:"connected"`
	LastSync       *time.Time     `json:"last_sync,omitempty"`
	SyncStatus     string         `json:"sync_status"`
	StatusCounts   map[string]int `json:"status_counts"`
	ConflictsCount int            `json:"conflicts_count"`
	ErrorsCount    int            `json:"errors_count"`
}

// remoteSnapshot is the provider-side version stored on a conflicted
// task so resolve(external) can apply it without refetching.
type remoteSnapshot struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    model.Priority `json:"priority"`
	Completed   bool           `json:"completed"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type retryState struct {
	attempts int
	nextTry  time.Time
}

// Engine runs sync cycles against one external task manager.
type Engine struct {
	store   store.Store
	factory TaskManagerFactory
	clk     clock.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	retries  map[string]retryState
}

// New creates a sync engine.
func New(st store.Store, factory TaskManagerFactory, clk clock.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		factory:  factory,
		clk:      clk,
		logger:   logger,
		inflight: make(map[string]struct{}),
		retries:  make(map[string]retryState),
	}
}

// Sync runs one full cycle for the user: pull remote changes, then push
// local ones. A concurrent cycle for the same user fails with Busy.
func (e *Engine) Sync(ctx context.Context, userID string) (*Report, error) {
	if !e.acquire(userID) {
		return nil, flow.Errorf(flow.KindBusy, "sync.run", "sync already running for %s", userID)
	}
	defer e.release(userID)

	src, err := e.connect(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	if err := e.pull(ctx, userID, src, report); err != nil {
		return nil, err
	}
	if err := e.push(ctx, userID, src, report); err != nil {
		return nil, err
	}

	e.logger.Info("sync cycle finished",
		"user_id", userID,
		"pulled", report.Pulled,
		"created", report.Created,
		"updated", report.Updated,
		"conflicts", report.Conflicts,
		"pushed", report.Pushed,
		"errors", len(report.Errors))
	return report, nil
}

func (e *Engine) connect(ctx context.Context, userID string) (provider.TaskManagerSource, error) {
	cred, err := e.store.GetCredential(ctx, userID, model.SourceTaskManager)
	if errors.Is(err, store.ErrNotFound) {
		return nil, flow.Errorf(flow.KindAuthRequired, "sync.auth", "no task manager credential, reconnect required")
	}
	if err != nil {
		return nil, fmt.Errorf("loading task manager credential: %w", err)
	}
	if cred.Status == model.CredentialRevoked {
		return nil, flow.Errorf(flow.KindAuthRequired, "sync.auth", "task manager credential revoked")
	}
	src, err := e.factory.TaskManager(cred)
	if err != nil {
		return nil, fmt.Errorf("building task manager source: %w", err)
	}
	return src, nil
}

// pull applies remote changes to the local store.
func (e *Engine) pull(ctx context.Context, userID string, src provider.TaskManagerSource, report *Report) error {
	remote, err := src.FetchTasks(ctx)
	if err != nil {
		if provider.IsAuthError(err) {
			return flow.E(flow.KindAuthRequired, "sync.pull", err)
		}
		if provider.IsRateLimitError(err) {
			return flow.E(flow.KindRateLimited, "sync.pull", err)
		}
		return flow.E(flow.KindTransient, "sync.pull", err)
	}
	report.Pulled = len(remote)

	now := e.clk.Now()
	for _, item := range remote {
		if err := e.applyRemote(ctx, userID, item, now, report); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("pull %s: %v", item.ID, err))
			e.logger.Warn("applying remote item failed",
				"user_id", userID, "external_id", item.ID, "error", err)
		}
	}
	return nil
}

func (e *Engine) applyRemote(ctx context.Context, userID string, item provider.ExternalTask, now time.Time, report *Report) error {
	local, err := e.store.GetTaskByExternalID(ctx, userID, model.SourceTaskManager, item.ID)
	if errors.Is(err, store.ErrNotFound) {
		if item.Deleted || item.Title == "" {
			return nil
		}
		task := taskFromRemote(userID, item, now)
		if err := e.store.CreateTask(ctx, task); err != nil {
			return err
		}
		report.Created++
		return nil
	}
	if err != nil {
		return err
	}

	if item.Deleted {
		// Remote deletions complete the local task; nothing is hard-deleted.
		if !local.IsCompleted {
			local.Complete(now)
		}
		local.SyncStatus = model.SyncStatusSynced
		local.LastSyncedAt = &now
		local.UpdatedAt = now
		report.Updated++
		return e.store.UpdateTask(ctx, *local)
	}

	remoteChanged := local.LastSyncedAt == nil ||
		(!item.UpdatedAt.IsZero() && item.UpdatedAt.After(*local.LastSyncedAt))
	localChanged := local.LastSyncedAt != nil && local.UpdatedAt.After(*local.LastSyncedAt)

	if !remoteChanged {
		return nil
	}

	if localChanged {
		// Both sides moved since the last sync: park in conflict and
		// keep the remote version for a later resolve(external).
		snapshot, err := json.Marshal(remoteSnapshot{
			Title:       item.Title,
			Description: item.Description,
			Priority:    item.Priority,
			Completed:   item.Completed,
			UpdatedAt:   item.UpdatedAt,
		})
		if err != nil {
			return err
		}
		local.SyncStatus = model.SyncStatusConflict
		local.ExternalUpdatedAt = &item.UpdatedAt
		local.RawPayload = string(snapshot)
		report.Conflicts++
		return e.store.UpdateTask(ctx, *local)
	}

	applyRemoteContent(local, item, now)
	local.SyncStatus = model.SyncStatusSynced
	local.LastSyncedAt = &now
	local.SyncError = ""
	report.Updated++
	return e.store.UpdateTask(ctx, *local)
}

// push sends pending local changes outbound, plus errored tasks whose
// retry floor has passed.
func (e *Engine) push(ctx context.Context, userID string, src provider.TaskManagerSource, report *Report) error {
	now := e.clk.Now()

	pending, err := e.listForPush(ctx, userID, model.SyncStatusPending)
	if err != nil {
		return err
	}
	errored, err := e.listForPush(ctx, userID, model.SyncStatusError)
	if err != nil {
		return err
	}
	for _, t := range errored {
		if e.retryDue(t.ID, now) {
			pending = append(pending, t)
		}
	}

	for i := range pending {
		task := pending[i]
		if task.SyncDirection == model.SyncInbound {
			continue
		}
		if err := e.pushOne(ctx, src, &task, now); err != nil {
			e.recordPushFailure(ctx, userID, &task, err, now)
			report.Errors = append(report.Errors, fmt.Sprintf("push %s: %v", task.ID, err))
			continue
		}
		e.clearRetry(task.ID)
		report.Pushed++
	}
	return nil
}

func (e *Engine) listForPush(ctx context.Context, userID string, status model.SyncStatus) ([]model.Task, error) {
	return e.store.ListTasks(ctx, userID, store.TaskFilter{
		Source:      model.SourceTaskManager,
		SyncStatus:  status,
		IncludeDone: true,
	})
}

// pushOne mirrors one local task outward and marks it synced.
func (e *Engine) pushOne(ctx context.Context, src provider.TaskManagerSource, task *model.Task, now time.Time) error {
	var (
		externalUpdated time.Time
		err             error
	)
	if task.ExternalID == "" {
		var id string
		id, externalUpdated, err = src.CreateTask(ctx, provider.ExternalTask{
			Title:       task.Title,
			Description: task.Description,
			Due:         task.Start,
			Priority:    task.Priority,
		})
		if err == nil {
			task.ExternalID = id
		}
	} else {
		externalUpdated, err = src.UpdateTask(ctx, provider.ExternalTask{
			ID:          task.ExternalID,
			Title:       task.Title,
			Description: task.Description,
			Due:         task.Start,
			Priority:    task.Priority,
		})
	}
	if err != nil {
		return err
	}

	if task.IsCompleted {
		if err := src.CompleteTask(ctx, task.ExternalID); err != nil {
			return err
		}
	}

	task.SyncStatus = model.SyncStatusSynced
	task.SyncError = ""
	task.LastSyncedAt = &now
	if !externalUpdated.IsZero() {
		task.ExternalUpdatedAt = &externalUpdated
	}
	return e.store.UpdateTask(ctx, *task)
}

func (e *Engine) recordPushFailure(ctx context.Context, userID string, task *model.Task, pushErr error, now time.Time) {
	e.bumpRetry(task.ID, now)

	status := model.SyncStatusError
	msg := pushErr.Error()
	err := e.store.SetTaskSync(ctx, userID, task.ID, store.SyncUpdate{
		Status: &status,
		Error:  &msg,
	})
	if err != nil {
		e.logger.Error("recording push failure", "task_id", task.ID, "error", err)
	}
}

// taskFromRemote builds a local task for a remote item seen for the
// first time.
func taskFromRemote(userID string, item provider.ExternalTask, now time.Time) model.Task {
	start := item.Due
	if start.IsZero() {
		start = now
	}
	task := model.Task{
		ID:            uuid.NewString(),
		UserID:        userID,
		Source:        model.SourceTaskManager,
		Title:         item.Title,
		Description:   item.Description,
		Start:         start.UTC(),
		End:           start.UTC().Add(time.Hour),
		Priority:      item.Priority,
		RawPayload:    item.Raw,
		ExternalID:    item.ID,
		SyncStatus:    model.SyncStatusSynced,
		SyncDirection: model.SyncBidirectional,
		LastSyncedAt:  &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !item.UpdatedAt.IsZero() {
		u := item.UpdatedAt.UTC()
		task.ExternalUpdatedAt = &u
	}
	if item.Completed {
		task.Complete(now)
	}
	return task
}

func applyRemoteContent(local *model.Task, item provider.ExternalTask, now time.Time) {
	local.Title = item.Title
	local.Description = item.Description
	if !item.Due.IsZero() {
		duration := local.End.Sub(local.Start)
		local.Start = item.Due.UTC()
		local.End = local.Start.Add(duration)
	}
	local.Priority = item.Priority
	if item.Completed && !local.IsCompleted {
		local.Complete(now)
	}
	if !item.Completed && local.IsCompleted {
		local.Reopen()
	}
	if !item.UpdatedAt.IsZero() {
		u := item.UpdatedAt.UTC()
		local.ExternalUpdatedAt = &u
	}
	local.UpdatedAt = now
}

func (e *Engine) acquire(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[userID]; busy {
		return false
	}
	e.inflight[userID] = struct{}{}
	return true
}

func (e *Engine) release(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, userID)
}

func (e *Engine) retryDue(taskID string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.retries[taskID]
	if !ok {
		return true
	}
	return !now.Before(st.nextTry)
}

func (e *Engine) bumpRetry(taskID string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.retries[taskID]
	wait := retryFloor << st.attempts
	if wait > retryCeiling {
		wait = retryCeiling
	}
	st.attempts++
	st.nextTry = now.Add(wait)
	e.retries[taskID] = st
}

func (e *Engine) clearRetry(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.retries, taskID)
}
