package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/lifeflow/internal/model"
)

// Sentinel errors surfaced by store implementations.
var (
	// ErrNotFound means no row matched the (user-scoped) query.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyReserved means a non-dismissed notification already
	// exists for the (user, task, plan) key.
	ErrAlreadyReserved = errors.New("store: notification already reserved")

	// ErrDependencyCycle means the insert would make the dependency
	// graph cyclic (or self-referential).
	ErrDependencyCycle = errors.New("store: dependency cycle")
)

// UpsertOutcome reports what an ingest upsert did to the row.
type UpsertOutcome int

const (
	UpsertCreated UpsertOutcome = iota
	UpsertUpdated
	UpsertUnchanged
)

// TaskFilter controls filtering for task queries. Zero values mean "any".
type TaskFilter struct {
	Source      model.Source
	SyncStatus  model.SyncStatus
	StartAfter  time.Time
	StartBefore time.Time
	IncludeSpam bool
	IncludeDone bool
	Limit       int
}

// SyncUpdate mutates only the sync bookkeeping columns of a task.
// Nil pointers leave the column untouched.
type SyncUpdate struct {
	Status            *model.SyncStatus
	Error             *string
	LastSyncedAt      *time.Time
	ExternalUpdatedAt *time.Time
}

// NotificationFilter controls listing of notifications.
type NotificationFilter struct {
	Status model.NotificationStatus
	Limit  int
}

// UserSettings carries per-user delivery preferences the core reads.
type UserSettings struct {
	UserID       string `db:"user_id"`
	Email        string `db:"email"`
	Timezone     string `db:"timezone"`
	EmailEnabled bool   `db:"email_enabled"`
}

// Store is the persistence contract for the orchestration core. All
// methods are scoped by user; the unique constraints on
// (user, source, external_id) and on non-dismissed (user, task, plan)
// notification rows are the primary concurrency control.
type Store interface {
	// === Tasks ===

	// UpsertIngested inserts or updates a task keyed by
	// (user, source, external_id). On update every field is overwritten
	// except the user-settable flags is_critical, is_urgent,
	// is_completed and completed_at. A content-identical re-ingest
	// leaves the row (including updated_at) untouched.
	UpsertIngested(ctx context.Context, task model.Task) (UpsertOutcome, error)

	CreateTask(ctx context.Context, task model.Task) error
	UpdateTask(ctx context.Context, task model.Task) error
	GetTask(ctx context.Context, userID, id string) (*model.Task, error)
	GetTaskByExternalID(ctx context.Context, userID string, source model.Source, externalID string) (*model.Task, error)
	ListTasks(ctx context.Context, userID string, filter TaskFilter) ([]model.Task, error)
	UpdateTaskFlags(ctx context.Context, userID, id string, flags model.TaskFlags, now time.Time) (*model.Task, error)
	SetTaskSync(ctx context.Context, userID, id string, upd SyncUpdate) error
	DeleteTask(ctx context.Context, userID, id string) error

	// === Plans ===

	// ReplacePlan atomically replaces the plan for (user, date); plans
	// for other dates are untouched.
	ReplacePlan(ctx context.Context, plan model.DailyPlan) error
	GetPlan(ctx context.Context, userID, date string) (*model.DailyPlan, error)
	ListActivePlans(ctx context.Context, date string) ([]model.DailyPlan, error)
	UpdatePlanStatus(ctx context.Context, userID, planID string, status model.PlanStatus) error
	UpdatePlanEntry(ctx context.Context, userID, planID string, entry model.PlanEntry) error

	// === Notifications ===

	// ReserveNotification conditionally inserts a pending notification.
	// Returns ErrAlreadyReserved when a non-dismissed row already exists
	// for (user, task, plan). This is the at-most-once guard and is
	// backed by a unique partial index, not a read-then-write.
	ReserveNotification(ctx context.Context, n model.Notification) error
	MarkNotificationSent(ctx context.Context, userID, id string, at time.Time) error
	DismissNotification(ctx context.Context, userID, id string) error
	GetNotification(ctx context.Context, userID, id string) (*model.Notification, error)
	ListNotifications(ctx context.Context, userID string, filter NotificationFilter) ([]model.Notification, error)

	// === Feedback & energy ===

	AppendFeedback(ctx context.Context, fb model.TaskFeedback) error
	ListFeedbackSince(ctx context.Context, userID string, since time.Time) ([]model.TaskFeedback, error)
	SetEnergy(ctx context.Context, e model.EnergyLevel) error
	GetEnergy(ctx context.Context, userID, date string) (*model.EnergyLevel, error)

	// === Credentials ===

	GetCredential(ctx context.Context, userID string, provider model.Source) (*model.ProviderCredential, error)
	SaveCredential(ctx context.Context, cred model.ProviderCredential) error
	MarkCredentialRevoked(ctx context.Context, userID string, provider model.Source) error

	// === Reminders ===

	UpsertReminder(ctx context.Context, r model.Reminder) error
	GetReminder(ctx context.Context, userID, id string) (*model.Reminder, error)
	ListReminders(ctx context.Context, userID, date string) ([]model.Reminder, error)
	DeleteReminder(ctx context.Context, userID, id string) error

	// === Dependencies ===

	// AddDependency rejects self-references and anything that would
	// close a cycle, returning ErrDependencyCycle.
	AddDependency(ctx context.Context, d model.TaskDependency) error
	ListBlockers(ctx context.Context, userID, taskID string) ([]model.TaskDependency, error)

	// === Users ===

	ListUserIDsWithTasks(ctx context.Context) ([]string, error)
	GetUserSettings(ctx context.Context, userID string) (*UserSettings, error)
	SaveUserSettings(ctx context.Context, s UserSettings) error
}
