package model

import "time"

// Source identifies the origin system of a task.
type Source string

const (
	SourceCalendar    Source = "calendar"
	SourceMail        Source = "mail"
	SourceTaskManager Source = "task_manager"
	SourceManual      Source = "manual"
)

// Priority is the normalized task priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// SyncStatus tracks where a task stands relative to its external counterpart.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusError    SyncStatus = "error"
)

// SyncDirection controls which way task-manager sync may flow for a task.
type SyncDirection string

const (
	SyncInbound       SyncDirection = "inbound"
	SyncOutbound      SyncDirection = "outbound"
	SyncBidirectional SyncDirection = "bidirectional"
)

// Task is the normalized unit of work derived from an external item.
type Task struct {
	// ID is the internal unique identifier for this task.
	ID string `json:"id" db:"id"`

	// UserID owns the task; every query is scoped by it.
	UserID string `json:"user_id" db:"user_id"`

	// Source identifies which ingestion path produced this task.
	Source Source `json:"source" db:"source"`

	Title       string `json:"title" db:"title"`
	Description string `json:"description,omitempty" db:"description"`

	// Start and End bound the task on the calendar. End >= Start always.
	Start time.Time `json:"start" db:"start_time"`
	End   time.Time `json:"end" db:"end_time"`

	// Attendees holds display names or addresses from the provider.
	Attendees []string `json:"attendees,omitempty" db:"-"`

	Location string `json:"location,omitempty" db:"location"`

	// Recurrence is the provider's recurrence string, passed through
	// unexpanded. Each occurrence arrives as its own provider item.
	Recurrence string `json:"recurrence,omitempty" db:"recurrence"`

	Priority   Priority `json:"priority" db:"priority"`
	IsCritical bool     `json:"is_critical" db:"is_critical"`
	IsUrgent   bool     `json:"is_urgent" db:"is_urgent"`

	IsSpam     bool    `json:"is_spam" db:"is_spam"`
	SpamReason string  `json:"spam_reason,omitempty" db:"spam_reason"`
	SpamScore  float64 `json:"spam_score,omitempty" db:"spam_score"`

	IsCompleted bool       `json:"is_completed" db:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// RawPayload holds the original provider JSON for this item.
	RawPayload string `json:"raw_payload,omitempty" db:"raw_payload"`

	// ExternalID is the item's identifier in its source system.
	// (source, external_id) is unique per user when set.
	ExternalID string `json:"external_id,omitempty" db:"external_id"`

	SyncStatus        SyncStatus    `json:"sync_status" db:"sync_status"`
	SyncDirection     SyncDirection `json:"sync_direction" db:"sync_direction"`
	LastSyncedAt      *time.Time    `json:"last_synced_at,omitempty" db:"last_synced_at"`
	ExternalUpdatedAt *time.Time    `json:"external_updated_at,omitempty" db:"external_updated_at"`
	SyncError         string        `json:"sync_error,omitempty" db:"sync_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Complete marks the task done at now. Idempotent.
func (t *Task) Complete(now time.Time) {
	if t.IsCompleted {
		return
	}
	t.IsCompleted = true
	at := now.UTC()
	t.CompletedAt = &at
}

// Reopen clears completion; clearing is_completed clears completed_at.
func (t *Task) Reopen() {
	t.IsCompleted = false
	t.CompletedAt = nil
}

// TaskFlags are the user-settable flag edits applied by UpdateTaskFlags.
// Nil fields are left untouched.
type TaskFlags struct {
	IsCritical  *bool `json:"is_critical,omitempty"`
	IsUrgent    *bool `json:"is_urgent,omitempty"`
	IsCompleted *bool `json:"is_completed,omitempty"`
}
