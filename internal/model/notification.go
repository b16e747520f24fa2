package model

import "time"

// NotificationStatus is the delivery state of a nudge.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationDismissed NotificationStatus = "dismissed"
)

// NotificationTypeNudge is the only notification type the core emits.
const NotificationTypeNudge = "nudge"

// Notification is an at-most-once nudge tied to a plan entry's predicted
// start. At most one row per (user, task, plan) may exist in a
// non-dismissed state; the store enforces this with a unique constraint.
type Notification struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	TaskID string `json:"task_id" db:"task_id"`
	PlanID string `json:"plan_id,omitempty" db:"plan_id"`

	Type    string `json:"type" db:"type"`
	Message string `json:"message" db:"message"`

	ScheduledAt time.Time  `json:"scheduled_at" db:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`

	Status NotificationStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
