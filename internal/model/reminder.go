package model

import "time"

// Reminder is a reminder-class extracted item that is not placed on the
// plan. It can be promoted to a Task by explicit user action.
type Reminder struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	Source Source `json:"source" db:"source"`

	Title       string `json:"title" db:"title"`
	Description string `json:"description,omitempty" db:"description"`

	Start time.Time `json:"start" db:"start_time"`
	End   time.Time `json:"end" db:"end_time"`

	IsAllDay bool `json:"is_all_day" db:"is_all_day"`

	RawPayload string `json:"raw_payload,omitempty" db:"raw_payload"`
	ExternalID string `json:"external_id,omitempty" db:"external_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
