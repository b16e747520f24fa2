package model

import "time"

// FeedbackAction is what the user did with a planned task.
type FeedbackAction string

const (
	FeedbackDone    FeedbackAction = "done"
	FeedbackSnoozed FeedbackAction = "snoozed"
)

// TaskFeedback is an append-only record of a user acting on a task.
type TaskFeedback struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	TaskID string `json:"task_id" db:"task_id"`
	PlanID string `json:"plan_id,omitempty" db:"plan_id"`

	Action FeedbackAction `json:"action" db:"action"`

	// SnoozeDurationMinutes is set only for snoozed actions.
	SnoozeDurationMinutes int `json:"snooze_duration_minutes,omitempty" db:"snooze_duration_minutes"`

	At time.Time `json:"at" db:"at"`
}

// EnergyLevel is the user's self-reported energy for a date, 1..5.
// Unique per (user, date), last write wins.
type EnergyLevel struct {
	UserID string `json:"user_id" db:"user_id"`
	Date   string `json:"date" db:"date"` // YYYY-MM-DD
	Level  int    `json:"level" db:"level"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultEnergyLevel is assumed when the user has not set one for the day.
const DefaultEnergyLevel = 3
