package model

import "time"

// PlanStatus is the lifecycle state of a daily plan.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanCancelled PlanStatus = "cancelled"
)

// EntryStatus is the denormalized per-entry state within a plan.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntryDone    EntryStatus = "done"
	EntrySnoozed EntryStatus = "snoozed"
)

// PlanEntry is one scheduled task within a daily plan.
type PlanEntry struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`

	PredictedStart time.Time `json:"predicted_start"`
	PredictedEnd   time.Time `json:"predicted_end"`

	// PriorityScore is the deterministic score in [0,1] computed before
	// the LLM is consulted.
	PriorityScore float64 `json:"priority_score"`

	IsCritical bool `json:"is_critical"`
	IsUrgent   bool `json:"is_urgent"`

	// ActionPlan holds 1-6 short LLM-produced steps; empty on the
	// deterministic fallback path.
	ActionPlan []string `json:"action_plan,omitempty"`

	Status EntryStatus `json:"status"`
}

// DailyPlan is the ordered schedule for a user on a specific date.
// (user, date) is unique; regenerating replaces the prior plan.
type DailyPlan struct {
	ID     string     `json:"id" db:"id"`
	UserID string     `json:"user_id" db:"user_id"`
	Date   string     `json:"date" db:"plan_date"` // YYYY-MM-DD in the user's zone
	Status PlanStatus `json:"status" db:"status"`

	// EnergyLevel is the snapshot taken at generation time, if any.
	EnergyLevel *int `json:"energy_level,omitempty" db:"energy_level"`

	Entries []PlanEntry `json:"tasks" db:"-"`

	GeneratedAt time.Time `json:"generated_at" db:"generated_at"`
}

// Entry returns the plan entry for taskID, or nil.
func (p *DailyPlan) Entry(taskID string) *PlanEntry {
	for i := range p.Entries {
		if p.Entries[i].TaskID == taskID {
			return &p.Entries[i]
		}
	}
	return nil
}
