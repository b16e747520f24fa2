package model

import "time"

// DependencyType relates two tasks.
type DependencyType string

const (
	DependencyBlocks    DependencyType = "blocks"
	DependencyDependsOn DependencyType = "depends_on"
	DependencyRelatedTo DependencyType = "related_to"
)

// TaskDependency links a task to the task that blocks it. A task cannot
// block itself and the dependency graph stays acyclic; the store rejects
// inserts that would violate either rule.
type TaskDependency struct {
	ID            string         `json:"id" db:"id"`
	UserID        string         `json:"user_id" db:"user_id"`
	TaskID        string         `json:"task_id" db:"task_id"`
	BlockedByTask string         `json:"blocked_by_task" db:"blocked_by_task"`
	Type          DependencyType `json:"type" db:"type"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
