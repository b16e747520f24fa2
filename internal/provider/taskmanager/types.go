package taskmanager

// apiTask is the wire shape of one task manager item.
type apiTask struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
	Due         *due   `json:"due,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	IsCompleted bool   `json:"is_completed"`
	IsDeleted   bool   `json:"is_deleted,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type due struct {
	Date     string `json:"date,omitempty"`
	Datetime string `json:"datetime,omitempty"`
}

// taskRequest is the create/update payload.
type taskRequest struct {
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
	DueDatetime string `json:"due_datetime,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}
