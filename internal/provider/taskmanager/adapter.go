package taskmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/provider"
)

// Adapter implements provider.TaskManagerSource against a Todoist-style
// REST API.
type Adapter struct {
	client *Client
}

// NewAdapter creates a task manager adapter.
func NewAdapter(baseURL, token string) *Adapter {
	return &Adapter{client: NewClient(baseURL, token)}
}

var _ provider.TaskManagerSource = (*Adapter)(nil)

// FetchTasks retrieves the full current task list, including recently
// completed and deleted items so the sync cycle can observe removals.
func (a *Adapter) FetchTasks(ctx context.Context) ([]provider.ExternalTask, error) {
	var items []apiTask
	if err := a.client.Get(ctx, "/tasks?include_deleted=true", &items); err != nil {
		return nil, fmt.Errorf("fetching task manager items: %w", err)
	}

	tasks := make([]provider.ExternalTask, 0, len(items))
	for _, item := range items {
		tasks = append(tasks, apiTaskToExternal(item))
	}
	return tasks, nil
}

// CreateTask pushes a new task and returns the provider-assigned id and
// update timestamp.
func (a *Adapter) CreateTask(ctx context.Context, t provider.ExternalTask) (string, time.Time, error) {
	var created apiTask
	if err := a.client.Post(ctx, "/tasks", externalToRequest(t), &created); err != nil {
		return "", time.Time{}, fmt.Errorf("creating task manager item: %w", err)
	}
	return created.ID, parseAPITime(created.UpdatedAt), nil
}

// UpdateTask pushes changed content for an existing task.
func (a *Adapter) UpdateTask(ctx context.Context, t provider.ExternalTask) (time.Time, error) {
	var updated apiTask
	path := "/tasks/" + url.PathEscape(t.ID)
	if err := a.client.Post(ctx, path, externalToRequest(t), &updated); err != nil {
		return time.Time{}, fmt.Errorf("updating task manager item %s: %w", t.ID, err)
	}
	return parseAPITime(updated.UpdatedAt), nil
}

// CompleteTask closes the task on the provider side.
func (a *Adapter) CompleteTask(ctx context.Context, id string) error {
	path := "/tasks/" + url.PathEscape(id) + "/close"
	if err := a.client.Post(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("completing task manager item %s: %w", id, err)
	}
	return nil
}

// apiTaskToExternal converts a wire task to the provider-neutral shape.
func apiTaskToExternal(item apiTask) provider.ExternalTask {
	raw, _ := json.Marshal(item)

	var dueAt time.Time
	if item.Due != nil {
		switch {
		case item.Due.Datetime != "":
			dueAt, _ = time.Parse(time.RFC3339, item.Due.Datetime)
		case item.Due.Date != "":
			dueAt, _ = time.Parse("2006-01-02", item.Due.Date)
		}
	}

	return provider.ExternalTask{
		ID:          item.ID,
		Title:       item.Content,
		Description: item.Description,
		Due:         dueAt.UTC(),
		Priority:    normalizePriority(item.Priority),
		Completed:   item.IsCompleted,
		Deleted:     item.IsDeleted,
		UpdatedAt:   parseAPITime(item.UpdatedAt),
		Raw:         string(raw),
	}
}

// externalToRequest builds the create/update payload.
func externalToRequest(t provider.ExternalTask) taskRequest {
	req := taskRequest{
		Content:     t.Title,
		Description: t.Description,
		Priority:    denormalizePriority(t.Priority),
	}
	if !t.Due.IsZero() {
		req.DueDatetime = t.Due.UTC().Format(time.RFC3339)
	}
	return req
}

// normalizePriority maps the provider's 1..4 scale (4 highest) to the
// internal three levels.
func normalizePriority(p int) model.Priority {
	switch {
	case p >= 3:
		return model.PriorityHigh
	case p == 2:
		return model.PriorityNormal
	default:
		return model.PriorityNormal
	}
}

func denormalizePriority(p model.Priority) int {
	switch p {
	case model.PriorityHigh:
		return 4
	case model.PriorityLow:
		return 1
	default:
		return 2
	}
}

func parseAPITime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
