package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/lifeflow/internal/model"
)

// AuthError indicates that authentication has failed or expired for a
// provider. Clients return it on a 401 response or an IMAP login failure.
type AuthError struct {
	Provider model.Source
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Provider, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// RateLimitError indicates the provider answered 429 after the client's
// retry budget was exhausted.
type RateLimitError struct {
	Provider model.Source
	Message  string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s): %s", e.Provider, e.Message)
}

// IsRateLimitError reports whether err chains to a RateLimitError.
func IsRateLimitError(err error) bool {
	var rlErr *RateLimitError
	return errors.As(err, &rlErr)
}

// Window bounds a fetch in absolute time.
type Window struct {
	Start time.Time
	End   time.Time
}

// Event is a raw calendar item as the provider reports it.
type Event struct {
	ID          string
	Status      string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Attendees   []string
	Location    string
	Recurrence  string
	EventType   string
	UpdatedAt   time.Time

	// Raw is the provider's original JSON for the item.
	Raw string
}

// Message is a raw mail item. Body carries the decoded text part only.
type Message struct {
	ID        string
	From      string
	FromName  string
	Subject   string
	Body      string
	Labels    []string
	Date      time.Time
	Raw       string
}

// ExternalTask is a raw task-manager item.
type ExternalTask struct {
	ID          string
	Title       string
	Description string
	Due         time.Time
	Priority    model.Priority
	Completed   bool
	Deleted     bool
	UpdatedAt   time.Time
	Raw         string
}

// CalendarSource fetches events inside an absolute window.
type CalendarSource interface {
	FetchEvents(ctx context.Context, w Window) ([]Event, error)
}

// MailSource fetches messages received at or after since.
type MailSource interface {
	FetchMessages(ctx context.Context, since time.Time) ([]Message, error)
}

// TaskManagerSource supports the bidirectional sync cycle: a full inbound
// fetch plus outbound create/update/complete.
type TaskManagerSource interface {
	FetchTasks(ctx context.Context) ([]ExternalTask, error)
	CreateTask(ctx context.Context, t ExternalTask) (id string, updatedAt time.Time, err error)
	UpdateTask(ctx context.Context, t ExternalTask) (updatedAt time.Time, err error)
	CompleteTask(ctx context.Context, id string) error
}
