package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nhle/lifeflow/internal/flow"
	"github.com/nhle/lifeflow/internal/llm"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/provider"
)

const eventSystemPrompt = `You are an expert at analyzing calendar events and extracting actionable task information.
Analyze the event details and extract:
1. Priority level (high, normal, or low)
2. Whether it is critical (must-do, cannot be skipped)
3. Whether it is urgent (time-sensitive, needs immediate attention)

Return only a JSON object with fields: priority, is_critical, is_urgent.`

const mailSystemPrompt = `You are an expert at analyzing emails and extracting actionable tasks and commitments.
Analyze the email and extract:
1. Whether it contains an actionable task or commitment (not just information)
2. Whether it is spam, promotional, or marketing content
3. Priority level (high, normal, or low)
4. Whether it is critical and whether it is urgent
5. Any deadline mentioned in the body
6. A clear task description if a task is identified

Do NOT mark legitimate work mail as spam just because it mentions teams
like "marketing" or "sales". Mark as spam only clearly promotional
content such as sales offers, product promotions, or newsletters.

Return only a JSON object with fields: has_task, task_description,
is_spam, priority, is_critical, is_urgent, deadline (RFC 3339 or null).`

// eventAnalysis is the validated LLM verdict for a calendar event.
type eventAnalysis struct {
	Priority   model.Priority
	IsCritical bool
	IsUrgent   bool
}

// mailAnalysis is the validated LLM verdict for a mail message.
type mailAnalysis struct {
	HasTask         bool
	TaskDescription string
	IsSpam          bool
	Priority        model.Priority
	IsCritical      bool
	IsUrgent        bool
	Deadline        time.Time
}

// analyzeEvent runs the LLM pass for a calendar event. Any failure,
// including schema violations, returns nil and the caller stays on rules.
func (e *Extractor) analyzeEvent(ctx context.Context, ev provider.Event) *eventAnalysis {
	if e.chatter == nil {
		return nil
	}

	user := fmt.Sprintf("Event Title: %s\nDescription: %s\nLocation: %s\nAttendees: %d",
		ev.Title, ev.Description, ev.Location, len(ev.Attendees))

	raw, err := e.completeWithRetry(ctx, eventSystemPrompt, user)
	if err != nil {
		e.logger.Warn("event analysis failed, using rules",
			"event_id", ev.ID, "error", err)
		return nil
	}

	var parsed struct {
		Priority   string `json:"priority"`
		IsCritical bool   `json:"is_critical"`
		IsUrgent   bool   `json:"is_urgent"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &parsed); err != nil {
		e.logger.Warn("event analysis returned invalid JSON", "event_id", ev.ID, "error", err)
		return nil
	}

	priority, ok := parsePriority(parsed.Priority)
	if !ok {
		return nil
	}
	return &eventAnalysis{
		Priority:   priority,
		IsCritical: parsed.IsCritical,
		IsUrgent:   parsed.IsUrgent,
	}
}

// analyzeMessage runs the LLM pass for a mail message, feeding the rule
// verdict into the prompt so the model can override soft matches.
func (e *Extractor) analyzeMessage(ctx context.Context, msg provider.Message, rules spamRules) *mailAnalysis {
	if e.chatter == nil {
		return nil
	}

	body := truncate(msg.Body, 2000)
	user := fmt.Sprintf(
		"Email Subject: %s\nFrom: %s\nRule-based spam score: %.2f (%s)\n\nEmail Body:\n%s",
		msg.Subject, formatSender(msg), rules.Score, rules.reason(), body)

	raw, err := e.completeWithRetry(ctx, mailSystemPrompt, user)
	if err != nil {
		e.logger.Warn("mail analysis failed, using rules",
			"message_id", msg.ID, "error", err)
		return nil
	}

	var parsed struct {
		HasTask         bool   `json:"has_task"`
		TaskDescription string `json:"task_description"`
		IsSpam          bool   `json:"is_spam"`
		Priority        string `json:"priority"`
		IsCritical      bool   `json:"is_critical"`
		IsUrgent        bool   `json:"is_urgent"`
		Deadline        string `json:"deadline"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &parsed); err != nil {
		e.logger.Warn("mail analysis returned invalid JSON", "message_id", msg.ID, "error", err)
		return nil
	}

	priority, ok := parsePriority(parsed.Priority)
	if !ok && parsed.Priority != "" {
		return nil
	}

	analysis := &mailAnalysis{
		HasTask:         parsed.HasTask,
		TaskDescription: parsed.TaskDescription,
		IsSpam:          parsed.IsSpam,
		Priority:        priority,
		IsCritical:      parsed.IsCritical,
		IsUrgent:        parsed.IsUrgent,
	}
	if parsed.Deadline != "" && parsed.Deadline != "null" {
		if t, err := time.Parse(time.RFC3339, parsed.Deadline); err == nil {
			analysis.Deadline = t.UTC()
		}
	}
	return analysis
}

// completeWithRetry retries throttling and transient failures with a
// short backoff, up to the configured retry budget. Other failures
// surface immediately.
func (e *Extractor) completeWithRetry(ctx context.Context, system, user string) (string, error) {
	for attempt := 0; ; attempt++ {
		out, err := e.chatter.Complete(ctx, system, user)
		if err == nil {
			return out, nil
		}
		kind := flow.KindOf(err)
		if kind != flow.KindRateLimited && kind != flow.KindTransient {
			return "", err
		}
		if attempt >= e.retryBudget {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func parsePriority(s string) (model.Priority, bool) {
	switch s {
	case "high":
		return model.PriorityHigh, true
	case "normal", "medium", "":
		return model.PriorityNormal, true
	case "low":
		return model.PriorityLow, true
	}
	return model.PriorityNormal, false
}
