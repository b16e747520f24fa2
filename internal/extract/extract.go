// Package extract turns raw provider items into normalized tasks and
// reminders. Classification combines deterministic rules with an optional
// LLM pass; the rules always work without it.
package extract

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nhle/lifeflow/internal/clock"
	"github.com/nhle/lifeflow/internal/llm"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/provider"
)

// Kind says what an extraction produced.
type Kind int

const (
	KindTask Kind = iota
	KindReminder
	KindSkip
)

// Item is the outcome of extracting one provider item.
type Item struct {
	Kind       Kind
	Task       *model.Task
	Reminder   *model.Reminder
	SkipReason string
}

func skip(reason string) Item {
	return Item{Kind: KindSkip, SkipReason: reason}
}

// Extractor classifies provider items. A nil chatter disables the LLM
// pass entirely; every path then runs on rules alone.
type Extractor struct {
	chatter       llm.Chatter
	spamThreshold float64
	retryBudget   int
	clk           clock.Clock
	logger        *slog.Logger
}

// New creates an extractor. spamThreshold is the LLM-score cutoff for
// flagging mail as spam; retryBudget is how many extra LLM attempts a
// throttled or transient failure gets.
func New(chatter llm.Chatter, spamThreshold float64, retryBudget int, clk clock.Clock, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if retryBudget < 0 {
		retryBudget = 0
	}
	return &Extractor{
		chatter:       chatter,
		spamThreshold: spamThreshold,
		retryBudget:   retryBudget,
		clk:           clk,
		logger:        logger,
	}
}

// reminderMaxDuration is the cutoff below which a short, bare event with
// "reminder" in its title is treated as a reminder rather than a task.
const reminderMaxDuration = 5 * time.Minute

// ExtractEvent classifies one calendar event.
func (e *Extractor) ExtractEvent(ctx context.Context, userID string, ev provider.Event) Item {
	if ev.Status == "cancelled" {
		return skip("cancelled")
	}
	if ev.Start.IsZero() || ev.End.IsZero() {
		return skip("extraction_failed: missing time range")
	}

	title := ev.Title
	if title == "" {
		title = "Untitled Event"
	}

	if isReminderEvent(ev) {
		return Item{Kind: KindReminder, Reminder: &model.Reminder{
			UserID:      userID,
			Source:      model.SourceCalendar,
			Title:       title,
			Description: ev.Description,
			Start:       ev.Start.UTC(),
			End:         ev.End.UTC(),
			IsAllDay:    ev.AllDay,
			RawPayload:  ev.Raw,
			ExternalID:  ev.ID,
		}}
	}

	// Rules first, then let the LLM refine when it answers cleanly.
	priority := priorityFromTitle(title)
	isUrgent := priority == model.PriorityHigh
	isCritical := containsAny(strings.ToLower(title), []string{"critical", "must", "required"})

	if result := e.analyzeEvent(ctx, ev); result != nil {
		if result.Priority != "" {
			priority = result.Priority
		}
		isCritical = result.IsCritical
		isUrgent = result.IsUrgent
		if priority == model.PriorityHigh && !isCritical && !isUrgent {
			// A high-priority keyword in the title usually means urgent.
			if priorityFromTitle(title) == model.PriorityHigh {
				isUrgent = true
			}
		}
	}

	now := e.clk.Now()
	return Item{Kind: KindTask, Task: &model.Task{
		UserID:        userID,
		Source:        model.SourceCalendar,
		Title:         title,
		Description:   ev.Description,
		Start:         ev.Start.UTC(),
		End:           ev.End.UTC(),
		Attendees:     ev.Attendees,
		Location:      ev.Location,
		Recurrence:    ev.Recurrence,
		Priority:      priority,
		IsCritical:    isCritical,
		IsUrgent:      isUrgent,
		RawPayload:    ev.Raw,
		ExternalID:    ev.ID,
		SyncStatus:    model.SyncStatusSynced,
		SyncDirection: model.SyncInbound,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
}

// isReminderEvent applies the reminder heuristics: an explicit reminder
// event type, a bare all-day event, or a very short bare event whose
// title says "reminder".
func isReminderEvent(ev provider.Event) bool {
	bare := len(ev.Attendees) == 0 && ev.Location == ""
	if ev.EventType == "reminder" {
		return true
	}
	if ev.AllDay && bare {
		return true
	}
	return ev.End.Sub(ev.Start) < reminderMaxDuration &&
		bare &&
		strings.Contains(strings.ToLower(ev.Title), "reminder")
}

// ExtractMessage classifies one mail message. Spam is persisted (flagged)
// so the pipeline can report it; non-actionable clean mail is skipped.
func (e *Extractor) ExtractMessage(ctx context.Context, userID string, msg provider.Message) Item {
	rules := scoreSpam(msg)

	analysis := e.analyzeMessage(ctx, msg, rules)

	isSpam, spamReason, spamScore := fuseSpam(rules, analysis, e.spamThreshold)

	title := msg.Subject
	deadline := time.Time{}
	priority := model.Priority("")
	isCritical, isUrgent := false, false
	hasTask := false

	if analysis != nil {
		hasTask = analysis.HasTask
		if analysis.TaskDescription != "" {
			title = analysis.TaskDescription
		}
		priority = analysis.Priority
		isCritical = analysis.IsCritical
		isUrgent = analysis.IsUrgent
		deadline = analysis.Deadline
	} else {
		// Rules-only path when the LLM is unavailable.
		hasTask = looksActionable(msg)
	}

	if !hasTask && !isSpam {
		return skip("no_actionable_task")
	}

	if title == "" {
		title = "(no subject)"
	}
	if priority == "" {
		priority = priorityFromTitle(msg.Subject)
	}
	if deadline.IsZero() {
		deadline = dueDateFromText(msg.Body, msg.Date)
	}
	if !deadline.IsZero() && priority != model.PriorityHigh {
		// A deadline inside the next day outranks the keyword rules.
		if until := deadline.Sub(e.clk.Now()); until >= 0 && until <= 24*time.Hour {
			priority = model.PriorityHigh
		}
	}

	if isSpam {
		priority = model.PriorityLow
		isCritical = false
		isUrgent = false
	} else if isFlagged(msg.Labels) && !isUrgent {
		isUrgent = true
		if priority == model.PriorityNormal {
			priority = model.PriorityHigh
		}
	}

	start := msg.Date.UTC()
	end := start.AddDate(0, 0, 7)
	if !deadline.IsZero() {
		end = deadline.UTC()
	}
	if end.Before(start) {
		end = start
	}

	now := e.clk.Now()
	return Item{Kind: KindTask, Task: &model.Task{
		UserID:        userID,
		Source:        model.SourceMail,
		Title:         title,
		Description:   "From: " + formatSender(msg) + "\n\n" + truncate(msg.Body, 500),
		Start:         start,
		End:           end,
		Attendees:     []string{msg.From},
		Priority:      priority,
		IsCritical:    isCritical,
		IsUrgent:      isUrgent,
		IsSpam:        isSpam,
		SpamReason:    spamReason,
		SpamScore:     spamScore,
		RawPayload:    msg.Raw,
		ExternalID:    msg.ID,
		SyncStatus:    model.SyncStatusSynced,
		SyncDirection: model.SyncInbound,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
}

// ExtractExternalTask classifies one task-manager item.
func (e *Extractor) ExtractExternalTask(_ context.Context, userID string, t provider.ExternalTask) Item {
	if t.Deleted {
		return skip("deleted")
	}
	if t.Title == "" {
		return skip("extraction_failed: empty title")
	}

	now := e.clk.Now()
	start := t.Due
	if start.IsZero() {
		start = now
	}
	end := start.Add(time.Hour)

	task := &model.Task{
		UserID:            userID,
		Source:            model.SourceTaskManager,
		Title:             t.Title,
		Description:       t.Description,
		Start:             start.UTC(),
		End:               end.UTC(),
		Priority:          t.Priority,
		RawPayload:        t.Raw,
		ExternalID:        t.ID,
		SyncStatus:        model.SyncStatusSynced,
		SyncDirection:     model.SyncBidirectional,
		ExternalUpdatedAt: timePtr(t.UpdatedAt),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if t.Completed {
		task.Complete(now)
	}
	return Item{Kind: KindTask, Task: task}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func formatSender(msg provider.Message) string {
	if msg.FromName != "" {
		return msg.FromName + " <" + msg.From + ">"
	}
	return msg.From
}

// truncate cuts s to at most n bytes, backing off to a rune boundary so
// multi-byte characters are never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func isFlagged(labels []string) bool {
	for _, l := range labels {
		if l == "STARRED" || l == "FLAGGED" {
			return true
		}
	}
	return false
}

// actionableKeywords is the rules-only actionability check used when the
// LLM pass is unavailable.
var actionableKeywords = []string{
	"action required", "please", "i will", "i'll", "due", "deadline",
	"review", "complete", "submit", "follow up", "reply", "respond",
}

func looksActionable(msg provider.Message) bool {
	text := strings.ToLower(msg.Subject + " " + msg.Body)
	return containsAny(text, actionableKeywords)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
