package extract

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nhle/lifeflow/internal/clock"
	"github.com/nhle/lifeflow/internal/flow"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/provider"
)

var testNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

// stubChatter returns a canned completion, or an error.
type stubChatter struct {
	out string
	err error
}

func (s stubChatter) Complete(context.Context, string, string) (string, error) {
	return s.out, s.err
}

// flakyChatter fails its first failures calls with err, then answers out.
type flakyChatter struct {
	failures int
	err      error
	out      string
	calls    int
}

func (f *flakyChatter) Complete(context.Context, string, string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return f.out, nil
}

func newRulesOnlyExtractor(t *testing.T) *Extractor {
	t.Helper()
	return New(nil, 0.7, 1, clock.NewFake(testNow), slog.New(slog.DiscardHandler))
}

func newLLMExtractor(t *testing.T, out string) *Extractor {
	t.Helper()
	return New(stubChatter{out: out}, 0.7, 1, clock.NewFake(testNow), slog.New(slog.DiscardHandler))
}

func timedEvent(title string, start time.Time, d time.Duration) provider.Event {
	return provider.Event{
		ID:        "ev-1",
		Status:    "confirmed",
		Title:     title,
		Start:     start,
		End:       start.Add(d),
		Attendees: []string{"Alex"},
		Location:  "Room 4",
	}
}

func TestExtractEventCancelledSkips(t *testing.T) {
	e := newRulesOnlyExtractor(t)
	item := e.ExtractEvent(context.Background(), "u1", provider.Event{ID: "x", Status: "cancelled"})
	if item.Kind != KindSkip || item.SkipReason != "cancelled" {
		t.Fatalf("got kind=%v reason=%q", item.Kind, item.SkipReason)
	}
}

func TestExtractEventMissingTimesSkips(t *testing.T) {
	e := newRulesOnlyExtractor(t)
	item := e.ExtractEvent(context.Background(), "u1", provider.Event{ID: "x", Title: "Standup"})
	if item.Kind != KindSkip {
		t.Fatalf("expected skip, got %v", item.Kind)
	}
}

func TestExtractEventPriorityKeywords(t *testing.T) {
	e := newRulesOnlyExtractor(t)

	cases := []struct {
		title    string
		priority model.Priority
		urgent   bool
		critical bool
	}{
		{"URGENT: ship release", model.PriorityHigh, true, false},
		{"Critical security review", model.PriorityHigh, true, true},
		{"Submit timesheet EOD", model.PriorityHigh, true, false},
		{"Optional team lunch", model.PriorityLow, false, false},
		{"FYI: parking garage closed", model.PriorityLow, false, false},
		{"Weekly sync", model.PriorityNormal, false, false},
	}

	for _, tc := range cases {
		item := e.ExtractEvent(context.Background(), "u1", timedEvent(tc.title, testNow, time.Hour))
		if item.Kind != KindTask {
			t.Fatalf("%q: expected task, got %v (%s)", tc.title, item.Kind, item.SkipReason)
		}
		task := item.Task
		if task.Priority != tc.priority {
			t.Errorf("%q: priority = %s, want %s", tc.title, task.Priority, tc.priority)
		}
		if task.IsUrgent != tc.urgent {
			t.Errorf("%q: urgent = %v, want %v", tc.title, task.IsUrgent, tc.urgent)
		}
		if task.IsCritical != tc.critical {
			t.Errorf("%q: critical = %v, want %v", tc.title, task.IsCritical, tc.critical)
		}
	}
}

func TestExtractEventLLMRefinesRules(t *testing.T) {
	e := newLLMExtractor(t, `{"priority": "high", "is_critical": true, "is_urgent": false}`)

	item := e.ExtractEvent(context.Background(), "u1", timedEvent("Weekly sync", testNow, time.Hour))
	if item.Kind != KindTask {
		t.Fatalf("expected task, got %v", item.Kind)
	}
	if item.Task.Priority != model.PriorityHigh || !item.Task.IsCritical {
		t.Fatalf("LLM verdict not applied: %+v", item.Task)
	}
}

func TestExtractEventBadLLMFallsBackToRules(t *testing.T) {
	e := newLLMExtractor(t, "I could not analyze this event.")

	item := e.ExtractEvent(context.Background(), "u1", timedEvent("urgent: pay invoice", testNow, time.Hour))
	if item.Kind != KindTask {
		t.Fatalf("expected task, got %v", item.Kind)
	}
	if item.Task.Priority != model.PriorityHigh || !item.Task.IsUrgent {
		t.Fatalf("rules fallback not applied: %+v", item.Task)
	}
}

func TestReminderClassification(t *testing.T) {
	e := newRulesOnlyExtractor(t)

	cases := []struct {
		name     string
		ev       provider.Event
		reminder bool
	}{
		{
			name: "explicit reminder type",
			ev: provider.Event{
				ID: "r1", Title: "Take medication", EventType: "reminder",
				Start: testNow, End: testNow.Add(time.Minute),
			},
			reminder: true,
		},
		{
			name: "bare all-day event",
			ev: provider.Event{
				ID: "r2", Title: "Mom's birthday", AllDay: true,
				Start: testNow, End: testNow.AddDate(0, 0, 1),
			},
			reminder: true,
		},
		{
			name: "short bare event titled reminder",
			ev: provider.Event{
				ID: "r3", Title: "Reminder: water plants",
				Start: testNow, End: testNow.Add(time.Minute),
			},
			reminder: true,
		},
		{
			name:     "meeting with attendees",
			ev:       timedEvent("Planning", testNow, 30*time.Minute),
			reminder: false,
		},
		{
			name: "all-day with location is a task",
			ev: provider.Event{
				ID: "r4", Title: "Conference", AllDay: true, Location: "Berlin",
				Start: testNow, End: testNow.AddDate(0, 0, 1),
			},
			reminder: false,
		},
	}

	for _, tc := range cases {
		item := e.ExtractEvent(context.Background(), "u1", tc.ev)
		got := item.Kind == KindReminder
		if got != tc.reminder {
			t.Errorf("%s: reminder = %v, want %v", tc.name, got, tc.reminder)
		}
	}
}

func TestExtractMessageSpamByDomainRulesOnly(t *testing.T) {
	e := newRulesOnlyExtractor(t)

	msg := provider.Message{
		ID:      "m1",
		From:    "offers@deals.example.com",
		Subject: "50% off everything, act now",
		Body:    "Limited time sale. Unsubscribe here.",
		Date:    testNow,
	}

	item := e.ExtractMessage(context.Background(), "u1", msg)
	if item.Kind != KindTask {
		t.Fatalf("spam must be persisted, got %v (%s)", item.Kind, item.SkipReason)
	}
	task := item.Task
	if !task.IsSpam {
		t.Fatal("expected spam flag")
	}
	if task.SpamScore < 0.7 {
		t.Fatalf("spam score = %v, want >= threshold", task.SpamScore)
	}
	if task.Priority != model.PriorityLow || task.IsUrgent || task.IsCritical {
		t.Fatalf("spam must be demoted: %+v", task)
	}
}

func TestExtractMessageProviderLabelOverridesCleanLLM(t *testing.T) {
	e := newLLMExtractor(t, `{"has_task": true, "task_description": "Review offer", "is_spam": false, "priority": "normal", "is_critical": false, "is_urgent": false, "deadline": null}`)

	msg := provider.Message{
		ID:      "m2",
		From:    "someone@example.com",
		Subject: "Great opportunity",
		Body:    "Please review.",
		Labels:  []string{"SPAM"},
		Date:    testNow,
	}

	item := e.ExtractMessage(context.Background(), "u1", msg)
	if item.Kind != KindTask || !item.Task.IsSpam {
		t.Fatalf("provider SPAM label must win over LLM: %+v", item)
	}
	if item.Task.SpamScore != 1.0 {
		t.Fatalf("spam score = %v, want 1.0", item.Task.SpamScore)
	}
}

func TestExtractMessageCleanLLMSuppressesSoftRules(t *testing.T) {
	e := newLLMExtractor(t, `{"has_task": true, "task_description": "Send Q3 sales forecast", "is_spam": false, "priority": "high", "is_critical": false, "is_urgent": true, "deadline": "2025-06-05T17:00:00Z"}`)

	// Soft promo signals (sales@ local part) but legitimate work mail.
	msg := provider.Message{
		ID:      "m3",
		From:    "sales@corp.example.com",
		Subject: "Q3 forecast needed",
		Body:    "Can you send the forecast by Thursday?",
		Date:    testNow,
	}

	item := e.ExtractMessage(context.Background(), "u1", msg)
	if item.Kind != KindTask {
		t.Fatalf("expected task, got %v (%s)", item.Kind, item.SkipReason)
	}
	task := item.Task
	if task.IsSpam {
		t.Fatal("clean LLM verdict must suppress soft rule matches")
	}
	if task.Title != "Send Q3 sales forecast" {
		t.Fatalf("title = %q", task.Title)
	}
	want := time.Date(2025, 6, 5, 17, 0, 0, 0, time.UTC)
	if !task.End.Equal(want) {
		t.Fatalf("end = %v, want deadline %v", task.End, want)
	}
}

func TestExtractMessageNonActionableSkips(t *testing.T) {
	e := newRulesOnlyExtractor(t)

	msg := provider.Message{
		ID:      "m4",
		From:    "colleague@example.com",
		Subject: "Lunch photos",
		Body:    "Here are the photos from Friday.",
		Date:    testNow,
	}

	item := e.ExtractMessage(context.Background(), "u1", msg)
	if item.Kind != KindSkip || item.SkipReason != "no_actionable_task" {
		t.Fatalf("got kind=%v reason=%q", item.Kind, item.SkipReason)
	}
}

func TestExtractMessageRulesOnlyActionable(t *testing.T) {
	e := newRulesOnlyExtractor(t)

	msg := provider.Message{
		ID:      "m5",
		From:    "boss@example.com",
		Subject: "Report deadline",
		Body:    "Please submit the report, due 2025-06-10.",
		Date:    testNow,
	}

	item := e.ExtractMessage(context.Background(), "u1", msg)
	if item.Kind != KindTask {
		t.Fatalf("expected task, got %v (%s)", item.Kind, item.SkipReason)
	}
	task := item.Task
	if task.Start != testNow {
		t.Fatalf("start = %v, want message date", task.Start)
	}
	want := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	if !task.End.Equal(want) {
		t.Fatalf("end = %v, want parsed due date %v", task.End, want)
	}
	if task.Attendees[0] != "boss@example.com" {
		t.Fatalf("attendees = %v", task.Attendees)
	}
}

func TestExtractMessageImminentDeadlinePromotes(t *testing.T) {
	e := newRulesOnlyExtractor(t)

	msg := provider.Message{
		ID:      "m5b",
		From:    "boss@example.com",
		Subject: "Timesheet",
		Body:    "Please submit your timesheet, due 2025-06-03.",
		Date:    testNow,
	}

	item := e.ExtractMessage(context.Background(), "u1", msg)
	if item.Kind != KindTask {
		t.Fatalf("expected task, got %v (%s)", item.Kind, item.SkipReason)
	}
	if item.Task.Priority != model.PriorityHigh {
		t.Fatalf("priority = %q, want high for a deadline inside 24h", item.Task.Priority)
	}
}

func TestExtractMessageFlaggedBoostsUrgency(t *testing.T) {
	e := newRulesOnlyExtractor(t)

	msg := provider.Message{
		ID:      "m6",
		From:    "pm@example.com",
		Subject: "Review the design doc",
		Body:    "Please review before the meeting.",
		Labels:  []string{"FLAGGED"},
		Date:    testNow,
	}

	item := e.ExtractMessage(context.Background(), "u1", msg)
	if item.Kind != KindTask {
		t.Fatalf("expected task, got %v", item.Kind)
	}
	if !item.Task.IsUrgent || item.Task.Priority != model.PriorityHigh {
		t.Fatalf("flagged mail not boosted: %+v", item.Task)
	}
}

func TestExtractMessageDefaultEndIsOneWeek(t *testing.T) {
	e := newRulesOnlyExtractor(t)

	msg := provider.Message{
		ID:      "m7",
		From:    "a@example.com",
		Subject: "Please respond",
		Body:    "Can you reply when you get a chance?",
		Date:    testNow,
	}

	item := e.ExtractMessage(context.Background(), "u1", msg)
	if item.Kind != KindTask {
		t.Fatalf("expected task, got %v", item.Kind)
	}
	if got, want := item.Task.End, testNow.AddDate(0, 0, 7); !got.Equal(want) {
		t.Fatalf("end = %v, want %v", got, want)
	}
}

func TestExtractExternalTask(t *testing.T) {
	e := newRulesOnlyExtractor(t)

	due := testNow.AddDate(0, 0, 2)
	item := e.ExtractExternalTask(context.Background(), "u1", provider.ExternalTask{
		ID:        "ext-9",
		Title:     "File expense report",
		Due:       due,
		Priority:  model.PriorityHigh,
		UpdatedAt: testNow,
	})
	if item.Kind != KindTask {
		t.Fatalf("expected task, got %v", item.Kind)
	}
	task := item.Task
	if task.SyncDirection != model.SyncBidirectional {
		t.Fatalf("sync direction = %s", task.SyncDirection)
	}
	if !task.Start.Equal(due) || !task.End.Equal(due.Add(time.Hour)) {
		t.Fatalf("window = [%v, %v]", task.Start, task.End)
	}
	if task.ExternalUpdatedAt == nil || !task.ExternalUpdatedAt.Equal(testNow) {
		t.Fatalf("external updated at = %v", task.ExternalUpdatedAt)
	}
}

func TestExtractExternalTaskDeletedAndCompleted(t *testing.T) {
	e := newRulesOnlyExtractor(t)

	if item := e.ExtractExternalTask(context.Background(), "u1", provider.ExternalTask{ID: "d", Title: "gone", Deleted: true}); item.Kind != KindSkip {
		t.Fatalf("deleted task must skip, got %v", item.Kind)
	}

	item := e.ExtractExternalTask(context.Background(), "u1", provider.ExternalTask{ID: "c", Title: "done", Completed: true})
	if item.Kind != KindTask || !item.Task.IsCompleted || item.Task.CompletedAt == nil {
		t.Fatalf("completed external task: %+v", item.Task)
	}
}

func TestDueDateFromText(t *testing.T) {
	ref := testNow

	cases := []struct {
		text string
		want time.Time
	}{
		{"finish this, due by 2025-07-01", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"deadline: 07/15/2025", time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)},
		{"it is due tomorrow", ref.AddDate(0, 0, 1)},
		{"due next week", ref.AddDate(0, 0, 7)},
		{"due in 3 days", ref.AddDate(0, 0, 3)},
		{"due 2 weeks", ref.AddDate(0, 0, 14)},
		{"no date here", time.Time{}},
	}

	for _, tc := range cases {
		got := dueDateFromText(tc.text, ref)
		if !got.Equal(tc.want) {
			t.Errorf("%q: got %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestScoreSpamMaxOfRules(t *testing.T) {
	msg := provider.Message{
		From:    "promo@marketing.example.com",
		Subject: "Newsletter",
		Body:    "Unsubscribe at any time.",
		Labels:  []string{"CATEGORY_UPDATES"},
	}
	r := scoreSpam(msg)
	if r.HardMatch {
		t.Fatal("soft rules must not hard-match")
	}
	if r.Score != promoDomainScore {
		t.Fatalf("score = %v, want max rule %v", r.Score, promoDomainScore)
	}
	if len(r.Reasons) < 3 {
		t.Fatalf("reasons = %v", r.Reasons)
	}
}

func TestScoreSpamBarePromotionsLabel(t *testing.T) {
	r := scoreSpam(provider.Message{
		From:    "offers@example.com",
		Subject: "50% off membership!",
		Body:    "Snag your discount today.",
		Labels:  []string{"PROMOTIONS"},
	})
	if r.HardMatch {
		t.Fatal("promotions label must not hard-match")
	}
	if r.Score != labelPromotionsScore {
		t.Fatalf("score = %v, want %v", r.Score, labelPromotionsScore)
	}
}

func TestExtractMessagePromotionsLabelFlagsSpam(t *testing.T) {
	e := newRulesOnlyExtractor(t)

	item := e.ExtractMessage(context.Background(), "u1", provider.Message{
		ID: "m1", From: "offers@example.com",
		Subject: "50% off membership!", Body: "Snag your discount today.",
		Labels: []string{"PROMOTIONS"}, Date: testNow,
	})
	if item.Kind != KindTask {
		t.Fatalf("expected flagged task, got %v (%s)", item.Kind, item.SkipReason)
	}
	if !item.Task.IsSpam || item.Task.SpamReason == "" {
		t.Fatalf("task = %+v", item.Task)
	}
	if item.Task.SpamScore != labelPromotionsScore {
		t.Fatalf("spam score = %v, want %v", item.Task.SpamScore, labelPromotionsScore)
	}
}

func TestCompleteWithRetryHonorsBudget(t *testing.T) {
	throttled := flow.Errorf(flow.KindRateLimited, "llm.complete", "status 429")
	clk := clock.NewFake(testNow)
	logger := slog.New(slog.DiscardHandler)

	// Zero budget: the first throttled failure surfaces.
	c := &flakyChatter{failures: 1, err: throttled, out: "ok"}
	e := New(c, 0.7, 0, clk, logger)
	if _, err := e.completeWithRetry(context.Background(), "sys", "user"); err == nil {
		t.Fatal("expected error with zero retry budget")
	}
	if c.calls != 1 {
		t.Fatalf("calls = %d, want 1", c.calls)
	}

	// Budget 1: one retry succeeds.
	c = &flakyChatter{failures: 1, err: throttled, out: "ok"}
	e = New(c, 0.7, 1, clk, logger)
	out, err := e.completeWithRetry(context.Background(), "sys", "user")
	if err != nil || out != "ok" {
		t.Fatalf("out = %q, err = %v", out, err)
	}
	if c.calls != 2 {
		t.Fatalf("calls = %d, want 2", c.calls)
	}

	// Non-retryable failures never consume the budget.
	c = &flakyChatter{failures: 1, err: flow.Errorf(flow.KindInvalidRequest, "llm.complete", "bad request"), out: "ok"}
	e = New(c, 0.7, 3, clk, logger)
	if _, err := e.completeWithRetry(context.Background(), "sys", "user"); err == nil {
		t.Fatal("expected invalid request to surface")
	}
	if c.calls != 1 {
		t.Fatalf("calls = %d, want 1", c.calls)
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	out := truncate(strings.Repeat("é", 10), 5)
	if out != "éé..." {
		t.Fatalf("out = %q", out)
	}
	if !utf8.ValidString(out) {
		t.Fatalf("truncation produced invalid UTF-8: %q", out)
	}
	if got := truncate("short", 500); got != "short" {
		t.Fatalf("short string changed: %q", got)
	}
}

func TestSenderParsing(t *testing.T) {
	if d := senderDomain("Big Store <store-news@shop.example.com>"); d != "shop.example.com" {
		t.Fatalf("domain = %q", d)
	}
	if l := senderLocal("store-news@shop.example.com"); l != "store-news" {
		t.Fatalf("local = %q", l)
	}
	if d := senderDomain("not-an-address"); d != "" {
		t.Fatalf("domain = %q", d)
	}
}
