package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/store"
	"github.com/nhle/lifeflow/internal/testutil"
)

func TestUpsertIngestedCreatesThenUpdates(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	task := testutil.NewTask("u1", model.SourceCalendar, "Standup", start)
	task.ExternalID = "evt-1"

	outcome, err := s.UpsertIngested(ctx, task)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if outcome != store.UpsertCreated {
		t.Fatalf("expected UpsertCreated, got %v", outcome)
	}

	// Identical content must be a no-op.
	outcome, err = s.UpsertIngested(ctx, task)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if outcome != store.UpsertUnchanged {
		t.Fatalf("expected UpsertUnchanged, got %v", outcome)
	}

	before, err := s.GetTaskByExternalID(ctx, "u1", model.SourceCalendar, "evt-1")
	if err != nil {
		t.Fatalf("getting task: %v", err)
	}

	// Changed content updates the row in place, same internal id.
	changed := task
	changed.ID = "different-id-that-must-be-ignored"
	changed.Title = "Standup (moved)"
	changed.Start = start.Add(30 * time.Minute)
	changed.End = start.Add(90 * time.Minute)
	changed.UpdatedAt = start.Add(time.Hour)

	outcome, err = s.UpsertIngested(ctx, changed)
	if err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if outcome != store.UpsertUpdated {
		t.Fatalf("expected UpsertUpdated, got %v", outcome)
	}

	after, err := s.GetTaskByExternalID(ctx, "u1", model.SourceCalendar, "evt-1")
	if err != nil {
		t.Fatalf("getting updated task: %v", err)
	}
	if after.ID != before.ID {
		t.Errorf("internal id changed on upsert: %s -> %s", before.ID, after.ID)
	}
	if after.Title != "Standup (moved)" {
		t.Errorf("title not updated, got %q", after.Title)
	}

	// Exactly one row for the external identity.
	tasks, err := s.ListTasks(ctx, "u1", store.TaskFilter{Source: model.SourceCalendar})
	if err != nil {
		t.Fatalf("listing tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
}

func TestUpsertIngestedPreservesUserFlags(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	task := testutil.NewTask("u1", model.SourceMail, "Reply to contract", start)
	task.ExternalID = "msg-9"
	if _, err := s.UpsertIngested(ctx, task); err != nil {
		t.Fatalf("upserting: %v", err)
	}

	stored, err := s.GetTaskByExternalID(ctx, "u1", model.SourceMail, "msg-9")
	if err != nil {
		t.Fatalf("getting task: %v", err)
	}

	yes := true
	flagged, err := s.UpdateTaskFlags(ctx, "u1", stored.ID,
		model.TaskFlags{IsCritical: &yes, IsCompleted: &yes}, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("updating flags: %v", err)
	}
	if !flagged.IsCritical || !flagged.IsCompleted || flagged.CompletedAt == nil {
		t.Fatalf("flags not applied: %+v", flagged)
	}

	// Re-ingest with changed provider content. Flags must survive.
	changed := task
	changed.Title = "Reply to contract v2"
	if _, err := s.UpsertIngested(ctx, changed); err != nil {
		t.Fatalf("re-upserting: %v", err)
	}

	after, err := s.GetTask(ctx, "u1", stored.ID)
	if err != nil {
		t.Fatalf("getting task after re-ingest: %v", err)
	}
	if after.Title != "Reply to contract v2" {
		t.Errorf("content not updated, got %q", after.Title)
	}
	if !after.IsCritical || !after.IsCompleted || after.CompletedAt == nil {
		t.Errorf("user flags lost on re-ingest: %+v", after)
	}
}

func TestUpdateTaskFlagsReopenClearsCompletedAt(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

	task := testutil.NewTask("u1", model.SourceManual, "Write report", start)
	task.ExternalID = ""
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("creating task: %v", err)
	}

	yes, no := true, false
	if _, err := s.UpdateTaskFlags(ctx, "u1", task.ID, model.TaskFlags{IsCompleted: &yes}, start); err != nil {
		t.Fatalf("completing: %v", err)
	}
	got, err := s.UpdateTaskFlags(ctx, "u1", task.ID, model.TaskFlags{IsCompleted: &no}, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	if got.IsCompleted || got.CompletedAt != nil {
		t.Errorf("reopen did not clear completion: %+v", got)
	}
}

func TestListTasksFilters(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)

	spam := testutil.NewTask("u1", model.SourceMail, "WIN A PRIZE", base)
	spam.IsSpam = true
	spam.SpamScore = 0.9
	done := testutil.NewTask("u1", model.SourceCalendar, "Old meeting", base.Add(time.Hour))
	done.Complete(base.Add(2 * time.Hour))
	live := testutil.NewTask("u1", model.SourceCalendar, "Design review", base.Add(3*time.Hour))
	other := testutil.NewTask("u2", model.SourceCalendar, "Not mine", base)

	for _, task := range []model.Task{spam, done, live, other} {
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("creating %q: %v", task.Title, err)
		}
	}

	got, err := s.ListTasks(ctx, "u1", store.TaskFilter{})
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Design review" {
		t.Fatalf("default filter should hide spam and done, got %+v", got)
	}

	got, err = s.ListTasks(ctx, "u1", store.TaskFilter{IncludeSpam: true, IncludeDone: true})
	if err != nil {
		t.Fatalf("listing all: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 tasks for u1, got %d", len(got))
	}

	got, err = s.ListTasks(ctx, "u1", store.TaskFilter{
		IncludeSpam: true, IncludeDone: true,
		StartAfter:  base.Add(30 * time.Minute),
		StartBefore: base.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("listing window: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Old meeting" {
		t.Fatalf("time window filter wrong, got %+v", got)
	}
}

func TestGetTaskScopedByUser(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	task := testutil.NewTask("u1", model.SourceCalendar, "Private", time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC))
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("creating: %v", err)
	}

	if _, err := s.GetTask(ctx, "u2", task.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-user read should be ErrNotFound, got %v", err)
	}
}

func TestAttendeesRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	task := testutil.NewTask("u1", model.SourceCalendar, "Planning", time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	task.Attendees = []string{"ana@example.com", "bo@example.com"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("creating: %v", err)
	}

	got, err := s.GetTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("getting: %v", err)
	}
	if len(got.Attendees) != 2 || got.Attendees[0] != "ana@example.com" {
		t.Fatalf("attendees did not round-trip: %+v", got.Attendees)
	}
}
