package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/store"
	"github.com/nhle/lifeflow/internal/testutil"
)

func newPlan(userID, date string, entries ...model.PlanEntry) model.DailyPlan {
	return model.DailyPlan{
		ID:          uuid.NewString(),
		UserID:      userID,
		Date:        date,
		Status:      model.PlanActive,
		Entries:     entries,
		GeneratedAt: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC),
	}
}

func newEntry(taskID, title string, start time.Time) model.PlanEntry {
	return model.PlanEntry{
		TaskID:         taskID,
		Title:          title,
		PredictedStart: start.UTC(),
		PredictedEnd:   start.UTC().Add(time.Hour),
		PriorityScore:  0.5,
		Status:         model.EntryPending,
	}
}

func TestReplacePlanSwapsSameDateOnly(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	if err := s.ReplacePlan(ctx, newPlan("u1", "2026-03-10", newEntry("t1", "Old", start))); err != nil {
		t.Fatalf("first plan: %v", err)
	}
	if err := s.ReplacePlan(ctx, newPlan("u1", "2026-03-11", newEntry("t2", "Other day", start))); err != nil {
		t.Fatalf("other-day plan: %v", err)
	}

	replacement := newPlan("u1", "2026-03-10", newEntry("t3", "New", start))
	if err := s.ReplacePlan(ctx, replacement); err != nil {
		t.Fatalf("replacing: %v", err)
	}

	got, err := s.GetPlan(ctx, "u1", "2026-03-10")
	if err != nil {
		t.Fatalf("getting replaced plan: %v", err)
	}
	if got.ID != replacement.ID || len(got.Entries) != 1 || got.Entries[0].TaskID != "t3" {
		t.Fatalf("plan not replaced: %+v", got)
	}

	other, err := s.GetPlan(ctx, "u1", "2026-03-11")
	if err != nil {
		t.Fatalf("getting other-day plan: %v", err)
	}
	if other.Entries[0].TaskID != "t2" {
		t.Fatalf("other day's plan was touched: %+v", other)
	}
}

func TestUpdatePlanEntry(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	plan := newPlan("u1", "2026-03-10",
		newEntry("t1", "First", start),
		newEntry("t2", "Second", start.Add(time.Hour)))
	if err := s.ReplacePlan(ctx, plan); err != nil {
		t.Fatalf("creating plan: %v", err)
	}

	snoozed := plan.Entries[1]
	snoozed.Status = model.EntrySnoozed
	snoozed.PredictedStart = snoozed.PredictedStart.Add(time.Hour)
	snoozed.PredictedEnd = snoozed.PredictedEnd.Add(time.Hour)
	if err := s.UpdatePlanEntry(ctx, "u1", plan.ID, snoozed); err != nil {
		t.Fatalf("updating entry: %v", err)
	}

	got, err := s.GetPlan(ctx, "u1", "2026-03-10")
	if err != nil {
		t.Fatalf("getting plan: %v", err)
	}
	if got.Entries[0].Status != model.EntryPending {
		t.Errorf("untouched entry changed: %+v", got.Entries[0])
	}
	if e := got.Entry("t2"); e == nil || e.Status != model.EntrySnoozed {
		t.Errorf("entry update lost: %+v", e)
	}

	missing := newEntry("nope", "Missing", start)
	if err := s.UpdatePlanEntry(ctx, "u1", plan.ID, missing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("updating missing entry should be ErrNotFound, got %v", err)
	}
}

func TestListActivePlans(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	p1 := newPlan("u1", "2026-03-10", newEntry("t1", "A", start))
	p2 := newPlan("u2", "2026-03-10", newEntry("t2", "B", start))
	cancelled := newPlan("u3", "2026-03-10", newEntry("t3", "C", start))
	for _, p := range []model.DailyPlan{p1, p2, cancelled} {
		if err := s.ReplacePlan(ctx, p); err != nil {
			t.Fatalf("creating plan for %s: %v", p.UserID, err)
		}
	}
	if err := s.UpdatePlanStatus(ctx, "u3", cancelled.ID, model.PlanCancelled); err != nil {
		t.Fatalf("cancelling: %v", err)
	}

	active, err := s.ListActivePlans(ctx, "2026-03-10")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active plans, got %d", len(active))
	}
}
