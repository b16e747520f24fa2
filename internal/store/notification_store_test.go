package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/store"
	"github.com/nhle/lifeflow/internal/testutil"
)

func newNudge(userID, taskID, planID string, at time.Time) model.Notification {
	return model.Notification{
		ID:          uuid.NewString(),
		UserID:      userID,
		TaskID:      taskID,
		PlanID:      planID,
		Type:        model.NotificationTypeNudge,
		Message:     "Upcoming: test task",
		ScheduledAt: at.UTC(),
		Status:      model.NotificationPending,
		CreatedAt:   at.UTC(),
	}
}

func TestReserveNotificationAtMostOnce(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 9, 55, 0, 0, time.UTC)

	if err := s.ReserveNotification(ctx, newNudge("u1", "t1", "p1", at)); err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	err := s.ReserveNotification(ctx, newNudge("u1", "t1", "p1", at))
	if !errors.Is(err, store.ErrAlreadyReserved) {
		t.Fatalf("second reservation should be ErrAlreadyReserved, got %v", err)
	}

	// Different plan or task is a separate reservation.
	if err := s.ReserveNotification(ctx, newNudge("u1", "t1", "p2", at)); err != nil {
		t.Errorf("different plan should reserve: %v", err)
	}
	if err := s.ReserveNotification(ctx, newNudge("u1", "t2", "p1", at)); err != nil {
		t.Errorf("different task should reserve: %v", err)
	}
}

func TestReserveNotificationConcurrent(t *testing.T) {
	s := testutil.NewTestStore(t)
	at := time.Date(2026, 3, 10, 9, 55, 0, 0, time.UTC)

	const attempts = 100
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ReserveNotification(context.Background(), newNudge("u1", "t1", "p1", at))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, store.ErrAlreadyReserved):
			default:
				t.Errorf("unexpected reservation error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly 1 winning reservation out of %d, got %d", attempts, got)
	}
}

func TestDismissAllowsRenudge(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	first := newNudge("u1", "t1", "p1", at)
	if err := s.ReserveNotification(ctx, first); err != nil {
		t.Fatalf("reserving: %v", err)
	}
	if err := s.DismissNotification(ctx, "u1", first.ID); err != nil {
		t.Fatalf("dismissing: %v", err)
	}

	// A dismissed row no longer blocks the (user, task, plan) key.
	if err := s.ReserveNotification(ctx, newNudge("u1", "t1", "p1", at.Add(time.Hour))); err != nil {
		t.Fatalf("re-reserving after dismiss: %v", err)
	}
}

func TestMarkNotificationSent(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	n := newNudge("u1", "t1", "p1", at)
	if err := s.ReserveNotification(ctx, n); err != nil {
		t.Fatalf("reserving: %v", err)
	}
	sentAt := at.Add(2 * time.Second)
	if err := s.MarkNotificationSent(ctx, "u1", n.ID, sentAt); err != nil {
		t.Fatalf("marking sent: %v", err)
	}

	got, err := s.GetNotification(ctx, "u1", n.ID)
	if err != nil {
		t.Fatalf("getting: %v", err)
	}
	if got.Status != model.NotificationSent || got.SentAt == nil {
		t.Fatalf("sent state not recorded: %+v", got)
	}

	pending, err := s.ListNotifications(ctx, "u1", store.NotificationFilter{Status: model.NotificationPending})
	if err != nil {
		t.Fatalf("listing pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending notifications, got %d", len(pending))
	}
}
