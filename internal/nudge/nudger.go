// Package nudge delivers at-most-once notifications for plan entries
// whose predicted start is imminent. The store's reservation constraint
// is the only dedup mechanism; ticks never coordinate with each other
// beyond it.
package nudge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/lifeflow/internal/clock"
	"github.com/nhle/lifeflow/internal/mailer"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/store"
)

const (
	// userBudget bounds the time spent on one user's plan per tick.
	userBudget = 10 * time.Second

	// tickReserve is subtracted from the tick interval to form the outer
	// tick budget, guaranteeing non-overlapping ticks.
	tickReserve = 15 * time.Second
)

// TickStats summarizes one scheduler tick.
type TickStats struct {
	PlansScanned int
	Reserved     int
	Sent         int
	EmailsSent   int
	Errors       int
}

// Nudger scans active plans and fires due nudges.
type Nudger struct {
	store  store.Store
	sender mailer.Sender
	cfg    *model.AppConfig
	clk    clock.Clock
	logger *slog.Logger

	// mu serializes ticks; an overlapping tick returns immediately.
	mu sync.Mutex
}

// New creates a nudger. A nil sender disables email delivery.
func New(st store.Store, sender mailer.Sender, cfg *model.AppConfig, clk clock.Clock, logger *slog.Logger) *Nudger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Nudger{store: st, sender: sender, cfg: cfg, clk: clk, logger: logger}
}

// Tick runs one scheduler pass. Concurrent calls are collapsed: if a
// tick is already running the call returns zero stats and no error.
func (n *Nudger) Tick(ctx context.Context) (TickStats, error) {
	if !n.mu.TryLock() {
		return TickStats{}, nil
	}
	defer n.mu.Unlock()

	budget := n.cfg.TickInterval - tickReserve
	if budget <= 0 {
		budget = n.cfg.TickInterval
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	now := n.clk.Now()
	var stats TickStats

	// Active plans may be dated yesterday, today, or tomorrow in the
	// user's zone relative to UTC; the time window filters precisely.
	seen := make(map[string]bool)
	for _, offset := range []int{-1, 0, 1} {
		date := now.AddDate(0, 0, offset).Format("2006-01-02")
		plans, err := n.store.ListActivePlans(ctx, date)
		if err != nil {
			return stats, fmt.Errorf("listing active plans for %s: %w", date, err)
		}
		for i := range plans {
			if seen[plans[i].ID] {
				continue
			}
			seen[plans[i].ID] = true
			stats.PlansScanned++

			if err := n.processPlan(ctx, &plans[i], now, &stats); err != nil {
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
					// Outer budget exhausted; remaining plans wait for
					// the next tick.
					n.logger.Warn("tick budget exhausted", "plans_scanned", stats.PlansScanned)
					return stats, nil
				}
				stats.Errors++
				n.logger.Error("processing plan failed",
					"user_id", plans[i].UserID, "plan_id", plans[i].ID, "error", err)
			}
		}
	}
	return stats, nil
}

// processPlan fires due entries of one plan under the per-user budget.
func (n *Nudger) processPlan(ctx context.Context, plan *model.DailyPlan, now time.Time, stats *TickStats) error {
	ctx, cancel := context.WithTimeout(ctx, userBudget)
	defer cancel()

	windowStart := now.Add(-n.cfg.NudgeGrace)
	windowEnd := now.Add(n.cfg.NudgeLookahead)

	due := make([]model.PlanEntry, 0, len(plan.Entries))
	for _, e := range plan.Entries {
		if e.Status != model.EntryPending {
			continue
		}
		if e.PredictedStart.Before(windowStart) || e.PredictedStart.After(windowEnd) {
			continue
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].PredictedStart.Before(due[j].PredictedStart)
	})

	var settings *store.UserSettings
	for _, entry := range due {
		if err := ctx.Err(); err != nil {
			return err
		}

		notification := model.Notification{
			ID:          uuid.NewString(),
			UserID:      plan.UserID,
			TaskID:      entry.TaskID,
			PlanID:      plan.ID,
			Type:        model.NotificationTypeNudge,
			Message:     composeMessage(entry),
			ScheduledAt: entry.PredictedStart,
			Status:      model.NotificationPending,
			CreatedAt:   now,
		}
		err := n.store.ReserveNotification(ctx, notification)
		if errors.Is(err, store.ErrAlreadyReserved) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reserving notification for task %s: %w", entry.TaskID, err)
		}
		stats.Reserved++

		if err := n.store.MarkNotificationSent(ctx, plan.UserID, notification.ID, n.clk.Now()); err != nil {
			return fmt.Errorf("marking notification sent: %w", err)
		}
		stats.Sent++
		n.logger.Info("nudge delivered",
			"user_id", plan.UserID, "task_id", entry.TaskID, "message", notification.Message)

		if settings == nil {
			s, err := n.store.GetUserSettings(ctx, plan.UserID)
			if err != nil {
				n.logger.Warn("loading user settings for email", "user_id", plan.UserID, "error", err)
				s = &store.UserSettings{UserID: plan.UserID}
			}
			settings = s
		}
		n.sendEmail(ctx, settings, entry, notification, stats)
	}
	return nil
}

// sendEmail dispatches the nudge over SMTP. Failures are logged; the
// notification stays sent.
func (n *Nudger) sendEmail(ctx context.Context, settings *store.UserSettings, entry model.PlanEntry, notification model.Notification, stats *TickStats) {
	if n.sender == nil || !n.cfg.EmailEnabled || !settings.EmailEnabled || settings.Email == "" {
		return
	}
	err := n.sender.Send(ctx, settings.Email, composeSubject(entry), notification.Message)
	if err != nil {
		n.logger.Warn("nudge email failed",
			"user_id", notification.UserID, "notification_id", notification.ID, "error", err)
		return
	}
	stats.EmailsSent++
}

func composeSubject(entry model.PlanEntry) string {
	switch {
	case entry.IsCritical:
		return "LifeFlow: critical task starting"
	case entry.IsUrgent:
		return "LifeFlow: urgent task starting"
	default:
		return "LifeFlow nudge"
	}
}

func composeMessage(entry model.PlanEntry) string {
	switch {
	case entry.IsCritical:
		return fmt.Sprintf("🔴 CRITICAL: %s is starting now", entry.Title)
	case entry.IsUrgent:
		return fmt.Sprintf("⚠️ URGENT: %s is starting now", entry.Title)
	default:
		return fmt.Sprintf("📋 %s is starting now", entry.Title)
	}
}
