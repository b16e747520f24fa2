// Package plan generates energy-aware daily plans. Candidate selection,
// scoring, and scheduling are fully deterministic; the LLM only
// contributes per-task action steps and is replaced by a fallback when
// it misbehaves.
package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/lifeflow/internal/clock"
	"github.com/nhle/lifeflow/internal/flow"
	"github.com/nhle/lifeflow/internal/llm"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/store"
)

// feedbackWindow is how far back learned snooze adjustments look.
const feedbackWindow = 14 * 24 * time.Hour

// Tasks whose [start, end] span exceeds maxBlockDuration carry a
// deadline-style window (mail tasks default to a week); they are
// scheduled as defaultBlockDuration blocks with end as the deadline.
const (
	maxBlockDuration     = 8 * time.Hour
	defaultBlockDuration = time.Hour
)

// Planner builds and persists daily plans.
type Planner struct {
	store   store.Store
	chatter llm.Chatter
	cfg     *model.AppConfig
	clk     clock.Clock
	logger  *slog.Logger

	promoPatterns []*regexp.Regexp

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a planner. A nil chatter always takes the deterministic
// fallback path.
func New(st store.Store, chatter llm.Chatter, cfg *model.AppConfig, clk clock.Clock, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		store:         st,
		chatter:       chatter,
		cfg:           cfg,
		clk:           clk,
		logger:        logger,
		promoPatterns: defaultPromoPatterns,
		inflight:      make(map[string]struct{}),
	}
}

// Generate builds a new active plan for (user, date), replacing any
// prior plan for that date. A concurrent generate for the same pair
// fails with Busy.
func (p *Planner) Generate(ctx context.Context, userID, date string) (*model.DailyPlan, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, flow.Errorf(flow.KindInvalidRequest, "plan.generate", "invalid date %q", date)
	}

	key := userID + "|" + date
	if !p.acquire(key) {
		return nil, flow.Errorf(flow.KindBusy, "plan.generate", "plan generation already running for %s/%s", userID, date)
	}
	defer p.release(key)

	loc, err := p.userLocation(ctx, userID)
	if err != nil {
		return nil, err
	}
	dayStart, dayEnd, err := dayBounds(date, loc)
	if err != nil {
		return nil, flow.E(flow.KindInvalidRequest, "plan.generate", err)
	}

	tasks, err := p.store.ListTasks(ctx, userID, store.TaskFilter{
		StartAfter:  dayStart,
		StartBefore: dayEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("listing candidate tasks: %w", err)
	}

	energy := model.DefaultEnergyLevel
	switch lvl, err := p.store.GetEnergy(ctx, userID, date); {
	case err == nil:
		energy = lvl.Level
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("loading energy level: %w", err)
	}

	now := p.clk.Now()
	feedback, err := p.store.ListFeedbackSince(ctx, userID, now.Add(-feedbackWindow))
	if err != nil {
		return nil, fmt.Errorf("loading feedback: %w", err)
	}

	windowStart, windowEnd := p.workingWindow(date, loc, dayStart, dayEnd)

	cands := make([]candidate, 0, len(tasks))
	for i := range tasks {
		t := tasks[i]
		duration := t.End.Sub(t.Start)
		if duration > maxBlockDuration {
			duration = defaultBlockDuration
		}
		cands = append(cands, candidate{
			task:           t,
			score:          priorityScore(&t, energy, now),
			predictedStart: t.Start,
			predictedEnd:   t.Start.Add(duration),
		})
	}

	cands, err = p.applyDependencies(ctx, userID, cands, windowEnd)
	if err != nil {
		return nil, err
	}

	profile := buildSnoozeProfile(feedback, loc)
	counts := snoozeCounts(feedback)
	for i := range cands {
		dampRepeatedlySnoozed(&cands[i], counts)
		profile.applySnoozeLearning(&cands[i], loc, windowEnd)
		if cands[i].predictedStart.Before(windowStart) && !cands[i].task.IsCritical {
			// Keep entries inside the working window; critical tasks
			// stay where the calendar put them.
			d := cands[i].predictedEnd.Sub(cands[i].predictedStart)
			cands[i].predictedStart = windowStart
			cands[i].predictedEnd = windowStart.Add(d)
		}
	}

	sortCandidates(cands)

	actionPlans := p.composeActionPlans(ctx, date, energy, cands)

	entries := make([]model.PlanEntry, 0, len(cands))
	for _, c := range cands {
		if matchesPromo(p.promoPatterns, c.task.Title) {
			p.logger.Info("dropping promotional entry from plan",
				"user_id", userID, "task_id", c.task.ID, "title", c.task.Title)
			continue
		}
		entries = append(entries, model.PlanEntry{
			TaskID:         c.task.ID,
			Title:          c.task.Title,
			PredictedStart: c.predictedStart,
			PredictedEnd:   c.predictedEnd,
			PriorityScore:  c.score,
			IsCritical:     c.task.IsCritical,
			IsUrgent:       c.task.IsUrgent,
			ActionPlan:     actionPlans[c.task.ID],
			Status:         model.EntryPending,
		})
	}

	newPlan := model.DailyPlan{
		ID:          uuid.NewString(),
		UserID:      userID,
		Date:        date,
		Status:      model.PlanActive,
		EnergyLevel: &energy,
		Entries:     entries,
		GeneratedAt: now,
	}
	if err := p.store.ReplacePlan(ctx, newPlan); err != nil {
		return nil, fmt.Errorf("replacing plan: %w", err)
	}

	p.logger.Info("plan generated",
		"user_id", userID, "date", date, "entries", len(entries), "energy", energy)
	return &newPlan, nil
}

// applyDependencies pushes candidates blocked by open tasks to the end
// of the working window, and drops them when that would overrun their
// own deadline.
func (p *Planner) applyDependencies(ctx context.Context, userID string, cands []candidate, windowEnd time.Time) ([]candidate, error) {
	kept := cands[:0]
	for _, c := range cands {
		blockers, err := p.store.ListBlockers(ctx, userID, c.task.ID)
		if err != nil {
			return nil, fmt.Errorf("listing blockers for %s: %w", c.task.ID, err)
		}

		blocked := false
		for _, dep := range blockers {
			blocker, err := p.store.GetTask(ctx, userID, dep.BlockedByTask)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("loading blocker %s: %w", dep.BlockedByTask, err)
			}
			if !blocker.IsCompleted {
				blocked = true
				break
			}
		}
		if !blocked {
			kept = append(kept, c)
			continue
		}

		duration := c.predictedEnd.Sub(c.predictedStart)
		pushedStart := windowEnd.Add(-duration)
		if pushedStart.Before(c.predictedStart) {
			// Already at or past the end of the window; leave it.
			kept = append(kept, c)
			continue
		}
		if windowEnd.After(c.task.End) {
			// Pushing would finish after the task's own deadline.
			p.logger.Info("dropping blocked entry past its deadline",
				"user_id", userID, "task_id", c.task.ID)
			continue
		}
		c.predictedStart = pushedStart
		c.predictedEnd = pushedStart.Add(duration)
		kept = append(kept, c)
	}
	return kept, nil
}

// userLocation loads the user's configured zone, defaulting to UTC.
func (p *Planner) userLocation(ctx context.Context, userID string) (*time.Location, error) {
	settings, err := p.store.GetUserSettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return time.UTC, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading user settings: %w", err)
	}
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		p.logger.Warn("invalid user timezone, falling back to UTC",
			"user_id", userID, "timezone", settings.Timezone)
		return time.UTC, nil
	}
	return loc, nil
}

// dayBounds returns the UTC instants bounding the local calendar day.
func dayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return day.UTC(), day.AddDate(0, 0, 1).UTC(), nil
}

// workingWindow returns the configured working hours of the given local
// day as UTC instants.
func (p *Planner) workingWindow(date string, loc *time.Location, dayStart, dayEnd time.Time) (time.Time, time.Time) {
	day, _ := time.ParseInLocation("2006-01-02", date, loc)

	start, errS := model.ParseClockTime(p.cfg.WorkingWindow.Start)
	end, errE := model.ParseClockTime(p.cfg.WorkingWindow.End)
	if errS != nil || errE != nil {
		return dayStart, dayEnd
	}
	ws := day.Add(time.Duration(start.Minutes()) * time.Minute).UTC()
	we := day.Add(time.Duration(end.Minutes()) * time.Minute).UTC()
	return ws, we
}

func (p *Planner) acquire(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[key]; busy {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *Planner) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, key)
}
