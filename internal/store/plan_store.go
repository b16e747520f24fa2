package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nhle/lifeflow/internal/model"
)

// planRow mirrors model.DailyPlan with entries flattened to a JSON column.
type planRow struct {
	model.DailyPlan
	EntriesJSON string `db:"entries"`
}

func newPlanRow(p model.DailyPlan) (planRow, error) {
	entries := p.Entries
	if entries == nil {
		entries = []model.PlanEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return planRow{}, fmt.Errorf("encoding plan entries: %w", err)
	}
	return planRow{DailyPlan: p, EntriesJSON: string(raw)}, nil
}

func (r planRow) toPlan() (model.DailyPlan, error) {
	p := r.DailyPlan
	p.Entries = nil
	if r.EntriesJSON != "" {
		if err := json.Unmarshal([]byte(r.EntriesJSON), &p.Entries); err != nil {
			return p, fmt.Errorf("decoding entries for plan %s: %w", p.ID, err)
		}
	}
	return p, nil
}

const planColumns = "id, user_id, plan_date, status, energy_level, entries, generated_at"

// ReplacePlan atomically swaps in the plan for (user, date). Any prior plan
// for that date is removed in the same transaction.
func (s *SQLiteStore) ReplacePlan(ctx context.Context, plan model.DailyPlan) error {
	row, err := newPlanRow(plan)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning plan tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM daily_plans WHERE user_id = ? AND plan_date = ?",
		plan.UserID, plan.Date)
	if err != nil {
		return fmt.Errorf("removing prior plan: %w", err)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO daily_plans (`+planColumns+`)
		VALUES (:id, :user_id, :plan_date, :status, :energy_level, :entries, :generated_at)`, row)
	if err != nil {
		return fmt.Errorf("inserting plan %s: %w", plan.ID, err)
	}

	return tx.Commit()
}

// GetPlan fetches the plan for (user, date).
func (s *SQLiteStore) GetPlan(ctx context.Context, userID, date string) (*model.DailyPlan, error) {
	var row planRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+planColumns+" FROM daily_plans WHERE user_id = ? AND plan_date = ?",
		userID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting plan for %s on %s: %w", userID, date, err)
	}
	p, err := row.toPlan()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListActivePlans returns every user's active plan for the given date.
func (s *SQLiteStore) ListActivePlans(ctx context.Context, date string) ([]model.DailyPlan, error) {
	var rows []planRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+planColumns+" FROM daily_plans WHERE plan_date = ? AND status = ? ORDER BY user_id",
		date, model.PlanActive)
	if err != nil {
		return nil, fmt.Errorf("listing active plans for %s: %w", date, err)
	}

	plans := make([]model.DailyPlan, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPlan()
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// UpdatePlanStatus moves a plan to a new lifecycle state.
func (s *SQLiteStore) UpdatePlanStatus(ctx context.Context, userID, planID string, status model.PlanStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE daily_plans SET status = ? WHERE user_id = ? AND id = ?",
		status, userID, planID)
	if err != nil {
		return fmt.Errorf("updating plan %s status: %w", planID, err)
	}
	return requireRowAffected(res, planID)
}

// UpdatePlanEntry replaces the entry for entry.TaskID within the plan.
func (s *SQLiteStore) UpdatePlanEntry(ctx context.Context, userID, planID string, entry model.PlanEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning entry tx: %w", err)
	}
	defer tx.Rollback()

	var row planRow
	err = tx.GetContext(ctx, &row,
		"SELECT "+planColumns+" FROM daily_plans WHERE user_id = ? AND id = ?", userID, planID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("getting plan %s for entry update: %w", planID, err)
	}

	p, err := row.toPlan()
	if err != nil {
		return err
	}

	found := false
	for i := range p.Entries {
		if p.Entries[i].TaskID == entry.TaskID {
			p.Entries[i] = entry
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}

	raw, err := json.Marshal(p.Entries)
	if err != nil {
		return fmt.Errorf("encoding plan entries: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE daily_plans SET entries = ? WHERE user_id = ? AND id = ?",
		string(raw), userID, planID)
	if err != nil {
		return fmt.Errorf("updating entries for plan %s: %w", planID, err)
	}
	return tx.Commit()
}
