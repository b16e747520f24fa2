package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nhle/lifeflow/internal/llm"
)

const composeSystemPrompt = `You are a personal productivity planner. You receive a user's
scored task list for one day together with their energy level.

For EVERY task in the input, produce an action plan of 1 to 6 short,
concrete steps the user can follow. Keep each step under 80 characters.

Return only a JSON object of this exact shape:
{"entries": [{"task_id": "<id from input>", "action_plan": ["step", ...]}]}
Include every input task exactly once. Do not invent task ids.`

const composeStrictPrompt = composeSystemPrompt + `

Your previous answer was not valid. Respond with NOTHING but the JSON
object described above: no prose, no markdown fences, every input
task_id present exactly once, and 1 to 6 steps per entry.`

const (
	minActionSteps = 1
	maxActionSteps = 6
)

// composeRequest is the structured request sent to the LLM.
type composeRequest struct {
	Date        string             `json:"date"`
	EnergyLevel int                `json:"energy_level"`
	Tasks       []composeCandidate `json:"tasks"`
}

type composeCandidate struct {
	TaskID        string  `json:"task_id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Start         string  `json:"start"`
	End           string  `json:"end"`
	PriorityScore float64 `json:"priority_score"`
	IsCritical    bool    `json:"is_critical"`
	IsUrgent      bool    `json:"is_urgent"`
}

type composeResponse struct {
	Entries []struct {
		TaskID     string   `json:"task_id"`
		ActionPlan []string `json:"action_plan"`
	} `json:"entries"`
}

// composeActionPlans asks the LLM for per-task action plans. Schema
// failures retry with a stricter prompt up to the configured retry
// budget; exhausting it falls back to nil, meaning the deterministic
// plan ships without steps.
func (p *Planner) composeActionPlans(ctx context.Context, date string, energy int, cands []candidate) map[string][]string {
	if p.chatter == nil || len(cands) == 0 {
		return nil
	}

	req := composeRequest{Date: date, EnergyLevel: energy}
	for _, c := range cands {
		req.Tasks = append(req.Tasks, composeCandidate{
			TaskID:        c.task.ID,
			Title:         c.task.Title,
			Description:   truncate(c.task.Description, 300),
			Start:         c.predictedStart.Format(time.RFC3339),
			End:           c.predictedEnd.Format(time.RFC3339),
			PriorityScore: c.score,
			IsCritical:    c.task.IsCritical,
			IsUrgent:      c.task.IsUrgent,
		})
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil
	}

	for attempt := 0; attempt <= p.cfg.LLMRetryBudget; attempt++ {
		system := composeSystemPrompt
		if attempt > 0 {
			system = composeStrictPrompt
		}
		raw, err := p.chatter.Complete(ctx, system, string(payload))
		if err != nil {
			p.logger.Warn("plan composition failed, falling back",
				"date", date, "attempt", attempt+1, "error", err)
			return nil
		}
		plans, err := parseActionPlans(raw, cands)
		if err == nil {
			return plans
		}
		p.logger.Warn("plan composition returned invalid schema",
			"date", date, "attempt", attempt+1, "error", err)
	}
	return nil
}

// parseActionPlans validates the response against the candidate set.
func parseActionPlans(raw string, cands []candidate) (map[string][]string, error) {
	var resp composeResponse
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	known := make(map[string]bool, len(cands))
	for _, c := range cands {
		known[c.task.ID] = true
	}

	plans := make(map[string][]string, len(resp.Entries))
	for _, entry := range resp.Entries {
		if !known[entry.TaskID] {
			return nil, fmt.Errorf("unknown task id %q", entry.TaskID)
		}
		if _, dup := plans[entry.TaskID]; dup {
			return nil, fmt.Errorf("duplicate task id %q", entry.TaskID)
		}
		steps := make([]string, 0, len(entry.ActionPlan))
		for _, step := range entry.ActionPlan {
			if s := strings.TrimSpace(step); s != "" {
				steps = append(steps, s)
			}
		}
		if len(steps) < minActionSteps || len(steps) > maxActionSteps {
			return nil, fmt.Errorf("task %q has %d steps", entry.TaskID, len(steps))
		}
		plans[entry.TaskID] = steps
	}

	if len(plans) != len(cands) {
		return nil, fmt.Errorf("got %d entries, want %d", len(plans), len(cands))
	}
	return plans, nil
}

// defaultPromoPatterns is the post-filter safety net against spam that
// slipped through extraction.
var defaultPromoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d+% off\b`),
	regexp.MustCompile(`(?i)\bunsubscribe\b`),
	regexp.MustCompile(`(?i)\blimited.time\b`),
	regexp.MustCompile(`(?i)\bspecial offer\b`),
	regexp.MustCompile(`(?i)\bpromo code\b`),
	regexp.MustCompile(`(?i)\bshop now\b`),
	regexp.MustCompile(`(?i)\bact now\b`),
	regexp.MustCompile(`(?i)\bnewsletter\b`),
	regexp.MustCompile(`(?i)\blast chance\b`),
}

func matchesPromo(patterns []*regexp.Regexp, title string) bool {
	for _, p := range patterns {
		if p.MatchString(title) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
