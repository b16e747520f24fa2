package plan

import (
	"sort"
	"time"

	"github.com/nhle/lifeflow/internal/model"
)

// Score weights. The deterministic score never depends on the LLM.
const (
	weightPriority = 0.45
	weightCritical = 0.25
	weightUrgent   = 0.15
	weightEnergy   = 0.10
	weightRecency  = 0.05
)

// recencyHorizon is the age at which a task stops contributing recency.
const recencyHorizon = 14 * 24 * time.Hour

func priorityWeight(p model.Priority) float64 {
	switch p {
	case model.PriorityHigh:
		return 1.0
	case model.PriorityLow:
		return 0.2
	default:
		return 0.5
	}
}

// requiredEnergy estimates how much energy a task demands on the 1..5
// scale. Critical and high-priority work demands more.
func requiredEnergy(t *model.Task) int {
	if t.IsCritical || t.Priority == model.PriorityHigh {
		return 4
	}
	if t.Priority == model.PriorityLow {
		return 2
	}
	return 3
}

// priorityScore computes the deterministic priority score in [0,1].
func priorityScore(t *model.Task, userEnergy int, now time.Time) float64 {
	score := weightPriority * priorityWeight(t.Priority)
	if t.IsCritical {
		score += weightCritical
	}
	if t.IsUrgent {
		score += weightUrgent
	}

	energyFit := 1.0 - float64(abs(requiredEnergy(t)-userEnergy))/4.0
	score += weightEnergy * clamp01(energyFit)

	age := now.Sub(t.CreatedAt)
	recency := 1.0 - float64(age)/float64(recencyHorizon)
	score += weightRecency * clamp01(recency)

	return clamp01(score)
}

// candidate pairs a task with its score and working schedule.
type candidate struct {
	task  model.Task
	score float64

	predictedStart time.Time
	predictedEnd   time.Time
}

// sortCandidates orders by score descending; ties break by earlier
// original start, then by task id, so output is stable across runs.
func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if !cands[i].task.Start.Equal(cands[j].task.Start) {
			return cands[i].task.Start.Before(cands[j].task.Start)
		}
		return cands[i].task.ID < cands[j].task.ID
	})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
