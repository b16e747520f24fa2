package plan

import (
	"time"

	"github.com/nhle/lifeflow/internal/model"
)

const (
	// snoozeRateThreshold is the snooze rate at which a start-hour bucket
	// is considered a bad time for the user.
	snoozeRateThreshold = 0.5

	// snoozeMinSamples guards the rate against tiny buckets.
	snoozeMinSamples = 4

	snoozeShift = time.Hour

	// Tasks snoozed more than snoozeDampAfter times inside the feedback
	// window have their score damped before ordering.
	snoozeDampAfter  = 2
	snoozeDampFactor = 0.9
)

// snoozeCounts tallies snoozes per task over the feedback window.
func snoozeCounts(feedback []model.TaskFeedback) map[string]int {
	counts := make(map[string]int)
	for _, fb := range feedback {
		if fb.Action == model.FeedbackSnoozed {
			counts[fb.TaskID]++
		}
	}
	return counts
}

// dampRepeatedlySnoozed lowers the score of tasks the user keeps
// pushing away.
func dampRepeatedlySnoozed(c *candidate, counts map[string]int) {
	if counts[c.task.ID] > snoozeDampAfter {
		c.score *= snoozeDampFactor
	}
}

// snoozeProfile aggregates feedback into per-hour snooze rates.
type snoozeProfile struct {
	total   [24]int
	snoozed [24]int
}

// buildSnoozeProfile buckets feedback by the hour of day it was acted
// on, in the user's zone.
func buildSnoozeProfile(feedback []model.TaskFeedback, loc *time.Location) *snoozeProfile {
	p := &snoozeProfile{}
	for _, fb := range feedback {
		h := fb.At.In(loc).Hour()
		p.total[h]++
		if fb.Action == model.FeedbackSnoozed {
			p.snoozed[h]++
		}
	}
	return p
}

// shouldShift reports whether tasks starting at hour tend to get snoozed.
func (p *snoozeProfile) shouldShift(hour int) bool {
	if p.total[hour] < snoozeMinSamples {
		return false
	}
	return float64(p.snoozed[hour])/float64(p.total[hour]) >= snoozeRateThreshold
}

// applySnoozeLearning shifts a candidate one hour later when its start
// falls in a heavily snoozed bucket, capped to the working window end.
func (p *snoozeProfile) applySnoozeLearning(c *candidate, loc *time.Location, windowEnd time.Time) {
	hour := c.predictedStart.In(loc).Hour()
	if !p.shouldShift(hour) {
		return
	}

	duration := c.predictedEnd.Sub(c.predictedStart)
	shifted := c.predictedStart.Add(snoozeShift)
	if shifted.Add(duration).After(windowEnd) {
		shifted = windowEnd.Add(-duration)
	}
	if shifted.Before(c.predictedStart) {
		return
	}
	c.predictedStart = shifted
	c.predictedEnd = shifted.Add(duration)
}
