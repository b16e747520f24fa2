package ingest

import "sync/atomic"

// maxReportErrors bounds the error list carried back to callers; overflow
// is still counted in the stage counters.
const maxReportErrors = 20

// RunReport is the observable outcome of one pipeline run.
type RunReport struct {
	Fetched          int      `json:"fetched"`
	Extracted        int      `json:"extracted"`
	SkippedSpam      int      `json:"skipped_spam"`
	SkippedOther     int      `json:"skipped_other"`
	PersistedNew     int      `json:"persisted_new"`
	PersistedUpdated int      `json:"persisted_updated"`
	Encoded          int      `json:"encoded"`
	Errors           []string `json:"errors,omitempty"`
}

func (r *RunReport) addError(msg string) {
	if len(r.Errors) < maxReportErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// Metrics is the running success-rate counter exposed to health checks.
// Counters are atomic; a run counts as failed when it aborts terminally.
type Metrics struct {
	runs     atomic.Int64
	failures atomic.Int64
}

func (m *Metrics) record(failed bool) {
	m.runs.Add(1)
	if failed {
		m.failures.Add(1)
	}
}

// SuccessRate returns the fraction of completed runs, 1.0 before any run.
func (m *Metrics) SuccessRate() float64 {
	runs := m.runs.Load()
	if runs == 0 {
		return 1.0
	}
	return 1.0 - float64(m.failures.Load())/float64(runs)
}

// Runs returns the total number of finished runs.
func (m *Metrics) Runs() int64 { return m.runs.Load() }
