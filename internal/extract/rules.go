package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/lifeflow/internal/model"
)

var (
	highPriorityKeywords = []string{"urgent", "asap", "important", "critical", "eod", "!"}
	lowPriorityKeywords  = []string{"fyi", "optional", "tentative", "maybe"}
)

// priorityFromTitle applies the keyword rules for priority hints.
func priorityFromTitle(title string) model.Priority {
	t := strings.ToLower(title)
	if containsAny(t, highPriorityKeywords) {
		return model.PriorityHigh
	}
	if containsAny(t, lowPriorityKeywords) {
		return model.PriorityLow
	}
	return model.PriorityNormal
}

var (
	dueByPattern   = regexp.MustCompile(`(?i)(?:due|deadline)\s*(?:by|on|before)?\s*:?\s*(\d{4}[-/]\d{1,2}[-/]\d{1,2}|\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`)
	dueInDays      = regexp.MustCompile(`(?i)due\s+(?:in\s+)?(\d+)\s+days?`)
	dueInWeeks     = regexp.MustCompile(`(?i)due\s+(?:in\s+)?(\d+)\s+weeks?`)
	dueTomorrow    = regexp.MustCompile(`(?i)due\s+tomorrow`)
	dueNextWeek    = regexp.MustCompile(`(?i)due\s+next\s+week`)
	isoDatePattern = regexp.MustCompile(`(\d{4})[-/](\d{1,2})[-/](\d{1,2})`)
	slashDate      = regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})`)
)

// dueDateFromText extracts a due date from free text using the regex
// rules. reference anchors relative phrases like "due tomorrow".
// The zero time means no date was found.
func dueDateFromText(text string, reference time.Time) time.Time {
	if text == "" {
		return time.Time{}
	}
	if reference.IsZero() {
		reference = time.Now().UTC()
	}

	if dueTomorrow.MatchString(text) {
		return reference.AddDate(0, 0, 1)
	}
	if dueNextWeek.MatchString(text) {
		return reference.AddDate(0, 0, 7)
	}
	if m := dueInDays.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return reference.AddDate(0, 0, n)
		}
	}
	if m := dueInWeeks.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return reference.AddDate(0, 0, 7*n)
		}
	}
	if m := dueByPattern.FindStringSubmatch(text); m != nil {
		if t, ok := parseDate(m[1]); ok {
			return t
		}
	}
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		if t, ok := parseDate(m[0]); ok {
			return t
		}
	}
	return time.Time{}
}

// parseDate handles both YYYY-MM-DD and MM/DD/YYYY shapes.
func parseDate(s string) (time.Time, bool) {
	if m := isoDatePattern.FindStringSubmatch(s); m != nil && len(m[1]) == 4 {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if validDate(year, month, day) {
			return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
		}
		return time.Time{}, false
	}
	if m := slashDate.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
		if validDate(year, month, day) {
			return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func validDate(year, month, day int) bool {
	return year >= 2000 && year <= 2200 && month >= 1 && month <= 12 && day >= 1 && day <= 31
}
