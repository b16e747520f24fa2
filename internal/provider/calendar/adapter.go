package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nhle/lifeflow/internal/provider"
)

// Adapter implements provider.CalendarSource against a Google-style
// calendar REST API.
type Adapter struct {
	client     *Client
	calendarID string
}

// NewAdapter creates a calendar adapter for one calendar.
func NewAdapter(baseURL, token, calendarID string) *Adapter {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Adapter{
		client:     NewClient(baseURL, token),
		calendarID: calendarID,
	}
}

var _ provider.CalendarSource = (*Adapter)(nil)

// FetchEvents retrieves every non-cancelled event inside the window,
// following pagination until the provider reports no further pages.
func (a *Adapter) FetchEvents(ctx context.Context, w provider.Window) ([]provider.Event, error) {
	var (
		events    []provider.Event
		pageToken string
	)

	for {
		q := url.Values{}
		q.Set("timeMin", w.Start.UTC().Format(time.RFC3339))
		q.Set("timeMax", w.End.UTC().Format(time.RFC3339))
		q.Set("singleEvents", "true")
		q.Set("maxResults", "250")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		path := fmt.Sprintf("/calendars/%s/events?%s",
			url.PathEscape(a.calendarID), q.Encode())

		var page eventsResponse
		if err := a.client.Get(ctx, path, &page); err != nil {
			return nil, fmt.Errorf("fetching calendar events: %w", err)
		}

		for _, item := range page.Items {
			ev, err := apiEventToEvent(item)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}

		if page.NextPageToken == "" {
			return events, nil
		}
		pageToken = page.NextPageToken
	}
}

// apiEventToEvent converts a wire event to the provider-neutral shape.
// Cancelled events often arrive without times, so they skip time parsing.
func apiEventToEvent(item apiEvent) (provider.Event, error) {
	raw, _ := json.Marshal(item)

	if item.Status == "cancelled" {
		return provider.Event{
			ID:     item.ID,
			Status: item.Status,
			Title:  item.Summary,
			Raw:    string(raw),
		}, nil
	}

	start, allDay, err := parseEventTime(item.Start)
	if err != nil {
		return provider.Event{}, fmt.Errorf("event %s start: %w", item.ID, err)
	}
	end, _, err := parseEventTime(item.End)
	if err != nil {
		return provider.Event{}, fmt.Errorf("event %s end: %w", item.ID, err)
	}
	if end.Before(start) {
		end = start
	}

	var attendees []string
	for _, at := range item.Attendees {
		if at.Self {
			continue
		}
		if at.DisplayName != "" {
			attendees = append(attendees, at.DisplayName)
		} else {
			attendees = append(attendees, at.Email)
		}
	}

	var updated time.Time
	if item.Updated != "" {
		updated, _ = time.Parse(time.RFC3339, item.Updated)
	}

	return provider.Event{
		ID:          item.ID,
		Status:      item.Status,
		Title:       item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
		AllDay:      allDay,
		Attendees:   attendees,
		Location:    item.Location,
		Recurrence:  strings.Join(item.Recurrence, "\n"),
		EventType:   item.EventType,
		UpdatedAt:   updated,
		Raw:         string(raw),
	}, nil
}

// parseEventTime handles both timed instants and all-day dates.
func parseEventTime(et eventTime) (time.Time, bool, error) {
	if et.DateTime != "" {
		t, err := time.Parse(time.RFC3339, et.DateTime)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parsing %q: %w", et.DateTime, err)
		}
		return t.UTC(), false, nil
	}
	if et.Date != "" {
		loc := time.UTC
		if et.TimeZone != "" {
			if l, err := time.LoadLocation(et.TimeZone); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation("2006-01-02", et.Date, loc)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parsing %q: %w", et.Date, err)
		}
		return t.UTC(), true, nil
	}
	return time.Time{}, false, fmt.Errorf("event time has neither dateTime nor date")
}
