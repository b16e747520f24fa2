package calendar

// eventTime is either a timed instant or an all-day date.
type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type attendee struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Self        bool   `json:"self,omitempty"`
}

// apiEvent is the wire shape of one calendar event.
type apiEvent struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       eventTime  `json:"start"`
	End         eventTime  `json:"end"`
	Attendees   []attendee `json:"attendees,omitempty"`
	Recurrence  []string   `json:"recurrence,omitempty"`
	EventType   string     `json:"eventType,omitempty"`
	Updated     string     `json:"updated,omitempty"`
}

// eventsResponse is one page of the events list endpoint.
type eventsResponse struct {
	Items         []apiEvent `json:"items"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
}
