package calendar

import (
	"fmt"
	"time"

	calendar "google.golang.org/api/calendar/v3"
)

// EventInput represents the input for creating a calendar event
type EventInput struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Attendees   []string
}

// EventSummary represents a simplified calendar event
type EventSummary struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Status      string
}

// TimeRange represents a half-open [Start, End) interval
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two ranges share any time.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// toEventSummary converts a Google Calendar event to our simplified
// form. A malformed start or end is an error, never a zero time: a zero
// time would read downstream as a real instant in 1 AD.
func toEventSummary(event *calendar.Event) (EventSummary, error) {
	summary := EventSummary{
		ID:          event.Id,
		Summary:     event.Summary,
		Description: event.Description,
		Status:      event.Status,
	}

	if event.Start != nil {
		t, err := parseEventTime(event.Start)
		if err != nil {
			return EventSummary{}, fmt.Errorf("event %s has a malformed start: %w", event.Id, err)
		}
		summary.Start = t
	}
	if event.End != nil {
		t, err := parseEventTime(event.End)
		if err != nil {
			return EventSummary{}, fmt.Errorf("event %s has a malformed end: %w", event.Id, err)
		}
		summary.End = t
	}

	return summary, nil
}

// parseEventTime handles both timed (DateTime) and all-day (Date) events
func parseEventTime(edt *calendar.EventDateTime) (time.Time, error) {
	if edt.DateTime != "" {
		return time.Parse(time.RFC3339, edt.DateTime)
	}
	if edt.Date != "" {
		return time.Parse("2006-01-02", edt.Date)
	}
	return time.Time{}, fmt.Errorf("event time carries neither dateTime nor date")
}
