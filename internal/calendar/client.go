package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/stephenschoettler/frontdesk-ai/internal/resolver"
)

// Client wraps the Google Calendar service for a single resolved
// credential. Clients are cheap and per-request; the token source they
// carry does any refreshing.
type Client struct {
	svc *calendar.Service
}

// NewClient creates a Calendar client from a resolved credential.
func NewClient(ctx context.Context, cred *resolver.Credential) (*Client, error) {
	if cred == nil {
		return nil, fmt.Errorf("credential cannot be nil")
	}
	return NewClientWithTokenSource(ctx, cred.TokenSource())
}

// NewClientWithTokenSource creates a Calendar client from a raw token
// source.
func NewClientWithTokenSource(ctx context.Context, ts oauth2.TokenSource) (*Client, error) {
	httpClient := oauth2.NewClient(ctx, ts)

	// Force HTTP/1.1 by disabling HTTP/2
	if transport, ok := httpClient.Transport.(*oauth2.Transport); ok {
		transport.Base = &http.Transport{
			ForceAttemptHTTP2: false,
		}
	}

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	return &Client{svc: svc}, nil
}

// NewClientWithService wraps an already-built service, for tests that
// point the service at a local HTTP fake.
func NewClientWithService(svc *calendar.Service) *Client {
	return &Client{svc: svc}
}

// BusyIntervals queries free/busy for a calendar within a time range.
// Intervals come back in the provider's order, which is chronological.
func (c *Client) BusyIntervals(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]TimeRange, error) {
	req := &calendar.FreeBusyRequest{
		TimeMin: timeMin.Format(time.RFC3339),
		TimeMax: timeMax.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}

	resp, err := c.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to query free/busy: %w", err)
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, fmt.Errorf("calendar %q missing from free/busy response", calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("free/busy query failed for %q: %s", calendarID, cal.Errors[0].Reason)
	}

	var busy []TimeRange
	for _, interval := range cal.Busy {
		start, err := time.Parse(time.RFC3339, interval.Start)
		if err != nil {
			return nil, fmt.Errorf("failed to parse busy interval start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, interval.End)
		if err != nil {
			return nil, fmt.Errorf("failed to parse busy interval end: %w", err)
		}
		busy = append(busy, TimeRange{Start: start, End: end})
	}

	return busy, nil
}

// CreateEvent creates a new calendar event
func (c *Client) CreateEvent(ctx context.Context, calendarID string, input EventInput) (*EventSummary, error) {
	tz := input.TimeZone
	if tz == "" {
		tz = "UTC"
	}

	event := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Start: &calendar.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: tz,
		},
		End: &calendar.EventDateTime{
			DateTime: input.End.Format(time.RFC3339),
			TimeZone: tz,
		},
	}

	if len(input.Attendees) > 0 {
		var attendees []*calendar.EventAttendee
		for _, email := range input.Attendees {
			attendees = append(attendees, &calendar.EventAttendee{Email: email})
		}
		event.Attendees = attendees
	}

	created, err := c.svc.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	summary, err := toEventSummary(created)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// GetEvent retrieves a specific event by ID
func (c *Client) GetEvent(ctx context.Context, calendarID, eventID string) (*EventSummary, error) {
	event, err := c.svc.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	summary, err := toEventSummary(event)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// UpdateEventTime moves an existing event to a new start/end, leaving
// every other field intact.
func (c *Client) UpdateEventTime(ctx context.Context, calendarID, eventID string, start, end time.Time, timeZone string) (*EventSummary, error) {
	if timeZone == "" {
		timeZone = "UTC"
	}

	patch := &calendar.Event{
		Start: &calendar.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: timeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: timeZone,
		},
	}

	updated, err := c.svc.Events.Patch(calendarID, eventID, patch).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to move event: %w", err)
	}

	summary, err := toEventSummary(updated)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// DeleteEvent deletes a calendar event
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// ListEvents lists events in a calendar within a time range, ordered by
// start time. Recurring events are expanded into instances.
func (c *Client) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]EventSummary, error) {
	events, err := c.svc.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	var summaries []EventSummary
	for _, event := range events.Items {
		summary, err := toEventSummary(event)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}
