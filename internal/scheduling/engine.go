package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stephenschoettler/frontdesk-ai/internal/calendar"
	"github.com/stephenschoettler/frontdesk-ai/internal/logging"
	"github.com/stephenschoettler/frontdesk-ai/internal/model"
)

// maxSlotsReturned caps how many open slots a single query returns. A
// voice agent reads slots aloud; more than a handful is unusable.
const maxSlotsReturned = 8

// listHorizon is how far ahead ListForCaller looks for bookings.
const listHorizon = 30 * 24 * time.Hour

// summaryPrefix marks events this engine created.
const summaryPrefix = "Appointment: "

// CalendarAPI is the slice of the calendar client the engine uses.
type CalendarAPI interface {
	BusyIntervals(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]calendar.TimeRange, error)
	CreateEvent(ctx context.Context, calendarID string, input calendar.EventInput) (*calendar.EventSummary, error)
	GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.EventSummary, error)
	UpdateEventTime(ctx context.Context, calendarID, eventID string, start, end time.Time, timeZone string) (*calendar.EventSummary, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]calendar.EventSummary, error)
}

// ClientProvider yields a calendar client authenticated for a tenant.
type ClientProvider interface {
	ClientFor(ctx context.Context, tenantID string) (CalendarAPI, error)
}

// ClientProviderFunc adapts a function to the ClientProvider interface.
type ClientProviderFunc func(ctx context.Context, tenantID string) (CalendarAPI, error)

func (f ClientProviderFunc) ClientFor(ctx context.Context, tenantID string) (CalendarAPI, error) {
	return f(ctx, tenantID)
}

// TenantLoader loads tenant scheduling configuration.
type TenantLoader interface {
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
}

// TimeOfDay filters slot queries to part of the business day.
type TimeOfDay string

const (
	TimeOfDayAny       TimeOfDay = ""
	TimeOfDayMorning   TimeOfDay = "morning"
	TimeOfDayAfternoon TimeOfDay = "afternoon"
)

// ParseTimeOfDay validates a caller-supplied time-of-day filter.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	switch TimeOfDay(strings.ToLower(strings.TrimSpace(s))) {
	case TimeOfDayAny:
		return TimeOfDayAny, nil
	case TimeOfDayMorning:
		return TimeOfDayMorning, nil
	case TimeOfDayAfternoon:
		return TimeOfDayAfternoon, nil
	default:
		return TimeOfDayAny, fmt.Errorf("invalid time of day %q: want morning or afternoon", s)
	}
}

// Slot is an open appointment slot in the tenant's timezone.
type Slot struct {
	Start time.Time `json:"start_iso"`
	End   time.Time `json:"end_iso"`
	Label string    `json:"human_readable"`
}

// Booking is a confirmed appointment.
type Booking struct {
	ID         string    `json:"id"`
	CallerName string    `json:"caller_name,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// Engine implements slot finding and booking on top of a per-tenant
// calendar client. It holds no per-tenant state of its own; the
// calendar is the source of truth, which is why every mutation
// re-checks availability right before writing.
type Engine struct {
	tenants TenantLoader
	clients ClientProvider
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates a scheduling engine.
func NewEngine(tenants TenantLoader, clients ClientProvider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		tenants: tenants,
		clients: clients,
		logger:  logging.WithComponent(logger, "scheduling"),
		now:     time.Now,
	}
}

// AvailableSlots returns open slots for the given day within the
// tenant's business hours, chronological, capped at maxSlotsReturned.
// Slots already started and slots that would not fit entirely inside
// business hours are never offered.
func (e *Engine) AvailableSlots(ctx context.Context, tenantID string, day time.Time, filter TimeOfDay) ([]Slot, error) {
	tenant, loc, err := e.tenantLocation(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	client, err := e.clients.ClientFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// The day's date components are taken as-is and anchored in the
	// tenant's timezone, so a UTC-parsed "2026-09-10" still means
	// September 10th locally.
	y, m, d := day.Date()
	windowStart := time.Date(y, m, d, tenant.BusinessHoursStart, 0, 0, 0, loc)
	windowEnd := time.Date(y, m, d, tenant.BusinessHoursEnd, 0, 0, 0, loc)
	if !windowEnd.After(e.now()) {
		return []Slot{}, nil
	}

	var busy []calendar.TimeRange
	err = e.callProvider(ctx, "available_slots", func(ctx context.Context) error {
		busy, err = client.BusyIntervals(ctx, tenant.CalendarID, windowStart, windowEnd)
		return err
	})
	if err != nil {
		return nil, err
	}

	duration := slotDuration(tenant)
	now := e.now()

	slots := []Slot{}
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(duration) {
		if t.Before(now) {
			continue
		}
		if !matchesTimeOfDay(t, filter) {
			continue
		}
		candidate := calendar.TimeRange{Start: t, End: t.Add(duration)}
		if overlapsAny(candidate, busy) {
			continue
		}
		slots = append(slots, Slot{
			Start: t,
			End:   candidate.End,
			Label: t.Format("3:04 PM"),
		})
		if len(slots) == maxSlotsReturned {
			break
		}
	}

	return slots, nil
}

// Book creates an appointment at the given start time. Availability is
// re-checked immediately before the write; a slot taken since the
// caller saw it surfaces as slot_conflict so the agent can offer
// alternatives instead of double-booking.
func (e *Engine) Book(ctx context.Context, tenantID string, start, end time.Time, callerName, callerPhone string) (*Booking, error) {
	tenant, loc, err := e.tenantLocation(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	client, err := e.clients.ClientFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	start = start.In(loc)
	end = end.In(loc)
	if err := e.validateSlot(tenant, start, end); err != nil {
		return nil, err
	}

	if err := e.checkSlotFree(ctx, client, tenant, start, end, nil); err != nil {
		return nil, err
	}

	var created *calendar.EventSummary
	err = e.callProvider(ctx, "book", func(ctx context.Context) error {
		created, err = client.CreateEvent(ctx, tenant.CalendarID, calendar.EventInput{
			Summary:     summaryPrefix + callerName,
			Description: fmt.Sprintf("Booked by phone.\nPhone: %s", callerPhone),
			Start:       start,
			End:         end,
			TimeZone:    tenant.Timezone,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("booked appointment",
		logging.Tenant(tenantID), "booking_id", created.ID, "start", start)

	return &Booking{ID: created.ID, CallerName: callerName, Start: start, End: end}, nil
}

// Reschedule moves an existing appointment to a new start time. The
// booking must exist and belong to the calling phone number; anything
// else is indistinguishable from an unknown ID on purpose.
func (e *Engine) Reschedule(ctx context.Context, tenantID, bookingID string, newStart, newEnd time.Time, callerPhone string) (*Booking, error) {
	tenant, loc, err := e.tenantLocation(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	client, err := e.clients.ClientFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	existing, err := e.ownedEvent(ctx, client, tenant, bookingID, callerPhone)
	if err != nil {
		return nil, err
	}

	newStart = newStart.In(loc)
	newEnd = newEnd.In(loc)
	if err := e.validateSlot(tenant, newStart, newEnd); err != nil {
		return nil, err
	}

	// The booking's own interval reads as busy; conflicts inside it
	// don't count.
	own := &calendar.TimeRange{Start: existing.Start, End: existing.End}
	if err := e.checkSlotFree(ctx, client, tenant, newStart, newEnd, own); err != nil {
		return nil, err
	}

	var updated *calendar.EventSummary
	err = e.callProvider(ctx, "reschedule", func(ctx context.Context) error {
		updated, err = client.UpdateEventTime(ctx, tenant.CalendarID, bookingID, newStart, newEnd, tenant.Timezone)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, model.ErrInvalidBookingID
		}
		return nil, err
	}

	e.logger.Info("rescheduled appointment",
		logging.Tenant(tenantID), "booking_id", bookingID, "new_start", newStart)

	return &Booking{
		ID:         updated.ID,
		CallerName: callerNameFromSummary(updated.Summary),
		Start:      newStart,
		End:        newEnd,
	}, nil
}

// Cancel deletes an appointment owned by the calling phone number.
func (e *Engine) Cancel(ctx context.Context, tenantID, bookingID, callerPhone string) error {
	tenant, _, err := e.tenantLocation(ctx, tenantID)
	if err != nil {
		return err
	}
	client, err := e.clients.ClientFor(ctx, tenantID)
	if err != nil {
		return err
	}

	if _, err := e.ownedEvent(ctx, client, tenant, bookingID, callerPhone); err != nil {
		return err
	}

	err = e.callProvider(ctx, "cancel", func(ctx context.Context) error {
		return client.DeleteEvent(ctx, tenant.CalendarID, bookingID)
	})
	if err != nil {
		if isNotFound(err) {
			return model.ErrInvalidBookingID
		}
		return err
	}

	e.logger.Info("cancelled appointment", logging.Tenant(tenantID), "booking_id", bookingID)
	return nil
}

// ListForCaller returns the caller's upcoming appointments, matched by
// phone number. This is the only way a caller learns booking IDs, so
// reschedule and cancel are gated on the same phone match.
func (e *Engine) ListForCaller(ctx context.Context, tenantID, callerPhone string) ([]Booking, error) {
	tenant, loc, err := e.tenantLocation(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	client, err := e.clients.ClientFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var events []calendar.EventSummary
	err = e.callProvider(ctx, "list_for_caller", func(ctx context.Context) error {
		events, err = client.ListEvents(ctx, tenant.CalendarID, now, now.Add(listHorizon))
		return err
	})
	if err != nil {
		return nil, err
	}

	bookings := []Booking{}
	for _, ev := range events {
		if ev.Status == "cancelled" {
			continue
		}
		if !phoneMatches(ev.Description, callerPhone) {
			continue
		}
		bookings = append(bookings, Booking{
			ID:         ev.ID,
			CallerName: callerNameFromSummary(ev.Summary),
			Start:      ev.Start.In(loc),
			End:        ev.End.In(loc),
		})
	}

	return bookings, nil
}

func (e *Engine) tenantLocation(ctx context.Context, tenantID string) (*model.Tenant, *time.Location, error) {
	tenant, err := e.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	loc, err := time.LoadLocation(tenant.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("tenant %s has invalid timezone %q: %w", tenantID, tenant.Timezone, err)
	}
	return tenant, loc, nil
}

// validateSlot rejects windows that are in the past, the wrong length
// for the tenant, or outside business hours.
func (e *Engine) validateSlot(tenant *model.Tenant, start, end time.Time) error {
	if start.Before(e.now()) {
		return model.NewDomainError(model.KindSlotNotFound, "requested time is in the past")
	}
	if end.Sub(start) != slotDuration(tenant) {
		return model.NewDomainError(model.KindSlotNotFound,
			fmt.Sprintf("appointments are %d minutes long", tenant.SlotDurationMinutes))
	}
	windowStart, windowEnd := businessWindow(tenant, start)
	if start.Before(windowStart) || end.After(windowEnd) {
		return model.NewDomainError(model.KindSlotNotFound,
			fmt.Sprintf("requested time is outside business hours (%02d:00-%02d:00)",
				tenant.BusinessHoursStart, tenant.BusinessHoursEnd))
	}
	return nil
}

// checkSlotFree queries busy intervals for exactly the requested window
// and fails with slot_conflict on any overlap. ignore, when set, is the
// caller's own current booking interval.
func (e *Engine) checkSlotFree(ctx context.Context, client CalendarAPI, tenant *model.Tenant, start, end time.Time, ignore *calendar.TimeRange) error {
	var busy []calendar.TimeRange
	err := e.callProvider(ctx, "conflict_check", func(ctx context.Context) error {
		var err error
		busy, err = client.BusyIntervals(ctx, tenant.CalendarID, start, end)
		return err
	})
	if err != nil {
		return err
	}

	candidate := calendar.TimeRange{Start: start, End: end}
	for _, b := range busy {
		if ignore != nil && !b.Start.Before(ignore.Start) && !b.End.After(ignore.End) {
			continue
		}
		if candidate.Overlaps(b) {
			return model.NewDomainError(model.KindSlotConflict,
				"the requested time was just taken")
		}
	}
	return nil
}

// ownedEvent fetches a booking and verifies the calling phone number
// matches the one recorded at booking time. Unknown IDs and ownership
// mismatches both return invalid_booking_id so the response does not
// reveal whether someone else's booking exists.
func (e *Engine) ownedEvent(ctx context.Context, client CalendarAPI, tenant *model.Tenant, bookingID, callerPhone string) (*calendar.EventSummary, error) {
	var event *calendar.EventSummary
	err := e.callProvider(ctx, "get_booking", func(ctx context.Context) error {
		var err error
		event, err = client.GetEvent(ctx, tenant.CalendarID, bookingID)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, model.ErrInvalidBookingID
		}
		return nil, err
	}

	if event.Status == "cancelled" || !phoneMatches(event.Description, callerPhone) {
		return nil, model.ErrInvalidBookingID
	}
	return event, nil
}

func businessWindow(tenant *model.Tenant, day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, tenant.BusinessHoursStart, 0, 0, 0, day.Location())
	end := time.Date(y, m, d, tenant.BusinessHoursEnd, 0, 0, 0, day.Location())
	return start, end
}

func slotDuration(tenant *model.Tenant) time.Duration {
	return time.Duration(tenant.SlotDurationMinutes) * time.Minute
}

func matchesTimeOfDay(t time.Time, filter TimeOfDay) bool {
	switch filter {
	case TimeOfDayMorning:
		return t.Hour() < 12
	case TimeOfDayAfternoon:
		return t.Hour() >= 12
	default:
		return true
	}
}

func overlapsAny(candidate calendar.TimeRange, busy []calendar.TimeRange) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}

func callerNameFromSummary(summary string) string {
	return strings.TrimPrefix(summary, summaryPrefix)
}

// phoneMatches compares phone numbers digit-by-digit so formatting
// differences ("+1 (555) 010-1234" vs "15550101234") don't break
// ownership checks. Numbers shorter than 7 digits never match.
func phoneMatches(description, callerPhone string) bool {
	caller := digitsOnly(callerPhone)
	if len(caller) < 7 {
		return false
	}
	return strings.Contains(digitsOnly(description), caller)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
