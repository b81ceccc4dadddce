package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	calendar "google.golang.org/api/calendar/v3"
)

func TestParseEventTime(t *testing.T) {
	got, err := parseEventTime(&calendar.EventDateTime{DateTime: "2026-09-10T10:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC), got)

	got, err = parseEventTime(&calendar.EventDateTime{Date: "2026-09-10"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC), got)
}

func TestParseEventTimeMalformed(t *testing.T) {
	_, err := parseEventTime(&calendar.EventDateTime{DateTime: "tomorrow at ten"})
	assert.Error(t, err)

	_, err = parseEventTime(&calendar.EventDateTime{})
	assert.Error(t, err)
}

func TestToEventSummaryRejectsMalformedTimes(t *testing.T) {
	_, err := toEventSummary(&calendar.Event{
		Id:    "evt-1",
		Start: &calendar.EventDateTime{DateTime: "not a timestamp"},
		End:   &calendar.EventDateTime{DateTime: "2026-09-10T10:30:00Z"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evt-1")
}

func TestToEventSummary(t *testing.T) {
	got, err := toEventSummary(&calendar.Event{
		Id:          "evt-1",
		Summary:     "Appointment: Dana Reyes",
		Description: "Phone: 5550101234",
		Status:      "confirmed",
		Start:       &calendar.EventDateTime{DateTime: "2026-09-10T10:00:00Z"},
		End:         &calendar.EventDateTime{DateTime: "2026-09-10T10:30:00Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got.ID)
	assert.Equal(t, time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC), got.Start)
	assert.Equal(t, time.Date(2026, 9, 10, 10, 30, 0, 0, time.UTC), got.End)
}

func TestTimeRangeOverlaps(t *testing.T) {
	base := TimeRange{
		Start: time.Date(2026, 9, 10, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 9, 10, 10, 30, 0, 0, time.UTC),
	}

	// Touching ranges do not overlap; the interval is half-open.
	assert.False(t, base.Overlaps(TimeRange{
		Start: base.End,
		End:   base.End.Add(30 * time.Minute),
	}))
	assert.True(t, base.Overlaps(TimeRange{
		Start: base.Start.Add(15 * time.Minute),
		End:   base.End.Add(15 * time.Minute),
	}))
}
