package adapters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/calfeed/internal/calendar"
	"github.com/sonroyaalmerol/calfeed/internal/storage"
	pkgical "github.com/sonroyaalmerol/calfeed/pkg/ical"
)

func TestNormalize(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	until := start.AddDate(0, 3, 0)
	in := &pkgical.Event{
		UID:          "evt-1@example.com",
		Summary:      "Team Standup",
		Description:  "Daily sync",
		Location:     "Room 1",
		URL:          "https://example.com/evt-1",
		Organizer:    pkgical.Organizer{Name: "Alex", Email: "alex@example.com"},
		Categories:   []string{"work"},
		Start:        start,
		End:          start.Add(30 * time.Minute),
		LastModified: start.Add(-time.Hour),
		Recurrence:   &pkgical.Recurrence{Rule: "FREQ=WEEKLY", Frequency: "WEEKLY", Interval: 1, Until: &until},
	}

	out, err := Normalize(in, "team", time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, "team:evt-1@example.com", out.ID)
	assert.Equal(t, "team", out.SourceID)
	assert.Equal(t, "Team Standup", out.Title)
	assert.Equal(t, &storage.Location{Name: "Room 1"}, out.Location)
	assert.Equal(t, &storage.Organizer{Name: "Alex", Email: "alex@example.com"}, out.Organizer)
	assert.Equal(t, in.LastModified, out.LastModified)
	require.NotNil(t, out.Recurrence)
	assert.Equal(t, "FREQ=WEEKLY", out.Recurrence.Rule)
	assert.Equal(t, &until, out.Recurrence.Until)
}

func TestNormalizeLastModifiedFallsBackToFetchTime(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	fetchedAt := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	out, err := Normalize(&pkgical.Event{
		UID:   "evt-1",
		Start: start,
		End:   start.Add(time.Hour),
	}, "team", fetchedAt)
	require.NoError(t, err)
	assert.Equal(t, fetchedAt, out.LastModified)
	assert.Nil(t, out.Location)
	assert.Nil(t, out.Organizer)
}

func TestNormalizeRejectsBadEvents(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := Normalize(&pkgical.Event{Start: start, End: start.Add(time.Hour)}, "team", start)
	assert.ErrorIs(t, err, calendar.ErrNormalization)

	_, err = Normalize(&pkgical.Event{UID: "x", Start: start, End: start.Add(-time.Hour)}, "team", start)
	assert.ErrorIs(t, err, calendar.ErrNormalization)
}

func TestOverlaps(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	r := storage.DateRange{Start: start, End: start.Add(24 * time.Hour)}

	inside := &pkgical.Event{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)}
	assert.True(t, Overlaps(inside, r))

	touchingStart := &pkgical.Event{Start: start.Add(-time.Hour), End: start}
	assert.True(t, Overlaps(touchingStart, r), "boundary contact counts as overlap")

	before := &pkgical.Event{Start: start.Add(-2 * time.Hour), End: start.Add(-time.Hour)}
	assert.False(t, Overlaps(before, r))

	after := &pkgical.Event{Start: start.Add(25 * time.Hour), End: start.Add(26 * time.Hour)}
	assert.False(t, Overlaps(after, r))
}
