// Package adapters holds the pieces shared by the per-protocol source
// adapters.
package adapters

import (
	"fmt"
	"time"

	"github.com/sonroyaalmerol/calfeed/internal/calendar"
	"github.com/sonroyaalmerol/calfeed/internal/storage"
	pkgical "github.com/sonroyaalmerol/calfeed/pkg/ical"
)

// Normalize maps a parsed VEVENT onto the shared event model. The
// normalized id is "<sourceID>:<uid>"; LastModified falls back to
// fetchedAt when the feed carries neither LAST-MODIFIED nor DTSTAMP.
func Normalize(ev *pkgical.Event, sourceID string, fetchedAt time.Time) (*storage.Event, error) {
	if ev.UID == "" {
		return nil, fmt.Errorf("%w: event has no UID", calendar.ErrNormalization)
	}
	if ev.End.Before(ev.Start) {
		return nil, fmt.Errorf("%w: event %q ends before it starts", calendar.ErrNormalization, ev.UID)
	}

	out := &storage.Event{
		ID:           sourceID + ":" + ev.UID,
		SourceID:     sourceID,
		Title:        ev.Summary,
		Description:  ev.Description,
		Start:        ev.Start,
		End:          ev.End,
		Categories:   ev.Categories,
		URL:          ev.URL,
		LastModified: ev.LastModified,
	}
	if out.LastModified.IsZero() {
		out.LastModified = fetchedAt
	}
	if ev.Location != "" {
		out.Location = &storage.Location{Name: ev.Location}
	}
	if ev.Organizer.Name != "" || ev.Organizer.Email != "" {
		out.Organizer = &storage.Organizer{Name: ev.Organizer.Name, Email: ev.Organizer.Email}
	}
	if ev.Recurrence != nil {
		out.Recurrence = &storage.Recurrence{
			Rule:      ev.Recurrence.Rule,
			Frequency: ev.Recurrence.Frequency,
			Interval:  ev.Recurrence.Interval,
			Count:     ev.Recurrence.Count,
			Until:     ev.Recurrence.Until,
		}
	}
	return out, nil
}

// Overlaps reports whether the event intersects the range.
func Overlaps(ev *pkgical.Event, r storage.DateRange) bool {
	return !ev.End.Before(r.Start) && !ev.Start.After(r.End)
}
