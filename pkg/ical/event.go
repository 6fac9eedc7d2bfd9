package ical

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// Event is a parsed VEVENT, independent of any transport.
type Event struct {
	UID          string
	Summary      string
	Description  string
	Location     string
	URL          string
	Organizer    Organizer
	Categories   []string
	Start        time.Time
	End          time.Time
	AllDay       bool
	LastModified time.Time
	Recurrence   *Recurrence
}

type Organizer struct {
	Name  string
	Email string
}

// Recurrence is the parsed shape of an RRULE. The original rule text is
// always kept; the structured fields are best-effort.
type Recurrence struct {
	Rule      string
	Frequency string
	Interval  int
	Count     int
	Until     *time.Time
}

// ParseCalendar decodes an iCalendar stream and extracts its events.
// Malformed components are skipped.
func ParseCalendar(data []byte, loc *time.Location) ([]*Event, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}
	return EventsFromCalendar(cal, loc), nil
}

// EventsFromCalendar extracts the VEVENT components of a decoded
// calendar, skipping ones that fail to parse.
func EventsFromCalendar(cal *ical.Calendar, loc *time.Location) []*Event {
	var events []*Event
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		event, err := ParseComponent(comp, loc)
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	return events
}

// ParseComponent parses a single VEVENT component. loc applies to
// floating local times; a TZID parameter on the value wins when it
// resolves.
func ParseComponent(comp *ical.Component, loc *time.Location) (*Event, error) {
	event := &Event{}

	uid := comp.Props.Get(ical.PropUID)
	if uid == nil || uid.Value == "" {
		return nil, fmt.Errorf("missing UID")
	}
	event.UID = uid.Value

	if summary := comp.Props.Get(ical.PropSummary); summary != nil {
		event.Summary = summary.Value
	}
	if desc := comp.Props.Get(ical.PropDescription); desc != nil {
		event.Description = desc.Value
	}
	if location := comp.Props.Get(ical.PropLocation); location != nil {
		event.Location = location.Value
	}
	if url := comp.Props.Get(ical.PropURL); url != nil {
		event.URL = url.Value
	}
	if org := comp.Props.Get(ical.PropOrganizer); org != nil {
		event.Organizer.Email = strings.TrimPrefix(strings.ToLower(org.Value), "mailto:")
		event.Organizer.Name = org.Params.Get("CN")
	}
	if cats := comp.Props.Get(ical.PropCategories); cats != nil {
		for _, c := range strings.Split(cats.Value, ",") {
			c = strings.TrimSpace(c)
			if c != "" {
				event.Categories = append(event.Categories, c)
			}
		}
	}

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, fmt.Errorf("missing DTSTART")
	}
	start, dateOnly, err := ParseDateTime(dtstart.Value, propZone(dtstart, loc))
	if err != nil {
		return nil, fmt.Errorf("invalid DTSTART: %w", err)
	}
	event.Start = start

	switch {
	case comp.Props.Get(ical.PropDateTimeEnd) != nil:
		dtend := comp.Props.Get(ical.PropDateTimeEnd)
		end, _, err := ParseDateTime(dtend.Value, propZone(dtend, loc))
		if err != nil {
			return nil, fmt.Errorf("invalid DTEND: %w", err)
		}
		event.End = end
	case comp.Props.Get(ical.PropDuration) != nil:
		dur, err := ParseDuration(comp.Props.Get(ical.PropDuration).Value)
		if err != nil {
			return nil, fmt.Errorf("invalid DURATION: %w", err)
		}
		event.End = start.Add(dur)
	case dateOnly:
		event.End = start.Add(24 * time.Hour)
	default:
		event.End = start
	}
	if event.End.Before(event.Start) {
		return nil, fmt.Errorf("DTEND before DTSTART")
	}
	event.AllDay = IsAllDay(event.Start, event.End, dateOnly)

	if lm := comp.Props.Get(ical.PropLastModified); lm != nil {
		if t, _, err := ParseDateTime(lm.Value, time.UTC); err == nil {
			event.LastModified = t
		}
	}
	if event.LastModified.IsZero() {
		if stamp := comp.Props.Get(ical.PropDateTimeStamp); stamp != nil {
			if t, _, err := ParseDateTime(stamp.Value, time.UTC); err == nil {
				event.LastModified = t
			}
		}
	}

	if rr := comp.Props.Get(ical.PropRecurrenceRule); rr != nil {
		event.Recurrence = parseRecurrence(rr.Value)
	}

	return event, nil
}

func propZone(prop *ical.Prop, fallback *time.Location) *time.Location {
	if tzid := prop.Params.Get("TZID"); tzid != "" {
		if loc, ok := Zone(tzid); ok {
			return loc
		}
	}
	return fallback
}

// parseRecurrence keeps the rule text and fills structured fields when
// the rule parses. A rule rrule-go rejects is carried as text only.
func parseRecurrence(value string) *Recurrence {
	rec := &Recurrence{Rule: value, Interval: 1}

	opt, err := rrule.StrToROption(value)
	if err != nil {
		return rec
	}
	rec.Frequency = frequencyName(opt.Freq)
	if opt.Interval > 0 {
		rec.Interval = opt.Interval
	}
	rec.Count = opt.Count
	if !opt.Until.IsZero() {
		until := opt.Until
		rec.Until = &until
	}
	return rec
}

func frequencyName(f rrule.Frequency) string {
	switch f {
	case rrule.YEARLY:
		return "YEARLY"
	case rrule.MONTHLY:
		return "MONTHLY"
	case rrule.WEEKLY:
		return "WEEKLY"
	case rrule.DAILY:
		return "DAILY"
	case rrule.HOURLY:
		return "HOURLY"
	case rrule.MINUTELY:
		return "MINUTELY"
	case rrule.SECONDLY:
		return "SECONDLY"
	}
	return ""
}
