package ical

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDateTime parses the date-time shapes that show up in calendar
// feeds. loc is the zone applied to floating local times (nil means
// time.Local). The second return is true for date-only (all-day) values.
func ParseDateTime(s string, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.Local
	}

	if len(s) == 8 {
		t, err := time.ParseInLocation("20060102", s, loc)
		return t, true, err
	}

	if len(s) == 15 {
		t, err := time.ParseInLocation("20060102T150405", s, loc)
		return t, false, err
	}
	if len(s) == 16 && strings.HasSuffix(s, "Z") {
		t, err := time.Parse("20060102T150405Z", s)
		return t, false, err
	}

	t, err := time.Parse(time.RFC3339, s)
	return t, false, err
}

// ParseOffset parses a numeric UTC offset of the form +HHMM or -HHMM.
func ParseOffset(s string) (*time.Location, error) {
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return nil, fmt.Errorf("invalid offset %q", s)
	}
	hours, err := strconv.Atoi(s[1:3])
	if err != nil {
		return nil, fmt.Errorf("invalid offset %q", s)
	}
	minutes, err := strconv.Atoi(s[3:5])
	if err != nil {
		return nil, fmt.Errorf("invalid offset %q", s)
	}
	seconds := hours*3600 + minutes*60
	if s[0] == '-' {
		seconds = -seconds
	}
	return time.FixedZone(s, seconds), nil
}

// Zone resolves a named zone, falling back to local time when the name is
// unknown. The second return reports whether the name resolved.
func Zone(name string) (*time.Location, bool) {
	if name == "" {
		return time.Local, false
	}
	if loc, err := ParseOffset(name); err == nil {
		return loc, true
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local, false
	}
	return loc, true
}

// IsAllDay reports whether an event is an all-day event: its start was
// date-only, or start and end are both exact midnights exactly 24h apart.
func IsAllDay(start, end time.Time, startDateOnly bool) bool {
	if startDateOnly {
		return true
	}
	return isMidnight(start) && isMidnight(end) && end.Sub(start) == 24*time.Hour
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}

// ParseDuration parses an RFC 5545 duration (P1DT2H30M).
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration format")
	}

	var weeks, days, hours, minutes, seconds int
	var inTime bool
	var current strings.Builder

	for _, r := range s[1:] {
		switch r {
		case 'W':
			if n, err := strconv.Atoi(current.String()); err == nil {
				weeks = n
			}
			current.Reset()
		case 'D':
			if n, err := strconv.Atoi(current.String()); err == nil {
				days = n
			}
			current.Reset()
		case 'T':
			inTime = true
			current.Reset()
		case 'H':
			if inTime {
				if n, err := strconv.Atoi(current.String()); err == nil {
					hours = n
				}
			}
			current.Reset()
		case 'M':
			if inTime {
				if n, err := strconv.Atoi(current.String()); err == nil {
					minutes = n
				}
			}
			current.Reset()
		case 'S':
			if inTime {
				if n, err := strconv.Atoi(current.String()); err == nil {
					seconds = n
				}
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}

	d := time.Duration(weeks)*7*24*time.Hour +
		time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
	if neg {
		d = -d
	}
	return d, nil
}
