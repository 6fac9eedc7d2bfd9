package calendar

import (
	"strings"
	"time"

	"github.com/sonroyaalmerol/calfeed/internal/storage"
)

// dedupeKey identifies duplicate events across sources: same trimmed
// case-folded title, same instants, same location name (both absent
// counts as a match).
func dedupeKey(ev *storage.Event) string {
	loc := ""
	if ev.Location != nil {
		loc = ev.Location.Name
	}
	return strings.ToLower(strings.TrimSpace(ev.Title)) + "\x1f" +
		ev.Start.UTC().Format(time.RFC3339Nano) + "\x1f" +
		ev.End.UTC().Format(time.RFC3339Nano) + "\x1f" +
		strings.ToLower(strings.TrimSpace(loc))
}

// Dedupe collapses duplicate groups to a single event: the most recently
// modified wins, ties break on the smallest source id, then event id. The
// winner keeps its own source id. Input order of surviving keys is kept.
func Dedupe(events []*storage.Event) []*storage.Event {
	if len(events) < 2 {
		return events
	}

	winners := make(map[string]*storage.Event, len(events))
	order := make([]string, 0, len(events))

	for _, ev := range events {
		key := dedupeKey(ev)
		cur, seen := winners[key]
		if !seen {
			winners[key] = ev
			order = append(order, key)
			continue
		}
		if betterDuplicate(ev, cur) {
			winners[key] = ev
		}
	}

	out := make([]*storage.Event, 0, len(order))
	for _, key := range order {
		out = append(out, winners[key])
	}
	return out
}

func betterDuplicate(a, b *storage.Event) bool {
	if !a.LastModified.Equal(b.LastModified) {
		return a.LastModified.After(b.LastModified)
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.ID < b.ID
}
