package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrSchemaMismatch is returned when the database file was written by a
// newer schema version than this binary knows about.
var ErrSchemaMismatch = errors.New("storage: schema version mismatch")

type Location struct {
	Name    string
	Address string
}

type Organizer struct {
	Name  string
	Email string
}

// Recurrence is carried opaquely by the core; expansion happens in callers.
type Recurrence struct {
	Rule      string     `json:"rule"`
	Frequency string     `json:"frequency,omitempty"`
	Interval  int        `json:"interval,omitempty"`
	Count     int        `json:"count,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
}

// Event is the normalized calendar event shared by every source type.
// ID is unique within SourceID; by convention it is "<sourceID>:<rawID>".
type Event struct {
	ID           string
	SourceID     string
	Title        string
	Description  string
	Start        time.Time
	End          time.Time
	Location     *Location
	Organizer    *Organizer
	Categories   []string
	URL          string
	LastModified time.Time
	Recurrence   *Recurrence
}

type DateRange struct {
	Start time.Time
	End   time.Time
}

// Query is an AND-combined filter over cached events. The zero value
// matches everything.
type Query struct {
	SourceIDs  []string
	Range      *DateRange
	Keywords   []string
	Categories []string
}

// Fingerprint returns the canonical cache key for the query. Two queries
// with equal fingerprints are interchangeable.
func (q Query) Fingerprint() string {
	ids := make([]string, len(q.SourceIDs))
	copy(ids, q.SourceIDs)
	sort.Strings(ids)

	kws := make([]string, len(q.Keywords))
	for i, kw := range q.Keywords {
		kws[i] = strings.ToLower(kw)
	}
	sort.Strings(kws)

	cats := make([]string, len(q.Categories))
	copy(cats, q.Categories)
	sort.Strings(cats)

	var b strings.Builder
	b.WriteString("sources=")
	b.WriteString(strings.Join(ids, ","))
	b.WriteString("|range=")
	if q.Range != nil {
		b.WriteString(q.Range.Start.UTC().Format(time.RFC3339Nano))
		b.WriteString(",")
		b.WriteString(q.Range.End.UTC().Format(time.RFC3339Nano))
	}
	b.WriteString("|kw=")
	b.WriteString(strings.Join(kws, ","))
	b.WriteString("|cat=")
	b.WriteString(strings.Join(cats, ","))
	return b.String()
}

// Index is the persistent tier of the event cache: one row per
// (sourceID, eventID) plus a query_cache table keyed by fingerprint.
type Index interface {
	Close() error

	// UpsertEvents writes the batch in one transaction. An existing row is
	// only overwritten when the incoming LastModified is not older.
	UpsertEvents(ctx context.Context, events []*Event) error

	// StoreQueryResult upserts the events and records the fingerprint's
	// result set in query_cache, all in one transaction.
	StoreQueryResult(ctx context.Context, fingerprint string, events []*Event, ttl time.Duration) error

	// LookupQueryResult resolves a fingerprint recorded by StoreQueryResult.
	// It reports false when the fingerprint is unknown or its entry expired.
	LookupQueryResult(ctx context.Context, fingerprint string, now time.Time) ([]*Event, bool, error)

	FindByQuery(ctx context.Context, q Query) ([]*Event, error)
	FindByID(ctx context.Context, eventID string) (*Event, error)

	// DeleteBySource removes the source's events and every query_cache
	// entry whose result set references the source.
	DeleteBySource(ctx context.Context, sourceID string) error

	// CleanupExpired drops expired query_cache rows and event rows that
	// have not been seen by any refresh within the persistent TTL.
	CleanupExpired(ctx context.Context, now time.Time) (removed int64, err error)

	CountEvents(ctx context.Context) (int64, error)
}
