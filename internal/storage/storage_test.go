package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintCanonicalizes(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &DateRange{Start: start, End: start.AddDate(0, 1, 0)}

	a := Query{
		SourceIDs:  []string{"s2", "s1"},
		Range:      r,
		Keywords:   []string{"Standup", "review"},
		Categories: []string{"work", "personal"},
	}
	b := Query{
		SourceIDs:  []string{"s1", "s2"},
		Range:      r,
		Keywords:   []string{"REVIEW", "standup"},
		Categories: []string{"personal", "work"},
	}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint(),
		"order and keyword case must not affect the fingerprint")
}

func TestFingerprintDistinguishesQueries(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &DateRange{Start: start, End: start.AddDate(0, 1, 0)}

	base := Query{SourceIDs: []string{"s1"}, Range: r}

	narrower := base
	narrower.Range = &DateRange{Start: start, End: start.AddDate(0, 0, 7)}
	assert.NotEqual(t, base.Fingerprint(), narrower.Fingerprint())

	other := base
	other.SourceIDs = []string{"s2"}
	assert.NotEqual(t, base.Fingerprint(), other.Fingerprint())

	filtered := base
	filtered.Keywords = []string{"standup"}
	assert.NotEqual(t, base.Fingerprint(), filtered.Fingerprint())
}

func TestFingerprintRangeNormalizesZone(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	offset := time.FixedZone("+0200", 2*3600)

	utc := Query{Range: &DateRange{Start: start, End: start.Add(time.Hour)}}
	zoned := Query{Range: &DateRange{
		Start: start.In(offset),
		End:   start.Add(time.Hour).In(offset),
	}}

	assert.Equal(t, utc.Fingerprint(), zoned.Fingerprint(),
		"the same instants in different zones are the same query")
}

func TestFingerprintFormat(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	q := Query{
		SourceIDs:  []string{"s1"},
		Range:      &DateRange{Start: start, End: start.Add(time.Hour)},
		Keywords:   []string{"Standup"},
		Categories: []string{"work"},
	}

	assert.Equal(t,
		"sources=s1|range=2024-03-01T00:00:00Z,2024-03-01T01:00:00Z|kw=standup|cat=work",
		q.Fingerprint())

	assert.Equal(t, "sources=|range=|kw=|cat=", Query{}.Fingerprint())
}
