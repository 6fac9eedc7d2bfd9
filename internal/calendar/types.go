package calendar

import (
	"time"
)

type SourceType string

const (
	SourceTypeICal   SourceType = "ical"
	SourceTypeCalDAV SourceType = "caldav"
)

type SourceStatus string

const (
	SourceStatusActive   SourceStatus = "active"
	SourceStatusError    SourceStatus = "error"
	SourceStatusDisabled SourceStatus = "disabled"
)

// Credentials are opaque to the core; only adapters interpret them.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// Source is a configured remote calendar feed.
type Source struct {
	ID              string
	Name            string
	Type            SourceType
	URL             string
	Enabled         bool
	RefreshInterval time.Duration
	Status          SourceStatus
	Credentials     Credentials
	LastSync        time.Time
	LastError       string
}

// FetchResult is the per-source outcome of one coordinated fetch.
// FetchTime == 0 marks a result served from cache.
type FetchResult struct {
	SourceID   string
	Success    bool
	FetchTime  time.Duration
	Error      string
	EventCount int
}

type HealthStatus struct {
	SourceID     string
	Healthy      bool
	LastCheck    time.Time
	ResponseTime time.Duration
	Error        string
}

// SourceHealth is the adapter-level probe result wrapped by the monitor.
type SourceHealth struct {
	Healthy   bool
	LastCheck time.Time
	Error     string
}

// StatusSnapshot is the surface consumed by the HTTP bridge.
type StatusSnapshot struct {
	Timestamp    time.Time            `json:"timestamp"`
	ServerStatus string               `json:"serverStatus"`
	Sources      []SourceStatusRecord `json:"sources"`
}

type SourceStatusRecord struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Status   SourceStatus `json:"status"`
	LastSync *time.Time   `json:"lastSync,omitempty"`
	Error    string       `json:"error,omitempty"`
}
