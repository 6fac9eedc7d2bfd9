// Package caldav implements the adapter for CalDAV collections queried
// with calendar-query REPORTs.
package caldav

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calfeed/internal/adapters"
	"github.com/sonroyaalmerol/calfeed/internal/calendar"
	"github.com/sonroyaalmerol/calfeed/internal/storage"
	pkgical "github.com/sonroyaalmerol/calfeed/pkg/ical"
)

type Adapter struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

func New(logger zerolog.Logger) *Adapter {
	return &Adapter{httpClient: &http.Client{}, logger: logger}
}

func (a *Adapter) SupportedType() calendar.SourceType {
	return calendar.SourceTypeCalDAV
}

// FetchEvents treats source.URL as the calendar collection and issues a
// time-range calendar-query against it.
func (a *Adapter) FetchEvents(ctx context.Context, source calendar.Source, r storage.DateRange) ([]calendar.RawEvent, error) {
	client, path, err := a.newClient(source)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			Comps:    []caldav.CalendarCompRequest{{Name: "VEVENT", AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: r.Start.UTC(),
				End:   r.End.UTC(),
			}},
		},
	}

	objects, err := client.QueryCalendar(ctx, path, query)
	if err != nil {
		return nil, classify(source, err)
	}

	var raw []calendar.RawEvent
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, ev := range pkgical.EventsFromCalendar(obj.Data, time.Local) {
			if adapters.Overlaps(ev, r) {
				raw = append(raw, ev)
			}
		}
	}
	return raw, nil
}

func (a *Adapter) NormalizeEvent(raw calendar.RawEvent, sourceID string) (*storage.Event, error) {
	ev, ok := raw.(*pkgical.Event)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected raw event type %T", calendar.ErrNormalization, raw)
	}
	return adapters.Normalize(ev, sourceID, time.Now().UTC())
}

// ValidateSource sends OPTIONS and checks the DAV header for the
// calendar-access capability.
func (a *Adapter) ValidateSource(ctx context.Context, source calendar.Source) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, source.URL, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", calendar.ErrProtocol, err)
	}
	if source.Credentials.Username != "" {
		req.SetBasicAuth(source.Credentials.Username, source.Credentials.Password)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", calendar.ErrNetwork, source.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false, fmt.Errorf("%w: %s returned %s", calendar.ErrAuth, source.URL, resp.Status)
	}
	if resp.StatusCode >= 400 {
		return false, nil
	}
	return strings.Contains(resp.Header.Get("DAV"), "calendar-access"), nil
}

func (a *Adapter) GetSourceStatus(ctx context.Context, source calendar.Source) (calendar.SourceHealth, error) {
	health := calendar.SourceHealth{LastCheck: time.Now().UTC()}
	ok, err := a.ValidateSource(ctx, source)
	if err != nil {
		health.Error = err.Error()
		return health, nil
	}
	health.Healthy = ok
	if !ok {
		health.Error = "server does not advertise calendar-access"
	}
	return health, nil
}

func (a *Adapter) newClient(source calendar.Source) (*caldav.Client, string, error) {
	u, err := url.Parse(source.URL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid URL %q: %v", calendar.ErrProtocol, source.URL, err)
	}

	var hc webdav.HTTPClient = a.httpClient
	if source.Credentials.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(a.httpClient, source.Credentials.Username, source.Credentials.Password)
	}

	endpoint := *u
	endpoint.Path = ""
	client, err := caldav.NewClient(hc, endpoint.String())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", calendar.ErrProtocol, err)
	}
	return client, u.Path, nil
}

func classify(source calendar.Source, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return fmt.Errorf("%w: %s: %v", calendar.ErrAuth, source.URL, err)
	case strings.Contains(msg, "HTTP"):
		return fmt.Errorf("%w: %s: %v", calendar.ErrProtocol, source.URL, err)
	default:
		return fmt.Errorf("%w: %s: %v", calendar.ErrNetwork, source.URL, err)
	}
}
