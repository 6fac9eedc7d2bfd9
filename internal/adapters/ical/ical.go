// Package ical implements the adapter for plain iCalendar feeds fetched
// over HTTP(S).
package ical

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calfeed/internal/adapters"
	"github.com/sonroyaalmerol/calfeed/internal/calendar"
	"github.com/sonroyaalmerol/calfeed/internal/storage"
	pkgical "github.com/sonroyaalmerol/calfeed/pkg/ical"
)

const maxFeedBytes = 32 << 20

type Adapter struct {
	client *http.Client
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Adapter {
	// No client timeout: the fetch coordinator bounds every call through
	// its context.
	return &Adapter{client: &http.Client{}, logger: logger}
}

func (a *Adapter) SupportedType() calendar.SourceType {
	return calendar.SourceTypeICal
}

func (a *Adapter) FetchEvents(ctx context.Context, source calendar.Source, r storage.DateRange) ([]calendar.RawEvent, error) {
	body, err := a.get(ctx, source)
	if err != nil {
		return nil, err
	}

	events, err := pkgical.ParseCalendar(body, time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", calendar.ErrProtocol, source.URL, err)
	}

	raw := make([]calendar.RawEvent, 0, len(events))
	for _, ev := range events {
		if adapters.Overlaps(ev, r) {
			raw = append(raw, ev)
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

func (a *Adapter) ValidateSource(ctx context.Context, source calendar.Source) (bool, error) {
	resp, err := a.do(ctx, http.MethodHead, source)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed {
		// some feed hosts reject HEAD; fall back to GET
		resp, err = a.do(ctx, http.MethodGet, source)
		if err != nil {
			return false, err
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 400, nil
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
		health.Error = "feed is not reachable"
	}
	return health, nil
}

func (a *Adapter) get(ctx context.Context, source calendar.Source) ([]byte, error) {
	resp, err := a.do(ctx, http.MethodGet, source)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s returned %s", calendar.ErrAuth, source.URL, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s returned %s", calendar.ErrProtocol, source.URL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", calendar.ErrNetwork, source.URL, err)
	}
	return body, nil
}

func (a *Adapter) do(ctx context.Context, method string, source calendar.Source) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", calendar.ErrProtocol, err)
	}
	if source.Credentials.Username != "" {
		req.SetBasicAuth(source.Credentials.Username, source.Credentials.Password)
	} else if source.Credentials.Token != "" {
		req.Header.Set("Authorization", "Bearer "+source.Credentials.Token)
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", calendar.ErrNetwork, source.URL, err)
	}
	return resp, nil
}
