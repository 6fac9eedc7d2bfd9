package calendar

import (
	"context"

	"github.com/sonroyaalmerol/calfeed/internal/storage"
)

// RawEvent is the adapter-specific event shape before normalization. The
// core never inspects it; it only hands it back to the owning adapter.
type RawEvent any

// Adapter is the per-protocol contract. Implementations must be safe to
// call concurrently with different sources.
type Adapter interface {
	// SupportedType is the single source type the adapter handles.
	SupportedType() SourceType

	// FetchEvents retrieves raw events overlapping the range. Failures
	// wrap ErrNetwork, ErrAuth or ErrProtocol.
	FetchEvents(ctx context.Context, source Source, r storage.DateRange) ([]RawEvent, error)

	// NormalizeEvent converts one raw event to the common model. It is
	// pure; failures wrap ErrNormalization.
	NormalizeEvent(raw RawEvent, sourceID string) (*storage.Event, error)

	// ValidateSource is a cheap reachability/auth probe.
	ValidateSource(ctx context.Context, source Source) (bool, error)

	// GetSourceStatus is the richer health probe.
	GetSourceStatus(ctx context.Context, source Source) (SourceHealth, error)
}
