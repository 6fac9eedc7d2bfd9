package calendar

import "errors"

var (
	// ErrSourceNotFound is returned for operations on an unknown source id.
	ErrSourceNotFound = errors.New("calendar: source not found")

	// ErrUnsupportedSourceType is returned when no adapter is registered
	// for a source's type.
	ErrUnsupportedSourceType = errors.New("calendar: unsupported source type")

	// Adapter error kinds. Adapters wrap their failures with one of these
	// so the coordinator and manager can classify without knowing the
	// protocol.
	ErrNetwork       = errors.New("network error")
	ErrAuth          = errors.New("authentication error")
	ErrProtocol      = errors.New("protocol error")
	ErrNormalization = errors.New("normalization error")
)
