package reader

import (
	"context"

	"spreadflow/models"
)

// Adapter is the venue-specific half of a connector: market discovery,
// stream subscription framing, wire parsing and the REST fallback. The
// shared hybrid state machine composes an Adapter; it never subclasses one.
type Adapter interface {
	// Venue returns the registered venue id, e.g. "VEST".
	Venue() string

	// FetchMarkets performs the one-shot REST metadata call and returns the
	// internal-symbol to venue-native-identifier map. Symbols failing the
	// venue's own market filter never appear in the result.
	FetchMarkets(ctx context.Context) (map[string]string, error)

	// Connect dials the venue stream and subscribes for the given markets.
	// The returned stream owns its keep-alive strategy.
	Connect(ctx context.Context, markets map[string]string) (Stream, error)

	// Poll fetches current best bid/ask for every given market over the
	// request/response transport.
	Poll(ctx context.Context, markets map[string]string) ([]models.PricePoint, error)
}

// Stream is one live venue subscription. Read blocks for the next inbound
// message and returns the quotes parsed from it; keep-alive frames and
// messages the venue parser cannot understand yield an empty slice and a nil
// error, so any inbound traffic still counts as stream liveness.
type Stream interface {
	Read() ([]models.PricePoint, error)
	Close() error
}
