package models

import "time"

// PriceSource identifies which transport produced a price point.
type PriceSource string

const (
	SourceStream PriceSource = "stream"
	SourcePoll   PriceSource = "poll"
)

// PricePoint is one venue's best bid/ask for one symbol. Timestamp is the
// receipt time at the connector in unix milliseconds, never a venue-supplied
// time, so staleness is measured uniformly across venues.
type PricePoint struct {
	Symbol    string      `json:"symbol"`
	Venue     string      `json:"venue"`
	Bid       float64     `json:"bid"`
	Ask       float64     `json:"ask"`
	Timestamp int64       `json:"timestamp"`
	Source    PriceSource `json:"source"`
}

// HasData reports whether the point carries any quote at all. A zero/zero
// point means "no data yet" and must never be treated as tradable.
func (p PricePoint) HasData() bool {
	return p.Bid != 0 || p.Ask != 0
}

// Age returns how long ago the point was received.
func (p PricePoint) Age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-p.Timestamp) * time.Millisecond
}

// IsFresh reports whether the point is recent enough to participate in
// spread computation.
func (p PricePoint) IsFresh(now time.Time, threshold time.Duration) bool {
	return p.Age(now) <= threshold
}

// ConnectorStatus describes the health of one venue connector.
type ConnectorStatus struct {
	Venue               string `json:"venue"`
	Connected           bool   `json:"connected"`
	PollingActive       bool   `json:"polling_active"`
	LastStreamMessageAt int64  `json:"last_stream_message_at"`
}

// SymbolView is the derived per-symbol state held by the aggregate cache:
// the latest price point per venue plus the best executable spread across
// them. SpreadPercent carries a sentinel when either side is undefined.
type SymbolView struct {
	Symbol        string                `json:"symbol"`
	Prices        map[string]PricePoint `json:"prices"`
	BestBid       float64               `json:"best_bid"`
	BestBidVenue  string                `json:"best_bid_venue"`
	BestAsk       float64               `json:"best_ask"`
	BestAskVenue  string                `json:"best_ask_venue"`
	SpreadPercent float64               `json:"spread_percent"`
	UpdatedAt     int64                 `json:"updated_at"`
}

// SpreadRecord is one persisted spread observation.
type SpreadRecord struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	BestBid       float64 `json:"best_bid"`
	BestBidVenue  string  `json:"best_bid_venue"`
	BestAsk       float64 `json:"best_ask"`
	BestAskVenue  string  `json:"best_ask_venue"`
	SpreadPercent float64 `json:"spread_percent"`
	Timestamp     int64   `json:"timestamp"`
}

// AlertEvent is emitted when a symbol's spread crosses the alert threshold.
type AlertEvent struct {
	ID        string     `json:"id"`
	View      SymbolView `json:"view"`
	Timestamp int64      `json:"timestamp"`
}

// BookLevel is a single price level in a venue order book.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}
