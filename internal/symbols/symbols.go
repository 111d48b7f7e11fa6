package symbols

import "strings"

// AllowList restricts ingestion to the configured set of tickers. Quotes for
// anything else are discarded before they reach the aggregate cache.
type AllowList struct {
	order []string
	set   map[string]struct{}
}

// NewAllowList builds an allow list from configured tickers. Input is
// upper-cased and de-duplicated; configuration order is preserved.
func NewAllowList(tickers []string) *AllowList {
	a := &AllowList{set: make(map[string]struct{}, len(tickers))}
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := a.set[t]; ok {
			continue
		}
		a.set[t] = struct{}{}
		a.order = append(a.order, t)
	}
	return a
}

func (a *AllowList) Contains(symbol string) bool {
	_, ok := a.set[strings.ToUpper(symbol)]
	return ok
}

// Symbols returns the allow-listed tickers in configuration order.
func (a *AllowList) Symbols() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Filter drops non-allow-listed entries from a discovered symbol map keyed by
// internal ticker.
func (a *AllowList) Filter(markets map[string]string) map[string]string {
	out := make(map[string]string, len(markets))
	for sym, native := range markets {
		if a.Contains(sym) {
			out[strings.ToUpper(sym)] = native
		}
	}
	return out
}

// Base extracts the internal ticker from a venue perpetual market name.
// Examples:
//
//	BTC-PERP     -> BTC
//	BTC-USD-PERP -> BTC
//	ETHUSDT      -> ETH
func Base(market string) string {
	market = strings.ToUpper(market)
	if i := strings.Index(market, "-"); i > 0 {
		return market[:i]
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(market, quote) && len(market) > len(quote) {
			return strings.TrimSuffix(market, quote)
		}
	}
	return market
}
